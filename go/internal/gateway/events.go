package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/mcdev12/buzzer/go/internal/buzzer"
)

// Envelope is the JSON frame exchanged over the websocket in both directions.
type Envelope struct {
	Type      buzzer.EventType `json:"type"`                // Event name
	Ack       string           `json:"ack,omitempty"`       // Correlates a probe reply with its request
	Data      json.RawMessage  `json:"data,omitempty"`      // Event-specific payload
	Timestamp int64            `json:"timestamp,omitempty"` // Broker ms, outbound only
}

// Inbound payloads.

type CreateSessionRequest struct {
	SessionCode string `json:"sessionCode,omitempty"`
}

type JoinSessionRequest struct {
	SessionCode string `json:"sessionCode"`
	Name        string `json:"name"`
}

type ReconnectSessionRequest struct {
	Role string `json:"role"`
	Code string `json:"code"`
	Name string `json:"name,omitempty"`
}

type StartTimerRequest struct {
	SessionCode string `json:"sessionCode"`
	DelayMs     *int64 `json:"delayMs,omitempty"`
}

type PressBuzzerRequest struct {
	SessionCode          string  `json:"sessionCode"`
	ClientTime           *int64  `json:"clientTime,omitempty"`
	ClientToServerOffset float64 `json:"clientToServerOffset"`
}

// SessionRequest carries only a session code (resetTimer, saveWinner,
// getHistory, closeSession).
type SessionRequest struct {
	SessionCode string `json:"sessionCode"`
}

// NewEnvelope marshals data into an envelope.
func NewEnvelope(evt buzzer.EventType, data any) (Envelope, error) {
	env := Envelope{Type: evt}
	if data == nil {
		return env, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", evt, err)
	}
	env.Data = raw
	return env, nil
}

// Decode unmarshals the envelope payload into v. An empty payload leaves v
// untouched.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 || string(e.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}
