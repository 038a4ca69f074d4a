package gateway

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/buzzer/go/internal/buzzer"
)

// Router dispatches decoded websocket frames to the session registry.
type Router struct {
	registry *buzzer.Registry
	cm       *ConnectionManager
}

// NewRouter creates a router and installs it as the manager's handler.
func NewRouter(registry *buzzer.Registry, cm *ConnectionManager) *Router {
	r := &Router{registry: registry, cm: cm}
	cm.SetHandler(r)
	return r
}

// TimeReply is the payload answering a timeSync:now probe.
type TimeReply struct {
	ServerTime int64 `json:"serverTime"`
}

// HandleMessage runs one inbound command. A panic is contained to the frame
// that caused it.
func (r *Router) HandleMessage(c *Connection, env Envelope) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Str("connection_id", c.ID).
				Str("event_type", string(env.Type)).
				Interface("panic", rec).
				Msg("recovered from panic in message handler")
		}
	}()

	if err := r.dispatch(c.ID, env); err != nil {
		r.logRejection(c.ID, env.Type, err)
	}
}

// HandleDisconnect removes the connection from every session it played in.
func (r *Router) HandleDisconnect(c *Connection) {
	r.registry.RemoveConnection(c.ID)
}

func (r *Router) dispatch(connID string, env Envelope) error {
	switch env.Type {
	case buzzer.EventTimeSync:
		r.cm.Reply(connID, env.Ack, buzzer.EventTimeSync, TimeReply{ServerTime: r.registry.Now()})
		return nil

	case buzzer.EventCreateSession:
		var req CreateSessionRequest
		if err := r.decode(connID, env, &req); err != nil {
			return err
		}
		_, err := r.registry.CreateSession(connID, req.SessionCode)
		return err

	case buzzer.EventJoinSession:
		var req JoinSessionRequest
		if err := r.decode(connID, env, &req); err != nil {
			return err
		}
		_, err := r.registry.JoinSession(connID, req.SessionCode, req.Name)
		return err

	case buzzer.EventReconnectSession:
		var req ReconnectSessionRequest
		if err := r.decode(connID, env, &req); err != nil {
			return err
		}
		role := buzzer.RolePlayer
		if buzzer.Role(req.Role) == buzzer.RoleAdmin {
			role = buzzer.RoleAdmin
		}
		return r.registry.Reconnect(connID, role, req.Code, req.Name)

	case buzzer.EventStartTimer:
		var req StartTimerRequest
		if err := r.decode(connID, env, &req); err != nil {
			return err
		}
		return r.registry.StartTimer(connID, req.SessionCode, req.DelayMs)

	case buzzer.EventPressBuzzer:
		var req PressBuzzerRequest
		if err := r.decode(connID, env, &req); err != nil {
			return err
		}
		return r.registry.Press(connID, req.SessionCode, req.ClientTime, req.ClientToServerOffset)

	case buzzer.EventResetTimer, buzzer.EventSaveWinner, buzzer.EventGetHistory, buzzer.EventCloseSession:
		var req SessionRequest
		if err := r.decode(connID, env, &req); err != nil {
			return err
		}
		switch env.Type {
		case buzzer.EventResetTimer:
			return r.registry.ResetTimer(connID, req.SessionCode)
		case buzzer.EventSaveWinner:
			return r.registry.SaveWinner(connID, req.SessionCode)
		case buzzer.EventGetHistory:
			_, err := r.registry.History(connID, req.SessionCode)
			return err
		default:
			return r.registry.CloseSession(connID, req.SessionCode)
		}

	default:
		r.cm.ToConn(connID, buzzer.EventErrorMsg, fmt.Sprintf("unknown event %q", env.Type))
		return fmt.Errorf("unknown event %q", env.Type)
	}
}

func (r *Router) decode(connID string, env Envelope, v any) error {
	if err := env.Decode(v); err != nil {
		r.cm.ToConn(connID, buzzer.EventErrorMsg, "invalid payload")
		return err
	}
	return nil
}

// logRejection keeps rejected commands off the wire and out of info logs.
func (r *Router) logRejection(connID string, evt buzzer.EventType, err error) {
	event := log.Debug()
	switch {
	case errors.Is(err, buzzer.ErrSessionNotFound),
		errors.Is(err, buzzer.ErrSessionClosed),
		errors.Is(err, buzzer.ErrUnauthorized),
		errors.Is(err, buzzer.ErrInvalidRoundState),
		errors.Is(err, buzzer.ErrNotPlayer),
		errors.Is(err, buzzer.ErrNoBuzzes):
	default:
		event = log.Warn()
	}
	event.
		Err(err).
		Str("connection_id", connID).
		Str("event_type", string(evt)).
		Msg("command rejected")
}
