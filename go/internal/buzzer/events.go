package buzzer

import "time"

// EventType names a message exchanged with participants.
type EventType string

// Outbound events.
const (
	EventSessionCreated EventType = "sessionCreated"
	EventJoinedSession  EventType = "joinedSession"
	EventPlayerList     EventType = "playerList"
	EventBuzzList       EventType = "buzzList"
	EventHistoryData    EventType = "historyData"
	EventTimerStarted   EventType = "timerStarted"
	EventTimerReset     EventType = "timerReset"
	EventSessionClosed  EventType = "sessionClosed"
	EventErrorMsg       EventType = "errorMsg"
)

// Inbound events.
const (
	EventCreateSession    EventType = "createSession"
	EventJoinSession      EventType = "joinSession"
	EventReconnectSession EventType = "reconnectSession"
	EventStartTimer       EventType = "startTimer"
	EventPressBuzzer      EventType = "pressBuzzer"
	EventResetTimer       EventType = "resetTimer"
	EventSaveWinner       EventType = "saveWinner"
	EventGetHistory       EventType = "getHistory"
	EventCloseSession     EventType = "closeSession"
	EventTimeSync         EventType = "timeSync:now"
)

// Fanout delivers events to group and connection addresses. Implementations
// must not block: the registry calls them while holding session state.
type Fanout interface {
	// Subscribe adds a connection to a group address.
	Subscribe(group, connID string)
	// Disband drops every member of a group after pending deliveries.
	Disband(group string)
	ToGroup(group string, evt EventType, payload any)
	ToConn(connID string, evt EventType, payload any)
}

// SessionState is the resumable state attached to sessionCreated and
// joinedSession.
type SessionState struct {
	Players []PlayerView   `json:"players,omitempty"`
	Timer   Timer          `json:"timer"`
	History []HistoryEntry `json:"history,omitempty"`
	Closed  bool           `json:"closed"`
}

// SessionJoined is the payload of sessionCreated and joinedSession.
type SessionJoined struct {
	SessionCode string       `json:"sessionCode"`
	Role        Role         `json:"role"`
	State       SessionState `json:"state"`
}

// TimerStarted is the payload of timerStarted.
type TimerStarted struct {
	ServerStartTime int64 `json:"serverStartTime"`
}

// RecordKind classifies a lifecycle record.
type RecordKind string

const (
	RecordSessionCreated RecordKind = "session_created"
	RecordRoundStarted   RecordKind = "round_started"
	RecordRoundReset     RecordKind = "round_reset"
	RecordRoundCommitted RecordKind = "round_committed"
	RecordSessionClosed  RecordKind = "session_closed"
)

// Record is a lifecycle fact handed to the Journal.
type Record struct {
	Kind        RecordKind    `json:"kind"`
	SessionCode string        `json:"sessionCode"`
	At          time.Time     `json:"at"`
	Round       *HistoryEntry `json:"round,omitempty"`
}

// Journal receives lifecycle records. Record must not block.
type Journal interface {
	Record(rec Record)
}

type nopJournal struct{}

func (nopJournal) Record(Record) {}
