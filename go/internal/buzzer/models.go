package buzzer

import (
	"strings"
	"sync"
)

// Role is the part a connection plays inside a session.
type Role string

const (
	RoleAdmin  Role = "admin"
	RolePlayer Role = "player"
)

const defaultPlayerName = "Player"

// Session is one buzzer competition, addressed by a short code.
type Session struct {
	mu sync.Mutex

	Code    string
	AdminID string
	Players map[string]*Player
	Timer   Timer
	History []HistoryEntry
	Closed  bool
}

// Player is a connected participant inside a session.
type Player struct {
	ConnectionID string
	Name         string
	PressedAt    *float64 // corrected server-clock ms, nil until pressed this round

	// seq orders players registered in the same registry and breaks ties
	// between identical press times.
	seq uint64
}

// Timer is the arming state of the current round.
type Timer struct {
	Running         bool   `json:"running"`
	ServerStartTime *int64 `json:"serverStartTime"`
}

// BuzzEntry is one line of the ranked buzz list.
type BuzzEntry struct {
	Name      string  `json:"name"`
	PressedAt float64 `json:"pressedAt"`
}

// HistoryEntry records a committed round result.
type HistoryEntry struct {
	Winner string      `json:"winner"`
	At     int64       `json:"at"`
	Order  []BuzzEntry `json:"order"`
}

// PlayerView is the roster representation sent to the admin.
type PlayerView struct {
	ConnectionID string   `json:"connectionId"`
	Name         string   `json:"name"`
	PressedAt    *float64 `json:"pressedAt"`
}

// SessionView is a detached copy of a session's state.
type SessionView struct {
	Code    string         `json:"sessionCode"`
	AdminID string         `json:"-"`
	Players []PlayerView   `json:"players"`
	Timer   Timer          `json:"timer"`
	History []HistoryEntry `json:"history"`
	Closed  bool           `json:"closed"`
}

func newSession(code, adminID string) *Session {
	return &Session{
		Code:    code,
		AdminID: adminID,
		Players: make(map[string]*Player),
		History: make([]HistoryEntry, 0),
	}
}

// CanonicalCode trims and upper-cases a session code.
func CanonicalCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func displayName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return defaultPlayerName
	}
	return name
}

func (s *Session) isAdmin(connID string) bool {
	return connID != "" && s.AdminID == connID
}

func (s *Session) clearPresses() {
	for _, p := range s.Players {
		p.PressedAt = nil
	}
}

// roster returns players in registration order. Caller holds s.mu.
func (s *Session) roster() []PlayerView {
	players := s.sortedPlayers()
	out := make([]PlayerView, 0, len(players))
	for _, p := range players {
		out = append(out, PlayerView{
			ConnectionID: p.ConnectionID,
			Name:         p.Name,
			PressedAt:    copyPtr(p.PressedAt),
		})
	}
	return out
}

func (s *Session) history() []HistoryEntry {
	out := make([]HistoryEntry, len(s.History))
	copy(out, s.History)
	return out
}

// view snapshots the session. Caller holds s.mu.
func (s *Session) view() SessionView {
	return SessionView{
		Code:    s.Code,
		AdminID: s.AdminID,
		Players: s.roster(),
		Timer:   Timer{Running: s.Timer.Running, ServerStartTime: copyPtr(s.Timer.ServerStartTime)},
		History: s.history(),
		Closed:  s.Closed,
	}
}

func copyPtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
