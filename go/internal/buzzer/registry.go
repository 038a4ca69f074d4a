package buzzer

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const maxCodeAttempts = 16

// Config holds tunables for the session registry.
type Config struct {
	DefaultDelay time.Duration
	CodeLength   int
}

// DefaultConfig returns the registry defaults.
func DefaultConfig() Config {
	return Config{
		DefaultDelay: 1200 * time.Millisecond,
		CodeLength:   5,
	}
}

// Registry is the authoritative table of live sessions. The map is guarded by
// mu and every session by its own mutex; the two locks are never held together.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	fanout  Fanout
	journal Journal
	clock   clockwork.Clock
	config  Config

	seq atomic.Uint64
}

// NewRegistry creates an empty registry. A nil journal discards records and a
// nil clock uses the wall clock.
func NewRegistry(config Config, fanout Fanout, journal Journal, clock clockwork.Clock) *Registry {
	if journal == nil {
		journal = nopJournal{}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if config.CodeLength <= 0 {
		config.CodeLength = DefaultConfig().CodeLength
	}
	return &Registry{
		sessions: make(map[string]*Session),
		fanout:   fanout,
		journal:  journal,
		clock:    clock,
		config:   config,
	}
}

// Now returns the broker clock in epoch milliseconds.
func (r *Registry) Now() int64 {
	return r.clock.Now().UnixMilli()
}

// SessionCount returns the number of live sessions.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// acquire returns the live session for code with its lock held.
func (r *Registry) acquire(code string) (*Session, error) {
	code = CanonicalCode(code)
	r.mu.RLock()
	s := r.sessions[code]
	r.mu.RUnlock()
	if s == nil {
		return nil, ErrSessionNotFound
	}

	s.mu.Lock()
	if s.Closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	return s, nil
}

func (r *Registry) newCode() (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code, err := GenerateCode(r.config.CodeLength)
		if err != nil {
			return "", fmt.Errorf("generate session code: %w", err)
		}
		r.mu.RLock()
		_, taken := r.sessions[code]
		r.mu.RUnlock()
		if !taken {
			return code, nil
		}
		log.Debug().Str("session_code", code).Msg("collision on generated code, regenerating")
	}
	return "", fmt.Errorf("generate session code: no free code after %d attempts", maxCodeAttempts)
}

// CreateSession registers connID as admin of a new session. A non-empty
// requested code is used as is and replaces any live session holding it.
func (r *Registry) CreateSession(connID, requestedCode string) (string, error) {
	code := CanonicalCode(requestedCode)
	if code == "" {
		generated, err := r.newCode()
		if err != nil {
			return "", err
		}
		code = generated
	}

	s := newSession(code, connID)

	r.mu.Lock()
	prev := r.sessions[code]
	r.sessions[code] = s
	r.mu.Unlock()

	if prev != nil {
		prev.mu.Lock()
		prev.Closed = true
		prev.mu.Unlock()
		log.Warn().
			Str("session_code", code).
			Str("connection_id", connID).
			Msg("session code reused, previous session replaced")
	}

	s.mu.Lock()
	r.fanout.Subscribe(code, connID)
	r.fanout.ToConn(connID, EventSessionCreated, SessionJoined{
		SessionCode: code,
		Role:        RoleAdmin,
		State:       adminState(s),
	})
	s.mu.Unlock()

	r.record(RecordSessionCreated, code, nil)
	log.Info().Str("session_code", code).Str("connection_id", connID).Msg("session created")
	return code, nil
}

// JoinSession adds connID as a player. Unknown or closed codes are reported
// to the caller with errorMsg.
func (r *Registry) JoinSession(connID, code, name string) (PlayerView, error) {
	s, err := r.acquire(code)
	if err != nil {
		r.fanout.ToConn(connID, EventErrorMsg, ErrSessionNotFound.Error())
		return PlayerView{}, fmt.Errorf("join %q: %w", CanonicalCode(code), ErrSessionNotFound)
	}
	defer s.mu.Unlock()

	p := r.addPlayer(s, connID, name)
	r.fanout.Subscribe(s.Code, connID)
	r.fanout.ToConn(s.AdminID, EventPlayerList, s.roster())
	r.fanout.ToConn(connID, EventJoinedSession, SessionJoined{
		SessionCode: s.Code,
		Role:        RolePlayer,
		State:       playerState(s),
	})

	return PlayerView{ConnectionID: p.ConnectionID, Name: p.Name}, nil
}

// Reconnect resumes a session for a new connection. Claiming the admin role
// takes the session over from the previous admin connection: knowing the code
// is the only credential.
func (r *Registry) Reconnect(connID string, role Role, code, name string) error {
	s, err := r.acquire(code)
	if err != nil {
		r.fanout.ToConn(connID, EventSessionClosed, nil)
		return fmt.Errorf("reconnect %q: %w", CanonicalCode(code), ErrSessionClosed)
	}
	defer s.mu.Unlock()

	r.fanout.Subscribe(s.Code, connID)

	if role == RoleAdmin {
		previous := s.AdminID
		s.AdminID = connID
		r.fanout.ToConn(connID, EventSessionCreated, SessionJoined{
			SessionCode: s.Code,
			Role:        RoleAdmin,
			State:       adminState(s),
		})
		log.Info().
			Str("session_code", s.Code).
			Str("connection_id", connID).
			Str("previous_admin", previous).
			Msg("admin reconnected")
		return nil
	}

	r.addPlayer(s, connID, name)
	r.fanout.ToConn(s.AdminID, EventPlayerList, s.roster())
	r.fanout.ToConn(connID, EventJoinedSession, SessionJoined{
		SessionCode: s.Code,
		Role:        RolePlayer,
		State:       playerState(s),
	})
	return nil
}

// CloseSession marks the session closed, notifies the room and evicts it.
func (r *Registry) CloseSession(connID, code string) error {
	s, err := r.acquire(code)
	if err != nil {
		return err
	}
	if !s.isAdmin(connID) {
		s.mu.Unlock()
		return ErrUnauthorized
	}

	s.Closed = true
	r.fanout.ToGroup(s.Code, EventSessionClosed, nil)
	r.fanout.Disband(s.Code)
	s.mu.Unlock()

	r.mu.Lock()
	if r.sessions[s.Code] == s {
		delete(r.sessions, s.Code)
	}
	r.mu.Unlock()

	r.record(RecordSessionClosed, s.Code, nil)
	log.Info().Str("session_code", s.Code).Msg("session closed")
	return nil
}

// RemoveConnection drops the player keyed by connID from every session.
// Sessions are never terminated here, even when left empty.
func (r *Registry) RemoveConnection(connID string) {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	for _, s := range sessions {
		s.mu.Lock()
		if _, ok := s.Players[connID]; ok && !s.Closed {
			delete(s.Players, connID)
			r.fanout.ToConn(s.AdminID, EventPlayerList, s.roster())
			log.Debug().Str("session_code", s.Code).Str("connection_id", connID).Msg("player removed")
		}
		s.mu.Unlock()
	}
}

// Snapshot returns a detached copy of a live session.
func (r *Registry) Snapshot(code string) (SessionView, error) {
	s, err := r.acquire(code)
	if err != nil {
		return SessionView{}, err
	}
	defer s.mu.Unlock()
	return s.view(), nil
}

func (r *Registry) addPlayer(s *Session, connID, name string) *Player {
	p := &Player{
		ConnectionID: connID,
		Name:         displayName(name),
		seq:          r.seq.Add(1),
	}
	s.Players[connID] = p
	return p
}

func (r *Registry) record(kind RecordKind, code string, round *HistoryEntry) {
	r.journal.Record(Record{
		Kind:        kind,
		SessionCode: code,
		At:          r.clock.Now(),
		Round:       round,
	})
}

func adminState(s *Session) SessionState {
	return SessionState{
		Players: s.roster(),
		Timer:   Timer{Running: s.Timer.Running, ServerStartTime: copyPtr(s.Timer.ServerStartTime)},
		History: s.history(),
		Closed:  s.Closed,
	}
}

func playerState(s *Session) SessionState {
	return SessionState{
		Timer:  Timer{Running: s.Timer.Running, ServerStartTime: copyPtr(s.Timer.ServerStartTime)},
		Closed: s.Closed,
	}
}
