package buzzer

import (
	"math"
	"time"
)

// StartTimer arms the session: buzzing opens delayMs after now (the configured
// default when nil). Every player's press is cleared.
func (r *Registry) StartTimer(connID, code string, delayMs *int64) error {
	s, err := r.acquire(code)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()
	if !s.isAdmin(connID) {
		return ErrUnauthorized
	}

	delay := r.config.DefaultDelay
	if delayMs != nil {
		delay = time.Duration(max(*delayMs, 0)) * time.Millisecond
	}
	start := r.Now() + delay.Milliseconds()

	s.Timer = Timer{Running: true, ServerStartTime: &start}
	s.clearPresses()

	r.fanout.ToGroup(s.Code, EventTimerStarted, TimerStarted{ServerStartTime: start})
	r.fanout.ToConn(s.AdminID, EventBuzzList, []BuzzEntry{})
	r.record(RecordRoundStarted, s.Code, nil)
	return nil
}

// ResetTimer disarms the session and clears every press.
func (r *Registry) ResetTimer(connID, code string) error {
	s, err := r.acquire(code)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()
	if !s.isAdmin(connID) {
		return ErrUnauthorized
	}

	s.Timer = Timer{}
	s.clearPresses()

	r.fanout.ToGroup(s.Code, EventTimerReset, nil)
	r.fanout.ToConn(s.AdminID, EventBuzzList, []BuzzEntry{})
	r.record(RecordRoundReset, s.Code, nil)
	return nil
}

// Press records a buzz. clientTime is the participant's local press time in
// ms (server receipt time when nil or zero) and offset its estimated
// server-minus-local skew. Presses that land before the arm instant, repeat
// presses and presses outside a running round are rejected.
func (r *Registry) Press(connID, code string, clientTime *int64, offset float64) error {
	receivedAt := r.Now()

	s, err := r.acquire(code)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()

	if !s.Timer.Running || s.Timer.ServerStartTime == nil {
		return ErrInvalidRoundState
	}
	p, ok := s.Players[connID]
	if !ok {
		return ErrNotPlayer
	}
	if p.PressedAt != nil {
		return ErrInvalidRoundState
	}

	corrected := correctedTime(receivedAt, clientTime, offset)
	if corrected < float64(*s.Timer.ServerStartTime) {
		return ErrInvalidRoundState
	}

	p.PressedAt = &corrected
	r.fanout.ToConn(s.AdminID, EventBuzzList, rank(s))
	return nil
}

// Ranking returns the current buzz order.
func (r *Registry) Ranking(code string) ([]BuzzEntry, error) {
	s, err := r.acquire(code)
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	return rank(s), nil
}

// SaveWinner commits the current ranking to history. It is a no-op when
// nobody has buzzed.
func (r *Registry) SaveWinner(connID, code string) error {
	s, err := r.acquire(code)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()
	if !s.isAdmin(connID) {
		return ErrUnauthorized
	}

	order := rank(s)
	if len(order) == 0 {
		return ErrNoBuzzes
	}

	entry := HistoryEntry{
		Winner: order[0].Name,
		At:     r.Now(),
		Order:  order,
	}
	s.History = append(s.History, entry)

	r.fanout.ToConn(s.AdminID, EventHistoryData, s.history())
	r.record(RecordRoundCommitted, s.Code, &entry)
	return nil
}

// History sends the session history to the requesting connection.
func (r *Registry) History(connID, code string) ([]HistoryEntry, error) {
	s, err := r.acquire(code)
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	h := s.history()
	r.fanout.ToConn(connID, EventHistoryData, h)
	return h, nil
}

// correctedTime keeps sub-millisecond precision so presses less than a
// millisecond apart still order by time.
func correctedTime(receivedAt int64, clientTime *int64, offset float64) float64 {
	base := receivedAt
	if clientTime != nil && *clientTime != 0 {
		base = *clientTime
	}
	if math.IsNaN(offset) || math.IsInf(offset, 0) {
		offset = 0
	}
	return float64(base) + offset
}
