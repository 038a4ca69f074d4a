package buzzer

import "errors"

var (
	ErrSessionNotFound   = errors.New("session not found or closed")
	ErrSessionClosed     = errors.New("session closed")
	ErrUnauthorized      = errors.New("connection is not the session admin")
	ErrInvalidRoundState = errors.New("press not valid in current round state")
	ErrNotPlayer         = errors.New("connection is not a player in this session")
	ErrNoBuzzes          = errors.New("no buzzes recorded this round")
)
