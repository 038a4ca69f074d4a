package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mcdev12/buzzer/go/internal/buzzer"
	"github.com/mcdev12/buzzer/go/internal/client"
	"github.com/mcdev12/buzzer/go/internal/gateway"
)

// describe renders a broker event as one line of terminal output.
func describe(env gateway.Envelope) string {
	switch env.Type {
	case buzzer.EventSessionCreated, buzzer.EventJoinedSession:
		var joined buzzer.SessionJoined
		if err := env.Decode(&joined); err != nil {
			return fmt.Sprintf("%s: %v", env.Type, err)
		}
		line := fmt.Sprintf("session %s joined as %s", joined.SessionCode, joined.Role)
		if n := len(joined.State.Players); n > 0 {
			line += fmt.Sprintf(", %d players", n)
		}
		if joined.State.Timer.Running {
			line += ", round running"
		}
		return line

	case buzzer.EventPlayerList:
		var players []buzzer.PlayerView
		if err := env.Decode(&players); err != nil {
			return fmt.Sprintf("%s: %v", env.Type, err)
		}
		names := make([]string, 0, len(players))
		for _, p := range players {
			names = append(names, p.Name)
		}
		return fmt.Sprintf("players (%d): %s", len(players), strings.Join(names, ", "))

	case buzzer.EventBuzzList:
		var buzzes []buzzer.BuzzEntry
		if err := env.Decode(&buzzes); err != nil {
			return fmt.Sprintf("%s: %v", env.Type, err)
		}
		if len(buzzes) == 0 {
			return "buzzes: none"
		}
		var b strings.Builder
		b.WriteString("buzzes:")
		first := buzzes[0].PressedAt
		for i, e := range buzzes {
			fmt.Fprintf(&b, "\n  %d. %s", i+1, e.Name)
			if i > 0 {
				fmt.Fprintf(&b, " (+%.1fms)", e.PressedAt-first)
			}
		}
		return b.String()

	case buzzer.EventHistoryData:
		var history []buzzer.HistoryEntry
		if err := env.Decode(&history); err != nil {
			return fmt.Sprintf("%s: %v", env.Type, err)
		}
		if len(history) == 0 {
			return "history: empty"
		}
		var b strings.Builder
		b.WriteString("history:")
		for i, h := range history {
			fmt.Fprintf(&b, "\n  round %d: %s (%d buzzes)", i+1, h.Winner, len(h.Order))
		}
		return b.String()

	case buzzer.EventTimerStarted:
		var started buzzer.TimerStarted
		if err := env.Decode(&started); err != nil {
			return fmt.Sprintf("%s: %v", env.Type, err)
		}
		return fmt.Sprintf("round armed, buzzers open at %s", time.UnixMilli(started.ServerStartTime).Format("15:04:05.000"))

	case buzzer.EventTimerReset:
		return "round reset"

	case buzzer.EventSessionClosed:
		return "session closed"

	case buzzer.EventErrorMsg:
		var msg string
		if err := env.Decode(&msg); err != nil {
			return fmt.Sprintf("%s: %v", env.Type, err)
		}
		return "error: " + msg
	}
	return string(env.Type)
}

// printEvents writes every broker event until the connection or ctx ends.
// It returns once the session is closed.
func printEvents(ctx context.Context, c *client.Client, out io.Writer) {
	for {
		select {
		case env, ok := <-c.Events():
			if !ok {
				return
			}
			fmt.Fprintln(out, describe(env))
			if env.Type == buzzer.EventSessionClosed {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
