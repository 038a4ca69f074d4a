package buzzer

import (
	"cmp"
	"slices"
)

// rank lists players with a recorded press, earliest corrected time first.
// Identical times keep registration order. Caller holds s.mu.
func rank(s *Session) []BuzzEntry {
	pressed := make([]*Player, 0, len(s.Players))
	for _, p := range s.Players {
		if p.PressedAt != nil {
			pressed = append(pressed, p)
		}
	}
	slices.SortFunc(pressed, func(a, b *Player) int {
		if c := cmp.Compare(*a.PressedAt, *b.PressedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})

	order := make([]BuzzEntry, 0, len(pressed))
	for _, p := range pressed {
		order = append(order, BuzzEntry{Name: p.Name, PressedAt: *p.PressedAt})
	}
	return order
}

func (s *Session) sortedPlayers() []*Player {
	players := make([]*Player, 0, len(s.Players))
	for _, p := range s.Players {
		players = append(players, p)
	}
	slices.SortFunc(players, func(a, b *Player) int {
		return cmp.Compare(a.seq, b.seq)
	})
	return players
}
