package buzzer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenario_TwoPlayersRankedAndWinnerSaved(t *testing.T) {
	f := newFixture(t)
	_, err := f.reg.CreateSession("admin", "AB12")
	require.NoError(t, err)
	_, err = f.reg.JoinSession("alice", "AB12", "Alice")
	require.NoError(t, err)
	_, err = f.reg.JoinSession("bob", "AB12", "Bob")
	require.NoError(t, err)

	require.NoError(t, f.reg.StartTimer("admin", "AB12", millis(1000)))
	arm := epoch.UnixMilli() + 1000

	started := f.fanout.toGroup("AB12", EventTimerStarted)
	require.Len(t, started, 1)
	assert.Equal(t, TimerStarted{ServerStartTime: arm}, started[0].Payload)

	require.NoError(t, f.reg.Press("bob", "AB12", millis(arm+50), 0))
	require.NoError(t, f.reg.Press("alice", "AB12", millis(arm+80), 0))

	order, err := f.reg.Ranking("AB12")
	require.NoError(t, err)
	assert.Equal(t, []BuzzEntry{
		{Name: "Bob", PressedAt: float64(arm + 50)},
		{Name: "Alice", PressedAt: float64(arm + 80)},
	}, order)

	// the admin saw each ranking change, players saw none
	lists := f.fanout.toConn("admin", EventBuzzList)
	require.Len(t, lists, 3) // empty list on start, then one per press
	assert.Equal(t, order, lists[2].Payload)
	assert.Empty(t, f.fanout.toConn("alice", EventBuzzList))
	assert.Empty(t, f.fanout.toConn("bob", EventBuzzList))
	assert.Empty(t, f.fanout.toGroup("AB12", EventBuzzList))

	f.clock.Advance(3 * time.Second)
	require.NoError(t, f.reg.SaveWinner("admin", "AB12"))

	view, err := f.reg.Snapshot("AB12")
	require.NoError(t, err)
	require.Len(t, view.History, 1)
	assert.Equal(t, "Bob", view.History[0].Winner)
	assert.Equal(t, epoch.Add(3*time.Second).UnixMilli(), view.History[0].At)
	assert.Equal(t, order, view.History[0].Order)

	history := f.fanout.toConn("admin", EventHistoryData)
	require.Len(t, history, 1)
	assert.Len(t, history[0].Payload.([]HistoryEntry), 1)
}

func TestScenario_NegativeOffsetPressBeforeArmRejected(t *testing.T) {
	f := newFixture(t)
	arm := f.armed(t, "AB12", "admin", 1000, "p1")
	f.fanout.reset()

	// local clock far behind: corrected = arm+500-2000 lands before arm
	err := f.reg.Press("p1", "AB12", millis(arm+500), -2000)
	assert.ErrorIs(t, err, ErrInvalidRoundState)

	order, err := f.reg.Ranking("AB12")
	require.NoError(t, err)
	assert.Empty(t, order)
	assert.Empty(t, f.fanout.ofType(EventBuzzList))
	assert.Empty(t, f.fanout.ofType(EventErrorMsg))

	// the rejected press did not consume the player's one buzz
	require.NoError(t, f.reg.Press("p1", "AB12", millis(arm+2100), -2000))
}

func TestPress_ArmInstantBoundary(t *testing.T) {
	f := newFixture(t)
	arm := f.armed(t, "AB12", "admin", 1000, "early", "exact")

	assert.ErrorIs(t, f.reg.Press("early", "AB12", millis(arm-1), 0), ErrInvalidRoundState)
	require.NoError(t, f.reg.Press("exact", "AB12", millis(arm), 0))

	order, err := f.reg.Ranking("AB12")
	require.NoError(t, err)
	require.Len(t, order, 1)
	assert.Equal(t, "exact", order[0].Name)
	assert.Equal(t, float64(arm), order[0].PressedAt)
}

func TestPress_OffsetIsApplied(t *testing.T) {
	f := newFixture(t)
	arm := f.armed(t, "AB12", "admin", 0, "p1")

	require.NoError(t, f.reg.Press("p1", "AB12", millis(arm-300), 312.5))

	order, err := f.reg.Ranking("AB12")
	require.NoError(t, err)
	require.Len(t, order, 1)
	assert.Equal(t, float64(arm)+12.5, order[0].PressedAt)
}

func TestPress_FractionalOffsetBeforeArmRejected(t *testing.T) {
	f := newFixture(t)
	arm := f.armed(t, "AB12", "admin", 0, "p1")

	assert.ErrorIs(t, f.reg.Press("p1", "AB12", millis(arm), -0.4), ErrInvalidRoundState)
	require.NoError(t, f.reg.Press("p1", "AB12", millis(arm), 0.4))
}

func TestRanking_SubMillisecondPressesOrderByTime(t *testing.T) {
	f := newFixture(t)
	arm := f.armed(t, "AB12", "admin", 0, "first", "second")

	require.NoError(t, f.reg.Press("first", "AB12", millis(arm+10), 0.4))
	require.NoError(t, f.reg.Press("second", "AB12", millis(arm+10), 0.1))

	order, err := f.reg.Ranking("AB12")
	require.NoError(t, err)
	assert.Equal(t, []string{"second", "first"}, names(order))
	assert.InDelta(t, 0.3, order[1].PressedAt-order[0].PressedAt, 1e-3)
}

func TestPress_MissingClientTimeUsesReceipt(t *testing.T) {
	f := newFixture(t)
	arm := f.armed(t, "AB12", "admin", 1000, "p1", "p2")

	// before the arm instant by the broker's own clock
	assert.ErrorIs(t, f.reg.Press("p1", "AB12", nil, 0), ErrInvalidRoundState)

	f.clock.Advance(1200 * time.Millisecond)
	require.NoError(t, f.reg.Press("p1", "AB12", nil, 0))
	require.NoError(t, f.reg.Press("p2", "AB12", millis(0), 0))

	order, err := f.reg.Ranking("AB12")
	require.NoError(t, err)
	require.Len(t, order, 2)
	assert.Equal(t, float64(arm+200), order[0].PressedAt)
	assert.Equal(t, float64(arm+200), order[1].PressedAt)
}

func TestPress_SecondPressSameRoundRejected(t *testing.T) {
	f := newFixture(t)
	arm := f.armed(t, "AB12", "admin", 0, "p1")

	require.NoError(t, f.reg.Press("p1", "AB12", millis(arm+100), 0))
	assert.ErrorIs(t, f.reg.Press("p1", "AB12", millis(arm+10), 0), ErrInvalidRoundState)

	order, err := f.reg.Ranking("AB12")
	require.NoError(t, err)
	require.Len(t, order, 1)
	assert.Equal(t, float64(arm+100), order[0].PressedAt)
}

func TestPress_Rejections(t *testing.T) {
	f := newFixture(t)
	_, err := f.reg.CreateSession("admin", "AB12")
	require.NoError(t, err)
	_, err = f.reg.JoinSession("p1", "AB12", "Alice")
	require.NoError(t, err)

	// idle session
	assert.ErrorIs(t, f.reg.Press("p1", "AB12", nil, 0), ErrInvalidRoundState)

	require.NoError(t, f.reg.StartTimer("admin", "AB12", millis(0)))
	// unknown session, non-player
	assert.ErrorIs(t, f.reg.Press("p1", "ZZZZ", nil, 0), ErrSessionNotFound)
	assert.ErrorIs(t, f.reg.Press("stranger", "AB12", nil, 0), ErrNotPlayer)
	assert.ErrorIs(t, f.reg.Press("admin", "AB12", nil, 0), ErrNotPlayer)

	require.NoError(t, f.reg.ResetTimer("admin", "AB12"))
	assert.ErrorIs(t, f.reg.Press("p1", "AB12", nil, 0), ErrInvalidRoundState)
}

func TestRanking_SortedAndIdempotent(t *testing.T) {
	f := newFixture(t)
	arm := f.armed(t, "AB12", "admin", 0, "a", "b", "c", "d")

	require.NoError(t, f.reg.Press("c", "AB12", millis(arm+30), 0))
	require.NoError(t, f.reg.Press("a", "AB12", millis(arm+90), 0))
	require.NoError(t, f.reg.Press("d", "AB12", millis(arm+10), 0))

	first, err := f.reg.Ranking("AB12")
	require.NoError(t, err)
	second, err := f.reg.Ranking("AB12")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	require.Len(t, first, 3)
	for i := 1; i < len(first); i++ {
		assert.LessOrEqual(t, first[i-1].PressedAt, first[i].PressedAt)
	}
	assert.Equal(t, []string{"d", "c", "a"}, names(first))
}

func TestRanking_TiesKeepRegistrationOrder(t *testing.T) {
	f := newFixture(t)
	arm := f.armed(t, "AB12", "admin", 0, "first", "second", "third")

	require.NoError(t, f.reg.Press("third", "AB12", millis(arm+40), 0))
	require.NoError(t, f.reg.Press("second", "AB12", millis(arm+40), 0))
	require.NoError(t, f.reg.Press("first", "AB12", millis(arm+40), 0))

	for i := 0; i < 5; i++ {
		order, err := f.reg.Ranking("AB12")
		require.NoError(t, err)
		assert.Equal(t, []string{"first", "second", "third"}, names(order))
	}
}

func TestResetAndRestart_ClearPresses(t *testing.T) {
	f := newFixture(t)
	arm := f.armed(t, "AB12", "admin", 0, "p1", "p2")
	require.NoError(t, f.reg.Press("p1", "AB12", millis(arm+5), 0))
	require.NoError(t, f.reg.Press("p2", "AB12", millis(arm+6), 0))

	require.NoError(t, f.reg.ResetTimer("admin", "AB12"))
	order, err := f.reg.Ranking("AB12")
	require.NoError(t, err)
	assert.Empty(t, order)
	assert.Len(t, f.fanout.toGroup("AB12", EventTimerReset), 1)

	view, err := f.reg.Snapshot("AB12")
	require.NoError(t, err)
	assert.False(t, view.Timer.Running)
	assert.Nil(t, view.Timer.ServerStartTime)

	// a fresh start also wipes the previous round
	arm = f.armed2(t, "AB12", "admin")
	require.NoError(t, f.reg.Press("p1", "AB12", millis(arm+1), 0))
	arm = f.armed2(t, "AB12", "admin")
	order, err = f.reg.Ranking("AB12")
	require.NoError(t, err)
	assert.Empty(t, order)

	require.NoError(t, f.reg.Press("p1", "AB12", millis(arm+1), 0))
}

func TestStartTimer_DefaultAndClampedDelay(t *testing.T) {
	f := newFixture(t)
	_, err := f.reg.CreateSession("admin", "AB12")
	require.NoError(t, err)

	require.NoError(t, f.reg.StartTimer("admin", "AB12", nil))
	view, err := f.reg.Snapshot("AB12")
	require.NoError(t, err)
	assert.Equal(t, epoch.UnixMilli()+1200, *view.Timer.ServerStartTime)

	require.NoError(t, f.reg.StartTimer("admin", "AB12", millis(-500)))
	view, err = f.reg.Snapshot("AB12")
	require.NoError(t, err)
	assert.Equal(t, epoch.UnixMilli(), *view.Timer.ServerStartTime)
}

func TestAdminGatedCommands_IgnoreNonAdmins(t *testing.T) {
	f := newFixture(t)
	arm := f.armed(t, "AB12", "admin", 0, "p1")
	require.NoError(t, f.reg.Press("p1", "AB12", millis(arm), 0))
	f.fanout.reset()

	assert.ErrorIs(t, f.reg.StartTimer("p1", "AB12", nil), ErrUnauthorized)
	assert.ErrorIs(t, f.reg.ResetTimer("p1", "AB12"), ErrUnauthorized)
	assert.ErrorIs(t, f.reg.SaveWinner("p1", "AB12"), ErrUnauthorized)
	assert.ErrorIs(t, f.reg.CloseSession("p1", "AB12"), ErrUnauthorized)

	f.fanout.mu.Lock()
	assert.Empty(t, f.fanout.deliveries)
	f.fanout.mu.Unlock()

	order, err := f.reg.Ranking("AB12")
	require.NoError(t, err)
	assert.Len(t, order, 1)
}

func TestSaveWinner_NoBuzzesIsNoop(t *testing.T) {
	f := newFixture(t)
	f.armed(t, "AB12", "admin", 0, "p1")

	assert.ErrorIs(t, f.reg.SaveWinner("admin", "AB12"), ErrNoBuzzes)

	view, err := f.reg.Snapshot("AB12")
	require.NoError(t, err)
	assert.Empty(t, view.History)
	assert.Empty(t, f.fanout.ofType(EventHistoryData))
}

func TestHistory_SentToRequester(t *testing.T) {
	f := newFixture(t)
	arm := f.armed(t, "AB12", "admin", 0, "p1")
	require.NoError(t, f.reg.Press("p1", "AB12", millis(arm), 0))
	require.NoError(t, f.reg.SaveWinner("admin", "AB12"))

	history, err := f.reg.History("p1", "ab12")
	require.NoError(t, err)
	require.Len(t, history, 1)

	sent := f.fanout.toConn("p1", EventHistoryData)
	require.Len(t, sent, 1)
	assert.Equal(t, history, sent[0].Payload)

	// history entries are append-only across rounds
	arm = f.armed2(t, "AB12", "admin")
	require.NoError(t, f.reg.Press("p1", "AB12", millis(arm+7), 0))
	require.NoError(t, f.reg.SaveWinner("admin", "AB12"))
	history, err = f.reg.History("admin", "AB12")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, float64(arm+7), history[1].Order[0].PressedAt)
}

// armed2 restarts the timer of an existing session with no delay.
func (f *fixture) armed2(t *testing.T, code, admin string) int64 {
	t.Helper()
	require.NoError(t, f.reg.StartTimer(admin, code, millis(0)))
	view, err := f.reg.Snapshot(code)
	require.NoError(t, err)
	return *view.Timer.ServerStartTime
}

func names(order []BuzzEntry) []string {
	out := make([]string, 0, len(order))
	for _, e := range order {
		out = append(out, e.Name)
	}
	return out
}
