package buzzer

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

var epoch = time.UnixMilli(1_700_000_000_000)

type delivery struct {
	Group   string
	ConnID  string
	Type    EventType
	Payload any
}

// recordingFanout keeps every delivery in order.
type recordingFanout struct {
	mu         sync.Mutex
	deliveries []delivery
	groups     map[string]map[string]bool
	disbanded  []string
}

func newRecordingFanout() *recordingFanout {
	return &recordingFanout{groups: make(map[string]map[string]bool)}
}

func (f *recordingFanout) Subscribe(group, connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.groups[group] == nil {
		f.groups[group] = make(map[string]bool)
	}
	f.groups[group][connID] = true
}

func (f *recordingFanout) Disband(group string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.groups, group)
	f.disbanded = append(f.disbanded, group)
}

func (f *recordingFanout) ToGroup(group string, evt EventType, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliveries = append(f.deliveries, delivery{Group: group, Type: evt, Payload: payload})
}

func (f *recordingFanout) ToConn(connID string, evt EventType, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliveries = append(f.deliveries, delivery{ConnID: connID, Type: evt, Payload: payload})
}

func (f *recordingFanout) toConn(connID string, evt EventType) []delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []delivery
	for _, d := range f.deliveries {
		if d.ConnID == connID && d.Type == evt {
			out = append(out, d)
		}
	}
	return out
}

func (f *recordingFanout) toGroup(group string, evt EventType) []delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []delivery
	for _, d := range f.deliveries {
		if d.Group == group && d.Type == evt {
			out = append(out, d)
		}
	}
	return out
}

func (f *recordingFanout) ofType(evt EventType) []delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []delivery
	for _, d := range f.deliveries {
		if d.Type == evt {
			out = append(out, d)
		}
	}
	return out
}

func (f *recordingFanout) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliveries = nil
}

type recordingJournal struct {
	mu      sync.Mutex
	records []Record
}

func (j *recordingJournal) Record(rec Record) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, rec)
}

func (j *recordingJournal) kinds() []RecordKind {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]RecordKind, 0, len(j.records))
	for _, r := range j.records {
		out = append(out, r.Kind)
	}
	return out
}

type fixture struct {
	reg     *Registry
	fanout  *recordingFanout
	journal *recordingJournal
	clock   *clockwork.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fanout := newRecordingFanout()
	journal := &recordingJournal{}
	clock := clockwork.NewFakeClockAt(epoch)
	return &fixture{
		reg:     NewRegistry(DefaultConfig(), fanout, journal, clock),
		fanout:  fanout,
		journal: journal,
		clock:   clock,
	}
}

// armed creates code with admin, joins players in order and starts the timer
// with delayMs. It returns the arm instant.
func (f *fixture) armed(t *testing.T, code, admin string, delayMs int64, players ...string) int64 {
	t.Helper()
	_, err := f.reg.CreateSession(admin, code)
	require.NoError(t, err)
	for _, p := range players {
		_, err := f.reg.JoinSession(p, code, p)
		require.NoError(t, err)
	}
	require.NoError(t, f.reg.StartTimer(admin, code, &delayMs))
	view, err := f.reg.Snapshot(code)
	require.NoError(t, err)
	require.NotNil(t, view.Timer.ServerStartTime)
	return *view.Timer.ServerStartTime
}

func millis(v int64) *int64 { return &v }
