package journal

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/buzzer/go/internal/buzzer"
)

type Config struct {
	Buffer     int
	MaxRetries int
	RetryDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		Buffer:     1024,
		MaxRetries: 3,
		RetryDelay: time.Second,
	}
}

// Dispatcher is a buzzer.Journal that hands records to its sinks from a
// background worker. Record never blocks; a full buffer drops the record.
type Dispatcher struct {
	sinks   []Sink
	config  Config
	clock   clockwork.Clock
	records chan buzzer.Record

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup

	written   atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
	lastWrite atomic.Int64 // unix ms of the last successful sink write
}

func NewDispatcher(cfg Config, clock clockwork.Clock, sinks ...Sink) *Dispatcher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultConfig().Buffer
	}
	return &Dispatcher{
		sinks:    sinks,
		config:   cfg,
		clock:    clock,
		records:  make(chan buzzer.Record, cfg.Buffer),
		stopChan: make(chan struct{}),
	}
}

// Record queues a lifecycle record.
func (d *Dispatcher) Record(rec buzzer.Record) {
	if len(d.sinks) == 0 {
		return
	}
	select {
	case d.records <- rec:
	default:
		d.dropped.Add(1)
		log.Warn().
			Str("session_code", rec.SessionCode).
			Str("kind", string(rec.Kind)).
			Msg("journal buffer full, dropping record")
	}
}

func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("journal dispatcher already running")
	}
	d.running = true
	d.mu.Unlock()

	d.wg.Add(1)
	go d.run(ctx)

	log.Info().Int("sinks", len(d.sinks)).Int("buffer", d.config.Buffer).Msg("journal dispatcher started")
	return nil
}

// Stop delivers what is already buffered and waits for the worker to exit.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("journal dispatcher not running")
	}
	d.running = false
	d.mu.Unlock()

	close(d.stopChan)
	d.wg.Wait()

	log.Info().
		Uint64("written", d.written.Load()).
		Uint64("failed", d.failed.Load()).
		Uint64("dropped", d.dropped.Load()).
		Msg("journal dispatcher stopped")
	return nil
}

// Running reports whether the worker has been started and not stopped.
func (d *Dispatcher) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// LastWrite returns when a sink last accepted an entry, or the zero time.
func (d *Dispatcher) LastWrite() time.Time {
	ms := d.lastWrite.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Stats reports delivery counters.
func (d *Dispatcher) Stats() map[string]uint64 {
	return map[string]uint64{
		"written": d.written.Load(),
		"failed":  d.failed.Load(),
		"dropped": d.dropped.Load(),
	}
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopChan:
			d.drain(ctx)
			return
		case rec := <-d.records:
			d.dispatch(ctx, rec)
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	for {
		select {
		case rec := <-d.records:
			d.dispatch(ctx, rec)
		default:
			return
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, rec buzzer.Record) {
	entry := NewEntry(rec)
	for _, sink := range d.sinks {
		if err := d.writeWithRetry(ctx, sink, entry); err != nil {
			d.failed.Add(1)
			log.Error().
				Err(err).
				Str("sink", sink.Name()).
				Str("entry_id", entry.ID.String()).
				Str("session_code", entry.SessionCode).
				Str("kind", string(entry.Kind)).
				Msg("failed to write journal entry")
			continue
		}
		d.written.Add(1)
		d.lastWrite.Store(d.clock.Now().UnixMilli())
	}
}

func (d *Dispatcher) writeWithRetry(ctx context.Context, sink Sink, entry Entry) error {
	var lastErr error

	for attempt := 0; attempt <= d.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-d.clock.After(d.config.RetryDelay * time.Duration(attempt)):
			}
		}

		if err := sink.Write(ctx, entry); err != nil {
			lastErr = err
			log.Warn().
				Err(err).
				Str("sink", sink.Name()).
				Str("entry_id", entry.ID.String()).
				Int("attempt", attempt+1).
				Msg("failed to write journal entry, retrying")
			continue
		}

		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}
