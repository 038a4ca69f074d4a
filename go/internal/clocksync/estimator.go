// Package clocksync estimates the skew between a participant's local clock
// and the broker clock from round-trip probes.
package clocksync

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Prober asks the broker for its current time in epoch milliseconds.
type Prober interface {
	ServerNow(ctx context.Context) (int64, error)
}

// Config holds estimator settings.
type Config struct {
	Probes     int           // round trips per estimate, at least 5
	Interval   time.Duration // pause between probes
	MinSamples int           // successful probes needed before the offset is trusted
}

// DefaultConfig returns the estimator defaults.
func DefaultConfig() Config {
	return Config{
		Probes:     5,
		Interval:   80 * time.Millisecond,
		MinSamples: 2,
	}
}

// Sample is the outcome of one probe.
type Sample struct {
	SentAt     int64
	ServerTime int64
	ReceivedAt int64
	Offset     float64
}

// Estimator computes the server-minus-local offset once per connection.
type Estimator struct {
	prober Prober
	clock  clockwork.Clock
	config Config

	once    sync.Once
	done    chan struct{}
	mu      sync.RWMutex
	offset  float64
	samples []Sample
}

// NewEstimator creates an estimator. A nil clock uses the wall clock.
func NewEstimator(prober Prober, clock clockwork.Clock, config Config) *Estimator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if config.Probes < 5 {
		config.Probes = 5
	}
	if config.MinSamples < 2 {
		config.MinSamples = 2
	}
	return &Estimator{
		prober: prober,
		clock:  clock,
		config: config,
		done:   make(chan struct{}),
	}
}

// Start runs the estimate in the background.
func (e *Estimator) Start(ctx context.Context) {
	go e.Run(ctx)
}

// Run performs the probes on first call and returns the offset in
// milliseconds. Later calls wait for the first estimate, or until their own
// ctx is done, and return the offset known at that point.
func (e *Estimator) Run(ctx context.Context) float64 {
	e.once.Do(func() {
		go func() {
			defer close(e.done)
			e.estimate(ctx)
		}()
	})
	select {
	case <-e.done:
	case <-ctx.Done():
	}
	return e.Offset()
}

// Offset returns the current estimate; 0 until an estimate is available.
func (e *Estimator) Offset() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.offset
}

// Samples returns the successful probes of the last estimate.
func (e *Estimator) Samples() []Sample {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.samples)
}

// Done is closed once an estimate has finished.
func (e *Estimator) Done() <-chan struct{} {
	return e.done
}

func (e *Estimator) estimate(ctx context.Context) {
	samples := make([]Sample, 0, e.config.Probes)

	for i := 0; i < e.config.Probes; i++ {
		if i > 0 && e.config.Interval > 0 {
			select {
			case <-e.clock.After(e.config.Interval):
			case <-ctx.Done():
			}
		}
		if ctx.Err() != nil {
			break
		}

		s, err := e.probe(ctx)
		if err != nil {
			log.Debug().Err(err).Int("probe", i).Msg("clock probe failed")
			continue
		}
		samples = append(samples, s)
	}

	offset := 0.0
	if len(samples) >= e.config.MinSamples {
		offsets := make([]float64, 0, len(samples))
		for _, s := range samples {
			offsets = append(offsets, s.Offset)
		}
		offset = Median(offsets)
	} else {
		log.Warn().
			Int("samples", len(samples)).
			Int("required", e.config.MinSamples).
			Msg("not enough clock probes, assuming zero offset")
	}

	e.mu.Lock()
	e.offset = offset
	e.samples = samples
	e.mu.Unlock()

	log.Debug().Float64("offset_ms", offset).Int("samples", len(samples)).Msg("clock offset estimated")
}

func (e *Estimator) probe(ctx context.Context) (Sample, error) {
	t0 := e.clock.Now().UnixMilli()
	server, err := e.prober.ServerNow(ctx)
	if err != nil {
		return Sample{}, err
	}
	t1 := e.clock.Now().UnixMilli()
	return NewSample(t0, server, t1), nil
}

// NewSample derives the offset for one round trip, assuming the outbound and
// return legs took equally long.
func NewSample(sentAt, serverTime, receivedAt int64) Sample {
	latency := float64(receivedAt-sentAt) / 2
	return Sample{
		SentAt:     sentAt,
		ServerTime: serverTime,
		ReceivedAt: receivedAt,
		Offset:     float64(serverTime) - (float64(sentAt) + latency),
	}
}

// Median returns the element at index n/2 of the sorted values (the upper
// median for even counts), or 0 for no values.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	return sorted[len(sorted)/2]
}

// Correct translates a local timestamp into approximate broker time.
func Correct(local int64, offset float64) float64 {
	return float64(local) + offset
}
