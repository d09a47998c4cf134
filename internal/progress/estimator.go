package progress

import (
	"context"
	"sync"
	"time"
)

const mib = 1 << 20

// Model maps elapsed time to an estimated percent. The expected duration
// grows linearly with payload size and is clamped to [MinDuration, MaxDuration].
type Model struct {
	Cap         float64
	Interval    time.Duration
	Base        time.Duration
	PerMiB      time.Duration
	MinDuration time.Duration
	MaxDuration time.Duration
}

// DefaultModel is tuned for a remote shrink call of a few megabytes.
func DefaultModel() Model {
	return Model{
		Cap:         95,
		Interval:    250 * time.Millisecond,
		Base:        2 * time.Second,
		PerMiB:      1500 * time.Millisecond,
		MinDuration: 2 * time.Second,
		MaxDuration: 45 * time.Second,
	}
}

func (m Model) withDefaults() Model {
	def := DefaultModel()
	if m.Cap <= 0 || m.Cap >= 100 {
		m.Cap = def.Cap
	}
	if m.Interval <= 0 {
		m.Interval = def.Interval
	}
	if m.MinDuration <= 0 {
		m.MinDuration = def.MinDuration
	}
	if m.MaxDuration < m.MinDuration {
		m.MaxDuration = max(def.MaxDuration, m.MinDuration)
	}
	return m
}

// Expected returns the expected duration of a call carrying size bytes.
func (m Model) Expected(size int64) time.Duration {
	d := m.Base + time.Duration(float64(m.PerMiB)*float64(max(size, 0))/mib)
	return min(max(d, m.MinDuration), m.MaxDuration)
}

// Percent returns Cap scaled by the elapsed share of expected.
func (m Model) Percent(elapsed, expected time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	if expected <= 0 || elapsed >= expected {
		return m.Cap
	}
	return m.Cap * float64(elapsed) / float64(expected)
}

// Estimator drives a Tracker with time-based estimates while a blocking call
// is in flight.
type Estimator struct {
	model Model
}

// NewEstimator returns an Estimator using m, with unset fields defaulted.
func NewEstimator(m Model) *Estimator {
	return &Estimator{model: m.withDefaults()}
}

// Model returns the effective model.
func (e *Estimator) Model() Model {
	return e.model
}

// Run is a single estimate in progress. Exactly one of Complete, Fail or
// Stop should end it; all of them are idempotent and wait for the timer
// goroutine to exit.
type Run struct {
	tracker *Tracker
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// Start enters PhaseCompressing on tracker and advances it on every tick
// until the run is ended or ctx is cancelled. Cancellation resets the
// tracker to idle.
func (e *Estimator) Start(ctx context.Context, tracker *Tracker, payloadSize int64) *Run {
	r := &Run{
		tracker: tracker,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	tracker.Enter(PhaseCompressing)
	started := time.Now()
	expected := e.model.Expected(payloadSize)
	model := e.model

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(model.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stop:
				return
			case <-ctx.Done():
				tracker.Reset()
				return
			case <-ticker.C:
				tracker.Advance(model.Percent(time.Since(started), expected))
			}
		}
	}()
	return r
}

// Stop halts the timer and leaves the tracker as it is.
func (r *Run) Stop() {
	r.once.Do(func() { close(r.stop) })
	<-r.done
}

// Complete halts the timer and snaps the tracker to 100.
func (r *Run) Complete() {
	r.Stop()
	r.tracker.Complete()
}

// Fail halts the timer and resets the tracker to idle.
func (r *Run) Fail() {
	r.Stop()
	r.tracker.Reset()
}

// Done is closed once the timer goroutine has exited.
func (r *Run) Done() <-chan struct{} {
	return r.done
}
