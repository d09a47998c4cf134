// Package progress reports request progress, including a synthetic estimate
// for remote calls that give no progress of their own.
package progress

import "sync"

// Phase names a step of a compression request.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseUploading   Phase = "uploading"
	PhaseCompressing Phase = "compressing"
	PhaseDownloading Phase = "downloading"
)

// State is a progress snapshot. Percent is within [0,100].
type State struct {
	Phase   Phase   `json:"phase"`
	Percent float64 `json:"percent"`
}

// Reporter receives state changes. Calls are serialized and made without the
// tracker's lock. While a call is in flight, later changes coalesce and only
// the newest is delivered next.
type Reporter func(State)

// maxAdvance keeps Advance below 100 so only Complete reports a finished request.
const maxAdvance = 99

// Tracker owns the progress state of a single request. Percent never
// decreases within a phase; entering a new phase resets it to zero.
type Tracker struct {
	mu         sync.Mutex
	state      State
	seq        uint64
	emitted    uint64
	delivering bool
	report     Reporter
}

// NewTracker returns an idle tracker. report may be nil.
func NewTracker(report Reporter) *Tracker {
	return &Tracker{state: State{Phase: PhaseIdle}, report: report}
}

// State returns the current snapshot.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Enter switches to phase with percent reset to zero.
func (t *Tracker) Enter(phase Phase) {
	t.mu.Lock()
	if t.state.Phase == phase {
		t.mu.Unlock()
		return
	}
	t.update(State{Phase: phase})
}

// Advance raises the percent of the current phase. Lower values are ignored.
func (t *Tracker) Advance(percent float64) bool {
	t.mu.Lock()
	percent = min(percent, maxAdvance)
	if t.state.Phase == PhaseIdle || percent <= t.state.Percent {
		t.mu.Unlock()
		return false
	}
	t.update(State{Phase: t.state.Phase, Percent: percent})
	return true
}

// Complete marks the request finished at 100 percent.
func (t *Tracker) Complete() {
	t.mu.Lock()
	if t.state.Percent == 100 {
		t.mu.Unlock()
		return
	}
	t.update(State{Phase: t.state.Phase, Percent: 100})
}

// Reset returns the tracker to idle.
func (t *Tracker) Reset() {
	t.mu.Lock()
	if t.state.Phase == PhaseIdle && t.state.Percent == 0 {
		t.mu.Unlock()
		return
	}
	t.update(State{Phase: PhaseIdle})
}

// update stores s and releases t.mu. The first caller to find no delivery in
// flight reports until the newest state has been delivered.
func (t *Tracker) update(s State) {
	t.state = s
	t.seq++
	if t.report == nil || t.delivering {
		t.mu.Unlock()
		return
	}
	t.delivering = true
	for t.emitted != t.seq {
		next := t.state
		t.emitted = t.seq
		t.mu.Unlock()
		t.report(next)
		t.mu.Lock()
	}
	t.delivering = false
	t.mu.Unlock()
}
