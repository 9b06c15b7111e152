// Package traffic keeps a sliding window of request outcomes. The health
// endpoint reads it to decide between healthy, idle, degraded and overloaded.
package traffic

import (
	"sync"
	"time"
)

// retention bounds how far back any window can look.
const retention = 30 * time.Minute

// Outcome classifies a finished request.
type Outcome uint8

const (
	Success Outcome = iota
	Failure
	Denied
)

var defaultTracker Tracker

// RecordSuccess records a request that produced weather (fresh, cached or stale).
func RecordSuccess() { defaultTracker.Record(Success) }

// RecordError records a request that failed because of the upstream or a timeout.
func RecordError() { defaultTracker.Record(Failure) }

// RecordDenied records a rate-limit denial (429).
func RecordDenied() { defaultTracker.Record(Denied) }

// RequestCount returns successes, errors and denials within the window.
func RequestCount(window time.Duration) int { return defaultTracker.Snapshot(window).Total() }

// DenialCount returns denials within the window.
func DenialCount(window time.Duration) int { return defaultTracker.Snapshot(window).Denied }

// ErrorRate returns (errors, successes+errors) within the window.
func ErrorRate(window time.Duration) (errors, total int) {
	s := defaultTracker.Snapshot(window)
	return s.Errors, s.Errors + s.Successes
}

// Current returns counts within the window from the process-wide tracker.
func Current(window time.Duration) Snapshot { return defaultTracker.Snapshot(window) }

// Reset clears all recorded outcomes. For tests only.
func Reset() { defaultTracker.Reset() }

// Snapshot is the outcome count over one window.
type Snapshot struct {
	Window    time.Duration `json:"-"`
	Successes int           `json:"successes"`
	Errors    int           `json:"errors"`
	Denied    int           `json:"denied"`
}

func (s Snapshot) Total() int { return s.Successes + s.Errors + s.Denied }

// ErrorPct is errors as a percentage of answered requests (denials excluded).
func (s Snapshot) ErrorPct() float64 {
	answered := s.Successes + s.Errors
	if answered == 0 {
		return 0
	}
	return float64(s.Errors) * 100 / float64(answered)
}

type event struct {
	at      time.Time
	outcome Outcome
}

// Tracker is safe for concurrent use. The zero value is ready.
type Tracker struct {
	mu     sync.Mutex
	events []event
	now    func() time.Time
}

func (t *Tracker) clock() time.Time {
	if t.now != nil {
		return t.now()
	}
	return time.Now()
}

func (t *Tracker) Record(o Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock()
	t.events = append(t.events, event{at: now, outcome: o})
	t.pruneLocked(now)
}

// Snapshot counts outcomes recorded within window of now.
func (t *Tracker) Snapshot(window time.Duration) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock()
	cutoff := now.Add(-window)
	s := Snapshot{Window: window}
	for i := len(t.events) - 1; i >= 0; i-- {
		e := t.events[i]
		if e.at.Before(cutoff) {
			break
		}
		switch e.outcome {
		case Success:
			s.Successes++
		case Failure:
			s.Errors++
		case Denied:
			s.Denied++
		}
	}
	return s
}

func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = nil
}

// pruneLocked drops events older than retention. Events are appended in time
// order so the expired ones form a prefix.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-retention)
	i := 0
	for ; i < len(t.events) && t.events[i].at.Before(cutoff); i++ {
	}
	if i > 0 {
		t.events = append(t.events[:0], t.events[i:]...)
	}
}
