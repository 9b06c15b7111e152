package traffic

import (
	"testing"
	"time"
)

// TestRequestCount_Empty verifies that RequestCount returns 0 when nothing was recorded.
func TestRequestCount_Empty(t *testing.T) {
	Reset()
	if n := RequestCount(1 * time.Minute); n != 0 {
		t.Errorf("RequestCount() = %d, want 0", n)
	}
}

// TestRecordDenied_AndCounts verifies that denials count toward load but not errors.
func TestRecordDenied_AndCounts(t *testing.T) {
	Reset()
	RecordDenied()
	RecordDenied()
	RecordSuccess()
	if n := DenialCount(1 * time.Minute); n != 2 {
		t.Errorf("DenialCount() = %d, want 2", n)
	}
	if n := RequestCount(1 * time.Minute); n != 3 {
		t.Errorf("RequestCount() = %d, want 3", n)
	}
	if errs, total := ErrorRate(time.Minute); errs != 0 || total != 1 {
		t.Errorf("ErrorRate() = (%d, %d), want (0, 1)", errs, total)
	}
}

// TestErrorRate_SuccessAndError verifies error rate from mixed outcomes.
func TestErrorRate_SuccessAndError(t *testing.T) {
	Reset()
	RecordSuccess()
	RecordSuccess()
	RecordError()
	errors, total := ErrorRate(1 * time.Minute)
	if errors != 1 || total != 3 {
		t.Errorf("ErrorRate() = (%d, %d), want (1, 3)", errors, total)
	}
	s := Current(time.Minute)
	if pct := s.ErrorPct(); pct < 33 || pct > 34 {
		t.Errorf("ErrorPct() = %v, want ~33.3", pct)
	}
}

// TestTracker_WindowAndPrune verifies that old events leave the window and are pruned.
func TestTracker_WindowAndPrune(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	tr := &Tracker{now: func() time.Time { return now }}

	tr.Record(Failure)
	now = base.Add(2 * time.Minute)
	tr.Record(Success)

	if s := tr.Snapshot(time.Minute); s.Errors != 0 || s.Successes != 1 {
		t.Errorf("Snapshot(1m) = %+v, want only the recent success", s)
	}
	if s := tr.Snapshot(5 * time.Minute); s.Total() != 2 {
		t.Errorf("Snapshot(5m).Total() = %d, want 2", s.Total())
	}

	now = base.Add(retention + 3*time.Minute)
	tr.Record(Denied)
	if len(tr.events) != 1 {
		t.Errorf("events after prune = %d, want 1", len(tr.events))
	}
}

// TestSnapshot_ErrorPctNoTraffic verifies the zero case.
func TestSnapshot_ErrorPctNoTraffic(t *testing.T) {
	if pct := (Snapshot{Denied: 4}).ErrorPct(); pct != 0 {
		t.Errorf("ErrorPct() = %v, want 0", pct)
	}
}
