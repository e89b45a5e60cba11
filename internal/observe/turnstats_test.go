package observe

import (
	"testing"
	"time"
)

func TestTurnStats_Percentiles(t *testing.T) {
	ts := NewTurnStats(100, time.Hour)

	// 1ms..100ms, uniformly.
	for i := 1; i <= 100; i++ {
		ts.Record(time.Duration(i)*time.Millisecond, 0)
	}

	snap := ts.Snapshot()
	if snap.Samples != 100 {
		t.Fatalf("Samples = %d, want 100", snap.Samples)
	}
	if snap.P50 != 50*time.Millisecond {
		t.Errorf("P50 = %v, want 50ms", snap.P50)
	}
	if snap.P95 != 95*time.Millisecond {
		t.Errorf("P95 = %v, want 95ms", snap.P95)
	}
	if snap.Turns != 100 {
		t.Errorf("Turns = %d, want 100", snap.Turns)
	}
}

func TestTurnStats_RingOverwrite(t *testing.T) {
	ts := NewTurnStats(10, time.Hour)

	// 25 samples through a window of 10: only the last 10 remain.
	for i := 1; i <= 25; i++ {
		ts.Record(time.Duration(i)*time.Millisecond, 0)
	}

	snap := ts.Snapshot()
	if snap.Samples != 10 {
		t.Errorf("Samples = %d, want 10", snap.Samples)
	}
	if snap.Turns != 25 {
		t.Errorf("Turns = %d, want 25 (counter is not windowed)", snap.Turns)
	}
	// Window holds 16ms..25ms, so the median is 20ms by nearest-rank.
	if snap.P50 != 20*time.Millisecond {
		t.Errorf("P50 = %v, want 20ms", snap.P50)
	}
}

func TestTurnStats_SlowDetection(t *testing.T) {
	ts := NewTurnStats(10, time.Hour)

	if slow := ts.Record(500*time.Millisecond, 0); slow {
		t.Error("500ms turn flagged slow")
	}
	if slow := ts.Record(3*time.Second, 0); !slow {
		t.Error("3s compute turn not flagged slow")
	}
	// 3s total but 2.5s of it waiting on the network: not slow.
	if slow := ts.Record(3*time.Second, 2500*time.Millisecond); slow {
		t.Error("network wait counted against the compute budget")
	}

	snap := ts.Snapshot()
	if snap.SlowTurns != 1 {
		t.Errorf("SlowTurns = %d, want 1", snap.SlowTurns)
	}
}

func TestTurnStats_TTLExpiry(t *testing.T) {
	ts := NewTurnStats(10, 20*time.Millisecond)

	ts.Record(10*time.Millisecond, 0)
	time.Sleep(40 * time.Millisecond)

	snap := ts.Snapshot()
	if snap.Samples != 0 {
		t.Errorf("Samples = %d, want 0 after retention TTL", snap.Samples)
	}
	if snap.P50 != 0 || snap.P95 != 0 {
		t.Errorf("percentiles over empty window = %v/%v, want 0/0", snap.P50, snap.P95)
	}
	if snap.Turns != 1 {
		t.Errorf("Turns = %d, want 1 (counter outlives samples)", snap.Turns)
	}
}

func TestTurnStats_Defaults(t *testing.T) {
	ts := NewTurnStats(0, 0)
	if ts.size != 1000 {
		t.Errorf("default window = %d, want 1000", ts.size)
	}
	if ts.ttl != 24*time.Hour {
		t.Errorf("default ttl = %v, want 24h", ts.ttl)
	}
}

func TestTurnStats_EmptySnapshot(t *testing.T) {
	ts := NewTurnStats(10, time.Hour)
	snap := ts.Snapshot()
	if snap.Samples != 0 || snap.P50 != 0 || snap.P95 != 0 {
		t.Errorf("empty snapshot = %+v, want zeroes", snap)
	}
}
