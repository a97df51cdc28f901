package baseline

import (
	"testing"
	"time"
)

func TestRingEvictsAtCapacity(t *testing.T) {
	r := newRing(3)
	r.push(1)
	r.push(2)
	r.push(3)
	r.push(4) // evicts 1
	if r.len() != 3 {
		t.Fatalf("expected len 3, got %d", r.len())
	}
	got := r.ordered()
	want := []float64{2, 3, 4}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ordered() = %v, want %v", got, want)
		}
	}
}

func TestAverageRequiresMinSamples(t *testing.T) {
	b := newContainerBaseline("c1", "web", time.Unix(0, 0))
	now := time.Unix(0, 0)
	for i := 0; i < 4; i++ {
		b.RecordCPU(50, now)
	}
	count, avg, _ := b.CPUStats(10)
	if count != 4 {
		t.Fatalf("expected 4 samples, got %d", count)
	}
	if avg != 0 {
		t.Fatalf("average should be 0 below minSamples threshold, got %f", avg)
	}

	b.RecordCPU(50, now)
	_, avg, _ = b.CPUStats(10)
	if avg != 50 {
		t.Fatalf("expected average 50 once minSamples reached, got %f", avg)
	}
}

func TestComputeTrend(t *testing.T) {
	stable := []float64{10, 10, 10, 10, 10, 10, 10, 10, 10, 10}
	if got := ComputeTrend(stable, 1.2, 0.8); got != TrendStable {
		t.Fatalf("expected stable, got %v", got)
	}

	increasing := []float64{10, 10, 10, 10, 10, 20, 20, 20, 20, 20}
	if got := ComputeTrend(increasing, 1.2, 0.8); got != TrendIncreasing {
		t.Fatalf("expected increasing, got %v", got)
	}

	decreasing := []float64{10, 10, 10, 10, 10, 5, 5, 5, 5, 5}
	if got := ComputeTrend(decreasing, 1.2, 0.8); got != TrendDecreasing {
		t.Fatalf("expected decreasing, got %v", got)
	}

	tooShort := []float64{1, 2, 3}
	if got := ComputeTrend(tooShort, 1.2, 0.8); got != TrendStable {
		t.Fatalf("fewer than 10 samples must yield stable, got %v", got)
	}
}

func TestCountAbove(t *testing.T) {
	samples := []float64{71, 72, 69, 80, 90, 60, 75, 76, 77, 50}
	if got := CountAbove(samples, 70); got != 7 {
		t.Fatalf("expected 7 samples above 70, got %d", got)
	}
}

func TestStoreGetOrCreateAndGC(t *testing.T) {
	s := NewStore(time.Hour)
	now := time.Unix(0, 0)
	b := s.GetOrCreate("c1", "web", now)
	if b.ContainerID != "c1" {
		t.Fatalf("unexpected container id: %s", b.ContainerID)
	}
	if got := s.GetOrCreate("c1", "web", now); got != b {
		t.Fatal("GetOrCreate should return the same baseline for a repeated id")
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 tracked baseline, got %d", s.Len())
	}

	future := now.Add(2 * time.Hour)
	evicted := s.GC(future)
	if evicted != 1 {
		t.Fatalf("expected 1 eviction past max age, got %d", evicted)
	}
	if s.Len() != 0 {
		t.Fatalf("expected store empty after GC, got %d", s.Len())
	}
}

func TestRecordPeerReportsNewness(t *testing.T) {
	b := newContainerBaseline("c1", "web", time.Unix(0, 0))
	if !b.RecordPeer("10.0.0.1:443") {
		t.Fatal("first observation of a peer should report new")
	}
	if b.RecordPeer("10.0.0.1:443") {
		t.Fatal("repeat observation of the same peer should not report new")
	}
	if b.PeerCount() != 1 {
		t.Fatalf("expected 1 distinct peer, got %d", b.PeerCount())
	}
}

func TestDeviationScorerNoHistoryReturnsZero(t *testing.T) {
	d := NewDeviationScorer(0.3)
	score, err := d.Score([]float64{90}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if score != 0 {
		t.Fatalf("expected 0 with no history, got %f", score)
	}
}

func TestDeviationScorerFlagsOutlier(t *testing.T) {
	d := NewDeviationScorer(0.3)
	history := []float64{10, 11, 9, 10, 12, 10, 11, 9}
	low, err := d.Score([]float64{10}, history)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	high, err := d.Score([]float64{90}, history)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if high <= low {
		t.Fatalf("expected outlier score %f > in-distribution score %f", high, low)
	}
}
