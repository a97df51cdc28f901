package timewindow

import (
	"testing"
	"time"
)

func TestRecordEvictsOlderThanSpan(t *testing.T) {
	w := New(60 * time.Second)
	base := time.Unix(0, 0)

	if got := w.Record(base); got != 1 {
		t.Fatalf("first record: got %d want 1", got)
	}
	if got := w.Record(base.Add(30 * time.Second)); got != 2 {
		t.Fatalf("second record within span: got %d want 2", got)
	}
	if got := w.Record(base.Add(90 * time.Second)); got != 2 {
		t.Fatalf("third record should have evicted the first: got %d want 2", got)
	}
}

func TestAllowRespectsLimit(t *testing.T) {
	w := New(60 * time.Second)
	base := time.Unix(0, 0)

	for i := 0; i < 3; i++ {
		if !w.Allow(base.Add(time.Duration(i)*time.Second), 3) {
			t.Fatalf("call %d should be allowed within limit", i)
		}
	}
	if w.Allow(base.Add(3*time.Second), 3) {
		t.Fatal("fourth call within the same window should exceed limit 3")
	}
}

func TestCountDoesNotRecord(t *testing.T) {
	w := New(60 * time.Second)
	base := time.Unix(0, 0)
	w.Record(base)
	if got := w.Count(base.Add(time.Second)); got != 1 {
		t.Fatalf("Count should see the prior Record: got %d", got)
	}
	if got := w.Count(base.Add(2 * time.Second)); got != 1 {
		t.Fatalf("Count must not add a new occurrence: got %d", got)
	}
}

func TestConcurrentRecord(t *testing.T) {
	w := New(time.Minute)
	done := make(chan struct{})
	now := time.Now()
	for i := 0; i < 50; i++ {
		go func() {
			w.Record(now)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 50; i++ {
		<-done
	}
	if got := w.Count(now); got != 50 {
		t.Fatalf("expected 50 concurrent hits recorded, got %d", got)
	}
}
