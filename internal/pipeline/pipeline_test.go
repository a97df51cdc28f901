package pipeline

import (
	"sync"
	"testing"
	"time"

	"github.com/sentrymon/sentrymon/internal/events"
)

type recordingAlert struct {
	mu   sync.Mutex
	sent []events.Event
}

func (r *recordingAlert) Send(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, e)
}

func (r *recordingAlert) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

type recordingReport struct {
	mu      sync.Mutex
	records []events.Event
}

func (r *recordingReport) Record(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, e)
}

func (r *recordingReport) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestPipelineRoutesHighSeverityToAlert(t *testing.T) {
	alert := &recordingAlert{}
	report := &recordingReport{}
	p := New(alert, report)
	go p.Run()
	defer p.Stop(time.Second)

	high := events.New(events.TypeSuspiciousProcess, events.High, "behavior", "c1", "web", "x", nil)
	low := events.New(events.TypeResourceAnomaly, events.Low, "behavior", "c1", "web", "y", nil)

	if !p.Offer(high) || !p.Offer(low) {
		t.Fatal("Offer should accept within capacity")
	}

	waitFor(t, func() bool { return report.count() == 2 })
	waitFor(t, func() bool { return alert.count() == 1 })

	if p.Retention().Len() != 2 {
		t.Fatalf("expected 2 retained events, got %d", p.Retention().Len())
	}
}

func TestPipelineOfferNonBlockingWhenFull(t *testing.T) {
	p := New(nil, nil) // no drain loop running — queue fills up
	for i := 0; i < queueCapacity; i++ {
		if !p.Offer(events.New(events.TypeResourceAnomaly, events.Info, "behavior", "c1", "web", "x", nil)) {
			t.Fatalf("expected offer %d to succeed within capacity", i)
		}
	}
	if p.Offer(events.New(events.TypeResourceAnomaly, events.Info, "behavior", "c1", "web", "overflow", nil)) {
		t.Fatal("expected overflow offer to be rejected")
	}
	if p.QueueFullCount() != 1 {
		t.Fatalf("expected queue_full counter 1, got %d", p.QueueFullCount())
	}
}

func TestRetentionBufferEvictsOldest(t *testing.T) {
	rb := NewRetentionBuffer(3)
	for i := 0; i < 5; i++ {
		rb.Append(events.New(events.TypeResourceAnomaly, events.Info, "behavior", "c1", "web",
			"evt", map[string]any{"i": i}))
	}
	snap := rb.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 retained events, got %d", len(snap))
	}
	if snap[0].Details["i"] != 2 {
		t.Fatalf("expected oldest retained event to be index 2, got %v", snap[0].Details["i"])
	}
}

func TestRetentionBufferSince(t *testing.T) {
	rb := NewRetentionBuffer(10)
	old := events.New(events.TypeResourceAnomaly, events.Info, "behavior", "c1", "web", "old", nil)
	old.Timestamp = time.Unix(0, 0)
	rb.Append(old)

	fresh := events.New(events.TypeResourceAnomaly, events.Info, "behavior", "c1", "web", "fresh", nil)
	fresh.Timestamp = time.Unix(1000, 0)
	rb.Append(fresh)

	got := rb.Since(time.Unix(500, 0))
	if len(got) != 1 || got[0].Description != "fresh" {
		t.Fatalf("expected only the fresh event, got %+v", got)
	}
}

func TestPipelineStopDrainsBufferedEvents(t *testing.T) {
	report := &recordingReport{}
	p := New(nil, report)
	// No Run() started: Offer into the queue, then Stop should still
	// drain it once before exiting... unless no drain loop is running.
	// Exercise the documented contract instead: start Run, offer, then
	// immediately Stop and confirm the event was processed.
	go p.Run()
	p.Offer(events.New(events.TypeResourceAnomaly, events.Info, "behavior", "c1", "web", "x", nil))
	p.Stop(time.Second)
	if report.count() != 1 {
		t.Fatalf("expected the offered event to be drained before Stop returns, got %d", report.count())
	}
}
