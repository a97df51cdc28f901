// Package pipeline implements the Event Pipeline (spec.md §4.7): a
// bounded, non-blocking queue whose drain loop fans each accepted event
// out to the retention buffer (always), the Report Aggregator (always),
// and the Alert Sender (only for CRITICAL/HIGH severities).
package pipeline

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sentrymon/sentrymon/internal/events"
)

const (
	queueCapacity     = 1000
	retentionCapacity = 10000
)

// AlertSink receives alert-worthy events. Implemented by internal/alert.
type AlertSink interface {
	Send(events.Event)
}

// ReportSink receives every accepted event for aggregation. Implemented
// by internal/report.
type ReportSink interface {
	Record(events.Event)
}

// Pipeline is the bounded event queue plus its drain loop.
type Pipeline struct {
	queue     chan events.Event
	retention *RetentionBuffer

	alert  AlertSink
	report ReportSink

	queueFull int64

	stop chan struct{}
	done chan struct{}
}

// New returns a Pipeline forwarding to alert and report. Either may be
// nil (e.g. in tests that only exercise retention).
func New(alert AlertSink, report ReportSink) *Pipeline {
	return &Pipeline{
		queue:     make(chan events.Event, queueCapacity),
		retention: NewRetentionBuffer(retentionCapacity),
		alert:     alert,
		report:    report,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Offer enqueues e without blocking. Returns false — and increments the
// queue_full counter — if the queue is at capacity.
func (p *Pipeline) Offer(e events.Event) bool {
	select {
	case p.queue <- e:
		return true
	default:
		atomic.AddInt64(&p.queueFull, 1)
		return false
	}
}

// QueueFullCount reports how many events have been dropped for a full
// queue since the pipeline started.
func (p *Pipeline) QueueFullCount() int64 {
	return atomic.LoadInt64(&p.queueFull)
}

// Retention exposes the retention buffer for the Report Generator.
func (p *Pipeline) Retention() *RetentionBuffer {
	return p.retention
}

// Run drains the queue until Stop is called. It must run in its own
// goroutine.
func (p *Pipeline) Run() {
	defer close(p.done)
	for {
		select {
		case e := <-p.queue:
			p.drain(e)
		case <-p.stop:
			// Drain whatever is already buffered before exiting so no
			// accepted event is silently lost.
			for {
				select {
				case e := <-p.queue:
					p.drain(e)
				default:
					return
				}
			}
		}
	}
}

func (p *Pipeline) drain(e events.Event) {
	p.retention.Append(e)
	if p.report != nil {
		p.report.Record(e)
	}
	if e.Severity.AlertWorthy() && p.alert != nil {
		go p.alert.Send(e)
	}
}

// Stop signals the drain loop to finish and waits up to timeout for it.
func (p *Pipeline) Stop(timeout time.Duration) {
	close(p.stop)
	select {
	case <-p.done:
	case <-time.After(timeout):
	}
}

// RetentionBuffer is a bounded, order-preserving FIFO of events with
// eviction at capacity.
type RetentionBuffer struct {
	mu       sync.Mutex
	buf      []events.Event
	capacity int
	start    int
}

// NewRetentionBuffer returns an empty buffer bounded at capacity.
func NewRetentionBuffer(capacity int) *RetentionBuffer {
	return &RetentionBuffer{capacity: capacity}
}

// Append adds e, evicting the oldest entry if the buffer is full.
func (r *RetentionBuffer) Append(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buf)-r.start >= r.capacity {
		r.start++
		if r.start > r.capacity {
			r.buf = append([]events.Event(nil), r.buf[r.start:]...)
			r.start = 0
		}
	}
	r.buf = append(r.buf, e)
}

// Snapshot returns a copy of every retained event in insertion order.
func (r *RetentionBuffer) Snapshot() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	live := r.buf[r.start:]
	out := make([]events.Event, len(live))
	copy(out, live)
	return out
}

// Since returns a copy of every retained event with Timestamp >= cutoff,
// in insertion order.
func (r *RetentionBuffer) Since(cutoff time.Time) []events.Event {
	all := r.Snapshot()
	var out []events.Event
	for _, e := range all {
		if !e.Timestamp.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// Len reports the number of events currently retained.
func (r *RetentionBuffer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf) - r.start
}
