package dockerrt

import (
	"context"
	"fmt"
	"sync"
)

// FakeClient is an in-memory Client used by analyzer and orchestrator
// tests. Every container's summary, detail, stats, and processes are set
// directly by the test; no goroutines, no network.
type FakeClient struct {
	mu         sync.Mutex
	summaries  []ContainerSummary
	details    map[string]ContainerDetail
	stats      map[string]StatsSnapshot
	processes  map[string]ProcessList
	missing    map[string]bool // ids that should return KindNotFound
	closed     bool
}

// NewFakeClient returns an empty FakeClient.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		details:   make(map[string]ContainerDetail),
		stats:     make(map[string]StatsSnapshot),
		processes: make(map[string]ProcessList),
		missing:   make(map[string]bool),
	}
}

// AddContainer registers a container's full fixture: its listing summary,
// inspect detail, stats snapshot, and process list.
func (f *FakeClient) AddContainer(summary ContainerSummary, detail ContainerDetail, stats StatsSnapshot, procs ProcessList) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = append(f.summaries, summary)
	f.details[summary.ID] = detail
	f.stats[summary.ID] = stats
	f.processes[summary.ID] = procs
}

// SetMissing marks id as vanished — subsequent Inspect/Stats/Processes
// calls return a KindNotFound RuntimeError, simulating a container that
// disappeared between List and a follow-up call.
func (f *FakeClient) SetMissing(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.missing[id] = true
}

func (f *FakeClient) List(ctx context.Context) ([]ContainerSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ContainerSummary, len(f.summaries))
	copy(out, f.summaries)
	return out, nil
}

func (f *FakeClient) Inspect(ctx context.Context, id string) (ContainerDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missing[id] {
		return ContainerDetail{}, &RuntimeError{Kind: KindNotFound, Err: fmt.Errorf("dockerrt: container %s not found", id)}
	}
	d, ok := f.details[id]
	if !ok {
		return ContainerDetail{}, &RuntimeError{Kind: KindNotFound, Err: fmt.Errorf("dockerrt: container %s not found", id)}
	}
	return d, nil
}

func (f *FakeClient) Stats(ctx context.Context, id string) (StatsSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missing[id] {
		return StatsSnapshot{}, &RuntimeError{Kind: KindNotFound, Err: fmt.Errorf("dockerrt: container %s not found", id)}
	}
	s, ok := f.stats[id]
	if !ok {
		return StatsSnapshot{}, &RuntimeError{Kind: KindNotFound, Err: fmt.Errorf("dockerrt: container %s not found", id)}
	}
	return s, nil
}

func (f *FakeClient) Processes(ctx context.Context, id string) (ProcessList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missing[id] {
		return ProcessList{}, &RuntimeError{Kind: KindNotFound, Err: fmt.Errorf("dockerrt: container %s not found", id)}
	}
	p, ok := f.processes[id]
	if !ok {
		return ProcessList{}, &RuntimeError{Kind: KindNotFound, Err: fmt.Errorf("dockerrt: container %s not found", id)}
	}
	return p, nil
}

func (f *FakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Closed reports whether Close has been called, for teardown assertions.
func (f *FakeClient) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
