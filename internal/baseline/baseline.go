package baseline

import (
	"sync"
	"time"
)

const (
	capTraffic = 50 // CPU / memory / RX / TX ring capacity
	capProcess = 20 // process-count ring capacity

	// minSamples is the number of samples a ring must hold before its
	// average is considered meaningful (spec.md §3 invariant).
	minSamples = 5
)

// Trend is the three-way direction a metric's recent history is moving.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// ContainerBaseline holds one container's rolling statistics.
type ContainerBaseline struct {
	mu sync.Mutex

	ContainerID   string
	ContainerName string
	EstablishedAt time.Time
	LastSeen      time.Time

	cpu     *ring
	memory  *ring
	process *ring
	rxRate  *ring
	txRate  *ring

	AnomalyCount    int
	LastAnomalyTime time.Time

	peers          map[string]struct{}
	TrafficSpikes  int
}

func newContainerBaseline(id, name string, now time.Time) *ContainerBaseline {
	return &ContainerBaseline{
		ContainerID:   id,
		ContainerName: name,
		EstablishedAt: now,
		LastSeen:      now,
		cpu:           newRing(capTraffic),
		memory:        newRing(capTraffic),
		process:       newRing(capProcess),
		rxRate:        newRing(capTraffic),
		txRate:        newRing(capTraffic),
		peers:         make(map[string]struct{}),
	}
}

// RecordCPU appends a CPU-percent sample and touches LastSeen.
func (b *ContainerBaseline) RecordCPU(v float64, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cpu.push(v)
	b.LastSeen = now
}

// RecordMemory appends a memory-percent sample.
func (b *ContainerBaseline) RecordMemory(v float64, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.memory.push(v)
	b.LastSeen = now
}

// RecordProcessCount appends a process-count sample.
func (b *ContainerBaseline) RecordProcessCount(v float64, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.process.push(v)
	b.LastSeen = now
}

// RecordRXRate appends an RX byte-rate sample.
func (b *ContainerBaseline) RecordRXRate(v float64, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rxRate.push(v)
	b.LastSeen = now
}

// RecordTXRate appends a TX byte-rate sample.
func (b *ContainerBaseline) RecordTXRate(v float64, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.txRate.push(v)
	b.LastSeen = now
}

// RecordAnomaly increments the anomaly counter and stamps the last-anomaly
// time.
func (b *ContainerBaseline) RecordAnomaly(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.AnomalyCount++
	b.LastAnomalyTime = now
}

// RecordPeer marks a peer endpoint as observed and reports whether it is
// new to this baseline.
func (b *ContainerBaseline) RecordPeer(endpoint string) (isNew bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.peers[endpoint]; ok {
		return false
	}
	b.peers[endpoint] = struct{}{}
	return true
}

// PeerCount reports the number of distinct peer endpoints observed.
func (b *ContainerBaseline) PeerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.peers)
}

// RecordTrafficSpike increments the traffic-spike counter.
func (b *ContainerBaseline) RecordTrafficSpike() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.TrafficSpikes++
}

// CPUStats returns the CPU ring's sample count, average, and last n
// samples (oldest-to-newest).
func (b *ContainerBaseline) CPUStats(lastN int) (count int, avg float64, last []float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cpu.len(), ringAvg(b.cpu), b.cpu.last(lastN)
}

// MemoryStats mirrors CPUStats for the memory ring.
func (b *ContainerBaseline) MemoryStats(lastN int) (count int, avg float64, last []float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.memory.len(), ringAvg(b.memory), b.memory.last(lastN)
}

// ProcessStats mirrors CPUStats for the process-count ring.
func (b *ContainerBaseline) ProcessStats() (count int, avg float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.process.len(), ringAvg(b.process)
}

// RXStats mirrors CPUStats for the RX-rate ring.
func (b *ContainerBaseline) RXStats(lastN int) (count int, avg float64, last []float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rxRate.len(), ringAvg(b.rxRate), b.rxRate.last(lastN)
}

// TXStats mirrors CPUStats for the TX-rate ring.
func (b *ContainerBaseline) TXStats(lastN int) (count int, avg float64, last []float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.txRate.len(), ringAvg(b.txRate), b.txRate.last(lastN)
}

func ringAvg(r *ring) float64 {
	if r.len() < minSamples {
		return 0
	}
	return r.avg()
}

// ComputeTrend compares the mean of the most recent half of samples
// against the mean of the half before it, per spec.md §4.2's trend rule:
// >1.2x → increasing, <0.8x → decreasing, else stable. Needs at least 10
// samples (5 and 5); returns TrendStable if fewer are available.
func ComputeTrend(samples []float64, upMultiplier, downMultiplier float64) Trend {
	if len(samples) < 10 {
		return TrendStable
	}
	recent := samples[len(samples)-5:]
	prior := samples[len(samples)-10 : len(samples)-5]

	recentAvg := mean(recent)
	priorAvg := mean(prior)
	if priorAvg == 0 {
		return TrendStable
	}
	ratio := recentAvg / priorAvg
	switch {
	case ratio > upMultiplier:
		return TrendIncreasing
	case ratio < downMultiplier:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// CountAbove reports how many of the trailing window samples exceed
// threshold — used by the "≥8 of last 10 CPU samples exceed 70%" rule.
func CountAbove(samples []float64, threshold float64) int {
	n := 0
	for _, v := range samples {
		if v > threshold {
			n++
		}
	}
	return n
}

// Store is the per-container ContainerBaseline registry.
type Store struct {
	mu         sync.Mutex
	baselines  map[string]*ContainerBaseline
	maxAge     time.Duration
}

// NewStore returns an empty Store. maxAge governs GC: a baseline not
// touched within maxAge is evicted (spec.md §3 default 24h).
func NewStore(maxAge time.Duration) *Store {
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	return &Store{baselines: make(map[string]*ContainerBaseline), maxAge: maxAge}
}

// GetOrCreate returns the ContainerBaseline for id, creating it lazily on
// first observation.
func (s *Store) GetOrCreate(id, name string, now time.Time) *ContainerBaseline {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.baselines[id]
	if !ok {
		b = newContainerBaseline(id, name, now)
		s.baselines[id] = b
	}
	return b
}

// Get returns the ContainerBaseline for id if one exists.
func (s *Store) Get(id string) (*ContainerBaseline, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.baselines[id]
	return b, ok
}

// GC evicts baselines whose LastSeen is older than maxAge relative to now,
// returning how many were evicted.
func (s *Store) GC(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for id, b := range s.baselines {
		b.mu.Lock()
		stale := now.Sub(b.LastSeen) > s.maxAge
		b.mu.Unlock()
		if stale {
			delete(s.baselines, id)
			evicted++
		}
	}
	return evicted
}

// Len reports the number of baselines currently tracked.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.baselines)
}
