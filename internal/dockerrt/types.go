// Package dockerrt implements the Runtime Client (spec.md §4.1/§6) against
// the real Docker Engine API, and provides an in-memory FakeClient with
// the same interface for analyzer tests. It is the system's single point
// of I/O against the container runtime.
package dockerrt

import "context"

// ContainerSummary is the subset of a Docker container listing entry the
// orchestrator needs to decide whether to schedule analysis.
type ContainerSummary struct {
	ID     string
	Name   string // first name, leading slash stripped
	Status string // State.Status, e.g. "running"
}

// NetworkStats is one interface's counters from a stats snapshot.
type NetworkStats struct {
	RxBytes   uint64
	TxBytes   uint64
	RxPackets uint64
	TxPackets uint64
	RxErrors  uint64
	TxErrors  uint64
	RxDropped uint64
	TxDropped uint64
}

// StatsSnapshot is a point-in-time resource snapshot. CPU fields carry two
// consecutive samples so the caller can compute a delta-based percentage
// per spec.md §4.2.
type StatsSnapshot struct {
	CPUTotalUsage    uint64
	CPUTotalUsagePrev uint64
	SystemUsage      uint64
	SystemUsagePrev  uint64
	NumCPUs          int

	MemoryUsage uint64
	MemoryLimit uint64

	Networks map[string]NetworkStats
}

// Process is one entry from a container's process list (as from `docker
// top`): the raw command line is what analyzers pattern-match against.
type Process struct {
	PID     string
	User    string
	Command string
}

// ProcessList is the full process table for a container at one point in
// time.
type ProcessList struct {
	Processes []Process
}

// PortBinding is one exposed-port → host-binding mapping.
type PortBinding struct {
	ContainerPort string
	Protocol      string
	HostIP        string
	HostPort      string
}

// Mount describes one bind/volume mount.
type Mount struct {
	Type        string
	Source      string
	Destination string
	Mode        string
	RW          bool
}

// ContainerDetail is the full inspect result the Posture Checker consumes.
type ContainerDetail struct {
	ID   string
	Name string

	User            string
	Image           string
	ExposedPorts    []string // "80/tcp" form
	Env             []string

	Privileged      bool
	CapAdd          []string
	CapDrop         []string
	NetworkMode     string
	PortBindings    []PortBinding
	SecurityOpt     []string
	Memory          int64 // bytes; 0 = unlimited
	PidsLimit       int64 // 0 = unlimited

	Mounts []Mount
}

// ErrorKind classifies a Runtime Client failure per spec.md §4.1/§7.
type ErrorKind int

const (
	// KindNotFound: container vanished between List and a subsequent
	// call. Recoverable — callers should swallow it, not raise an event.
	KindNotFound ErrorKind = iota
	// KindTransient: network/timeout. Retriable; counted as a runtime
	// error.
	KindTransient
	// KindFatal: auth failure, socket missing. Not retriable.
	KindFatal
)

// RuntimeError wraps an underlying error with its classification.
type RuntimeError struct {
	Kind ErrorKind
	Err  error
}

func (e *RuntimeError) Error() string { return e.Err.Error() }
func (e *RuntimeError) Unwrap() error { return e.Err }

// Client is the Runtime Client interface (spec.md §4.1). Every
// implementation — real or fake — is gated by the shared circuit breaker
// at the call site, not inside the implementation itself, so FakeClient
// can be exercised in tests without breaker interference.
type Client interface {
	List(ctx context.Context) ([]ContainerSummary, error)
	Inspect(ctx context.Context, id string) (ContainerDetail, error)
	Stats(ctx context.Context, id string) (StatsSnapshot, error)
	Processes(ctx context.Context, id string) (ProcessList, error)
	Close() error
}
