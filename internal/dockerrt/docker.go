package dockerrt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

// DockerClient implements Client against a real Docker Engine daemon via
// the official SDK. It is the system's single point of I/O — every
// exported method here is wrapped by internal/breaker at the call site in
// internal/orchestrator, not internally, so tests can drive DockerClient's
// FakeClient sibling without breaker interference.
type DockerClient struct {
	cli *client.Client
}

// Dial connects to the Docker daemon using the standard environment
// variables (DOCKER_HOST, DOCKER_CERT_PATH, DOCKER_TLS_VERIFY) and
// negotiates an API version, then verifies connectivity with a Ping.
func Dial(ctx context.Context) (*DockerClient, error) {
	cli, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, &RuntimeError{Kind: KindFatal, Err: fmt.Errorf("dockerrt: create client: %w", err)}
	}
	if _, err := cli.Ping(ctx); err != nil {
		cli.Close()
		return nil, &RuntimeError{Kind: KindFatal, Err: fmt.Errorf("dockerrt: ping daemon: %w", err)}
	}
	return &DockerClient{cli: cli}, nil
}

// Close releases the underlying daemon connection.
func (d *DockerClient) Close() error {
	return d.cli.Close()
}

// List returns every container the daemon reports as running. Filtering
// by container_patterns happens in the orchestrator, not here (spec.md
// §4.1).
func (d *DockerClient) List(ctx context.Context) ([]ContainerSummary, error) {
	raw, err := d.cli.ContainerList(ctx, container.ListOptions{})
	if err != nil {
		return nil, classifyErr(err)
	}
	out := make([]ContainerSummary, 0, len(raw))
	for _, c := range raw {
		out = append(out, ContainerSummary{
			ID:     c.ID,
			Name:   firstName(c.Names),
			Status: c.State,
		})
	}
	return out, nil
}

func firstName(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return strings.TrimPrefix(names[0], "/")
}

// Inspect fetches full container configuration for posture checks.
func (d *DockerClient) Inspect(ctx context.Context, id string) (ContainerDetail, error) {
	raw, err := d.cli.ContainerInspect(ctx, id)
	if err != nil {
		return ContainerDetail{}, classifyErr(err)
	}
	return toContainerDetail(raw), nil
}

func toContainerDetail(raw types.ContainerJSON) ContainerDetail {
	det := ContainerDetail{
		ID:   raw.ID,
		Name: strings.TrimPrefix(raw.Name, "/"),
	}
	if raw.Config != nil {
		det.User = raw.Config.User
		det.Image = raw.Config.Image
		det.Env = raw.Config.Env
		for port := range raw.Config.ExposedPorts {
			det.ExposedPorts = append(det.ExposedPorts, string(port))
		}
	}
	if raw.HostConfig != nil {
		hc := raw.HostConfig
		det.Privileged = hc.Privileged
		det.CapAdd = toStrings(hc.CapAdd)
		det.CapDrop = toStrings(hc.CapDrop)
		det.NetworkMode = string(hc.NetworkMode)
		det.SecurityOpt = hc.SecurityOpt
		det.Memory = hc.Memory
		det.PidsLimit = derefPidsLimit(hc.PidsLimit)
		det.PortBindings = toPortBindings(hc.PortBindings)
	}
	for _, m := range raw.Mounts {
		det.Mounts = append(det.Mounts, Mount{
			Type:        string(m.Type),
			Source:      m.Source,
			Destination: m.Destination,
			Mode:        m.Mode,
			RW:          m.RW,
		})
	}
	return det
}

// toStrings adapts docker's strslice.StrSlice (a []string alias) to a
// plain []string so ContainerDetail has no docker-SDK types in its field
// types.
func toStrings(ss []string) []string {
	if ss == nil {
		return nil
	}
	out := make([]string, len(ss))
	copy(out, ss)
	return out
}

func derefPidsLimit(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

func toPortBindings(pm nat.PortMap) []PortBinding {
	var out []PortBinding
	for port, bindings := range pm {
		for _, b := range bindings {
			out = append(out, PortBinding{
				ContainerPort: port.Port(),
				Protocol:      port.Proto(),
				HostIP:        b.HostIP,
				HostPort:      b.HostPort,
			})
		}
	}
	return out
}

// Stats pulls one point-in-time resource snapshot, including the prior
// sample fields Docker's stats API already provides so the Behavior
// Analyzer can compute a delta-based CPU percentage without a second call.
func (d *DockerClient) Stats(ctx context.Context, id string) (StatsSnapshot, error) {
	resp, err := d.cli.ContainerStatsOneShot(ctx, id)
	if err != nil {
		return StatsSnapshot{}, classifyErr(err)
	}
	defer resp.Body.Close()

	var raw container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return StatsSnapshot{}, &RuntimeError{Kind: KindTransient, Err: fmt.Errorf("dockerrt: decode stats: %w", err)}
	}
	return toStatsSnapshot(raw), nil
}

func toStatsSnapshot(raw container.StatsResponse) StatsSnapshot {
	snap := StatsSnapshot{
		CPUTotalUsage:     raw.CPUStats.CPUUsage.TotalUsage,
		CPUTotalUsagePrev: raw.PreCPUStats.CPUUsage.TotalUsage,
		SystemUsage:       raw.CPUStats.SystemUsage,
		SystemUsagePrev:   raw.PreCPUStats.SystemUsage,
		NumCPUs:           raw.CPUStats.OnlineCPUs,
		MemoryUsage:       raw.MemoryStats.Usage,
		MemoryLimit:       raw.MemoryStats.Limit,
		Networks:          make(map[string]NetworkStats, len(raw.Networks)),
	}
	if snap.NumCPUs == 0 {
		snap.NumCPUs = len(raw.CPUStats.CPUUsage.PercpuUsage)
	}
	for iface, n := range raw.Networks {
		snap.Networks[iface] = NetworkStats{
			RxBytes:   n.RxBytes,
			TxBytes:   n.TxBytes,
			RxPackets: n.RxPackets,
			TxPackets: n.TxPackets,
			RxErrors:  n.RxErrors,
			TxErrors:  n.TxErrors,
			RxDropped: n.RxDropped,
			TxDropped: n.TxDropped,
		}
	}
	return snap
}

// Processes returns the container's process table via the equivalent of
// `docker top`.
func (d *DockerClient) Processes(ctx context.Context, id string) (ProcessList, error) {
	top, err := d.cli.ContainerTop(ctx, id, nil)
	if err != nil {
		return ProcessList{}, classifyErr(err)
	}
	return toProcessList(top), nil
}

func toProcessList(top container.ContainerTopOKBody) ProcessList {
	userIdx, cmdIdx := -1, -1
	for i, title := range top.Titles {
		switch strings.ToUpper(title) {
		case "UID", "USER":
			userIdx = i
		case "CMD", "COMMAND":
			cmdIdx = i
		}
	}
	var pl ProcessList
	for _, row := range top.Processes {
		p := Process{}
		if len(row) > 0 {
			p.PID = row[0]
		}
		if userIdx >= 0 && userIdx < len(row) {
			p.User = row[userIdx]
		}
		if cmdIdx >= 0 && cmdIdx < len(row) {
			p.Command = row[cmdIdx]
		} else if len(row) > 0 {
			p.Command = row[len(row)-1]
		}
		pl.Processes = append(pl.Processes, p)
	}
	return pl
}

// classifyErr maps a Docker SDK error to the Runtime Client's error
// taxonomy (spec.md §4.1/§7).
func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	if client.IsErrNotFound(err) {
		return &RuntimeError{Kind: KindNotFound, Err: err}
	}
	if client.IsErrConnectionFailed(err) {
		return &RuntimeError{Kind: KindFatal, Err: err}
	}
	return &RuntimeError{Kind: KindTransient, Err: err}
}
