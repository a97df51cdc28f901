package analyzer

import (
	"fmt"
	"strings"

	"github.com/sentrymon/sentrymon/internal/config"
	"github.com/sentrymon/sentrymon/internal/dockerrt"
	"github.com/sentrymon/sentrymon/internal/events"
)

// Posture is the Posture Checker (spec.md §4.4): a static inspection of
// container configuration against a policy set. The user, privileged,
// network-mode and resource-limit rules produce at most one event per
// container per scan; the capability, port-exposure, mount and
// security-option rules produce one event per offending entry, so a single
// scan can yield several events from one of those rules.
type Posture struct {
	cfg *config.Config
}

// NewPosture returns a Posture checker bound to cfg.
func NewPosture(cfg *config.Config) *Posture {
	return &Posture{cfg: cfg}
}

// Analyze evaluates every posture rule against detail, returning the
// resulting events. Running this twice on the same ContainerDetail yields
// the same set of events (§8 idempotence invariant) — there is no hidden
// state here besides cfg.
func (p *Posture) Analyze(containerID, containerName string, detail dockerrt.ContainerDetail) (out []events.Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = []events.Event{
				events.New(events.TypePostureCheckError, events.Low, "posture", containerID, containerName,
					fmt.Sprintf("posture checker panic: %v", r), nil),
			}
			err = nil
		}
	}()

	emit := func(e events.Event) { out = append(out, e) }

	p.checkUser(containerID, containerName, detail, emit)
	p.checkPrivileged(containerID, containerName, detail, emit)
	p.checkCapabilities(containerID, containerName, detail, emit)
	p.checkPortExposure(containerID, containerName, detail, emit)
	p.checkNetworkMode(containerID, containerName, detail, emit)
	p.checkMounts(containerID, containerName, detail, emit)
	p.checkSecurityOpt(containerID, containerName, detail, emit)
	p.checkResourceLimits(containerID, containerName, detail, emit)

	return out, nil
}

func (p *Posture) checkUser(id, name string, d dockerrt.ContainerDetail, emit func(events.Event)) {
	u := strings.TrimSpace(d.User)
	isRootForm := u == "" || u == "0" || u == "root" ||
		strings.HasPrefix(u, "0:") || strings.HasSuffix(u, ":0")
	if isRootForm {
		emit(events.New(events.TypeSecurityMisconfig, events.High, "posture", id, name,
			"container runs as root (no user, \"0\", \"root\", or a \"0:…\"/\"…:0\" form)",
			map[string]any{"user": d.User}))
	}
}

func (p *Posture) checkPrivileged(id, name string, d dockerrt.ContainerDetail, emit func(events.Event)) {
	if d.Privileged {
		emit(events.New(events.TypeSecurityMisconfig, events.Critical, "posture", id, name,
			"container runs in privileged mode", nil))
	}
}

func (p *Posture) checkCapabilities(id, name string, d dockerrt.ContainerDetail, emit func(events.Event)) {
	for _, cap := range d.CapAdd {
		upper := strings.ToUpper(cap)
		if upper == "ALL" {
			emit(events.New(events.TypeSecurityMisconfig, events.Critical, "posture", id, name,
				"CAP_ADD includes ALL", map[string]any{"capability": upper}))
			continue
		}
		if containsCapability(p.cfg.DangerousCapabilities, upper) {
			sev := events.High
			if upper == "SYS_ADMIN" || upper == "SYS_MODULE" {
				sev = events.Critical
			}
			emit(events.New(events.TypeSecurityMisconfig, sev, "posture", id, name,
				fmt.Sprintf("dangerous capability added: %s", upper),
				map[string]any{"capability": upper}))
		}
	}
	if len(d.CapDrop) == 0 && len(d.CapAdd) == 0 {
		emit(events.New(events.TypeSecurityRecommendation, events.Medium, "posture", id, name,
			"no capabilities dropped and none added; consider least-privilege capability posture", nil))
	}
}

func containsCapability(set []string, cap string) bool {
	for _, c := range set {
		if strings.EqualFold(c, cap) {
			return true
		}
	}
	return false
}

func (p *Posture) checkPortExposure(id, name string, d dockerrt.ContainerDetail, emit func(events.Event)) {
	for _, pb := range d.PortBindings {
		if !portAllowed(p.cfg.AllowedPorts, pb.ContainerPort) {
			emit(events.New(events.TypeNetworkSecurity, events.Medium, "posture", id, name,
				fmt.Sprintf("exposed port %s/%s not in allowed_ports", pb.ContainerPort, pb.Protocol),
				map[string]any{"port": pb.ContainerPort, "protocol": pb.Protocol}))
		}
		if pb.HostIP == "" || pb.HostIP == "0.0.0.0" {
			emit(events.New(events.TypeNetworkSecurity, events.Medium, "posture", id, name,
				fmt.Sprintf("port %s bound to all interfaces (host IP %q)", pb.ContainerPort, pb.HostIP),
				map[string]any{"port": pb.ContainerPort, "host_ip": pb.HostIP}))
		}
	}
}

func portAllowed(allowed []int, containerPort string) bool {
	var port int
	fmt.Sscanf(containerPort, "%d", &port)
	for _, a := range allowed {
		if a == port {
			return true
		}
	}
	return false
}

func (p *Posture) checkNetworkMode(id, name string, d dockerrt.ContainerDetail, emit func(events.Event)) {
	if strings.EqualFold(d.NetworkMode, "host") {
		emit(events.New(events.TypeSecurityMisconfig, events.High, "posture", id, name,
			"container uses host network mode", nil))
	}
}

func (p *Posture) checkMounts(id, name string, d dockerrt.ContainerDetail, emit func(events.Event)) {
	for _, m := range d.Mounts {
		if strings.Contains(m.Source, "/var/run/docker.sock") {
			emit(events.New(events.TypeSecurityMisconfig, events.Critical, "posture", id, name,
				"container mounts the Docker socket", map[string]any{"mount_source": m.Source}))
			continue
		}
		if sev, ok := sensitiveMountSeverity(p.cfg.SensitiveDirectories, m.Source); ok {
			emit(events.New(events.TypeSecurityMisconfig, sev, "posture", id, name,
				fmt.Sprintf("mount source %q is under a sensitive host directory", m.Source),
				map[string]any{"mount_source": m.Source}))
		}
		if m.RW && (strings.HasPrefix(m.Destination, "/etc") || strings.HasPrefix(m.Destination, "/usr")) {
			emit(events.New(events.TypeSecurityMisconfig, events.High, "posture", id, name,
				fmt.Sprintf("writable mount destination %q under /etc or /usr", m.Destination),
				map[string]any{"destination": m.Destination}))
		}
	}
}

// criticalSensitiveDirs are the sensitive_directories prefixes that
// escalate a mount-source finding to CRITICAL rather than HIGH.
var criticalSensitiveDirs = []string{"/proc", "/sys"}

func sensitiveMountSeverity(sensitiveDirectories []string, source string) (events.Severity, bool) {
	for _, dir := range sensitiveDirectories {
		if strings.HasPrefix(source, dir) {
			for _, critical := range criticalSensitiveDirs {
				if dir == critical {
					return events.Critical, true
				}
			}
			return events.High, true
		}
	}
	return 0, false
}

func (p *Posture) checkSecurityOpt(id, name string, d dockerrt.ContainerDetail, emit func(events.Event)) {
	hasNoNewPrivileges := false
	for _, opt := range d.SecurityOpt {
		lower := strings.ToLower(opt)
		if lower == "apparmor=unconfined" || lower == "seccomp=unconfined" {
			emit(events.New(events.TypeSecurityMisconfig, events.High, "posture", id, name,
				fmt.Sprintf("security option %q disables confinement", opt),
				map[string]any{"security_opt": opt}))
		}
		if strings.Contains(lower, "no-new-privileges") {
			hasNoNewPrivileges = true
		}
	}
	if !hasNoNewPrivileges {
		emit(events.New(events.TypeSecurityRecommendation, events.Medium, "posture", id, name,
			"no-new-privileges is not set", nil))
	}
}

func (p *Posture) checkResourceLimits(id, name string, d dockerrt.ContainerDetail, emit func(events.Event)) {
	if d.Memory == 0 {
		emit(events.New(events.TypeSecurityRecommendation, events.Medium, "posture", id, name,
			"no memory limit configured", nil))
	}
	if d.PidsLimit == 0 {
		emit(events.New(events.TypeSecurityRecommendation, events.Low, "posture", id, name,
			"no PID limit configured", nil))
	}
}
