package analyzer

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sentrymon/sentrymon/internal/baseline"
	"github.com/sentrymon/sentrymon/internal/config"
	"github.com/sentrymon/sentrymon/internal/dockerrt"
	"github.com/sentrymon/sentrymon/internal/events"
	"github.com/sentrymon/sentrymon/internal/timewindow"
)

const (
	networkHighMultiplier     = 2.0
	trafficSpikeMultiplier    = 3.0
	exfilRateMultiplier       = 5.0
	exfilSampleMultiplier     = 2.0
	exfilSampleMinMatches     = 3
	exfilByteRatioMultiplier  = 10.0
	smallPacketBytes          = 50.0
	largePacketBytesOutbound  = 1400.0
	errorRateThreshold        = 0.05
	minPacketsForErrorCheck   = 100
	connectionScanThreshold   = 50
	connectionScanWindow      = 60 * time.Second
	connectionScanLongWindow  = 5 * time.Minute
)

// Network is the Network Analyzer (spec.md §4.3). scanWindows tracks the
// rolling connection-attempt count per container for the port-scanning
// heuristic; it outlives any single Analyze call, so it's keyed by
// container id and owned by the analyzer instance, not the baseline
// store (baselines are about resource history, this is about recent
// connection attempts).
type Network struct {
	cfg *config.Config

	mu              sync.Mutex
	scanWindows     map[string]*timewindow.Window
	scanWindowsLong map[string]*timewindow.Window
}

func NewNetwork(cfg *config.Config) *Network {
	return &Network{
		cfg:             cfg,
		scanWindows:     make(map[string]*timewindow.Window),
		scanWindowsLong: make(map[string]*timewindow.Window),
	}
}

func (n *Network) windowFor(id string) *timewindow.Window {
	n.mu.Lock()
	defer n.mu.Unlock()
	w, ok := n.scanWindows[id]
	if !ok {
		w = timewindow.New(connectionScanWindow)
		n.scanWindows[id] = w
	}
	return w
}

func (n *Network) longWindowFor(id string) *timewindow.Window {
	n.mu.Lock()
	defer n.mu.Unlock()
	w, ok := n.scanWindowsLong[id]
	if !ok {
		w = timewindow.New(connectionScanLongWindow)
		n.scanWindowsLong[id] = w
	}
	return w
}

// Analyze inspects one container's network stats against its baseline and
// the configured thresholds, returning every event spec.md §4.3's rules
// fire.
func (n *Network) Analyze(containerID, containerName string, stats dockerrt.StatsSnapshot, connectionAttempts int, bl *baseline.ContainerBaseline, intervalSeconds float64, now time.Time) (out []events.Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = []events.Event{
				events.New(events.TypeNetworkAnalysisError, events.Low, "network", containerID, containerName,
					fmt.Sprintf("network analyzer panic: %v", r), nil),
			}
			err = nil
		}
	}()

	if intervalSeconds <= 0 {
		intervalSeconds = 1
	}

	var totalRxBytes, totalTxBytes float64
	var totalRxPackets, totalTxPackets, totalErrorsDrops uint64

	for iface, ns := range stats.Networks {
		totalRxBytes += float64(ns.RxBytes)
		totalTxBytes += float64(ns.TxBytes)
		totalRxPackets += ns.RxPackets
		totalTxPackets += ns.TxPackets
		totalErrorsDrops += ns.RxErrors + ns.TxErrors + ns.RxDropped + ns.TxDropped

		out = append(out, packetSizeEvents(containerID, containerName, iface, ns)...)
	}

	rxRate := totalRxBytes / intervalSeconds
	txRate := totalTxBytes / intervalSeconds

	out = append(out, mbpsThresholdEvents(containerID, containerName, rxRate, txRate, n.cfg)...)
	out = append(out, deviationEvent(containerID, containerName, "rx", rxRate, bl, func() (int, float64, []float64) { return bl.RXStats(10) })...)
	out = append(out, deviationEvent(containerID, containerName, "tx", txRate, bl, func() (int, float64, []float64) { return bl.TXStats(10) })...)
	out = append(out, errorRateEvent(containerID, containerName, totalErrorsDrops, totalRxPackets+totalTxPackets)...)
	out = append(out, n.scanEvent(containerID, containerName, connectionAttempts, now)...)
	out = append(out, exfiltrationEvents(containerID, containerName, rxRate, txRate, totalRxBytes, totalTxBytes, bl)...)

	bl.RecordRXRate(rxRate, now)
	bl.RecordTXRate(txRate, now)

	return out, nil
}

func mbps(bytesPerSec float64) float64 {
	return bytesPerSec * 8 / (1024 * 1024)
}

func mbpsThresholdEvents(id, name string, rxRate, txRate float64, cfg *config.Config) []events.Event {
	var out []events.Event
	for _, d := range []struct {
		direction string
		rateBps   float64
	}{{"rx", rxRate}, {"tx", txRate}} {
		mb := mbps(d.rateBps)
		if mb > cfg.NetworkThresholdMbps {
			sev := events.Medium
			if mb > networkHighMultiplier*cfg.NetworkThresholdMbps {
				sev = events.High
			}
			out = append(out, events.New(events.TypeNetworkAnomaly, sev, "network", id, name,
				fmt.Sprintf("%s traffic %.2f Mbps exceeds threshold %.2f Mbps", d.direction, mb, cfg.NetworkThresholdMbps),
				map[string]any{"direction": d.direction, "mbps": mb, "threshold_mbps": cfg.NetworkThresholdMbps}))
		}
	}
	return out
}

func deviationEvent(id, name, direction string, rate float64, bl *baseline.ContainerBaseline, stats func() (int, float64, []float64)) []events.Event {
	count, avg, history := stats()
	if count < 5 || avg <= 0 || rate <= trafficSpikeMultiplier*avg {
		return nil
	}
	trend := baseline.ComputeTrend(append(history, rate), 1.2, 0.8)
	bl.RecordTrafficSpike()
	return []events.Event{events.New(events.TypeNetworkAnomaly, events.Medium, "network", id, name,
		fmt.Sprintf("%s rate exceeds %.1fx its baseline average", direction, trafficSpikeMultiplier),
		map[string]any{"direction": direction, "rate_bytes_per_sec": rate, "baseline_avg": avg, "trend": string(trend)})}
}

func packetSizeEvents(id, name, iface string, ns dockerrt.NetworkStats) []events.Event {
	var out []events.Event
	if ns.RxPackets+ns.TxPackets == 0 {
		return nil
	}
	if ns.RxPackets > 0 {
		avgRx := float64(ns.RxBytes) / float64(ns.RxPackets)
		if avgRx < smallPacketBytes {
			out = append(out, events.New(events.TypeNetworkAnomaly, events.Medium, "network", id, name,
				fmt.Sprintf("interface %s average inbound packet size %.1f B below covert-channel threshold", iface, avgRx),
				map[string]any{"interface": iface, "avg_packet_bytes": avgRx, "direction": "rx"}))
		}
	}
	if ns.TxPackets > 0 {
		avgTx := float64(ns.TxBytes) / float64(ns.TxPackets)
		if avgTx > largePacketBytesOutbound {
			out = append(out, events.New(events.TypeNetworkAnomaly, events.Medium, "network", id, name,
				fmt.Sprintf("interface %s average outbound packet size %.1f B above exfiltration threshold", iface, avgTx),
				map[string]any{"interface": iface, "avg_packet_bytes": avgTx, "direction": "tx"}))
		}
	}
	return out
}

func errorRateEvent(id, name string, errorsDrops, totalPackets uint64) []events.Event {
	if totalPackets <= minPacketsForErrorCheck {
		return nil
	}
	rate := float64(errorsDrops) / float64(totalPackets)
	if rate > errorRateThreshold {
		return []events.Event{events.New(events.TypeNetworkAnomaly, events.Medium, "network", id, name,
			fmt.Sprintf("error/drop rate %.2f%% exceeds %.0f%% over %d packets", rate*100, errorRateThreshold*100, totalPackets),
			map[string]any{"error_drop_rate": rate, "total_packets": totalPackets})}
	}
	return nil
}

// scanEvent records a fresh connection-attempt observation and fires
// network_scanning/HIGH once more than connectionScanThreshold attempts
// land in the trailing 60-second window.
func (n *Network) scanEvent(id, name string, attempts int, now time.Time) []events.Event {
	if attempts <= 0 {
		return nil
	}
	w := n.windowFor(id)
	wLong := n.longWindowFor(id)
	var total, totalLong int
	for i := 0; i < attempts; i++ {
		total = w.Record(now)
		totalLong = wLong.Record(now)
	}
	if total > connectionScanThreshold {
		return []events.Event{events.New(events.TypeNetworkScanning, events.High, "network", id, name,
			fmt.Sprintf("Rapid connection attempts detected: %d in 1 minute", total),
			map[string]any{
				"attempts_per_minute": total,
				"total_attempts_5min": totalLong,
				"detection_window":    "1_minute",
			})}
	}
	return nil
}

func exfiltrationEvents(id, name string, rxRate, txRate, rxBytes, txBytes float64, bl *baseline.ContainerBaseline) []events.Event {
	var out []events.Event

	count, avgTx, lastTx := bl.TXStats(5)
	if count >= 5 && avgTx > 0 && txRate > exfilRateMultiplier*avgTx {
		above := 0
		for _, v := range lastTx {
			if v > exfilSampleMultiplier*avgTx {
				above++
			}
		}
		if above >= exfilSampleMinMatches {
			out = append(out, events.New(events.TypeDataExfiltration, events.High, "network", id, name,
				fmt.Sprintf("sustained TX rate %.0f B/s exceeds %.1fx baseline average %.0f B/s", txRate, exfilRateMultiplier, avgTx),
				map[string]any{"tx_rate": txRate, "baseline_avg": avgTx, "samples_above_2x": above}))
		}
	}

	if rxBytes > 0 && txBytes > exfilByteRatioMultiplier*rxBytes {
		out = append(out, events.New(events.TypeDataExfiltration, events.Medium, "network", id, name,
			fmt.Sprintf("TX bytes %.0f exceed %.0fx RX bytes %.0f in this interval", txBytes, exfilByteRatioMultiplier, rxBytes),
			map[string]any{"tx_bytes": txBytes, "rx_bytes": rxBytes}))
	}

	return out
}

// IsPrivateIP classifies an address as RFC 1918 / loopback private space
// per spec.md §4.3. Used only to tag details, never as a filter.
func IsPrivateIP(ip string) bool {
	switch {
	case strings.HasPrefix(ip, "10."):
		return true
	case strings.HasPrefix(ip, "127."):
		return true
	case strings.HasPrefix(ip, "192.168."):
		return true
	}
	if strings.HasPrefix(ip, "172.") {
		parts := strings.SplitN(ip, ".", 3)
		if len(parts) >= 2 {
			var second int
			fmt.Sscanf(parts[1], "%d", &second)
			if second >= 16 && second <= 31 {
				return true
			}
		}
	}
	return false
}
