// Package orchestrator implements the Monitor Orchestrator (spec.md
// §4.10): it owns the Runtime Client, the analyzers, and the four
// background loops that drive a container security monitoring pass from
// tick to event to alert to report.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sentrymon/sentrymon/internal/alert"
	"github.com/sentrymon/sentrymon/internal/analyzer"
	"github.com/sentrymon/sentrymon/internal/baseline"
	"github.com/sentrymon/sentrymon/internal/breaker"
	"github.com/sentrymon/sentrymon/internal/config"
	"github.com/sentrymon/sentrymon/internal/control"
	"github.com/sentrymon/sentrymon/internal/dockerrt"
	"github.com/sentrymon/sentrymon/internal/events"
	"github.com/sentrymon/sentrymon/internal/executor"
	"github.com/sentrymon/sentrymon/internal/metrics"
	"github.com/sentrymon/sentrymon/internal/pipeline"
	"github.com/sentrymon/sentrymon/internal/report"
)

// shutdownGrace bounds how long the executor drain and the final loop
// teardown are allowed to take before shutdown gives up waiting.
const shutdownGrace = 10 * time.Second

// Orchestrator wires every other package together and runs the
// monitor/drain/report/metrics loops spec.md §4.10 describes.
type Orchestrator struct {
	log     *zap.Logger
	metrics metrics.Registry

	cfgMu sync.RWMutex
	cfg   *config.Config

	breaker *breaker.Breaker
	runtime dockerrt.Client

	exec      *executor.Executor
	pipe      *pipeline.Pipeline
	baselines *baseline.Store

	behavior *analyzer.Behavior
	network  *analyzer.Network
	posture  *analyzer.Posture
	fswatch  *analyzer.Filesystem

	alertSender *alert.Sender
	reportGen   *report.Generator
	control     *control.Server

	life *lifecycle

	fsStop chan struct{}
	wg     sync.WaitGroup
}

// New performs the startup sequence through analyzer/sender/watcher
// construction (spec.md §4.10, steps 1–3); Run starts the background
// loops (step 4).
func New(ctx context.Context, cfg *config.Config, reg metrics.Registry, log *zap.Logger) (*Orchestrator, error) {
	runtime, err := dockerrt.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: runtime client connect: %w", err)
	}
	o, err := newOrchestrator(cfg, reg, log, runtime)
	if err != nil {
		runtime.Close()
		return nil, err
	}
	return o, nil
}

// newOrchestrator builds every component from an already-connected
// runtime Client, without dialing. Split out from New so tests can supply
// a dockerrt.FakeClient.
func newOrchestrator(cfg *config.Config, reg metrics.Registry, log *zap.Logger, runtime dockerrt.Client) (*Orchestrator, error) {
	o := &Orchestrator{
		log:     log,
		metrics: reg,
		cfg:     cfg,
		life:    newLifecycle(),
	}

	o.exec = executor.New(cfg.MaxConcurrentContainers)
	o.breaker = breaker.New("runtime_client")
	o.runtime = runtime

	maxAge := time.Duration(cfg.RetentionDays) * 24 * time.Hour
	o.baselines = baseline.NewStore(maxAge)

	if cfg.ProcessMonitoring || cfg.BehavioralAnalysis {
		o.behavior = analyzer.NewBehavior(cfg)
	}
	if cfg.NetworkMonitoring {
		o.network = analyzer.NewNetwork(cfg)
	}
	o.posture = analyzer.NewPosture(cfg)

	o.alertSender = alert.New(alert.Config{
		Webhook:   cfg.AlertWebhook,
		SecretKey: cfg.AlertSecretKey,
		Timeout:   cfg.AlertTimeout,
		RateLimit: cfg.AlertRateLimit,
	}, reg, log)

	o.pipe = pipeline.New(o.alertSender, nil)
	o.reportGen = report.New(o.pipe.Retention())

	if cfg.Control.Enabled {
		o.control = control.NewServer(cfg.Control.SocketPath, o.reportGen, log)
	}

	if cfg.FileMonitoring && len(cfg.MonitoredDirectories) > 0 {
		fw, err := analyzer.NewFilesystem(cfg.MonitoredDirectories)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: filesystem watcher: %w", err)
		}
		o.fswatch = fw
		o.fsStop = make(chan struct{})
	}

	o.life.Advance(StateRunning)
	return o, nil
}

// Run starts the four background loops and blocks until ctx is
// cancelled, then drives the shutdown sequence.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.wg.Add(1)
	go func() { defer o.wg.Done(); o.pipe.Run() }()

	if o.control != nil {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			if err := o.control.ListenAndServe(ctx); err != nil {
				o.log.Error("control socket stopped", zap.Error(err))
			}
		}()
	}

	if o.fswatch != nil {
		o.wg.Add(1)
		go func() { defer o.wg.Done(); o.fswatch.Run(o.fsStop) }()
		o.wg.Add(1)
		go func() { defer o.wg.Done(); o.drainFilesystemEvents(ctx) }()
	}

	o.wg.Add(1)
	go func() { defer o.wg.Done(); o.monitorLoop(ctx) }()

	o.wg.Add(1)
	go func() { defer o.wg.Done(); o.reportLoop(ctx) }()

	o.wg.Add(1)
	go func() { defer o.wg.Done(); o.metricsLoop(ctx) }()

	<-ctx.Done()
	o.shutdown()
	return nil
}

// shutdown implements spec.md §4.10's teardown: stop accepting new scans,
// wait for the executor to drain, stop the filesystem watcher, close the
// runtime client, emit a final summary.
func (o *Orchestrator) shutdown() {
	o.life.Advance(StateDraining)
	o.log.Info("shutdown: draining in-flight analyses")

	o.exec.Shutdown(shutdownGrace)

	if o.fswatch != nil {
		close(o.fsStop)
		o.fswatch.Close()
	}

	o.pipe.Stop(shutdownGrace)

	if err := o.runtime.Close(); err != nil {
		o.log.Warn("shutdown: runtime client close error", zap.Error(err))
	}

	o.wg.Wait()
	o.life.Advance(StateStopped)

	totals := o.exec.Totals()
	o.log.Info("shutdown complete",
		zap.Int64("jobs_submitted", totals.Submitted),
		zap.Int64("jobs_completed", totals.Completed),
		zap.Int64("jobs_failed", totals.Failed),
		zap.Int64("queue_full_drops", o.pipe.QueueFullCount()),
	)
}

func (o *Orchestrator) currentConfig() *config.Config {
	o.cfgMu.RLock()
	defer o.cfgMu.RUnlock()
	return o.cfg
}

// SetConfig atomically swaps the active config and invalidates the report
// cache, for cmd/sentrymon's SIGHUP reload handler.
func (o *Orchestrator) SetConfig(cfg *config.Config) {
	o.cfgMu.Lock()
	o.cfg = cfg
	o.cfgMu.Unlock()
	o.reportGen.InvalidateCache()
}

func (o *Orchestrator) monitorLoop(ctx context.Context) {
	cfg := o.currentConfig()
	ticker := time.NewTicker(cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !o.life.AcceptsTicks() {
				continue
			}
			o.tick(ctx)
		}
	}
}

// tick implements one monitor_loop pass: list, filter, submit, and (once
// every submitted job has finished) garbage-collect stale baselines.
func (o *Orchestrator) tick(ctx context.Context) {
	cfg := o.currentConfig()

	containers, err := breaker.Execute(o.breaker, func() ([]dockerrt.ContainerSummary, error) {
		return o.runtime.List(ctx)
	})
	if err != nil {
		o.metrics.AnalysisErrorRecorded("runtime")
		o.log.Warn("monitor_loop: List failed", zap.Error(err))
		return
	}

	var futures []*executor.Future
	for _, c := range containers {
		if c.Status != "running" || !matchesAny(c.Name, cfg.ContainerPatterns) {
			continue
		}
		container := c
		futures = append(futures, o.exec.Submit(func(ctx context.Context) error {
			return o.analyze(ctx, container)
		}))
	}

	for _, f := range futures {
		if err := f.Wait(); err != nil {
			o.log.Debug("monitor_loop: analysis job returned an error", zap.Error(err))
		}
	}

	evicted := o.baselines.GC(time.Now())
	if evicted > 0 {
		o.log.Debug("monitor_loop: evicted stale baselines", zap.Int("count", evicted))
	}
	o.metrics.ContainersMonitored(len(futures))
}

// analyze is the per-container job spec.md §4.10 describes: fetch stats,
// processes, and inspect detail concurrently, run every enabled analyzer,
// and offer each resulting event into the pipeline.
func (o *Orchestrator) analyze(ctx context.Context, c dockerrt.ContainerSummary) error {
	cfg := o.currentConfig()

	var stats dockerrt.StatsSnapshot
	var procs dockerrt.ProcessList
	var detail dockerrt.ContainerDetail
	var statsErr, procsErr, detailErr error

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		stats, statsErr = breaker.Execute(o.breaker, func() (dockerrt.StatsSnapshot, error) { return o.runtime.Stats(ctx, c.ID) })
	}()
	go func() {
		defer wg.Done()
		procs, procsErr = breaker.Execute(o.breaker, func() (dockerrt.ProcessList, error) { return o.runtime.Processes(ctx, c.ID) })
	}()
	go func() {
		defer wg.Done()
		detail, detailErr = breaker.Execute(o.breaker, func() (dockerrt.ContainerDetail, error) { return o.runtime.Inspect(ctx, c.ID) })
	}()
	wg.Wait()

	if isNotFound(statsErr) || isNotFound(procsErr) || isNotFound(detailErr) {
		return nil // vanished between List and here — not an error.
	}

	now := time.Now()
	bl := o.baselines.GetOrCreate(c.ID, c.Name, now)

	var out []events.Event

	if o.behavior != nil && statsErr == nil && procsErr == nil {
		evs, err := o.behavior.Analyze(c.ID, c.Name, stats, procs, bl, now)
		if err != nil {
			o.metrics.AnalysisErrorRecorded("behavior")
		}
		out = append(out, evs...)
	}

	if o.network != nil && statsErr == nil {
		intervalSeconds := cfg.MonitorInterval.Seconds()
		evs, err := o.network.Analyze(c.ID, c.Name, stats, 1, bl, intervalSeconds, now)
		if err != nil {
			o.metrics.AnalysisErrorRecorded("network")
		}
		out = append(out, evs...)
	}

	if detailErr == nil {
		evs, err := o.posture.Analyze(c.ID, c.Name, detail)
		if err != nil {
			o.metrics.AnalysisErrorRecorded("posture")
		}
		out = append(out, evs...)
	}

	for _, e := range out {
		o.metrics.EventRecorded(string(e.EventType), c.Name, e.Severity.String())
		if !o.pipe.Offer(e) {
			o.metrics.QueueFullIncrement()
		}
	}

	if statsErr != nil || procsErr != nil || detailErr != nil {
		return firstErr(statsErr, procsErr, detailErr)
	}
	return nil
}

func isNotFound(err error) bool {
	var rerr *dockerrt.RuntimeError
	return errors.As(err, &rerr) && rerr.Kind == dockerrt.KindNotFound
}

func firstErr(errs ...error) error {
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}

func matchesAny(name string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
	}
	return false
}

func (o *Orchestrator) drainFilesystemEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-o.fswatch.Events():
			if !ok {
				return
			}
			o.metrics.EventRecorded(string(e.EventType), e.ContainerName, e.Severity.String())
			if !o.pipe.Offer(e) {
				o.metrics.QueueFullIncrement()
			}
		}
	}
}

func (o *Orchestrator) reportLoop(ctx context.Context) {
	cfg := o.currentConfig()
	ticker := time.NewTicker(cfg.ReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			rpt := o.reportGen.Generate(report.Timeframe24h, report.FormatJSON, false, start)
			o.metrics.ReportGenerated(time.Since(start).Seconds())
			o.log.Info("periodic report generated",
				zap.String("status", string(rpt.Summary.Status)),
				zap.Float64("risk_score", rpt.Summary.RiskScore),
				zap.Int("total_events", rpt.Meta.TotalEvents),
			)
		}
	}
}

func (o *Orchestrator) metricsLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.log.Debug("metrics_loop tick",
				zap.String("breaker_state", o.breaker.State()),
				zap.Int("baselines_tracked", o.baselines.Len()),
			)
		}
	}
}

// State returns the current Monitor lifecycle state.
func (o *Orchestrator) State() State {
	return o.life.Current()
}

// Ready reports the "ready" health signal (spec.md §6): runtime client
// reachable and the executor not saturated.
func (o *Orchestrator) Ready() bool {
	if o.life.Current() != StateRunning {
		return false
	}
	if o.breaker.State() == "open" {
		return false
	}
	totals := o.exec.Totals()
	return totals.Running < int64(o.currentConfig().MaxConcurrentContainers)
}

// VerifyConnectivity probes the Runtime Client through the breaker,
// retrying until it succeeds or breaker.RecoveryTimeout elapses. Called
// once at startup; cmd/sentrymon maps a non-nil return to exit code 2
// (spec.md §6: "unrecoverable runtime loss for longer than the
// circuit-breaker recovery timeout on startup").
func (o *Orchestrator) VerifyConnectivity(ctx context.Context) error {
	deadline := time.Now().Add(breaker.RecoveryTimeout)
	var lastErr error
	for {
		_, lastErr = breaker.Execute(o.breaker, func() ([]dockerrt.ContainerSummary, error) {
			return o.runtime.List(ctx)
		})
		if lastErr == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("orchestrator: runtime client unreachable after %s: %w", breaker.RecoveryTimeout, lastErr)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}
