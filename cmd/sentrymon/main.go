// Command sentrymon is the container security monitor's entrypoint.
//
// Startup sequence:
//  1. Parse flags, load and validate config.yaml.
//  2. Initialize the structured logger (zap).
//  3. Decrypt any sealed config.AlertSecretKey (internal/secrets).
//  4. Construct the Prometheus registry.
//  5. Construct the Monitor Orchestrator: dial the runtime, instantiate
//     analyzers, alert sender, report generator, filesystem watcher,
//     control socket.
//  6. Verify runtime connectivity within the circuit breaker's recovery
//     timeout.
//  7. Start the metrics/health server.
//  8. Register SIGHUP (hot-reload) and SIGINT/SIGTERM (shutdown) handlers.
//  9. Run the orchestrator's background loops until a shutdown signal.
//
// Exit codes: 0 normal shutdown; 1 fatal initialization error; 2
// unrecoverable runtime loss for longer than the circuit breaker's
// recovery timeout on startup.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sentrymon/sentrymon/internal/config"
	"github.com/sentrymon/sentrymon/internal/metrics"
	"github.com/sentrymon/sentrymon/internal/orchestrator"
	"github.com/sentrymon/sentrymon/internal/secrets"
)

// sealedKeyPrefix marks an alert_secret_key value as AES-256-GCM-sealed
// rather than plaintext (internal/secrets).
const sealedKeyPrefix = "enc:"

func main() {
	configPath := flag.String("config", "/etc/sentrymon/config.yaml", "Path to config.yaml")
	secretsDB := flag.String("secrets-db", "/var/lib/sentrymon/secrets.db", "Path to the secrets key-derivation database")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("sentrymon %s (commit=%s built=%s)\n", config.Version, config.GitCommit, config.BuildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: config load failed: %v\n", err)
		os.Exit(1)
	}

	log, err := buildLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("sentrymon starting",
		zap.String("version", config.Version),
		zap.String("commit", config.GitCommit),
		zap.String("config", *configPath),
	)

	if err := decryptAlertSecretKey(cfg, *secretsDB); err != nil {
		log.Fatal("FATAL: alert_secret_key decryption failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := metrics.New()

	orch, err := orchestrator.New(ctx, cfg, reg, log)
	if err != nil {
		log.Error("FATAL: orchestrator initialization failed", zap.Error(err))
		os.Exit(1)
	}
	log.Info("orchestrator initialized")

	if err := orch.VerifyConnectivity(ctx); err != nil {
		log.Error("unrecoverable runtime loss at startup", zap.Error(err))
		os.Exit(2)
	}
	log.Info("runtime connectivity verified")

	health := &healthState{startupComplete: true}
	metricsSrv := startMetricsServer(cfg.Observability.MetricsAddr, reg, orch, health, log)
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			log.Info("SIGHUP received — reloading config")
			newCfg, err := config.Load(*configPath)
			if err != nil {
				log.Error("config hot-reload failed — retaining old config", zap.Error(err))
				continue
			}
			if err := decryptAlertSecretKey(newCfg, *secretsDB); err != nil {
				log.Error("config hot-reload failed — alert_secret_key decryption error, retaining old config", zap.Error(err))
				continue
			}
			orch.SetConfig(newCfg)
			log.Info("config hot-reload successful")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
		cancel()
	}()

	_ = orch.Run(ctx)
	log.Info("sentrymon shutdown complete")
}

// decryptAlertSecretKey replaces cfg.AlertSecretKey in place if it carries
// the sealedKeyPrefix, using the per-install PBKDF2-derived key (spec.md
// §9; internal/secrets). Plaintext values (the common case) pass through
// untouched and never open the secrets database.
func decryptAlertSecretKey(cfg *config.Config, secretsDBPath string) error {
	if !strings.HasPrefix(cfg.AlertSecretKey, sealedKeyPrefix) {
		return nil
	}
	passphrase := os.Getenv("SENTRYMON_KEY_PASSPHRASE")
	if passphrase == "" {
		return fmt.Errorf("alert_secret_key is sealed but SENTRYMON_KEY_PASSPHRASE is not set")
	}

	ks, err := secrets.Open(secretsDBPath)
	if err != nil {
		return fmt.Errorf("open secrets db: %w", err)
	}
	defer ks.Close()

	key, err := ks.DeriveKey(passphrase)
	if err != nil {
		return fmt.Errorf("derive key: %w", err)
	}

	sealed, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(cfg.AlertSecretKey, sealedKeyPrefix))
	if err != nil {
		return fmt.Errorf("decode sealed alert_secret_key: %w", err)
	}
	plaintext, err := secrets.Unseal(key, sealed)
	if err != nil {
		return fmt.Errorf("unseal alert_secret_key: %w", err)
	}
	cfg.AlertSecretKey = string(plaintext)
	return nil
}

// healthState tracks the one readiness signal that isn't derivable from
// the orchestrator itself.
type healthState struct {
	startupComplete bool
}

// startMetricsServer serves Prometheus metrics and the three-signal
// health surface (spec.md §6: startup_complete, ready, live) on
// cfg.Observability.MetricsAddr.
func startMetricsServer(addr string, reg *metrics.Prometheus, orch *orchestrator.Orchestrator, health *healthState, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]bool{
			"startup_complete": health.startupComplete,
			"ready":            orch.Ready(),
			"live":             true,
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(body) //nolint:errcheck
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server error", zap.Error(err))
		}
	}()
	log.Info("metrics server started", zap.String("addr", addr))
	return srv
}

// buildLogger constructs a zap.Logger with the given level and format.
func buildLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	return cfg.Build()
}
