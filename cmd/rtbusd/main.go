// Command rtbusd hosts one process's share of the shared infrastructure a
// Node needs: the scheduler pool, Prometheus exposition and resource
// sampling. It starts no discovery bridge. Applications embed
// pkg/rtbus directly for their own channels; rtbusd is the sidecar that
// keeps that infrastructure alive and observable for the lifetime of the
// host process.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/relaybus/rtbus/internal/config"
	"github.com/relaybus/rtbus/internal/health"
	"github.com/relaybus/rtbus/internal/logging"
	"github.com/relaybus/rtbus/internal/metrics"
	"github.com/relaybus/rtbus/internal/scheduler"
	"github.com/relaybus/rtbus/pkg/rtbus"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging (overrides RTBUS_LOG_LEVEL)")
	flag.Parse()

	cfg, err := config.Load(nil)
	if err != nil {
		os.Stderr.WriteString("rtbusd: " + err.Error() + "\n")
		os.Exit(1)
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	logger.Info().
		Int("num_workers", cfg.NumWorkers).
		Str("sched_policy", cfg.SchedPolicy).
		Str("shm_mode", cfg.ShmMode).
		Msg("rtbusd starting")

	policy := buildPolicy(cfg)
	mode := rtbus.ModeSharedMemory
	if cfg.ShmMode == "local" {
		mode = rtbus.ModeProcessLocal
	}
	node := rtbus.NewNode("rtbusd", cfg.NumWorkers, policy, mode)

	var rateAdjuster health.RateAdjuster
	if capacity, ok := policy.(*scheduler.Capacity); ok {
		rateAdjuster = capacity
	}
	sampler := health.New(cfg.CPURejectThreshold, cfg.CPUPauseThreshold, cfg.AdmitPerSecond, rateAdjuster, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go sampler.Run(ctx, cfg.HealthSampleInterval)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error(logger, err, "metrics server stopped unexpectedly", nil)
		}
	}()
	logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics exposition listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("rtbusd shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logging.Error(logger, err, "metrics server shutdown error", nil)
	}
	node.Shutdown()
}

func buildPolicy(cfg *config.Config) scheduler.Policy {
	switch cfg.SchedPolicy {
	case "choreography":
		return scheduler.NewChoreography()
	case "capacity":
		return scheduler.NewCapacity(cfg.AdmitPerSecond)
	default:
		return scheduler.NewClassic(5 * time.Second)
	}
}
