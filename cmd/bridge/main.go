// Command bridge runs the MQTT-to-agent bridge: it connects to a broker,
// listens for command envelopes, invokes the agent, and mediates the
// device approval protocol for every tool use.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/basket/claw-mqtt-bridge/internal/agentrt"
	"github.com/basket/claw-mqtt-bridge/internal/bridge"
	"github.com/basket/claw-mqtt-bridge/internal/config"
	"github.com/basket/claw-mqtt-bridge/internal/obs"
	"github.com/basket/claw-mqtt-bridge/internal/telemetry"
)

func main() {
	logDir := flag.String("log-dir", ".", "directory for the bridge's log file")
	agentBinary := flag.String("agent-binary", "claude", "path to the agent CLI binary")
	quiet := flag.Bool("quiet", false, "suppress stdout logging (file only)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()

	logger, closer, err := telemetry.NewLogger(*logDir, cfg.LogLevel, *quiet)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "enabled", cfg.Enabled, "broker_url", cfg.BrokerURL)

	provider, err := obs.Init(ctx, obs.Config{
		Exporter:    cfg.OTelExporter,
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: "claw-mqtt-bridge",
	})
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer provider.Shutdown(context.Background())
	logger.Info("startup phase", "phase", "otel_initialized", "exporter", cfg.OTelExporter)

	metrics, err := obs.NewMetrics(provider.Meter)
	if err != nil {
		fatalStartup(logger, "E_METRICS_INIT", err)
	}

	query := agentrt.NewProcessQuery(agentrt.ProcessConfig{
		Binary: *agentBinary,
		Logger: logger.With("component", "agentrt"),
	})

	if err := bridge.Run(ctx, bridge.Deps{
		Config:  cfg,
		Query:   query,
		Logger:  logger.With("component", "bridge"),
		Tracer:  provider.Tracer,
		Metrics: metrics,
	}); err != nil {
		fatalStartup(logger, "E_BRIDGE_RUN", err)
	}
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(os.Stderr, "startup failure: %s: %s\n", reasonCode, message)
	}
	os.Exit(1)
}
