package bridge

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/basket/claw-mqtt-bridge/internal/agentrt"
	"github.com/basket/claw-mqtt-bridge/internal/approval"
	"github.com/basket/claw-mqtt-bridge/internal/arbiter"
	"github.com/basket/claw-mqtt-bridge/internal/broker"
	"github.com/basket/claw-mqtt-bridge/internal/command"
	"github.com/basket/claw-mqtt-bridge/internal/config"
	"github.com/basket/claw-mqtt-bridge/internal/credentials"
	"github.com/basket/claw-mqtt-bridge/internal/obs"
	"github.com/basket/claw-mqtt-bridge/internal/policy"
)

// Deps collects everything Run needs to assemble one bridge process, so
// cmd/bridge/main.go stays a thin sequencing shell.
type Deps struct {
	Config  config.Config
	Query   agentrt.Query
	Logger  *slog.Logger
	Tracer  trace.Tracer
	Metrics *obs.Metrics
}

// Run assembles the broker client, policy, credential watcher, arbiter,
// command handler, and dispatcher, then blocks serving traffic until ctx
// is cancelled. It performs the graceful shutdown sequence from §4.6 on
// the way out: cancel pending approvals, let the broker publish retained
// offline and disconnect.
func Run(ctx context.Context, deps Deps) error {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config

	if !cfg.Enabled {
		logger.Info("bridge disabled, exiting")
		return nil
	}

	pol := policy.Default()
	if cfg.PolicyFile != "" {
		loaded, err := policy.Load(cfg.PolicyFile)
		if err != nil {
			logger.Error("local capability policy invalid, continuing with empty policy", "path", cfg.PolicyFile, "error", err)
		} else {
			pol = loaded
		}
	}
	live := policy.NewLivePolicy(pol, cfg.PolicyFile)
	logger.Info("startup phase", "phase", "policy_loaded", "path", cfg.PolicyFile)

	credWatcher := credentials.NewWatcher(credentials.DefaultPath(), logger.With("component", "credentials"))
	if err := credWatcher.Start(ctx); err != nil {
		return fmt.Errorf("start credential watcher: %w", err)
	}
	logger.Info("startup phase", "phase", "credential_watcher_started")

	registry := approval.New(logger.With("component", "approval"))

	var dispatcher *Dispatcher
	brokerClient := broker.New(cfg, func(topic string, payload []byte) {
		dispatcher.Handle(topic, payload)
	}, logger.With("component", "broker"))

	arb := arbiter.New(brokerClient, registry, live, cfg.ApprovalRequestTopic, cfg.ApprovalTimeout, deps.Tracer, deps.Metrics, logger.With("component", "arbiter"))

	handler := command.New(
		brokerClient,
		cfg.ResponseTopic,
		registry,
		arb,
		deps.Query,
		func() bool { return credWatcher.Probe() },
		deps.Tracer,
		logger.With("component", "command"),
	)

	dispatcher = New(cfg.CommandTopic, cfg.ApprovalResponseTopic, handler, registry, logger.With("component", "dispatcher"))

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		dispatcher.Shutdown()
	}()

	logger.Info("startup phase", "phase", "broker_connecting", "broker_url", cfg.BrokerURL)
	if err := brokerClient.Start(ctx); err != nil {
		return fmt.Errorf("broker client stopped: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}
