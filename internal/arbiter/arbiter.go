// Package arbiter builds the tool-permission callback the agent invokes:
// a local capability policy short-circuit, else a broker round trip
// through the Approval Registry.
package arbiter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/basket/claw-mqtt-bridge/internal/agentrt"
	"github.com/basket/claw-mqtt-bridge/internal/approval"
	"github.com/basket/claw-mqtt-bridge/internal/obs"
	"github.com/basket/claw-mqtt-bridge/internal/policy"
)

// Publisher is the narrow seam onto the broker client this package needs.
type Publisher interface {
	Publish(topic string, payload []byte, retain bool) error
}

// Arbiter mediates tool-use approvals for every command processed by this
// bridge process. One Arbiter serves every command; Build returns a
// per-command callback closing over the session id and source device.
type Arbiter struct {
	pub      Publisher
	registry *approval.Registry
	live     *policy.LivePolicy // nil disables the local capability policy
	topic    string
	timeout  time.Duration
	tracer   trace.Tracer
	metrics  *obs.Metrics
	logger   *slog.Logger
}

// New constructs an Arbiter. live may be nil, in which case every tool use
// round-trips to the device (the base behavior).
func New(pub Publisher, registry *approval.Registry, live *policy.LivePolicy, topic string, timeout time.Duration, tracer trace.Tracer, metrics *obs.Metrics, logger *slog.Logger) *Arbiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Arbiter{
		pub:      pub,
		registry: registry,
		live:     live,
		topic:    topic,
		timeout:  timeout,
		tracer:   tracer,
		metrics:  metrics,
		logger:   logger,
	}
}

// Build returns the CanUseTool callback for one command.
func (a *Arbiter) Build(sessionID, sourceDevice string) agentrt.CanUseTool {
	return func(ctx context.Context, toolName string, input map[string]any) (agentrt.ToolDecision, error) {
		if a.live != nil {
			cmd, _ := input["command"].(string)
			if a.live.AllowsTool(toolName) || (cmd != "" && a.live.AllowsCommand(cmd)) {
				if a.metrics != nil {
					a.metrics.ApprovalsAutoApproved.Add(ctx, 1)
				}
				return agentrt.ToolDecision{Behavior: "allow", UpdatedInput: input}, nil
			}
		}

		requestID := a.registry.NewRequestID()

		spanCtx := ctx
		var span trace.Span
		if a.tracer != nil {
			spanCtx, span = obs.StartApprovalSpan(ctx, a.tracer, requestID, toolName)
			defer span.End()
		}

		if err := a.publishRequest(requestID, toolName, input, sessionID, sourceDevice); err != nil {
			a.logger.Error("publish approval request failed", "request_id", requestID, "error", err)
			return agentrt.ToolDecision{Behavior: "deny", Message: fmt.Sprintf("Approval timeout: %v", err)}, nil
		}

		waitStart := time.Now()
		decision, err := a.registry.Await(spanCtx, requestID, a.timeout)
		if a.metrics != nil {
			a.metrics.ApprovalWaitLatency.Record(ctx, float64(time.Since(waitStart).Milliseconds()))
		}
		if err != nil {
			if a.metrics != nil {
				a.metrics.ApprovalsTimedOut.Add(ctx, 1)
			}
			return agentrt.ToolDecision{Behavior: "deny", Message: fmt.Sprintf("Approval timeout: %v", err)}, nil
		}

		if decision.Approved {
			if a.metrics != nil {
				a.metrics.ApprovalsGranted.Add(ctx, 1)
			}
			return agentrt.ToolDecision{Behavior: "allow", UpdatedInput: input}, nil
		}

		if a.metrics != nil {
			a.metrics.ApprovalsDenied.Add(ctx, 1)
		}
		reason := decision.Reason
		if reason == "" {
			reason = "Denied by user"
		}
		return agentrt.ToolDecision{Behavior: "deny", Message: reason}, nil
	}
}

func (a *Arbiter) publishRequest(requestID, toolName string, input map[string]any, sessionID, sourceDevice string) error {
	payload := map[string]any{
		"requestId":    requestID,
		"toolName":     toolName,
		"input":        input,
		"sessionId":    sessionID,
		"sourceDevice": sourceDevice,
		"timestamp":    time.Now().UnixMilli(),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal approval request: %w", err)
	}
	return a.pub.Publish(a.topic, raw, false)
}
