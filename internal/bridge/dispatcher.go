// Package bridge wires the Broker Client, Command Handler, and Approval
// Registry together: it routes inbound broker messages by topic and owns
// the process's startup and graceful-shutdown sequence.
package bridge

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/basket/claw-mqtt-bridge/internal/approval"
	"github.com/basket/claw-mqtt-bridge/internal/command"
)

// approvalResponse is the inbound shape on the approval-response topic.
type approvalResponse struct {
	RequestID string `json:"requestId"`
	Approved  bool   `json:"approved"`
	Reason    string `json:"reason"`
}

// Dispatcher routes every inbound broker message to the component that
// owns its topic, per the bridge's routing table: command envelopes to
// the Command Handler, approval responses to the Approval Registry,
// everything else is logged and dropped.
type Dispatcher struct {
	commandTopic          string
	approvalResponseTopic string

	commands *command.Handler
	registry *approval.Registry
	logger   *slog.Logger
}

// New constructs a Dispatcher.
func New(commandTopic, approvalResponseTopic string, commands *command.Handler, registry *approval.Registry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		commandTopic:          commandTopic,
		approvalResponseTopic: approvalResponseTopic,
		commands:              commands,
		registry:              registry,
		logger:                logger,
	}
}

// Handle is the broker.Handler this Dispatcher exposes: route by topic,
// then hand off. Command handling runs in its own goroutine per §5's
// scheduling model, so a slow agent invocation never blocks the broker's
// delivery of an approval response for a different, or the same, command.
func (d *Dispatcher) Handle(topic string, payload []byte) {
	switch topic {
	case d.commandTopic:
		go d.commands.Handle(context.Background(), payload)
	case d.approvalResponseTopic:
		d.handleApprovalResponse(payload)
	default:
		d.logger.Info("ignoring message on unrecognized topic", "topic", topic)
	}
}

func (d *Dispatcher) handleApprovalResponse(payload []byte) {
	var resp approvalResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		d.logger.Error("malformed approval response", "error", err)
		return
	}
	if resp.RequestID == "" {
		d.logger.Error("approval response missing requestId")
		return
	}
	d.registry.Resolve(resp.RequestID, resp.Approved, resp.Reason)
}

// Shutdown cancels every pending approval so no in-flight tool use is left
// waiting on a response that will never come.
func (d *Dispatcher) Shutdown() {
	d.registry.CancelAll("MQTT bridge shutdown")
}
