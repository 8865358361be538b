// Package command turns one inbound command envelope into an agent
// invocation: it preempts stale approvals, validates the envelope,
// checks agent credentials, and wires a Response Writer and a Permission
// Arbiter around a single agentrt.Query call.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"

	"github.com/basket/claw-mqtt-bridge/internal/agentrt"
	"github.com/basket/claw-mqtt-bridge/internal/approval"
	"github.com/basket/claw-mqtt-bridge/internal/arbiter"
	"github.com/basket/claw-mqtt-bridge/internal/credentials"
	"github.com/basket/claw-mqtt-bridge/internal/obs"
	"github.com/basket/claw-mqtt-bridge/internal/response"
	"github.com/basket/claw-mqtt-bridge/internal/shared"
)

// Envelope is the inbound JSON shape on the command topic.
type Envelope struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	Source    string `json:"source"`
	Project   string `json:"project"`
	Stream    *bool  `json:"stream"`
}

func (e Envelope) streamOrDefault() bool {
	if e.Stream == nil {
		return true
	}
	return *e.Stream
}

func (e Envelope) sourceOrDefault() string {
	if e.Source == "" {
		return "unknown"
	}
	return e.Source
}

// Handler processes command envelopes, possibly several concurrently;
// concurrent commands each get their own Response Writer and arbiter callback, but they share
// the Approval Registry, so a new command preempts any approval left
// outstanding by a prior one.
type Handler struct {
	pub          response.Publisher
	responseTopic string
	registry     *approval.Registry
	arbiter      *arbiter.Arbiter
	credProbe    func() bool
	query        agentrt.Query
	logger       *slog.Logger
	tracer       trace.Tracer

	active atomic.Bool // informational only; commands are never serialized
}

// New constructs a Handler. credProbe defaults to probing the well-known
// credential path if nil. tracer may be nil to disable command spans.
func New(pub response.Publisher, responseTopic string, registry *approval.Registry, arb *arbiter.Arbiter, query agentrt.Query, credProbe func() bool, tracer trace.Tracer, logger *slog.Logger) *Handler {
	if credProbe == nil {
		credProbe = func() bool { return credentials.Probe(credentials.DefaultPath()) }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		pub:           pub,
		responseTopic: responseTopic,
		registry:      registry,
		arbiter:       arb,
		credProbe:     credProbe,
		query:         query,
		logger:        logger,
		tracer:        tracer,
	}
}

// Handle parses raw as an Envelope and drives one agent invocation to
// completion, publishing every response event along the way. Errors
// reaching this far are always surfaced as an error event, never silent.
func (h *Handler) Handle(ctx context.Context, raw []byte) {
	if err := validateEnvelopeShape(raw); err != nil {
		h.logger.Error("command envelope failed schema validation", "error", err)
		h.publishError("", "unknown", fmt.Sprintf("Malformed command: %v", err))
		return
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		h.logger.Error("malformed command envelope", "error", err)
		h.publishError("", "unknown", fmt.Sprintf("Malformed command: %v", err))
		return
	}

	sessionID := env.SessionID
	if sessionID == "" {
		sessionID = shared.NewID()
	}
	sourceDevice := env.sourceOrDefault()

	ctx = shared.WithSessionID(ctx, sessionID)
	ctx = shared.WithSourceDevice(ctx, sourceDevice)

	if h.registry.Count() > 0 {
		h.registry.CancelAll("New command received")
	}

	h.active.Store(true)
	defer h.active.Store(false)

	if env.Message == "" {
		h.publishError(sessionID, sourceDevice, "Missing required field: message")
		return
	}

	if !h.credProbe() {
		h.publishError(sessionID, sourceDevice, "Claude CLI not authenticated. Run `claude login` on the host running this bridge.")
		return
	}

	if h.tracer != nil {
		var span trace.Span
		ctx, span = obs.StartCommandSpan(ctx, h.tracer, sessionID, sourceDevice)
		defer span.End()
	}

	workingDir := env.Project
	if workingDir == "" {
		if wd, err := os.Getwd(); err == nil {
			workingDir = wd
		}
	}

	writer := response.New(h.pub, h.responseTopic, sessionID, sourceDevice, env.streamOrDefault())

	opts := agentrt.Options{
		WorkingDir:     workingDir,
		SessionID:      sessionID,
		PermissionMode: "default",
		CanUseTool:     h.arbiter.Build(sessionID, sourceDevice),
	}

	if err := h.query(ctx, env.Message, opts, writer); err != nil {
		h.logger.Error("agent invocation failed", "session_id", sessionID, "error", err)
		if pubErr := writer.Error(err.Error()); pubErr != nil {
			h.logger.Error("publish error event failed", "error", pubErr)
		}
		return
	}

	if err := writer.End(); err != nil {
		h.logger.Error("publish completion event failed", "session_id", sessionID, "error", err)
	}
}

func (h *Handler) publishError(sessionID, sourceDevice, message string) {
	w := response.New(h.pub, h.responseTopic, sessionID, sourceDevice, true)
	if err := w.Error(message); err != nil {
		h.logger.Error("publish error event failed", "error", err)
	}
}
