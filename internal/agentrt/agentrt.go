// Package agentrt defines the Go-native shape of the external agent
// collaborator: a streaming query function, its options, and the
// permission callback the arbiter implements. The real agent is an
// out-of-process black box; this package only names the seam.
package agentrt

import "context"

// ToolDecision is what a CanUseTool callback returns for one tool use.
type ToolDecision struct {
	Behavior     string // "allow" or "deny"
	UpdatedInput map[string]any
	Message      string // populated when Behavior == "deny"
}

// CanUseTool is invoked by the agent for each tool use requiring approval.
type CanUseTool func(ctx context.Context, toolName string, input map[string]any) (ToolDecision, error)

// Options configures one Query invocation.
type Options struct {
	WorkingDir     string
	SessionID      string
	PermissionMode string // "default" routes every tool use through CanUseTool
	CanUseTool     CanUseTool
}

// EventWriter is the narrow seam the agent is coupled to. Send is called
// once per emitted event; End is called exactly once when the agent is
// done. SetSessionID is retained for forward compatibility even though no
// known agent implementation calls it today.
type EventWriter interface {
	Send(event any) error
	End() error
	SetSessionID(id string)
}

// Query streams one agent invocation's events to w and returns when the
// agent is done, or with an error if the agent fails mid-stream.
type Query func(ctx context.Context, message string, opts Options, w EventWriter) error
