package agentrt_test

import (
	"context"
	"fmt"

	"github.com/basket/claw-mqtt-bridge/internal/agentrt"
)

// fakeAgent is a deterministic stand-in for the external agent process,
// used by this package's tests that need to drive a Query.
type fakeAgent struct {
	events      []any
	toolUse     *fakeToolUse // non-nil to call CanUseTool mid-stream
	failAfter   int          // >0 returns an error after emitting that many events
}

type fakeToolUse struct {
	toolName string
	input    map[string]any
}

func (f *fakeAgent) Query(ctx context.Context, message string, opts agentrt.Options, w agentrt.EventWriter) error {
	for i, ev := range f.events {
		if f.failAfter > 0 && i >= f.failAfter {
			return fmt.Errorf("fake agent failure after %d events", f.failAfter)
		}
		if err := w.Send(ev); err != nil {
			return err
		}
	}

	if f.toolUse != nil {
		if opts.CanUseTool == nil {
			return fmt.Errorf("fake agent: no CanUseTool callback provided")
		}
		decision, err := opts.CanUseTool(ctx, f.toolUse.toolName, f.toolUse.input)
		if err != nil {
			return err
		}
		if decision.Behavior != "allow" {
			return fmt.Errorf("tool denied: %s", decision.Message)
		}
	}

	return nil
}
