package bridge_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/basket/claw-mqtt-bridge/internal/agentrt"
	"github.com/basket/claw-mqtt-bridge/internal/approval"
	"github.com/basket/claw-mqtt-bridge/internal/arbiter"
	"github.com/basket/claw-mqtt-bridge/internal/bridge"
	"github.com/basket/claw-mqtt-bridge/internal/command"
)

type fakeAgent struct{}

func (f *fakeAgent) Query(ctx context.Context, message string, opts agentrt.Options, w agentrt.EventWriter) error {
	return nil
}

type fakePublisher struct {
	mu    sync.Mutex
	calls []map[string]any
}

func (f *fakePublisher) Publish(topic string, payload []byte, retain bool) error {
	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return err
	}
	f.mu.Lock()
	f.calls = append(f.calls, decoded)
	f.mu.Unlock()
	return nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newDispatcher(t *testing.T) (*bridge.Dispatcher, *approval.Registry, *fakePublisher) {
	t.Helper()
	pub := &fakePublisher{}
	reg := approval.New(nil)
	a := arbiter.New(pub, reg, nil, "claude/approval-request", time.Second, nil, nil, nil)
	h := command.New(pub, "claude/home/response", reg, a, (&fakeAgent{}).Query, func() bool { return true }, nil, nil)
	d := bridge.New("claude/command", "claude/approval-response", h, reg, nil)
	return d, reg, pub
}

func TestHandle_RoutesCommandTopicToCommandHandler(t *testing.T) {
	d, _, pub := newDispatcher(t)
	d.Handle("claude/command", []byte(`{"message":"turn on the lights"}`))

	deadline := time.Now().Add(time.Second)
	for pub.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if pub.count() == 0 {
		t.Fatal("expected the command handler to publish a response")
	}
}

func TestHandle_RoutesApprovalResponseToRegistry(t *testing.T) {
	d, reg, _ := newDispatcher(t)

	reqID := reg.NewRequestID()
	resultCh := make(chan approval.Decision, 1)
	go func() {
		decision, _ := reg.Await(context.Background(), reqID, time.Second)
		resultCh <- decision
	}()

	deadline := time.Now().Add(time.Second)
	for reg.Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	payload, _ := json.Marshal(map[string]any{"requestId": reqID, "approved": true})
	d.Handle("claude/approval-response", payload)

	decision := <-resultCh
	if !decision.Approved {
		t.Fatalf("expected approved decision, got %+v", decision)
	}
}

func TestHandle_UnrecognizedTopicIsIgnored(t *testing.T) {
	d, _, pub := newDispatcher(t)
	d.Handle("some/other/topic", []byte(`{}`))
	time.Sleep(10 * time.Millisecond)
	if pub.count() != 0 {
		t.Fatalf("expected no side effects for an unrecognized topic, got %d publishes", pub.count())
	}
}

func TestHandle_MalformedApprovalResponseIsDropped(t *testing.T) {
	d, reg, _ := newDispatcher(t)
	reqID := reg.NewRequestID()
	go reg.Await(context.Background(), reqID, 200*time.Millisecond)

	d.Handle("claude/approval-response", []byte(`not json`))

	time.Sleep(20 * time.Millisecond)
	if reg.Count() == 0 {
		t.Fatal("expected the waiter to remain pending after a malformed response")
	}
}

func TestShutdown_CancelsAllPendingApprovals(t *testing.T) {
	d, reg, _ := newDispatcher(t)
	reqID := reg.NewRequestID()

	errCh := make(chan error, 1)
	go func() {
		_, err := reg.Await(context.Background(), reqID, 5*time.Second)
		errCh <- err
	}()

	deadline := time.Now().Add(time.Second)
	for reg.Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	d.Shutdown()

	if err := <-errCh; err == nil {
		t.Fatal("expected shutdown to reject the pending approval")
	}
}
