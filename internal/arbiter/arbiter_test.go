package arbiter_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/basket/claw-mqtt-bridge/internal/approval"
	"github.com/basket/claw-mqtt-bridge/internal/arbiter"
	"github.com/basket/claw-mqtt-bridge/internal/policy"
)

type recordedPublish struct {
	topic   string
	payload map[string]any
}

type fakePublisher struct {
	calls []recordedPublish
	err   error
}

func (f *fakePublisher) Publish(topic string, payload []byte, retain bool) error {
	if f.err != nil {
		return f.err
	}
	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return err
	}
	f.calls = append(f.calls, recordedPublish{topic: topic, payload: decoded})
	return nil
}

func TestBuild_LocalPolicyAllowsToolWithoutPublish(t *testing.T) {
	pub := &fakePublisher{}
	reg := approval.New(nil)
	live := policy.NewLivePolicy(policy.Policy{AllowTools: []string{"Read"}}, "")

	a := arbiter.New(pub, reg, live, "claude/approval-request", time.Second, nil, nil, nil)
	canUse := a.Build("sess-1", "kitchen-hub")

	decision, err := canUse(context.Background(), "Read", map[string]any{"path": "/etc/hosts"})
	if err != nil {
		t.Fatalf("canUse: %v", err)
	}
	if decision.Behavior != "allow" {
		t.Fatalf("expected allow, got %+v", decision)
	}
	if len(pub.calls) != 0 {
		t.Fatalf("expected no publish for a policy-approved tool, got %d", len(pub.calls))
	}
	if reg.Count() != 0 {
		t.Fatalf("expected no registry entry for a policy-approved tool")
	}
}

func TestBuild_LocalPolicyAllowsCommandPrefix(t *testing.T) {
	pub := &fakePublisher{}
	reg := approval.New(nil)
	live := policy.NewLivePolicy(policy.Policy{AllowCommandPrefixes: []string{"git status"}}, "")

	a := arbiter.New(pub, reg, live, "claude/approval-request", time.Second, nil, nil, nil)
	canUse := a.Build("sess-1", "kitchen-hub")

	decision, err := canUse(context.Background(), "Bash", map[string]any{"command": "git status --short"})
	if err != nil {
		t.Fatalf("canUse: %v", err)
	}
	if decision.Behavior != "allow" {
		t.Fatalf("expected allow, got %+v", decision)
	}
	if len(pub.calls) != 0 {
		t.Fatalf("expected no publish, got %d", len(pub.calls))
	}
}

func TestBuild_RoundTripsToDeviceAndAllows(t *testing.T) {
	pub := &fakePublisher{}
	reg := approval.New(nil)

	a := arbiter.New(pub, reg, nil, "claude/approval-request", time.Second, nil, nil, nil)
	canUse := a.Build("sess-1", "kitchen-hub")

	resultCh := make(chan error, 1)
	go func() {
		d, err := canUse(context.Background(), "Bash", map[string]any{"command": "ls"})
		if err != nil {
			resultCh <- err
			return
		}
		if d.Behavior != "allow" {
			resultCh <- fmt.Errorf("expected allow, got %+v", d)
			return
		}
		resultCh <- nil
	}()

	deadline := time.Now().Add(time.Second)
	for len(pub.calls) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if len(pub.calls) != 1 {
		t.Fatalf("expected one approval request published, got %d", len(pub.calls))
	}
	reqID, _ := pub.calls[0].payload["requestId"].(string)
	if reqID == "" {
		t.Fatalf("expected non-empty requestId in published payload")
	}
	if pub.calls[0].payload["toolName"] != "Bash" {
		t.Fatalf("unexpected toolName %v", pub.calls[0].payload["toolName"])
	}

	if !reg.Resolve(reqID, true, "") {
		t.Fatalf("expected registry to hold a waiter for %q", reqID)
	}

	if err := <-resultCh; err != nil {
		t.Fatal(err)
	}
}

func TestBuild_DenyReturnsReason(t *testing.T) {
	pub := &fakePublisher{}
	reg := approval.New(nil)

	a := arbiter.New(pub, reg, nil, "claude/approval-request", time.Second, nil, nil, nil)
	canUse := a.Build("sess-1", "kitchen-hub")

	resultCh := make(chan error, 1)
	go func() {
		_, err := canUse(context.Background(), "Bash", map[string]any{"command": "rm -rf /"})
		resultCh <- err
	}()

	deadline := time.Now().Add(time.Second)
	for len(pub.calls) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	reqID, _ := pub.calls[0].payload["requestId"].(string)
	reg.Resolve(reqID, false, "too dangerous")

	if err := <-resultCh; err != nil {
		t.Fatalf("canUse must not return a Go error on deny: %v", err)
	}
}

func TestBuild_TimeoutDeniesWithReason(t *testing.T) {
	pub := &fakePublisher{}
	reg := approval.New(nil)

	a := arbiter.New(pub, reg, nil, "claude/approval-request", 20*time.Millisecond, nil, nil, nil)
	canUse := a.Build("sess-1", "kitchen-hub")

	decision, err := canUse(context.Background(), "Bash", map[string]any{"command": "ls"})
	if err != nil {
		t.Fatalf("canUse must not surface a Go error on timeout: %v", err)
	}
	if decision.Behavior != "deny" {
		t.Fatalf("expected deny on timeout, got %+v", decision)
	}
}

func TestBuild_PublishErrorDeniesGracefully(t *testing.T) {
	pub := &fakePublisher{err: fmt.Errorf("broker unreachable")}
	reg := approval.New(nil)

	a := arbiter.New(pub, reg, nil, "claude/approval-request", time.Second, nil, nil, nil)
	canUse := a.Build("sess-1", "kitchen-hub")

	decision, err := canUse(context.Background(), "Bash", map[string]any{"command": "ls"})
	if err != nil {
		t.Fatalf("canUse must not surface a Go error: %v", err)
	}
	if decision.Behavior != "deny" {
		t.Fatalf("expected deny when publish fails, got %+v", decision)
	}
}
