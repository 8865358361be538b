// Package policy implements the bridge's local capability policy: an
// optional, additive-only allowlist that lets some tool uses skip the
// device approval round trip.
package policy

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Policy is the serializable local capability policy.
type Policy struct {
	AllowTools           []string `yaml:"allow_tools"`
	AllowCommandPrefixes []string `yaml:"allow_command_prefixes"`
}

// Default returns the empty policy: every tool use round-trips to the device.
func Default() Policy {
	return Policy{}
}

// Load reads a policy from path. A missing or empty path yields the
// default (empty) policy — no auto-approvals. A malformed file is a
// policy-invalid error; callers should log it and keep the previous policy.
func Load(path string) (Policy, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Policy{}, fmt.Errorf("read policy: %w", err)
	}
	if len(data) == 0 {
		return Default(), nil
	}
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("parse policy: %w", err)
	}
	return p, nil
}

// AllowsTool reports whether name may be auto-approved without a device round trip.
func (p Policy) AllowsTool(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	for _, allowed := range p.AllowTools {
		if strings.EqualFold(strings.TrimSpace(allowed), name) {
			return true
		}
	}
	return false
}

// AllowsCommand reports whether cmd starts with a configured auto-approve prefix.
func (p Policy) AllowsCommand(cmd string) bool {
	if strings.TrimSpace(cmd) == "" {
		return false
	}
	for _, prefix := range p.AllowCommandPrefixes {
		prefix = strings.TrimSpace(prefix)
		if prefix == "" {
			continue
		}
		if strings.HasPrefix(cmd, prefix) {
			return true
		}
	}
	return false
}

// LivePolicy wraps a Policy with thread-safe mutation and persistence.
// Reads are far more frequent than writes, so it is guarded by an RWMutex.
type LivePolicy struct {
	mu   sync.RWMutex
	data Policy
	path string // file path for persistence; empty = no persistence
}

// NewLivePolicy creates a LivePolicy from an initial Policy snapshot.
// If path is non-empty, mutations are persisted to that file.
func NewLivePolicy(initial Policy, path string) *LivePolicy {
	return &LivePolicy{data: initial, path: path}
}

// AllowsTool is the thread-safe check the arbiter uses at runtime.
func (lp *LivePolicy) AllowsTool(name string) bool {
	lp.mu.RLock()
	defer lp.mu.RUnlock()
	return lp.data.AllowsTool(name)
}

// AllowsCommand is the thread-safe check the arbiter uses at runtime.
func (lp *LivePolicy) AllowsCommand(cmd string) bool {
	lp.mu.RLock()
	defer lp.mu.RUnlock()
	return lp.data.AllowsCommand(cmd)
}

// Snapshot returns a copy of the current policy data.
func (lp *LivePolicy) Snapshot() Policy {
	lp.mu.RLock()
	defer lp.mu.RUnlock()
	cp := lp.data
	cp.AllowTools = append([]string(nil), lp.data.AllowTools...)
	cp.AllowCommandPrefixes = append([]string(nil), lp.data.AllowCommandPrefixes...)
	return cp
}

// Reload replaces the policy data from a freshly loaded snapshot.
func (lp *LivePolicy) Reload(p Policy) {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	lp.data = p
}

// AllowTool grants a tool at runtime and persists the change.
func (lp *LivePolicy) AllowTool(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("empty tool name")
	}
	lp.mu.Lock()
	defer lp.mu.Unlock()
	if containsFold(lp.data.AllowTools, name) {
		return nil
	}
	lp.data.AllowTools = append(lp.data.AllowTools, name)
	return lp.persist()
}

// AllowCommandPrefix grants a command prefix at runtime and persists the change.
func (lp *LivePolicy) AllowCommandPrefix(prefix string) error {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return fmt.Errorf("empty command prefix")
	}
	lp.mu.Lock()
	defer lp.mu.Unlock()
	if containsFold(lp.data.AllowCommandPrefixes, prefix) {
		return nil
	}
	lp.data.AllowCommandPrefixes = append(lp.data.AllowCommandPrefixes, prefix)
	return lp.persist()
}

// ReloadFromFile updates the live policy only when the incoming file parses.
// On error, the previous policy remains active — a policy-invalid error never
// tears down the bridge.
func ReloadFromFile(lp *LivePolicy, path string) error {
	if lp == nil {
		return fmt.Errorf("nil live policy")
	}
	p, err := Load(path)
	if err != nil {
		return err
	}
	lp.Reload(p)
	return nil
}

func containsFold(slice []string, val string) bool {
	for _, s := range slice {
		if strings.EqualFold(strings.TrimSpace(s), val) {
			return true
		}
	}
	return false
}

func (lp *LivePolicy) persist() error {
	if lp.path == "" {
		return nil
	}
	out, err := yaml.Marshal(&lp.data)
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}
	return os.WriteFile(lp.path, out, 0o644)
}
