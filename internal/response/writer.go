// Package response converts agent output events into broker messages,
// either streamed as they arrive or buffered until the command completes.
package response

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Publisher is the narrow seam onto the broker client this package needs.
type Publisher interface {
	Publish(topic string, payload []byte, retain bool) error
}

// Writer converts one command's agent events into messages on topic.
// Not safe for concurrent Send calls from multiple goroutines for the same
// command — the agent invocation that owns it is expected to emit events
// from a single goroutine.
type Writer struct {
	pub          Publisher
	topic        string
	streaming    bool
	startedAt    time.Time

	mu           sync.Mutex
	sessionID    string
	sourceDevice string
	buffer       []any
}

// New constructs a Writer for one command. streaming selects chunk-by-chunk
// delivery; when false, events are buffered and flushed on End.
func New(pub Publisher, topic, sessionID, sourceDevice string, streaming bool) *Writer {
	return &Writer{
		pub:          pub,
		topic:        topic,
		streaming:    streaming,
		startedAt:    time.Now(),
		sessionID:    sessionID,
		sourceDevice: sourceDevice,
	}
}

// SetSessionID updates the session id attached to subsequent events.
func (w *Writer) SetSessionID(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sessionID = id
}

// Send publishes or buffers one agent output event depending on mode.
// event may be a JSON string to be parsed, or an already-structured value.
func (w *Writer) Send(event any) error {
	parsed, err := normalizeEvent(event)
	if err != nil {
		return fmt.Errorf("normalize agent event: %w", err)
	}

	if !w.streaming {
		w.mu.Lock()
		w.buffer = append(w.buffer, parsed)
		w.mu.Unlock()
		return nil
	}

	if text, ok := finalResultText(parsed); ok {
		// Answer precedes the richer chunk so voice consumers can act first.
		if err := w.publish("answer", map[string]any{"text": text}); err != nil {
			return err
		}
	}
	return w.publish("chunk", map[string]any{"content": parsed})
}

// End publishes the terminal complete event carrying the elapsed wall time,
// and the buffered content in batched mode.
func (w *Writer) End() error {
	durationMS := time.Since(w.startedAt).Milliseconds()

	payload := map[string]any{"duration_ms": durationMS}
	if !w.streaming {
		w.mu.Lock()
		payload["content"] = w.buffer
		w.mu.Unlock()
	}
	return w.publish("complete", payload)
}

// Error publishes an error event carrying message.
func (w *Writer) Error(message string) error {
	return w.publish("error", map[string]any{"error": message})
}

func (w *Writer) publish(eventType string, fields map[string]any) error {
	w.mu.Lock()
	envelope := map[string]any{
		"type":          eventType,
		"session_id":    w.sessionID,
		"source_device": w.sourceDevice,
		"timestamp":     time.Now().UnixMilli(),
	}
	w.mu.Unlock()

	for k, v := range fields {
		envelope[k] = v
	}

	raw, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal response event: %w", err)
	}
	return w.pub.Publish(w.topic, raw, false)
}

func normalizeEvent(event any) (any, error) {
	if s, ok := event.(string); ok {
		var v any
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return nil, err
		}
		return v, nil
	}
	return event, nil
}

// finalResultText reports whether parsed looks like a final agent result
// (data.type == "result" with non-empty data.result), per the agent's event
// schema, and returns that result text.
func finalResultText(parsed any) (string, bool) {
	m, ok := parsed.(map[string]any)
	if !ok {
		return "", false
	}
	data, ok := m["data"].(map[string]any)
	if !ok {
		return "", false
	}
	if t, _ := data["type"].(string); t != "result" {
		return "", false
	}
	text, _ := data["result"].(string)
	if text == "" {
		return "", false
	}
	return text, true
}
