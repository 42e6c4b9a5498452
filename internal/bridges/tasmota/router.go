package tasmota

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Message is one inbound MQTT message after classification.
type Message struct {
	Topic string
	Parts []string
	// Payload is the decoded JSON object or array, or the trimmed payload
	// text when it is not JSON.
	Payload any
	// PrefixFirst is true when the kind tag is the first segment.
	PrefixFirst bool
}

// DeviceTopic returns the segment holding the device topic: the second one
// for prefix-first topics, the first otherwise.
func (m Message) DeviceTopic() string {
	idx := 0
	if m.PrefixFirst {
		idx = 1
	}
	if idx >= len(m.Parts) {
		return ""
	}
	return m.Parts[idx]
}

// Segment returns topic segment i, or "" when out of range.
func (m Message) Segment(i int) string {
	if i < 0 || i >= len(m.Parts) {
		return ""
	}
	return m.Parts[i]
}

// Object returns the payload as a JSON object.
func (m Message) Object() (map[string]any, bool) {
	obj, ok := m.Payload.(map[string]any)
	return obj, ok
}

// Text returns the payload as plain text.
func (m Message) Text() (string, bool) {
	s, ok := m.Payload.(string)
	return s, ok
}

// decodePayload parses JSON objects and arrays; anything else, including
// malformed JSON, is kept as trimmed text.
func decodePayload(raw []byte) any {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		var v any
		if err := json.Unmarshal(trimmed, &v); err == nil {
			return v
		}
	}
	return string(trimmed)
}

// Target receives every routed message. *Driver implements it.
type Target interface {
	Route(msg Message) error
}

// Router classifies inbound messages and hands them to its targets.
//
// Topics shorter than two segments are dropped. Everything else updates
// the last-message timestamp watched by the liveness watchdog, and is
// offered to every target in registration order.
type Router struct {
	clock       Clock
	targets     []Target
	lastMessage time.Time
	metrics     *Metrics
}

// NewRouter creates a router. A nil clock uses the system clock.
func NewRouter(clock Clock, metrics *Metrics) *Router {
	if clock == nil {
		clock = SystemClock()
	}
	return &Router{clock: clock, metrics: metrics}
}

// AddTarget registers a target.
func (r *Router) AddTarget(t Target) {
	r.targets = append(r.targets, t)
}

// Dispatch classifies topic and routes the decoded payload.
// Unmatched messages are not an error.
func (r *Router) Dispatch(topic string, payload []byte) error {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 {
		r.metrics.messageDropped()
		return nil
	}
	r.lastMessage = r.clock.Now()

	msg := Message{
		Topic:       topic,
		Parts:       parts,
		Payload:     decodePayload(payload),
		PrefixFirst: isKind(parts[0]),
	}
	r.metrics.messageReceived(msg)

	var errs []error
	for _, t := range r.targets {
		if err := t.Route(msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LastMessage returns when the last routable message arrived, or the zero
// time when none has since the last reset.
func (r *Router) LastMessage() time.Time {
	return r.lastMessage
}

// MarkAlive records now as the last message time. It is used when the
// transport (re)connects so the watchdog starts a fresh window.
func (r *Router) MarkAlive() {
	r.lastMessage = r.clock.Now()
}

// ResetLastMessage clears the last-message timestamp.
func (r *Router) ResetLastMessage() {
	r.lastMessage = time.Time{}
}
