package tasmota

import (
	"errors"
	"testing"
	"time"
)

type recordingTarget struct {
	messages []Message
	err      error
}

func (r *recordingTarget) Route(msg Message) error {
	r.messages = append(r.messages, msg)
	return r.err
}

func TestRouter_Dispatch(t *testing.T) {
	tests := []struct {
		name        string
		topic       string
		payload     string
		prefixFirst bool
		deviceTopic string
		wantPayload any
	}{
		{"prefix first json", "stat/foo/RESULT", `{"POWER":"ON"}`, true, "foo", map[string]any{"POWER": "ON"}},
		{"swapped json", "foo/stat/RESULT", `{"POWER":"ON"}`, false, "foo", map[string]any{"POWER": "ON"}},
		{"plain text", "tele/foo/LWT", " Online\n", true, "foo", "Online"},
		{"malformed json", "stat/foo/RESULT", `{"POWER":`, true, "foo", `{"POWER":`},
		{"unknown kind", "zigbee2mqtt/lamp", "x", false, "zigbee2mqtt", "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			r := NewRouter(clock, nil)
			target := &recordingTarget{}
			r.AddTarget(target)

			mustNoError(t, r.Dispatch(tt.topic, []byte(tt.payload)))

			if len(target.messages) != 1 {
				t.Fatalf("routed %d messages, want 1", len(target.messages))
			}
			got := target.messages[0]
			if got.PrefixFirst != tt.prefixFirst {
				t.Errorf("PrefixFirst = %v, want %v", got.PrefixFirst, tt.prefixFirst)
			}
			if got.DeviceTopic() != tt.deviceTopic {
				t.Errorf("DeviceTopic() = %q, want %q", got.DeviceTopic(), tt.deviceTopic)
			}
			if obj, ok := tt.wantPayload.(map[string]any); ok {
				gotObj, ok := got.Object()
				if !ok || gotObj["POWER"] != obj["POWER"] {
					t.Errorf("Payload = %#v, want %#v", got.Payload, tt.wantPayload)
				}
			} else if got.Payload != tt.wantPayload {
				t.Errorf("Payload = %#v, want %#v", got.Payload, tt.wantPayload)
			}
			if !r.LastMessage().Equal(clock.Now()) {
				t.Errorf("LastMessage() = %v, want %v", r.LastMessage(), clock.Now())
			}
		})
	}
}

func TestRouter_ShortTopicIsDropped(t *testing.T) {
	r := NewRouter(newFakeClock(), nil)
	target := &recordingTarget{}
	r.AddTarget(target)

	mustNoError(t, r.Dispatch("stat", []byte("x")))

	if len(target.messages) != 0 {
		t.Errorf("routed %d messages, want 0", len(target.messages))
	}
	if !r.LastMessage().IsZero() {
		t.Error("LastMessage() should stay zero for dropped messages")
	}
}

func TestRouter_EveryTargetSeesMessage(t *testing.T) {
	r := NewRouter(newFakeClock(), nil)
	first := &recordingTarget{err: errors.New("first failed")}
	second := &recordingTarget{}
	r.AddTarget(first)
	r.AddTarget(second)

	err := r.Dispatch("stat/foo/RESULT", []byte(`{}`))
	if err == nil || err.Error() != "first failed" {
		t.Errorf("Dispatch() error = %v, want first failed", err)
	}
	if len(second.messages) != 1 {
		t.Error("second target should still receive the message")
	}
}

func TestRouter_LastMessageLifecycle(t *testing.T) {
	clock := newFakeClock()
	r := NewRouter(clock, nil)

	r.MarkAlive()
	if !r.LastMessage().Equal(clock.Now()) {
		t.Errorf("MarkAlive() did not record now")
	}
	clock.Advance(time.Minute)
	mustNoError(t, r.Dispatch("tele/foo/STATE", []byte(`{}`)))
	if !r.LastMessage().Equal(clock.Now()) {
		t.Errorf("Dispatch() did not refresh LastMessage")
	}
	r.ResetLastMessage()
	if !r.LastMessage().IsZero() {
		t.Error("ResetLastMessage() did not clear")
	}
}

func TestMessage_Segment(t *testing.T) {
	m := msg("stat/foo/RESULT", "")
	if m.Segment(2) != "RESULT" || m.Segment(3) != "" || m.Segment(-1) != "" {
		t.Errorf("Segment() unexpected for %v", m.Parts)
	}
}
