package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/tasmota-bridge/internal/infrastructure/mqtt"
)

// triggerQoS delivers triggers at least once.
const triggerQoS byte = 1

// Transport is the subset of the MQTT client used for publishing.
type Transport interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Event is the JSON payload of one fired trigger.
type Event struct {
	ID        string         `json:"id"`
	Trigger   string         `json:"trigger"`
	Tokens    map[string]any `json:"tokens"`
	Timestamp time.Time      `json:"timestamp"`
}

// Publisher fires triggers onto the broker.
type Publisher struct {
	transport Transport
	topics    mqtt.Topics
	now       func() time.Time
}

// NewPublisher creates a Publisher writing under topics' prefix.
func NewPublisher(transport Transport, topics mqtt.Topics) *Publisher {
	return &Publisher{
		transport: transport,
		topics:    topics,
		now:       time.Now,
	}
}

// Fire publishes a trigger event. A nil tokens map is sent as {}.
func (p *Publisher) Fire(ctx context.Context, name string, tokens map[string]any) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if tokens == nil {
		tokens = map[string]any{}
	}

	payload, err := json.Marshal(Event{
		ID:        uuid.NewString(),
		Trigger:   name,
		Tokens:    tokens,
		Timestamp: p.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshalling trigger %s: %w", name, err)
	}

	if err := p.transport.Publish(p.topics.Trigger(name), payload, triggerQoS, false); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, name, err)
	}
	return nil
}
