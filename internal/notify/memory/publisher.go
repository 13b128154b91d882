// Package memory keeps crawl completion events in process, encoded the same
// way the Pub/Sub publisher puts them on the wire.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/JakeFAU/pubsearch/internal/notify"
	"github.com/JakeFAU/pubsearch/internal/telemetry"
)

// Message is one recorded event.
type Message struct {
	ID         string
	Topic      string
	Data       []byte
	Attributes map[string]string
}

// Publisher records events for local runs and tests.
type Publisher struct {
	mu       sync.RWMutex
	messages []Message
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish JSON-encodes payload and records it under topic. Trace context from
// ctx is kept in the attributes.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	attrs := map[string]string{}
	if topic != "" {
		attrs["event"] = topic
	}
	telemetry.Inject(ctx, attrs)

	p.mu.Lock()
	defer p.mu.Unlock()
	id := fmt.Sprintf("memory-%d", len(p.messages)+1)
	p.messages = append(p.messages, Message{ID: id, Topic: topic, Data: data, Attributes: attrs})
	return id, nil
}

// Messages returns a copy of everything published so far.
func (p *Publisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}

// CrawlEvents decodes the completion events published to topic, oldest
// first. Payloads that are not crawl events are skipped.
func (p *Publisher) CrawlEvents(topic string) []notify.CrawlCompleted {
	var events []notify.CrawlCompleted
	for _, m := range p.Messages() {
		if m.Topic != topic {
			continue
		}
		var ev notify.CrawlCompleted
		if err := json.Unmarshal(m.Data, &ev); err != nil || ev.RunID == "" {
			continue
		}
		events = append(events, ev)
	}
	return events
}
