package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// Message is the wire shape published for each notification.
type Message struct {
	Kind    string         `json:"kind"`
	At      time.Time      `json:"at"`
	Adapter string         `json:"adapter,omitempty"`
	URL     string         `json:"url,omitempty"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// Attributes exposes routing keys to message bus subscribers.
func (m Message) Attributes() map[string]string {
	return map[string]string{"kind": m.Kind, "adapter": m.Adapter}
}

// PublisherSink forwards notifications to a message bus topic. Only kinds in
// the allow list are published; an empty list publishes everything.
type PublisherSink struct {
	publisher crawler.Publisher
	topic     string
	kinds     map[crawler.NotificationKind]struct{}
}

// NewPublisherSink builds a sink that publishes to topic.
func NewPublisherSink(publisher crawler.Publisher, topic string, kinds ...crawler.NotificationKind) (*PublisherSink, error) {
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	allowed := make(map[crawler.NotificationKind]struct{}, len(kinds))
	for _, k := range kinds {
		allowed[k] = struct{}{}
	}
	return &PublisherSink{publisher: publisher, topic: topic, kinds: allowed}, nil
}

// Consume publishes each allowed notification. The first failure aborts the
// batch.
func (s *PublisherSink) Consume(ctx context.Context, batch []crawler.Notification) error {
	for _, n := range batch {
		if len(s.kinds) > 0 {
			if _, ok := s.kinds[n.Kind]; !ok {
				continue
			}
		}
		msg := Message{
			Kind:    string(n.Kind),
			At:      n.At,
			Adapter: n.Adapter,
			URL:     n.URL,
			Message: n.Message,
			Fields:  n.Fields,
		}
		if _, err := s.publisher.Publish(ctx, s.topic, msg); err != nil {
			return fmt.Errorf("publish %s notification: %w", n.Kind, err)
		}
	}
	return nil
}

// Close implements notify.Sink; it performs no action.
func (s *PublisherSink) Close(context.Context) error {
	return nil
}
