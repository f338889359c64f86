package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wayli-app/relay/internal/channel"
	"github.com/wayli-app/relay/internal/config"
	"github.com/wayli-app/relay/internal/kv"
	"github.com/wayli-app/relay/internal/observability"
)

// messagePayload is the wire shape delivered to subscribers.
type messagePayload struct {
	Event *Event `json:"event"`
	Model Model  `json:"model"`
}

// Publisher routes one domain event onto its target channel.
type Publisher struct {
	store   kv.Store
	cfg     config.ChannelsConfig
	ttl     time.Duration
	source  Source
	metrics *observability.Metrics
}

// NewPublisher creates a publisher over the shared KV store.
func NewPublisher(store kv.Store, cfg config.ChannelsConfig, ttl time.Duration, source Source, metrics *observability.Metrics) *Publisher {
	return &Publisher{
		store:   store,
		cfg:     cfg,
		ttl:     ttl,
		source:  source,
		metrics: metrics,
	}
}

// PublishEvent looks the event up and fans it out. Routing: a referenced
// video wins over a referenced project; events bound to neither go to the
// generic channel. ErrEventNotFound propagates so the worker can stop
// retrying the task.
func (p *Publisher) PublishEvent(ctx context.Context, id int64) error {
	event, model, err := p.source.GetEvent(ctx, id)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(messagePayload{Event: event, Model: model})
	if err != nil {
		return fmt.Errorf("events: encode message for %d: %w", id, err)
	}

	mgr := channel.NewManager(p.store, p.cfg, p.ttl, []string{TargetChannel(event)}, p.metrics)
	mgr.Publish(ctx, payload)
	return nil
}

// TargetChannel returns the channel an event is routed to.
func TargetChannel(event *Event) string {
	switch {
	case event.VideoID != nil:
		return channel.VideoChannel(*event.VideoID)
	case event.ProjectID != nil:
		return channel.ProjectChannel(*event.ProjectID)
	default:
		return channel.Generic
	}
}
