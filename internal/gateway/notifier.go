package gateway

import (
	"SpiritLedger/internal/ledger"
	"SpiritLedger/internal/observability"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Event is an outcome notification for downstream consumers, published
// to spirit.events.{kind} after the change is committed.
type Event struct {
	Kind      string         `json:"kind"`
	Actor     ledger.ActorID `json:"actor_id"`
	Payload   interface{}    `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Notifier buffers events and publishes them from its own goroutine so
// the dispatch path never blocks on NATS. When the buffer is full the
// event is dropped and counted; events are best-effort by contract.
type Notifier struct {
	js      jetstream.JetStream
	ch      chan Event
	metrics *observability.Metrics
	log     zerolog.Logger
	now     func() time.Time
}

func NewNotifier(js jetstream.JetStream, buffer int, metrics *observability.Metrics) *Notifier {
	return &Notifier{
		js:      js,
		ch:      make(chan Event, buffer),
		metrics: metrics,
		log:     observability.NewLogger("notifier"),
		now:     time.Now,
	}
}

// Publish enqueues an event without blocking.
func (n *Notifier) Publish(kind string, actor ledger.ActorID, payload interface{}) {
	evt := Event{Kind: kind, Actor: actor, Payload: payload, Timestamp: n.now()}
	select {
	case n.ch <- evt:
	default:
		if n.metrics != nil {
			n.metrics.EventDrops.Inc()
		}
		n.log.Warn().Str("kind", kind).Msg("event buffer full, dropped")
	}
}

// Run drains the buffer until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt := <-n.ch:
			if err := n.publish(ctx, evt); err != nil {
				// Non-fatal: consumers can reconstruct state from queries
				n.log.Warn().Err(err).Str("kind", evt.Kind).Msg("event publish failed")
				continue
			}
			if n.metrics != nil {
				n.metrics.EventsPublished.WithLabelValues(evt.Kind).Inc()
			}
		}
	}
}

func (n *Notifier) publish(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := fmt.Sprintf("spirit.events.%s", evt.Kind)
	_, err = n.js.Publish(ctx, subject, data)
	return err
}
