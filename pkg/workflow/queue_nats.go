package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	nats "github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var natsPropagator = propagation.TraceContext{}

// PublishTrigger injects the calling trace context into the message headers and
// publishes a trigger event to subject, so a Subscribe handler on the other end
// resumes the same trace.
func PublishTrigger(ctx context.Context, nc *nats.Conn, subject string, data []byte) error {
	hdr := nats.Header{}
	natsPropagator.Inject(ctx, propagation.HeaderCarrier(hdr))
	return nc.PublishMsg(&nats.Msg{Subject: subject, Data: data, Header: hdr})
}

// SubscribeTriggers wraps nc.Subscribe, extracting any propagated trace context from
// each message and starting a child span before invoking handler.
func SubscribeTriggers(nc *nats.Conn, subject string, handler func(context.Context, *nats.Msg)) (*nats.Subscription, error) {
	return nc.Subscribe(subject, func(m *nats.Msg) {
		ctx := natsPropagator.Extract(context.Background(), propagation.HeaderCarrier(m.Header))
		tracer := otel.Tracer("workflow-nats")
		ctx, span := tracer.Start(ctx, "nats.consume", trace.WithSpanKind(trace.SpanKindConsumer))
		defer span.End()
		handler(ctx, m)
	})
}

// TriggerMessage is the wire shape published to trigger a workflow over NATS: an event
// type plus its payload, matching the envelope Scheduler.TriggerEvent consumes.
type TriggerMessage struct {
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data"`
}

// NATSTriggerBridge subscribes a NATS subject to a Scheduler, decoding each message as
// a TriggerMessage and forwarding it to TriggerEvent.
type NATSTriggerBridge struct {
	nc        *nats.Conn
	scheduler *Scheduler
	logger    *slog.Logger
	sub       *nats.Subscription
}

// NewNATSTriggerBridge constructs a bridge over an already-connected nats.Conn.
func NewNATSTriggerBridge(nc *nats.Conn, scheduler *Scheduler, logger *slog.Logger) *NATSTriggerBridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSTriggerBridge{nc: nc, scheduler: scheduler, logger: logger}
}

// Start subscribes to subject, forwarding every well-formed TriggerMessage to the
// scheduler. Malformed messages are logged and skipped, not redelivered.
func (b *NATSTriggerBridge) Start(subject string) error {
	sub, err := SubscribeTriggers(b.nc, subject, func(ctx context.Context, m *nats.Msg) {
		var msg TriggerMessage
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			b.logger.Error("nats trigger message malformed", "subject", subject, "error", err)
			return
		}
		if err := b.scheduler.TriggerEvent(ctx, msg.EventType, msg.Data); err != nil {
			b.logger.Error("nats trigger dispatch failed", "event_type", msg.EventType, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("workflow: subscribe nats triggers on %q: %w", subject, err)
	}
	b.sub = sub
	return nil
}

// Stop unsubscribes, if the bridge was started.
func (b *NATSTriggerBridge) Stop() error {
	if b.sub == nil {
		return nil
	}
	return b.sub.Unsubscribe()
}

// PublishTriggerMessage is the producer-side counterpart to NATSTriggerBridge:
// publishes a trigger event for any remote subscriber on subject.
func PublishTriggerMessage(ctx context.Context, nc *nats.Conn, subject, eventType string, data map[string]any) error {
	payload, err := json.Marshal(TriggerMessage{EventType: eventType, Data: data})
	if err != nil {
		return fmt.Errorf("workflow: marshal trigger message: %w", err)
	}
	return PublishTrigger(ctx, nc, subject, payload)
}
