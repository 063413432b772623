package fractor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	nats "github.com/nats-io/nats.go"
)

// NATSQueue is an ExternalQueue backed by a NATS subject, letting a ContinuousServer
// pull work items published by a remote producer instead of an in-process WorkQueue.
type NATSQueue struct {
	sub    *nats.Subscription
	ch     chan *nats.Msg
	logger *slog.Logger
}

// NewNATSQueue subscribes nc to subject using a buffered channel of size bufSize,
// decoding each message body as a JSON-encoded work input.
func NewNATSQueue(nc *nats.Conn, subject string, bufSize int, logger *slog.Logger) (*NATSQueue, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ch := make(chan *nats.Msg, bufSize)
	sub, err := nc.ChanSubscribe(subject, ch)
	if err != nil {
		return nil, fmt.Errorf("fractor: subscribe nats queue on %q: %w", subject, err)
	}
	return &NATSQueue{sub: sub, ch: ch, logger: logger}, nil
}

// Pop blocks until a message arrives or ctx is done. A message body that fails to
// decode as JSON is logged and skipped, pulling the next message instead of returning
// it verbatim.
func (q *NATSQueue) Pop(ctx context.Context) (Work, bool) {
	for {
		select {
		case <-ctx.Done():
			return Work{}, false
		case msg, ok := <-q.ch:
			if !ok {
				return Work{}, false
			}
			var input any
			if err := json.Unmarshal(msg.Data, &input); err != nil {
				q.logger.Error("nats queue message malformed", "subject", msg.Subject, "error", err)
				continue
			}
			return NewWork(input), true
		}
	}
}

// Close unsubscribes from the underlying NATS subject.
func (q *NATSQueue) Close() error {
	return q.sub.Unsubscribe()
}
