package domain

import "context"

// StreamMessage is a single entry read back from a durable event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// EventBus provides pub/sub fan-out and durable, ordered streams for event
// payloads that leave the process. The in-memory implementation backs tests
// and single-binary deployments; the redis implementation backs everything
// else.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
