package bridge

import "context"

// RemoteStore is a path-addressed document store. Get returns the decoded
// JSON value at path, or nil when nothing is stored there.
type RemoteStore interface {
	Get(ctx context.Context, path string) (any, error)
	Set(ctx context.Context, path string, value any) error
	Update(ctx context.Context, path string, fields map[string]any) error
}

// Publisher sends a payload on a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Handler receives inbound payloads. It may be called concurrently with a
// poll tick.
type Handler func(ctx context.Context, payload []byte)

// Subscriber delivers inbound payloads for a topic to a handler.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, h Handler) error
}

// MessageBus is a Publisher that can also deliver inbound messages.
type MessageBus interface {
	Publisher
	Subscriber
	Close()
}
