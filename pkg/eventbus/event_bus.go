// Package eventbus carries mission lifecycle events, notifications and
// reaction requests between sortie processes.
package eventbus

import (
	"context"

	"github.com/dukex/sortie/pkg/events"
)

// Event is anything published on the bus.
type Event interface {
	GetType() events.EventType
}

// EventPublisher publishes events. Key groups events of one mission or
// session so brokers keep them ordered.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

// EventSubscriber dispatches received events to one handler per type.
// Handlers must be registered before Subscribe.
type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

// EventHandler receives a pointer to the decoded event struct.
type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
}
