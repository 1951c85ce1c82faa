package reactions

import (
	"context"
	"fmt"

	"github.com/dukex/sortie/pkg/eventbus"
	"github.com/dukex/sortie/pkg/events"
)

// Subscribe feeds ReactionRequested events from the bus into the engine.
func (e *Engine) Subscribe(subscriber eventbus.EventSubscriber) error {
	return subscriber.Handle(events.ReactionRequestedEvent, e.handleRequested)
}

func (e *Engine) handleRequested(ctx context.Context, event any) error {
	requested, ok := event.(*events.ReactionRequested)
	if !ok {
		return fmt.Errorf("unexpected event %T for %s", event, events.ReactionRequestedEvent)
	}

	outcome := e.Emit(ctx, requested.Payload)

	e.logger.DebugContext(ctx, "Bus reaction processed",
		"event", requested.Payload.Event,
		"handled", outcome.Handled,
		"reason", outcome.Reason,
	)

	return nil
}
