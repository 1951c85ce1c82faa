// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/sortie/pkg/channels/gochannel"
	"github.com/dukex/sortie/pkg/channels/kafka"
	"github.com/dukex/sortie/pkg/eventbus"
)

const serviceName = "sortie"

// NewEventBus builds the bus named by provider: "memory" for an in-process
// channel or "kafka://broker1:9092,broker2:9092".
func NewEventBus(provider string, logger *slog.Logger) (eventbus.EventBus, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	switch {
	case provider == "" || provider == "memory":
		pubSub := gochannel.New(wmLogger)

		return eventbus.NewWatermillEventBus(pubSub, pubSub), nil
	case strings.HasPrefix(provider, "kafka://"):
		brokers := kafka.ParseBrokers(strings.TrimPrefix(provider, "kafka://"))

		pub, sub, err := kafka.CreateChannel(wmLogger, brokers, serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub), nil
	default:
		return nil, fmt.Errorf("%w: event bus %q", ErrUnsupportedProvider, provider)
	}
}
