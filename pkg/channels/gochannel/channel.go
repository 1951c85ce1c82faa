// Package gochannel builds the in-process pub/sub behind the memory event bus.
package gochannel

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

const DefaultBuffer = 1000

type Option func(*gochannel.Config)

// WithBuffer sets the per-subscriber output buffer.
func WithBuffer(size int64) Option {
	return func(c *gochannel.Config) {
		c.OutputChannelBuffer = size
	}
}

// WithAcks makes Publish wait until every subscriber acked the message.
func WithAcks() Option {
	return func(c *gochannel.Config) {
		c.BlockPublishUntilSubscriberAck = true
	}
}

// WithReplay keeps published messages and hands them to late subscribers.
func WithReplay() Option {
	return func(c *gochannel.Config) {
		c.Persistent = true
	}
}

// New returns a GoChannel that serves as both publisher and subscriber.
func New(logger watermill.LoggerAdapter, opts ...Option) *gochannel.GoChannel {
	config := gochannel.Config{OutputChannelBuffer: DefaultBuffer}

	for _, opt := range opts {
		opt(&config)
	}

	return gochannel.NewGoChannel(config, logger)
}
