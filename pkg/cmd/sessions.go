package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/dukex/sortie/pkg/protocol"
	"github.com/dukex/sortie/pkg/sessions"
)

// NewSessionLog returns an in-memory log for "memory" and a Redis-backed
// one for redis:// or rediss:// URLs. The returned func releases it.
func NewSessionLog(ctx context.Context, url string, maxMessages int) (protocol.SessionLog, func() error, error) {
	switch {
	case url == "" || url == "memory":
		return sessions.NewMemoryLog(maxMessages), func() error { return nil }, nil
	case strings.HasPrefix(url, "redis://"), strings.HasPrefix(url, "rediss://"):
		log, err := sessions.NewRedisLogFromURL(ctx, url, maxMessages)
		if err != nil {
			return nil, nil, err
		}

		return log, log.Close, nil
	default:
		return nil, nil, fmt.Errorf("%w: session log %q", ErrUnsupportedProvider, url)
	}
}
