package sessions

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dukex/sortie/pkg/models"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "sortie:session:"

// RedisLog stores each session as a capped Redis list of JSON messages.
type RedisLog struct {
	client      redis.UniversalClient
	maxMessages int64
}

func NewRedisLog(client redis.UniversalClient, maxMessages int) *RedisLog {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}

	return &RedisLog{client: client, maxMessages: int64(maxMessages)}
}

// NewRedisLogFromURL parses a redis:// URL and connects.
func NewRedisLogFromURL(ctx context.Context, url string, maxMessages int) (*RedisLog, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	err = client.Ping(ctx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return NewRedisLog(client, maxMessages), nil
}

func (l *RedisLog) Append(ctx context.Context, sessionID string, msg models.Message) error {
	data, err := json.Marshal(normalize(sessionID, msg))
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	key := keyPrefix + sessionID

	_, err = l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		pipe.LTrim(ctx, key, -l.maxMessages, -1)

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append message to session %s: %w", sessionID, err)
	}

	return nil
}

func (l *RedisLog) Recent(ctx context.Context, sessionID string, limit int) ([]models.Message, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}

	raw, err := l.client.LRange(ctx, keyPrefix+sessionID, start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read session %s: %w", sessionID, err)
	}

	messages := make([]models.Message, 0, len(raw))

	for _, item := range raw {
		var msg models.Message

		err := json.Unmarshal([]byte(item), &msg)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal message: %w", err)
		}

		messages = append(messages, msg)
	}

	return messages, nil
}

func (l *RedisLog) Clear(ctx context.Context, sessionID string) error {
	if err := l.client.Del(ctx, keyPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("failed to clear session %s: %w", sessionID, err)
	}

	return nil
}

func (l *RedisLog) Close() error {
	return l.client.Close()
}
