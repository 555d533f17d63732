package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// rankChannel is the pub/sub channel notification consumers subscribe to.
const rankChannel = "kudos:rank-changed"

// RedisNotifier publishes rank changes as JSON on a Redis pub/sub channel.
type RedisNotifier struct {
	client redis.Cmdable
}

func NewRedisNotifier(client redis.Cmdable) *RedisNotifier {
	return &RedisNotifier{client: client}
}

func (n *RedisNotifier) NotifyRankChanged(ctx context.Context, ev RankChangedEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal rank event: %w", err)
	}
	if err := n.client.Publish(ctx, rankChannel, payload).Err(); err != nil {
		return fmt.Errorf("publish rank event: %w", err)
	}
	return nil
}
