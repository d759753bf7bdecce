package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Pranavj17/echo-sub001/core"
)

// Notifier is the low-latency side of the dual write. Failures here are never
// fatal to a publish; the durable row has already been written and workers
// catch up from it.
type Notifier interface {
	// Notify sends the envelope on the given topic and returns the number
	// of subscribers that received it.
	Notify(ctx context.Context, topic string, env *core.Envelope) (int64, error)
}

type redisNotifier struct {
	rdb redis.UniversalClient
}

// NewRedisNotifier returns a Notifier publishing envelopes as JSON on Redis
// pub/sub channels.
func NewRedisNotifier(rdb redis.UniversalClient) Notifier {
	return &redisNotifier{rdb: rdb}
}

func (rn *redisNotifier) Notify(ctx context.Context, topic string, env *core.Envelope) (int64, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return 0, fmt.Errorf("encoding envelope: %w", err)
	}

	receivers, err := rn.rdb.Publish(ctx, topic, payload).Result()
	if err != nil {
		return 0, fmt.Errorf("publishing to %s: %w", topic, err)
	}

	return receivers, nil
}
