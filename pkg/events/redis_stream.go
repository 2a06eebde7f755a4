package events

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"
)

const streamMaxLen = 10000

type RedisStreamPublisher struct {
	client *redis.Client
	stream string
}

func NewRedisStreamPublisher(client *redis.Client, stream string) *RedisStreamPublisher {
	return &RedisStreamPublisher{client: client, stream: stream}
}

func (p *RedisStreamPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"type":    event.Type,
			"payload": string(payload),
		},
	}).Err()
}

// Close leaves the shared client open; the app owns it.
func (p *RedisStreamPublisher) Close() error {
	return nil
}
