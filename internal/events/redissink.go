package events

import (
	"context"
	"encoding/json"
	"errors"

	redis "github.com/redis/go-redis/v9"
)

// MaxRedisEvents bounds the Redis list; older events are trimmed.
const MaxRedisEvents = 10000

// RedisSink appends events to a Redis list.
type RedisSink struct {
	client *redis.Client
	key    string
}

// NewRedisSink creates a Redis-backed sink. If url is empty, operations will error.
func NewRedisSink(url, key string) *RedisSink {
	if key == "" {
		key = "crossbuild:events"
	}
	if url == "" {
		return &RedisSink{key: key}
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return &RedisSink{key: key}
	}
	return &RedisSink{client: redis.NewClient(opt), key: key}
}

func (r *RedisSink) ensure() error {
	if r.client == nil {
		return errors.New("redis event sink not configured")
	}
	return nil
}

func (r *RedisSink) Emit(ctx context.Context, ev Event) error {
	if err := r.ensure(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, r.key, data)
	pipe.LTrim(ctx, r.key, -MaxRedisEvents, -1)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisSink) List(ctx context.Context) ([]Event, error) {
	if err := r.ensure(); err != nil {
		return nil, err
	}
	vals, err := r.client.LRange(ctx, r.key, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	items := make([]Event, 0, len(vals))
	for _, v := range vals {
		var ev Event
		if err := json.Unmarshal([]byte(v), &ev); err == nil {
			items = append(items, ev)
		}
	}
	return items, nil
}

// Close releases the client.
func (r *RedisSink) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
