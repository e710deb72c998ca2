package feed

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisRelay mirrors a Hub across processes over one Redis pub/sub channel.
// Local events are published; remote events are injected into the local hub
// with their original origin so they are not published back.
type RedisRelay struct {
	client  *redis.Client
	hub     *Hub
	channel string
	log     *zap.Logger
}

func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

func NewRedisRelay(client *redis.Client, hub *Hub, channel string, log *zap.Logger) *RedisRelay {
	r := &RedisRelay{client: client, hub: hub, channel: channel, log: log}
	hub.AddSink(r.forward)
	return r
}

func (r *RedisRelay) forward(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		r.log.Warn("relay: encode event", zap.Error(err))
		return
	}
	if err := r.client.Publish(context.Background(), r.channel, data).Err(); err != nil {
		r.log.Warn("relay: publish event", zap.String("topic", ev.Topic), zap.Error(err))
	}
}

// Run consumes remote events until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	ps := r.client.Subscribe(ctx, r.channel)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return err
	}
	r.log.Info("relay: subscribed", zap.String("channel", r.channel), zap.String("origin", r.hub.Origin()))

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(msg.Payload)
		}
	}
}

func (r *RedisRelay) handle(payload string) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		r.log.Warn("relay: decode event", zap.Error(err))
		return
	}
	if ev.Origin == r.hub.Origin() {
		return
	}
	r.hub.Publish(ev)
}
