package push

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/VoiceCall/internal/config"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
)

type RedisConsumer struct {
	client  *redis.Client
	channel string
	sink    Sink
}

func NewRedisConsumer(cfg config.RedisConfig, sink Sink) (*RedisConsumer, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &RedisConsumer{client: client, channel: cfg.Channel, sink: sink}, nil
}

func (r *RedisConsumer) Run(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", r.channel, err)
	}
	log.Info().Str("module", "adapters.push").Str("channel", r.channel).Msg("listening for redis triggers")
	return r.consume(ctx, pubsub.Channel())
}

func (r *RedisConsumer) consume(ctx context.Context, msgs <-chan *redis.Message) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("redis subscription closed")
			}
			dispatch(ctx, r.sink, "redis", []byte(msg.Payload))
		}
	}
}

func (r *RedisConsumer) Close() error {
	return r.client.Close()
}
