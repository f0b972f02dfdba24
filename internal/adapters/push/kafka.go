package push

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/dkeye/VoiceCall/internal/config"
	"github.com/rs/zerolog/log"
)

type KafkaConsumer struct {
	group   sarama.ConsumerGroup
	topic   string
	handler *claimHandler
}

func NewKafkaConsumer(cfg config.KafkaConfig, sink Sink) (*KafkaConsumer, error) {
	sc := sarama.NewConfig()
	sc.Consumer.Return.Errors = true
	// Triggers that arrived while we were down are stale calls.
	sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	sc.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	sc.Consumer.Group.Session.Timeout = 10 * time.Second
	sc.Consumer.Group.Heartbeat.Interval = 3 * time.Second
	sc.Version = sarama.V2_8_0_0

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, sc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer group: %w", err)
	}
	return &KafkaConsumer{group: group, topic: cfg.Topic, handler: &claimHandler{sink: sink}}, nil
}

func (k *KafkaConsumer) Run(ctx context.Context) error {
	logger := log.With().Str("module", "adapters.push").Str("topic", k.topic).Logger()
	go func() {
		for err := range k.group.Errors() {
			logger.Warn().Err(err).Msg("consumer group error")
		}
	}()
	logger.Info().Msg("listening for kafka triggers")
	for {
		// Consume returns on every rebalance.
		if err := k.group.Consume(ctx, []string{k.topic}, k.handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return fmt.Errorf("kafka consume %s: %w", k.topic, err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (k *KafkaConsumer) Close() error {
	return k.group.Close()
}

type claimHandler struct {
	sink Sink
}

func (h *claimHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *claimHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *claimHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok || msg == nil {
				return nil
			}
			dispatch(sess.Context(), h.sink, "kafka", msg.Value)
			sess.MarkMessage(msg, "")
		case <-sess.Context().Done():
			return nil
		}
	}
}
