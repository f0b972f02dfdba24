// Package push receives backend-initiated session triggers from a message
// broker and hands them to the orchestrator.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/VoiceCall/internal/app/orch"
	"github.com/dkeye/VoiceCall/internal/config"
	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/rs/zerolog/log"
)

// Sink accepts decoded triggers. *orch.Orchestrator satisfies it.
type Sink interface {
	OnIncoming(ctx context.Context, source string, req orch.IncomingRequest) (domain.SessionID, error)
}

var _ Sink = (*orch.Orchestrator)(nil)

// Consumer runs until ctx is cancelled or the broker connection fails.
type Consumer interface {
	Run(ctx context.Context) error
	Close() error
}

// New builds the consumer selected by cfg.Type. It returns nil for "none".
func New(cfg config.PushConfig, sink Sink) (Consumer, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "redis":
		return NewRedisConsumer(cfg.Redis, sink)
	case "kafka":
		return NewKafkaConsumer(cfg.Kafka, sink)
	default:
		return nil, fmt.Errorf("unknown push type %q", cfg.Type)
	}
}

func decode(payload []byte) (orch.IncomingRequest, error) {
	var req orch.IncomingRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return req, fmt.Errorf("decode trigger: %w", err)
	}
	if err := domain.ValidateChannel(req.Channel); err != nil {
		return req, fmt.Errorf("decode trigger: %w", err)
	}
	return req, nil
}

// dispatch decodes one payload and passes it on. Bad payloads and rejected
// triggers are logged and dropped; a broker message is never redelivered
// because of them.
func dispatch(ctx context.Context, sink Sink, source string, payload []byte) {
	logger := log.With().Str("module", "adapters.push").Str("source", source).Logger()
	req, err := decode(payload)
	if err != nil {
		logger.Warn().Err(err).Msg("dropping malformed trigger")
		return
	}
	if _, err := sink.OnIncoming(ctx, source, req); err != nil {
		ev := logger.Info()
		if !errors.Is(err, domain.ErrAlreadyInSession) && !errors.Is(err, orch.ErrRateLimited) {
			ev = logger.Warn()
		}
		ev.Err(err).Str("from", req.From).Msg("trigger not accepted")
	}
}
