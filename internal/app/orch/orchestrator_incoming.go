package orch

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/dkeye/VoiceCall/internal/metrics"
	"github.com/rs/zerolog/log"
)

var ErrRateLimited = errors.New("incoming trigger rate limited")

// IncomingRequest is a backend-pushed "join this session" trigger. How it
// arrived (pub/sub, queue) does not matter here.
type IncomingRequest struct {
	JoinCommand
	// From identifies the sender for throttling.
	From   string    `json:"from"`
	SentAt time.Time `json:"sent_at,omitempty"`
}

// OnIncoming turns a trigger into a join. A trigger that arrives while a
// session is in progress is rejected, never queued.
func (o *Orchestrator) OnIncoming(ctx context.Context, source string, req IncomingRequest) (domain.SessionID, error) {
	metrics.IncomingTriggers.WithLabelValues(source).Inc()
	logger := log.With().Str("module", "orch").Str("source", source).Str("from", req.From).Str("channel", string(req.Channel)).Logger()

	if o.Limiter != nil && !o.Limiter.Allow(req.From) {
		logger.Warn().Msg("incoming trigger throttled")
		return "", ErrRateLimited
	}
	sid, err := o.Join(ctx, req.JoinCommand)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyInSession) {
			logger.Info().Msg("incoming trigger ignored, session in progress")
		}
		return "", err
	}
	logger.Info().Str("sid", string(sid)).Msg("incoming trigger accepted")
	return sid, nil
}
