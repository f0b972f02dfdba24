package orch

import (
	"context"
	"time"

	"github.com/dkeye/VoiceCall/internal/app/notify"
	"github.com/dkeye/VoiceCall/internal/app/session"
	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/domain"
)

// Sessions is the command surface of the session controller.
type Sessions interface {
	RequestJoin(ctx context.Context, req session.JoinRequest) (domain.SessionID, error)
	RequestLeave(ctx context.Context) error
	SetAudioMuted(ctx context.Context, muted bool) error
	SetVideoEnabled(ctx context.Context, enabled bool) error
	RenewToken(ctx context.Context, token string, expiresAt time.Time) error
	ForceReset(ctx context.Context) error
	Subscribe(buffer int) *notify.Subscription
	Snapshot() notify.Snapshot
}

var _ Sessions = (*session.Controller)(nil)

// Orchestrator sits between the outer surfaces (HTTP, push triggers) and the
// session controller. It fetches credentials and throttles incoming
// triggers; all session state stays in the controller.
type Orchestrator struct {
	Sessions    Sessions
	Credentials core.CredentialIssuer
	Limiter     *RateLimiter
}
