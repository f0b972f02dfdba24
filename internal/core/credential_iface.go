package core

import (
	"context"
	"time"

	"github.com/dkeye/VoiceCall/internal/domain"
)

// Credential is what the credential-issuing backend hands out for a channel.
type Credential struct {
	Token     string
	LocalID   domain.ParticipantID
	ExpiresAt time.Time
}

// CredentialIssuer fetches channel tokens. Quota and auth failures wrap
// domain.ErrCredentialExpired.
type CredentialIssuer interface {
	RequestToken(ctx context.Context, channel domain.ChannelName) (Credential, error)
}
