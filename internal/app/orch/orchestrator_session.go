package orch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/VoiceCall/internal/app/notify"
	"github.com/dkeye/VoiceCall/internal/app/session"
	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/dkeye/VoiceCall/internal/metrics"
	"github.com/rs/zerolog/log"
)

// JoinCommand is a join as the outer surfaces express it. Token and LocalID
// may be left empty to have them issued.
type JoinCommand struct {
	Channel   domain.ChannelName   `json:"channel"`
	Token     string               `json:"token,omitempty"`
	ExpiresAt time.Time            `json:"expires_at,omitempty"`
	LocalID   domain.ParticipantID `json:"local_id,omitempty"`
	Media     domain.InitialMedia  `json:"media"`
	// RemoteUser or AgentID name the other side; AgentID makes a budgeted
	// agent session.
	RemoteUser    string `json:"remote_user,omitempty"`
	AgentID       string `json:"agent_id,omitempty"`
	BudgetSeconds int    `json:"budget_seconds,omitempty"`
}

func (cmd JoinCommand) kind() domain.Kind {
	if cmd.AgentID != "" {
		return domain.BudgetedAgentSession{AgentID: cmd.AgentID, MaxActive: time.Duration(cmd.BudgetSeconds) * time.Second}
	}
	return domain.HumanCall{RemoteUserID: cmd.RemoteUser}
}

func (o *Orchestrator) Join(ctx context.Context, cmd JoinCommand) (domain.SessionID, error) {
	if err := domain.ValidateChannel(cmd.Channel); err != nil {
		return "", err
	}
	// The controller has the final say; this only spares the issuer a
	// request that is bound to be rejected.
	if st := o.Sessions.Snapshot().State; st != domain.StateIdle {
		log.Info().Str("module", "orch").Str("channel", string(cmd.Channel)).Str("state", st.String()).Msg("join rejected, session in progress")
		return "", domain.ErrAlreadyInSession
	}
	if cmd.Token == "" {
		cred, err := o.issue(ctx, cmd.Channel)
		if err != nil {
			return "", err
		}
		cmd.Token = cred.Token
		cmd.ExpiresAt = cred.ExpiresAt
		if cmd.LocalID == "" {
			cmd.LocalID = cred.LocalID
		}
	}

	sid, err := o.Sessions.RequestJoin(ctx, session.JoinRequest{
		Channel:        cmd.Channel,
		Token:          cmd.Token,
		TokenExpiresAt: cmd.ExpiresAt,
		LocalID:        cmd.LocalID,
		Media:          cmd.Media,
		Kind:           cmd.kind(),
	})
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("channel", string(cmd.Channel)).Msg("join rejected")
		return sid, err
	}
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("channel", string(cmd.Channel)).Msg("join requested")
	return sid, nil
}

func (o *Orchestrator) Leave(ctx context.Context) error {
	return o.Sessions.RequestLeave(ctx)
}

func (o *Orchestrator) SetAudioMuted(ctx context.Context, muted bool) error {
	return o.Sessions.SetAudioMuted(ctx, muted)
}

func (o *Orchestrator) SetVideoEnabled(ctx context.Context, enabled bool) error {
	return o.Sessions.SetVideoEnabled(ctx, enabled)
}

// Renew hands a caller-supplied token to the session.
func (o *Orchestrator) Renew(ctx context.Context, token string, expiresAt time.Time) error {
	return o.Sessions.RenewToken(ctx, token, expiresAt)
}

func (o *Orchestrator) Reset(ctx context.Context) error {
	return o.Sessions.ForceReset(ctx)
}

func (o *Orchestrator) Snapshot() notify.Snapshot {
	return o.Sessions.Snapshot()
}

func (o *Orchestrator) Subscribe(buffer int) *notify.Subscription {
	return o.Sessions.Subscribe(buffer)
}

// Refresh fetches a new token for the current channel and hands it to the
// session. A caching issuer is told to forget the old token first.
func (o *Orchestrator) Refresh(ctx context.Context) error {
	snap := o.Sessions.Snapshot()
	if snap.Channel == "" {
		return domain.ErrNotInSession
	}
	if inv, ok := o.Credentials.(interface{ Invalidate(domain.ChannelName) }); ok {
		inv.Invalidate(snap.Channel)
	}
	cred, err := o.issue(ctx, snap.Channel)
	if err != nil {
		return err
	}
	if err := o.Sessions.RenewToken(ctx, cred.Token, cred.ExpiresAt); err != nil {
		return err
	}
	log.Info().Str("module", "orch").Str("sid", string(snap.SessionID)).Time("expires_at", cred.ExpiresAt).Msg("credential refreshed")
	return nil
}

// issue asks the backend for a token. Every failure is reported as
// credential-class; the caller decides whether to try again.
func (o *Orchestrator) issue(ctx context.Context, channel domain.ChannelName) (core.Credential, error) {
	if o.Credentials == nil {
		metrics.CredentialRequests.WithLabelValues("unavailable").Inc()
		return core.Credential{}, fmt.Errorf("%w: no credential issuer", domain.ErrCredentialExpired)
	}
	cred, err := o.Credentials.RequestToken(ctx, channel)
	if err != nil {
		metrics.CredentialRequests.WithLabelValues("error").Inc()
		if !errors.Is(err, domain.ErrCredentialExpired) {
			err = fmt.Errorf("%w: %w", domain.ErrCredentialExpired, err)
		}
		log.Error().Err(err).Str("module", "orch").Str("channel", string(channel)).Msg("token request failed")
		return core.Credential{}, err
	}
	metrics.CredentialRequests.WithLabelValues("ok").Inc()
	return cred, nil
}
