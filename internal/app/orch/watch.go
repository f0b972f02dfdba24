package orch

import (
	"context"

	"github.com/dkeye/VoiceCall/internal/app/notify"
	"github.com/rs/zerolog/log"
)

// WatchCredentials refreshes the token whenever the session reports it is
// about to expire. It returns when ctx is done or the controller stops.
func (o *Orchestrator) WatchCredentials(ctx context.Context) {
	sub := o.Sessions.Subscribe(notify.DefaultBuffer)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-sub.Snapshots():
			if !ok {
				return
			}
		case n, ok := <-sub.Notifications():
			if !ok {
				return
			}
			if n.Kind != notify.CredentialExpiringSoon {
				continue
			}
			if err := o.Refresh(ctx); err != nil {
				log.Warn().Err(err).Str("module", "orch").Str("sid", string(n.SessionID)).Msg("proactive refresh failed")
			}
		}
	}
}
