package session

import (
	"context"
	"time"

	"github.com/dkeye/VoiceCall/internal/domain"
)

type cmdOp int

const (
	opJoin cmdOp = iota
	opLeave
	opMuteAudio
	opEnableVideo
	opRenewToken
	opForceReset
	opSync
)

func (o cmdOp) String() string {
	switch o {
	case opJoin:
		return "join"
	case opLeave:
		return "leave"
	case opMuteAudio:
		return "mute_audio"
	case opEnableVideo:
		return "enable_video"
	case opRenewToken:
		return "renew_token"
	case opForceReset:
		return "force_reset"
	case opSync:
		return "sync"
	default:
		return "unknown"
	}
}

// JoinRequest carries the parameters of requestJoin.
type JoinRequest struct {
	Channel domain.ChannelName
	Token   string
	// TokenExpiresAt is optional; zero means unknown.
	TokenExpiresAt time.Time
	LocalID        domain.ParticipantID
	Media          domain.InitialMedia
	// Kind defaults to HumanCall.
	Kind domain.Kind
}

type command struct {
	op        cmdOp
	join      JoinRequest
	flag      bool
	token     string
	expiresAt time.Time
	reply     chan cmdResult
}

type cmdResult struct {
	id  domain.SessionID
	err error
}

func (c *Controller) submit(ctx context.Context, cmd *command) (cmdResult, error) {
	cmd.reply = make(chan cmdResult, 1)
	if !c.queue.push(cmd) {
		return cmdResult{}, domain.ErrControllerStopped
	}
	select {
	case res := <-cmd.reply:
		return res, res.err
	case <-ctx.Done():
		return cmdResult{}, ctx.Err()
	case <-c.done:
		// shutdown answers queued commands; prefer that answer if present
		select {
		case res := <-cmd.reply:
			return res, res.err
		default:
			return cmdResult{}, domain.ErrControllerStopped
		}
	}
}

// RequestJoin starts a session. It fails with domain.ErrAlreadyInSession
// unless the controller is idle; the caller must leave first.
func (c *Controller) RequestJoin(ctx context.Context, req JoinRequest) (domain.SessionID, error) {
	res, err := c.submit(ctx, &command{op: opJoin, join: req})
	return res.id, err
}

// RequestLeave ends the current session. Auto-leave and budget expiry take
// the same path.
func (c *Controller) RequestLeave(ctx context.Context) error {
	_, err := c.submit(ctx, &command{op: opLeave})
	return err
}

// SetAudioMuted records the desired mute state and applies it when the
// session is active.
func (c *Controller) SetAudioMuted(ctx context.Context, muted bool) error {
	_, err := c.submit(ctx, &command{op: opMuteAudio, flag: muted})
	return err
}

func (c *Controller) SetVideoEnabled(ctx context.Context, enabled bool) error {
	_, err := c.submit(ctx, &command{op: opEnableVideo, flag: enabled})
	return err
}

// RenewToken hands a refreshed credential to the transport and clears the
// credential-expiring flag.
func (c *Controller) RenewToken(ctx context.Context, token string, expiresAt time.Time) error {
	_, err := c.submit(ctx, &command{op: opRenewToken, token: token, expiresAt: expiresAt})
	return err
}

// ForceReset returns the controller to idle from any state. Timers and
// transport resources are released before it returns.
func (c *Controller) ForceReset(ctx context.Context) error {
	_, err := c.submit(ctx, &command{op: opForceReset})
	return err
}

// sync returns once every item queued before it has been handled.
func (c *Controller) sync(ctx context.Context) error {
	_, err := c.submit(ctx, &command{op: opSync})
	return err
}

func (c *Controller) handleCommand(cmd *command) {
	var res cmdResult
	switch cmd.op {
	case opJoin:
		res.id, res.err = c.requestJoin(cmd.join)
	case opLeave:
		res.err = c.requestLeave()
	case opMuteAudio:
		res.err = c.setAudioMuted(cmd.flag)
	case opEnableVideo:
		res.err = c.setVideoEnabled(cmd.flag)
	case opRenewToken:
		res.err = c.renewToken(cmd.token, cmd.expiresAt)
	case opForceReset:
		c.forceReset()
	case opSync:
	}
	cmd.reply <- res
}
