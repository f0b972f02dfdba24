// Package rtc is the transport engine: a signaling websocket plus an
// optional pion peer connection, reporting everything through
// core.EventHandler.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/dkeye/VoiceCall/internal/adapters/signal"
	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrEngineClosed = errors.New("engine closed")
	ErrNotConnected = errors.New("not connected")
)

const DefaultDialTimeout = 10 * time.Second

type Config struct {
	SignalURL    string
	ICEServers   []string
	EnableMedia  bool
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
}

// Engine implements core.Transport. Join and Leave return as soon as the
// request is on its way; outcomes arrive as events.
type Engine struct {
	cfg    Config
	logger zerolog.Logger

	mu      sync.Mutex
	handler core.EventHandler
	epoch   uint64
	client  *signal.Client
	peer    *PeerConnection
	// cancelDial aborts the connect of the current epoch.
	cancelDial context.CancelFunc
	leaving    bool
	closed     bool
}

var _ core.Transport = (*Engine)(nil)

func NewEngine(cfg Config) (*Engine, error) {
	if _, err := url.Parse(cfg.SignalURL); err != nil || cfg.SignalURL == "" {
		return nil, fmt.Errorf("signal url %q: invalid", cfg.SignalURL)
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	return &Engine{
		cfg:     cfg,
		logger:  log.With().Str("module", "rtc").Logger(),
		handler: nopHandler{},
	}, nil
}

func (e *Engine) SetEventHandler(h core.EventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if h == nil {
		h = nopHandler{}
	}
	e.handler = h
}

func (e *Engine) events() core.EventHandler {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handler
}

// current reports whether epoch still names the live connection.
func (e *Engine) current(epoch uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.closed && e.epoch == epoch
}

func (e *Engine) Join(ctx context.Context, p core.JoinParams) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}
	e.epoch++
	epoch := e.epoch
	e.leaving = false
	if e.cancelDial != nil {
		e.cancelDial()
	}
	ctx, cancel := context.WithCancel(ctx)
	e.cancelDial = cancel
	oldClient, oldPeer := e.client, e.peer
	e.client, e.peer = nil, nil
	e.mu.Unlock()

	// the previous connection's callbacks are already stale by epoch
	if oldClient != nil {
		oldClient.Close()
	}
	if oldPeer != nil {
		oldPeer.Close()
	}

	go e.connect(ctx, epoch, p)
	return nil
}

func (e *Engine) connect(ctx context.Context, epoch uint64, p core.JoinParams) {
	logger := e.logger.With().Uint64("epoch", epoch).Str("channel", string(p.Channel)).Logger()
	dialCtx, cancel := context.WithTimeout(ctx, e.cfg.DialTimeout)
	defer cancel()

	client, err := signal.Dial(dialCtx, e.cfg.SignalURL, signal.Options{SendBuffer: e.cfg.SendBuffer, WriteTimeout: e.cfg.WriteTimeout},
		func(m signal.Message) { e.onMessage(epoch, m) },
		func(err error) { e.onSignalClosed(epoch, err) },
	)
	if err != nil {
		logger.Warn().Err(err).Msg("signal dial failed")
		if e.current(epoch) {
			e.events().OnError(core.ErrCodeNetwork, err.Error())
		}
		return
	}

	var peer *PeerConnection
	if e.cfg.EnableMedia {
		peer, err = NewPeerConnection(DefaultWebRTCConfig(e.cfg.ICEServers), string(p.LocalID), p.Media)
		if err != nil {
			logger.Error().Err(err).Msg("webrtc new pc")
			client.Close()
			if e.current(epoch) {
				e.events().OnError(core.ErrCodeGeneric, err.Error())
			}
			return
		}
		peer.OnICECandidate(func(ci webrtc.ICECandidateInit) {
			_ = client.Send(signal.Message{
				Type:          signal.TypeCandidate,
				Candidate:     ci.Candidate,
				SDPMid:        ci.SDPMid,
				SDPMLineIndex: ci.SDPMLineIndex,
			})
		})
		peer.OnStateChange(func(s core.ConnectionState, reason string) {
			if e.current(epoch) {
				e.events().OnConnectionStateChanged(s, reason)
			}
		})
		peer.Start()
	}

	e.mu.Lock()
	if e.closed || e.epoch != epoch {
		e.mu.Unlock()
		client.Close()
		if peer != nil {
			peer.Close()
		}
		return
	}
	e.client, e.peer = client, peer
	e.mu.Unlock()

	err = client.Send(signal.Message{
		Type:    signal.TypeJoin,
		Channel: string(p.Channel),
		UID:     string(p.LocalID),
		Token:   p.Token,
		Muted:   signal.Bool(p.Media.AudioMuted),
		Enabled: signal.Bool(p.Media.VideoEnabled),
	})
	if err == nil && peer != nil {
		var offer *webrtc.SessionDescription
		if offer, err = peer.CreateOffer(); err == nil {
			err = client.Send(signal.Message{Type: signal.TypeOffer, SDP: offer.SDP})
		}
	}
	if err != nil {
		logger.Error().Err(err).Msg("join request not sent")
		e.events().OnError(core.ErrCodeGeneric, err.Error())
		return
	}
	logger.Debug().Msg("join sent")
}

func (e *Engine) onMessage(epoch uint64, m signal.Message) {
	if !e.current(epoch) {
		return
	}
	h := e.events()
	switch m.Type {
	case signal.TypeJoined:
		h.OnJoinSucceeded(domain.ChannelName(m.Channel), domain.ParticipantID(m.UID))
	case signal.TypeLeft:
		e.dropConnection(epoch)
		h.OnLeaveCompleted()
	case signal.TypeMemberJoined:
		h.OnParticipantJoined(domain.ParticipantID(m.UID))
	case signal.TypeMemberLeft:
		h.OnParticipantLeft(domain.ParticipantID(m.UID), m.Reason)
	case signal.TypeConnection:
		h.OnConnectionStateChanged(parseConnState(m.State), m.Reason)
	case signal.TypeTokenExpiry:
		h.OnTokenExpiringSoon()
	case signal.TypeAudioState:
		if m.Muted != nil {
			h.OnLocalAudioChanged(*m.Muted)
		}
	case signal.TypeVideoState:
		if m.Enabled != nil {
			h.OnLocalVideoChanged(*m.Enabled)
		}
	case signal.TypeError:
		h.OnError(core.ErrorCode(m.Code), m.Reason)
	case signal.TypeAnswer:
		if peer := e.currentPeer(); peer != nil {
			if err := peer.ApplyAnswer(m.SDP); err != nil {
				e.logger.Error().Err(err).Msg("webrtc apply answer")
			}
		}
	case signal.TypeCandidate:
		if peer := e.currentPeer(); peer != nil {
			ci := webrtc.ICECandidateInit{Candidate: m.Candidate, SDPMid: m.SDPMid, SDPMLineIndex: m.SDPMLineIndex}
			if err := peer.AddICECandidate(ci); err != nil {
				e.logger.Error().Err(err).Msg("add ice candidate")
			}
		}
	case signal.TypePong:
	default:
		e.logger.Warn().Str("type", m.Type).Msg("unknown signal")
	}
}

func (e *Engine) onSignalClosed(epoch uint64, err error) {
	e.mu.Lock()
	live := !e.closed && e.epoch == epoch
	leaving := e.leaving
	if live {
		e.client = nil
	}
	e.mu.Unlock()
	if !live || err == nil {
		return
	}
	if leaving {
		// the server hung up instead of confirming
		e.dropConnection(epoch)
		e.events().OnLeaveCompleted()
		return
	}
	e.events().OnConnectionStateChanged(core.ConnDisconnected, err.Error())
}

func (e *Engine) currentPeer() *PeerConnection {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peer
}

func (e *Engine) dropConnection(epoch uint64) {
	e.mu.Lock()
	if e.epoch != epoch {
		e.mu.Unlock()
		return
	}
	client, peer := e.client, e.peer
	e.client, e.peer = nil, nil
	e.mu.Unlock()
	if client != nil {
		client.Close()
	}
	if peer != nil {
		peer.Close()
	}
}

// Leave asks the server to remove us. Without a live connection there is
// nothing to leave: a dial still in flight is abandoned and completion is
// reported straight away.
func (e *Engine) Leave(context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}
	e.leaving = true
	client, epoch := e.client, e.epoch
	if client == nil {
		// connect of this epoch must not install its client
		e.epoch++
		if e.cancelDial != nil {
			e.cancelDial()
			e.cancelDial = nil
		}
	}
	h := e.handler
	e.mu.Unlock()

	if client == nil {
		h.OnLeaveCompleted()
		return nil
	}
	if err := client.Send(signal.Message{Type: signal.TypeLeave}); err != nil {
		e.dropConnection(epoch)
		h.OnLeaveCompleted()
	}
	return nil
}

func (e *Engine) live() (*signal.Client, *PeerConnection, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, nil, ErrEngineClosed
	}
	if e.client == nil {
		return nil, nil, ErrNotConnected
	}
	return e.client, e.peer, nil
}

func (e *Engine) MuteLocalAudio(muted bool) error {
	client, peer, err := e.live()
	if err != nil {
		return err
	}
	if peer != nil {
		if err := peer.SetAudioMuted(muted); err != nil {
			return err
		}
	}
	return client.Send(signal.Message{Type: signal.TypeMute, Muted: signal.Bool(muted)})
}

func (e *Engine) EnableLocalVideo(enabled bool) error {
	client, peer, err := e.live()
	if err != nil {
		return err
	}
	if peer != nil {
		if err := peer.SetVideoEnabled(enabled); err != nil {
			return err
		}
	}
	return client.Send(signal.Message{Type: signal.TypeVideo, Enabled: signal.Bool(enabled)})
}

func (e *Engine) KeepAlive() error {
	client, peer, err := e.live()
	if err != nil {
		return err
	}
	if peer != nil {
		if err := peer.WriteSilence(); err != nil {
			e.logger.Debug().Err(err).Msg("silence frame")
		}
	}
	return client.Send(signal.Message{Type: signal.TypePing})
}

func (e *Engine) RenewToken(token string) error {
	client, _, err := e.live()
	if err != nil {
		return err
	}
	return client.Send(signal.Message{Type: signal.TypeRenew, Token: token})
}

func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	if e.cancelDial != nil {
		e.cancelDial()
		e.cancelDial = nil
	}
	client, peer := e.client, e.peer
	e.client, e.peer = nil, nil
	e.mu.Unlock()

	if client != nil {
		client.Close()
	}
	if peer != nil {
		peer.Close()
	}
	e.logger.Info().Msg("engine closed")
	return nil
}

func parseConnState(s string) core.ConnectionState {
	switch s {
	case "connecting":
		return core.ConnConnecting
	case "connected":
		return core.ConnConnected
	case "reconnecting":
		return core.ConnReconnecting
	case "failed":
		return core.ConnFailed
	default:
		return core.ConnDisconnected
	}
}

type nopHandler struct{}

func (nopHandler) OnParticipantJoined(domain.ParticipantID)                 {}
func (nopHandler) OnParticipantLeft(domain.ParticipantID, string)           {}
func (nopHandler) OnConnectionStateChanged(core.ConnectionState, string)    {}
func (nopHandler) OnJoinSucceeded(domain.ChannelName, domain.ParticipantID) {}
func (nopHandler) OnLeaveCompleted()                                        {}
func (nopHandler) OnTokenExpiringSoon()                                     {}
func (nopHandler) OnError(core.ErrorCode, string)                           {}
func (nopHandler) OnLocalAudioChanged(bool)                                 {}
func (nopHandler) OnLocalVideoChanged(bool)                                 {}
