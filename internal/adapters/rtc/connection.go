package rtc

import (
	"sync"
	"time"

	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const opusPayloadType = 111

// opusSilence is a single 20ms Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// PeerConnection is the media half of the engine: one pion peer connection
// carrying a local audio and a local video track.
type PeerConnection struct {
	pc    *webrtc.PeerConnection
	label string

	audio       *webrtc.TrackLocalStaticRTP
	audioSender *webrtc.RTPSender
	video       *webrtc.TrackLocalStaticRTP
	videoSender *webrtc.RTPSender

	mu         sync.Mutex
	audioMuted bool
	videoOn    bool
	seq        uint16
	ts         uint32

	onICE   func(webrtc.ICECandidateInit)
	onState func(core.ConnectionState, string)
}

func DefaultWebRTCConfig(iceServers []string) webrtc.Configuration {
	if len(iceServers) == 0 {
		iceServers = []string{"stun:stun.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: iceServers}},
	}
}

func NewPeerConnection(cfg webrtc.Configuration, label string, media domain.InitialMedia) (*PeerConnection, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	c := &PeerConnection{pc: pc, label: label, audioMuted: media.AudioMuted, videoOn: media.VideoEnabled}

	c.audio, err = webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}, "audio", label)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	if c.audioSender, err = pc.AddTrack(c.audio); err != nil {
		_ = pc.Close()
		return nil, err
	}
	c.video, err = webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}, "video", label)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	if c.videoSender, err = pc.AddTrack(c.video); err != nil {
		_ = pc.Close()
		return nil, err
	}

	if media.AudioMuted {
		_ = c.audioSender.ReplaceTrack(nil)
	}
	if !media.VideoEnabled {
		_ = c.videoSender.ReplaceTrack(nil)
	}
	return c, nil
}

// Start wires pion callbacks to the handlers set with OnICECandidate and
// OnStateChange.
func (c *PeerConnection) Start() {
	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("peer", c.label).Str("peer_connection_state", s.String()).Msg("Peer state")
		if c.onState == nil {
			return
		}
		switch s {
		case webrtc.PeerConnectionStateConnecting:
			c.onState(core.ConnConnecting, s.String())
		case webrtc.PeerConnectionStateConnected:
			c.onState(core.ConnConnected, s.String())
		case webrtc.PeerConnectionStateDisconnected:
			c.onState(core.ConnDisconnected, s.String())
		case webrtc.PeerConnectionStateFailed:
			c.onState(core.ConnFailed, s.String())
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil && c.onICE != nil {
			c.onICE(cand.ToJSON())
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("peer", c.label).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		go func() {
			for {
				if _, _, err := track.ReadRTP(); err != nil {
					return
				}
			}
		}()
	})
}

func (c *PeerConnection) CreateOffer() (*webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	return c.pc.LocalDescription(), nil
}

func (c *PeerConnection) ApplyAnswer(sdp string) error {
	return c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
}

func (c *PeerConnection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

// SetAudioMuted detaches or re-attaches the local audio track.
func (c *PeerConnection) SetAudioMuted(muted bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if muted == c.audioMuted {
		return nil
	}
	var track webrtc.TrackLocal
	if !muted {
		track = c.audio
	}
	if err := c.audioSender.ReplaceTrack(track); err != nil {
		return err
	}
	c.audioMuted = muted
	return nil
}

func (c *PeerConnection) SetVideoEnabled(enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if enabled == c.videoOn {
		return nil
	}
	var track webrtc.TrackLocal
	if enabled {
		track = c.video
	}
	if err := c.videoSender.ReplaceTrack(track); err != nil {
		return err
	}
	c.videoOn = enabled
	return nil
}

// WriteSilence pushes one silent audio frame so the media path stays warm.
// It is a no-op while muted.
func (c *PeerConnection) WriteSilence() error {
	c.mu.Lock()
	if c.audioMuted {
		c.mu.Unlock()
		return nil
	}
	c.seq++
	c.ts += 960
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    opusPayloadType,
			SequenceNumber: c.seq,
			Timestamp:      c.ts,
		},
		Payload: opusSilence,
	}
	c.mu.Unlock()
	return c.audio.WriteRTP(pkt)
}

func (c *PeerConnection) Close() {
	if c.pc == nil {
		return
	}
	start := time.Now()
	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "webrtc").Str("peer", c.label).Msg("close error")
		return
	}
	log.Info().Str("module", "webrtc").Str("peer", c.label).Dur("took", time.Since(start)).Msg("closed")
}

func (c *PeerConnection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.onICE = fn
}

// OnStateChange receives the peer state mapped onto engine connection states.
func (c *PeerConnection) OnStateChange(fn func(core.ConnectionState, string)) {
	c.onState = fn
}
