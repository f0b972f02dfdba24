package rtc

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/VoiceCall/internal/adapters/signal"
	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	events chan string
}

func newRecorder() *recorder { return &recorder{events: make(chan string, 64)} }

func (r *recorder) OnParticipantJoined(id domain.ParticipantID) {
	r.events <- "joined:" + string(id)
}

func (r *recorder) OnParticipantLeft(id domain.ParticipantID, reason string) {
	r.events <- "left:" + string(id) + ":" + reason
}

func (r *recorder) OnConnectionStateChanged(s core.ConnectionState, _ string) {
	r.events <- "conn:" + s.String()
}

func (r *recorder) OnJoinSucceeded(ch domain.ChannelName, uid domain.ParticipantID) {
	r.events <- "join_ok:" + string(ch) + ":" + string(uid)
}

func (r *recorder) OnLeaveCompleted()    { r.events <- "leave_ok" }
func (r *recorder) OnTokenExpiringSoon() { r.events <- "token_expiring" }

func (r *recorder) OnError(code core.ErrorCode, _ string) {
	r.events <- fmt.Sprintf("error:%d", code)
}

func (r *recorder) OnLocalAudioChanged(muted bool) {
	r.events <- fmt.Sprintf("audio:%t", muted)
}

func (r *recorder) OnLocalVideoChanged(enabled bool) {
	r.events <- fmt.Sprintf("video:%t", enabled)
}

func (r *recorder) next(t *testing.T) string {
	t.Helper()
	select {
	case ev := <-r.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
		return ""
	}
}

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// signalServer plays the server side of the protocol for one channel.
func signalServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			var m signal.Message
			if err := ws.ReadJSON(&m); err != nil {
				return
			}
			switch m.Type {
			case signal.TypeJoin:
				if m.Token == "bad" {
					_ = ws.WriteJSON(signal.Message{Type: signal.TypeError, Code: int(core.ErrCodeInvalidToken), Reason: "token rejected"})
					continue
				}
				_ = ws.WriteJSON(signal.Message{Type: signal.TypeJoined, Channel: m.Channel, UID: m.UID})
				_ = ws.WriteJSON(signal.Message{Type: signal.TypeMemberJoined, UID: "7"})
			case signal.TypeMute:
				_ = ws.WriteJSON(signal.Message{Type: signal.TypeAudioState, Muted: m.Muted})
			case signal.TypeVideo:
				_ = ws.WriteJSON(signal.Message{Type: signal.TypeVideoState, Enabled: m.Enabled})
			case signal.TypeRenew:
				_ = ws.WriteJSON(signal.Message{Type: signal.TypeTokenExpiry})
			case signal.TypePing:
				_ = ws.WriteJSON(signal.Message{Type: signal.TypeMemberLeft, UID: "7", Reason: "quit"})
			case signal.TypeLeave:
				_ = ws.WriteJSON(signal.Message{Type: signal.TypeLeft})
			case "drop":
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestEngine(t *testing.T, srv *httptest.Server) (*Engine, *recorder) {
	t.Helper()
	e, err := NewEngine(Config{SignalURL: "ws" + strings.TrimPrefix(srv.URL, "http")})
	require.NoError(t, err)
	rec := newRecorder()
	e.SetEventHandler(rec)
	t.Cleanup(func() { _ = e.Close() })
	return e, rec
}

func joinParams(token string) core.JoinParams {
	return core.JoinParams{Channel: "ch1", Token: token, LocalID: "42", Media: domain.InitialMedia{AudioMuted: true}}
}

func TestEngineSessionFlow(t *testing.T) {
	e, rec := newTestEngine(t, signalServer(t))

	require.NoError(t, e.Join(context.Background(), joinParams("tok")))
	assert.Equal(t, "join_ok:ch1:42", rec.next(t))
	assert.Equal(t, "joined:7", rec.next(t))

	require.NoError(t, e.MuteLocalAudio(false))
	assert.Equal(t, "audio:false", rec.next(t))
	require.NoError(t, e.EnableLocalVideo(true))
	assert.Equal(t, "video:true", rec.next(t))
	require.NoError(t, e.RenewToken("tok2"))
	assert.Equal(t, "token_expiring", rec.next(t))
	require.NoError(t, e.KeepAlive())
	assert.Equal(t, "left:7:quit", rec.next(t))

	require.NoError(t, e.Leave(context.Background()))
	assert.Equal(t, "leave_ok", rec.next(t))
	assert.ErrorIs(t, e.KeepAlive(), ErrNotConnected)
}

func TestEngineJoinRejected(t *testing.T) {
	e, rec := newTestEngine(t, signalServer(t))

	require.NoError(t, e.Join(context.Background(), joinParams("bad")))
	assert.Equal(t, fmt.Sprintf("error:%d", core.ErrCodeInvalidToken), rec.next(t))
}

func TestEngineReportsDisconnect(t *testing.T) {
	e, rec := newTestEngine(t, signalServer(t))
	require.NoError(t, e.Join(context.Background(), joinParams("tok")))
	rec.next(t)
	rec.next(t)

	client, _, err := e.live()
	require.NoError(t, err)
	require.NoError(t, client.Send(signal.Message{Type: "drop"}))
	assert.Equal(t, "conn:disconnected", rec.next(t))

	// leaving a dead connection completes at once
	require.NoError(t, e.Leave(context.Background()))
	assert.Equal(t, "leave_ok", rec.next(t))
}

func TestEngineDialFailure(t *testing.T) {
	e, err := NewEngine(Config{SignalURL: "ws://127.0.0.1:1/signal", DialTimeout: time.Second})
	require.NoError(t, err)
	rec := newRecorder()
	e.SetEventHandler(rec)

	require.NoError(t, e.Join(context.Background(), joinParams("tok")))
	assert.Equal(t, fmt.Sprintf("error:%d", core.ErrCodeNetwork), rec.next(t))

	require.NoError(t, e.Close())
	assert.ErrorIs(t, e.Join(context.Background(), joinParams("tok")), ErrEngineClosed)
}

func TestEngineLeaveWhileDialingAbandonsJoin(t *testing.T) {
	gate := make(chan struct{})
	var joins atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-gate
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			var m signal.Message
			if err := ws.ReadJSON(&m); err != nil {
				return
			}
			if m.Type == signal.TypeJoin {
				joins.Add(1)
				_ = ws.WriteJSON(signal.Message{Type: signal.TypeJoined, Channel: m.Channel, UID: m.UID})
			}
		}
	}))
	t.Cleanup(srv.Close)
	var once sync.Once
	release := func() { once.Do(func() { close(gate) }) }
	t.Cleanup(release)

	e, rec := newTestEngine(t, srv)
	require.NoError(t, e.Join(context.Background(), joinParams("tok")))
	require.NoError(t, e.Leave(context.Background()))
	assert.Equal(t, "leave_ok", rec.next(t))

	release()
	assert.Never(t, func() bool { return joins.Load() > 0 }, 300*time.Millisecond, 10*time.Millisecond)
	_, _, err := e.live()
	assert.ErrorIs(t, err, ErrNotConnected)
	select {
	case ev := <-rec.events:
		t.Fatalf("unexpected event after leave: %s", ev)
	default:
	}
}

func TestNewEngineRequiresURL(t *testing.T) {
	_, err := NewEngine(Config{})
	assert.Error(t, err)
}

func TestLoopbackConfirmsInOrder(t *testing.T) {
	l := NewLoopback()
	rec := newRecorder()
	l.SetEventHandler(rec)

	assert.ErrorIs(t, l.MuteLocalAudio(true), ErrNotConnected)
	require.NoError(t, l.Join(context.Background(), joinParams("tok")))
	require.NoError(t, l.MuteLocalAudio(true))
	require.NoError(t, l.MuteLocalAudio(false))
	require.NoError(t, l.Leave(context.Background()))

	assert.Equal(t, "join_ok:ch1:42", rec.next(t))
	assert.Equal(t, "audio:true", rec.next(t))
	assert.Equal(t, "audio:false", rec.next(t))
	assert.Equal(t, "leave_ok", rec.next(t))

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
}

func TestPeerConnectionOffersBothTracks(t *testing.T) {
	pc, err := NewPeerConnection(DefaultWebRTCConfig(nil), "42", domain.InitialMedia{AudioMuted: true})
	require.NoError(t, err)
	defer pc.Close()
	pc.Start()

	offer, err := pc.CreateOffer()
	require.NoError(t, err)
	assert.Contains(t, offer.SDP, "m=audio")
	assert.Contains(t, offer.SDP, "m=video")

	require.NoError(t, pc.WriteSilence())
	require.NoError(t, pc.SetAudioMuted(false))
	require.NoError(t, pc.SetVideoEnabled(true))
	require.NoError(t, pc.WriteSilence())
}
