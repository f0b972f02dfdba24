package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/VoiceCall/internal/app"
	"github.com/dkeye/VoiceCall/internal/app/notify"
	"github.com/dkeye/VoiceCall/internal/app/orch"
	"github.com/dkeye/VoiceCall/internal/config"
	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu       sync.Mutex
	notifier *notify.Notifier
	joinErr  error
	joins    []orch.JoinCommand
	incoming []orch.IncomingRequest
	muted    []bool
	renewed  []string
	refresh  int
	err      error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{notifier: notify.New(app.SimplePolicy{})}
}

func (f *fakeAPI) Join(_ context.Context, cmd orch.JoinCommand) (domain.SessionID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := domain.ValidateChannel(cmd.Channel); err != nil {
		return "", err
	}
	if f.joinErr != nil {
		return "", f.joinErr
	}
	f.joins = append(f.joins, cmd)
	return "s1", nil
}

func (f *fakeAPI) OnIncoming(_ context.Context, _ string, req orch.IncomingRequest) (domain.SessionID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.incoming = append(f.incoming, req)
	return "s2", f.err
}

func (f *fakeAPI) Leave(context.Context) error { return f.err }

func (f *fakeAPI) SetAudioMuted(_ context.Context, muted bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.muted = append(f.muted, muted)
	return f.err
}

func (f *fakeAPI) SetVideoEnabled(context.Context, bool) error { return f.err }

func (f *fakeAPI) Renew(_ context.Context, token string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renewed = append(f.renewed, token)
	return f.err
}

func (f *fakeAPI) Refresh(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh++
	return f.err
}

func (f *fakeAPI) Reset(context.Context) error { return nil }

func (f *fakeAPI) Snapshot() notify.Snapshot { return f.notifier.Latest() }

func (f *fakeAPI) Subscribe(buffer int) *notify.Subscription { return f.notifier.Subscribe(buffer) }

func testConfig() *config.Config {
	return &config.Config{
		Mode:    "test",
		Secret:  "secret",
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
		Session: config.SessionConfig{NotifyBuffer: 8},
	}
}

func newTestRouter(t *testing.T, api SessionAPI) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	return SetupRouter(testCtx(t), testConfig(), api)
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	return doWith(r, method, path, body, nil)
}

func doWith(r http.Handler, method, path, body string, cookies []*http.Cookie) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJoinEndpoint(t *testing.T) {
	api := newFakeAPI()
	r := newTestRouter(t, api)

	w := do(r, http.MethodPost, "/api/session/join", `{"channel":"ch1","token":"tok","media":{"audio_muted":true}}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"session_id":"s1"}`, w.Body.String())
	require.Len(t, api.joins, 1)
	assert.True(t, api.joins[0].Media.AudioMuted)

	var cookies []string
	for _, c := range w.Result().Cookies() {
		cookies = append(cookies, c.Name)
	}
	assert.Contains(t, cookies, "ct")
	assert.Contains(t, cookies, "VoiceCallSessions")
}

func TestLeaveChecksCookieSession(t *testing.T) {
	api := newFakeAPI()
	r := newTestRouter(t, api)

	w := do(r, http.MethodPost, "/api/session/join", `{"channel":"ch1","token":"tok"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	cookies := w.Result().Cookies()

	// the session this client started is no longer the current one
	api.notifier.PublishSnapshot(notify.Snapshot{SessionID: "s9", State: domain.StateActive})
	assert.Equal(t, http.StatusConflict, doWith(r, http.MethodPost, "/api/session/leave", "", cookies).Code)
	assert.Equal(t, http.StatusAccepted, do(r, http.MethodPost, "/api/session/leave", "").Code)

	api.notifier.PublishSnapshot(notify.Snapshot{SessionID: "s1", State: domain.StateActive})
	assert.Equal(t, http.StatusAccepted, doWith(r, http.MethodPost, "/api/session/leave", "", cookies).Code)
}

func TestErrorStatuses(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"busy", domain.ErrAlreadyInSession, http.StatusConflict},
		{"credential", domain.ErrCredentialExpired, http.StatusUnauthorized},
		{"throttled", orch.ErrRateLimited, http.StatusTooManyRequests},
		{"stopped", domain.ErrControllerStopped, http.StatusServiceUnavailable},
		{"other", assert.AnError, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			api := newFakeAPI()
			api.joinErr = tc.err
			r := newTestRouter(t, api)
			w := do(r, http.MethodPost, "/api/session/join", `{"channel":"ch1"}`)
			assert.Equal(t, tc.status, w.Code)
		})
	}

	r := newTestRouter(t, newFakeAPI())
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/api/session/join", `{"channel":""}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/api/session/join", `{`).Code)
}

func TestMuteRequiresValue(t *testing.T) {
	api := newFakeAPI()
	r := newTestRouter(t, api)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/api/session/mute", `{}`).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/api/session/mute", `{"muted":false}`).Code)
	assert.Equal(t, []bool{false}, api.muted)

	api.err = domain.ErrNotInSession
	assert.Equal(t, http.StatusConflict, do(r, http.MethodPost, "/api/session/video", `{"enabled":true}`).Code)
}

func TestTokenEndpoint(t *testing.T) {
	api := newFakeAPI()
	r := newTestRouter(t, api)

	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/api/session/token", "").Code)
	assert.Equal(t, 1, api.refresh)

	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/api/session/token", `{"token":"fresh"}`).Code)
	assert.Equal(t, []string{"fresh"}, api.renewed)
}

func TestIncomingEndpoint(t *testing.T) {
	api := newFakeAPI()
	r := newTestRouter(t, api)

	w := do(r, http.MethodPost, "/api/incoming", `{"channel":"ch9","agent_id":"bot","budget_seconds":30}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, api.incoming, 1)
	assert.Equal(t, "bot", api.incoming[0].AgentID)
	assert.NotEmpty(t, api.incoming[0].From)
}

func TestSnapshotAndMetrics(t *testing.T) {
	api := newFakeAPI()
	api.notifier.PublishSnapshot(notify.Snapshot{Channel: "ch1", State: domain.StateActive, ParticipantCount: 2})
	r := newTestRouter(t, api)

	w := do(r, http.MethodGet, "/api/session", "")
	require.Equal(t, http.StatusOK, w.Code)
	var snap notify.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, domain.ChannelName("ch1"), snap.Channel)
	assert.Equal(t, 2, snap.ParticipantCount)

	w = do(r, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestSessionStream(t *testing.T) {
	api := newFakeAPI()
	srv := httptest.NewServer(newTestRouter(t, api))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/ws/session", nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var ev wsEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "snapshot", ev.Type)

	require.Eventually(t, func() bool { return api.notifier.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	api.notifier.Notify(notify.Notification{Kind: notify.SessionEnded, SessionID: "s1"})

	var raw map[string]any
	require.NoError(t, conn.ReadJSON(&raw))
	assert.Equal(t, "notification", raw["type"])
	note := raw["notification"].(map[string]any)
	assert.Equal(t, "session_ended", note["kind"])
}

// testCtx mirrors testing.T.Context (Go 1.24+): canceled just before
// Cleanup-registered functions run.
func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
