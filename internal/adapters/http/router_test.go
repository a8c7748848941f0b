package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/tgcalls/internal/adapters/signal"
	"github.com/dkeye/tgcalls/internal/adapters/store"
	"github.com/dkeye/tgcalls/internal/app"
	"github.com/dkeye/tgcalls/internal/app/orch"
	"github.com/dkeye/tgcalls/internal/config"
	"github.com/dkeye/tgcalls/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	ts     *httptest.Server
	client *http.Client
	reg    *app.Registry
	store  *store.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := store.Open(t.TempDir())
	require.NoError(t, err)
	st, err := store.New(db)
	require.NoError(t, err)

	cfg := &config.Config{
		AppName:        "Telegram Calls API",
		Mode:           "test",
		Secret:         "test-secret",
		AllowedOrigins: []string{"https://app.example"},
		ICE: config.ICEConfig{
			STUNURLs:     []string{"stun:stun.example:3478"},
			TURNURLs:     []string{"turn:turn.example:3478"},
			TURNUsername: "u",
			TURNPassword: "p",
		},
	}

	reg := app.NewRegistry()
	o := orch.NewOrchestrator(reg, orch.NewRouter(reg, false), st)
	ctl := signal.NewSignalWSController(o, signal.Options{AllowedOrigins: cfg.AllowedOrigins})

	r := SetupRouter(cfg, Deps{
		Users:    app.NewUserService(st),
		Rooms:    app.NewRoomService(st, st),
		Registry: reg,
		Signal:   ctl,
	})
	ts := httptest.NewServer(r)
	t.Cleanup(func() {
		ts.Close()
		reg.Close()
		ctl.Wait()
		_ = st.Close()
		_ = db.Close()
	})

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &testServer{ts: ts, client: &http.Client{Jar: jar}, reg: reg, store: st}
}

func (s *testServer) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		payload = b
	}
	rd := bytes.NewReader(payload)
	r, err := http.NewRequest(method, s.ts.URL+path, rd)
	require.NoError(t, err)
	r.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(r)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func (s *testServer) auth(t *testing.T, tgID int64, first string) domain.UserID {
	t.Helper()
	code, body := s.do(t, http.MethodPost, "/api/v1/auth/telegram", map[string]any{
		"telegram_id": tgID, "first_name": first,
	})
	require.Equal(t, http.StatusOK, code, body)
	return domain.UserID(body["user_id"].(float64))
}

func TestRouter_HealthAndRoot(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t)

	code, body := s.do(t, http.MethodGet, "/health", nil)
	req.Equal(http.StatusOK, code)
	req.Equal("healthy", body["status"])
	req.Equal("Telegram Calls API", body["app"])

	code, body = s.do(t, http.MethodGet, "/", nil)
	req.Equal(http.StatusOK, code)
	req.Equal("/api/v1", body["api"])
}

func TestRouter_TelegramAuth(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t)

	code, body := s.do(t, http.MethodPost, "/api/v1/auth/telegram", map[string]any{
		"telegram_id": 555, "first_name": "Ann", "username": "ann",
	})
	req.Equal(http.StatusOK, code)
	req.Equal(true, body["is_new_user"])
	req.Equal("@ann", body["display_name"])
	id := body["user_id"]

	code, body = s.do(t, http.MethodPost, "/api/v1/auth/telegram", map[string]any{
		"telegram_id": 555, "first_name": "Ann",
	})
	req.Equal(http.StatusOK, code)
	req.Equal(false, body["is_new_user"])
	req.Equal(id, body["user_id"])

	code, body = s.do(t, http.MethodPost, "/api/v1/auth/telegram", map[string]any{"telegram_id": 556})
	req.Equal(http.StatusBadRequest, code)
	req.NotEmpty(body["detail"])

	code, _ = s.do(t, http.MethodPost, "/api/v1/auth/telegram", map[string]any{"telegram_id": -1, "first_name": "X"})
	req.Equal(http.StatusBadRequest, code)
}

func TestRouter_Users(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t)
	uid := s.auth(t, 10, "Bob")

	code, body := s.do(t, http.MethodGet, "/api/v1/users/"+uid.String(), nil)
	req.Equal(http.StatusOK, code)
	req.Equal("Bob", body["first_name"])
	req.Nil(body["username"])
	req.Equal(false, body["is_online"])

	code, body = s.do(t, http.MethodGet, "/api/v1/users/9999", nil)
	req.Equal(http.StatusNotFound, code)
	req.Contains(body["detail"], "user not found")

	code, _ = s.do(t, http.MethodGet, "/api/v1/users/abc", nil)
	req.Equal(http.StatusBadRequest, code)

	req.NoError(s.store.SetPresence(context.Background(), uid, true))
	code, body = s.do(t, http.MethodGet, "/api/v1/users/online", nil)
	req.Equal(http.StatusOK, code)
	req.Equal(float64(1), body["total"])
}

func TestRouter_RoomLifecycle(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t)
	a := s.auth(t, 1, "A")
	b := s.auth(t, 2, "B")

	code, body := s.do(t, http.MethodPost, "/api/v1/rooms", map[string]any{"creator_id": int64(a)})
	req.Equal(http.StatusCreated, code, body)
	roomID := body["id"].(string)
	req.Equal(true, body["is_active"])
	req.Nil(body["closed_at"])
	req.Nil(body["duration_seconds"])
	req.Equal([]any{float64(a)}, body["participants"])

	code, body = s.do(t, http.MethodPost, "/api/v1/rooms/"+roomID+"/join", map[string]any{"user_id": int64(b)})
	req.Equal(http.StatusOK, code)
	req.Equal("Successfully joined room", body["message"])

	// joining twice is accepted
	code, _ = s.do(t, http.MethodPost, "/api/v1/rooms/"+roomID+"/join", map[string]any{"user_id": int64(b)})
	req.Equal(http.StatusOK, code)

	code, body = s.do(t, http.MethodGet, "/api/v1/rooms", nil)
	req.Equal(http.StatusOK, code)
	req.Equal(float64(1), body["total"])

	code, body = s.do(t, http.MethodGet, "/api/v1/rooms/"+roomID, nil)
	req.Equal(http.StatusOK, code)
	req.Equal([]any{float64(a), float64(b)}, body["participants"])

	for _, uid := range []domain.UserID{a, b} {
		code, body = s.do(t, http.MethodPost, "/api/v1/rooms/"+roomID+"/leave", map[string]any{"user_id": int64(uid)})
		req.Equal(http.StatusOK, code)
		req.Equal("Successfully left room", body["message"])
	}

	code, body = s.do(t, http.MethodGet, "/api/v1/rooms/"+roomID, nil)
	req.Equal(http.StatusOK, code)
	req.Equal(false, body["is_active"])
	req.NotNil(body["closed_at"])
	secs, ok := body["duration_seconds"].(float64)
	req.True(ok)
	req.GreaterOrEqual(secs, float64(0))

	code, _ = s.do(t, http.MethodPost, "/api/v1/rooms/"+roomID+"/join", map[string]any{"user_id": int64(a)})
	req.Equal(http.StatusBadRequest, code)

	code, body = s.do(t, http.MethodGet, "/api/v1/rooms", nil)
	req.Equal(http.StatusOK, code)
	req.Equal(float64(0), body["total"])
}

func TestRouter_RoomErrors(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t)
	a := s.auth(t, 1, "A")

	code, _ := s.do(t, http.MethodPost, "/api/v1/rooms", map[string]any{"creator_id": 4242})
	req.Equal(http.StatusNotFound, code)

	code, _ = s.do(t, http.MethodPost, "/api/v1/rooms", map[string]any{})
	req.Equal(http.StatusBadRequest, code)

	code, _ = s.do(t, http.MethodGet, "/api/v1/rooms/not-a-uuid", nil)
	req.Equal(http.StatusBadRequest, code)

	missing := domain.NewRoomID().String()
	code, _ = s.do(t, http.MethodGet, "/api/v1/rooms/"+missing, nil)
	req.Equal(http.StatusNotFound, code)

	code, _ = s.do(t, http.MethodPost, "/api/v1/rooms/"+missing+"/join", map[string]any{"user_id": int64(a)})
	req.Equal(http.StatusNotFound, code)

	_, body := s.do(t, http.MethodPost, "/api/v1/rooms", map[string]any{"creator_id": int64(a)})
	roomID := body["id"].(string)
	b := s.auth(t, 2, "B")
	code, _ = s.do(t, http.MethodPost, "/api/v1/rooms/"+roomID+"/leave", map[string]any{"user_id": int64(b)})
	req.Equal(http.StatusNotFound, code)
}

func TestRouter_ICEConfig(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t)

	code, body := s.do(t, http.MethodGet, "/api/v1/config", nil)
	req.Equal(http.StatusOK, code)
	servers, ok := body["ice_servers"].([]any)
	req.True(ok)
	req.Len(servers, 2)

	stun := servers[0].(map[string]any)
	req.Equal([]any{"stun:stun.example:3478"}, stun["urls"])
	req.NotContains(stun, "credential")

	turn := servers[1].(map[string]any)
	req.Equal([]any{"turn:turn.example:3478"}, turn["urls"])
	req.Equal("u", turn["username"])
	req.Equal("p", turn["credential"])
}

func TestRouter_SignalHandshake(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t)

	code, body := s.do(t, http.MethodGet, "/ws", nil)
	req.Equal(http.StatusBadRequest, code)
	req.Contains(body["detail"], "invalid user id")

	code, _ = s.do(t, http.MethodGet, "/ws?user_id=0", nil)
	req.Equal(http.StatusBadRequest, code)

	code, body = s.do(t, http.MethodGet, "/ws/stats", nil)
	req.Equal(http.StatusOK, code)
	req.Equal(map[string]any{"online_users": float64(0), "active_rooms": float64(0)}, body)
}

func TestRouter_SignalUsesSessionAfterAuth(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t)
	uid := s.auth(t, 77, "Sess")

	base := s.ts.URL
	hdr := http.Header{}
	for _, c := range s.client.Jar.Cookies(mustURL(t, base)) {
		hdr.Add("Cookie", c.String())
	}
	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(base, "http")+"/ws", hdr)
	req.NoError(err)
	defer ws.Close()

	req.NoError(ws.SetReadDeadline(time.Now().Add(2 * time.Second)))
	var msg map[string]any
	req.NoError(ws.ReadJSON(&msg))
	req.Equal("connected", msg["type"])
	req.Equal(float64(uid), msg["user_id"])

	req.Eventually(func() bool {
		u, err := s.store.GetUser(context.Background(), uid)
		return err == nil && u.IsOnline
	}, 2*time.Second, 10*time.Millisecond)

	_, body := s.do(t, http.MethodGet, "/ws/stats", nil)
	req.Equal(float64(1), body["online_users"])

	req.NoError(ws.Close())
	req.Eventually(func() bool {
		u, err := s.store.GetUser(context.Background(), uid)
		return err == nil && !u.IsOnline
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRouter_CORS(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t)

	r, err := http.NewRequest(http.MethodOptions, s.ts.URL+"/api/v1/rooms", nil)
	req.NoError(err)
	r.Header.Set("Origin", "https://app.example")
	r.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := s.client.Do(r)
	req.NoError(err)
	resp.Body.Close()
	req.Equal(http.StatusNoContent, resp.StatusCode)
	req.Equal("https://app.example", resp.Header.Get("Access-Control-Allow-Origin"))
	req.Equal("true", resp.Header.Get("Access-Control-Allow-Credentials"))

	r, err = http.NewRequest(http.MethodGet, s.ts.URL+"/health", nil)
	req.NoError(err)
	r.Header.Set("Origin", "https://evil.example")
	resp, err = s.client.Do(r)
	req.NoError(err)
	resp.Body.Close()
	req.Equal(http.StatusOK, resp.StatusCode)
	req.Empty(resp.Header.Get("Access-Control-Allow-Origin"))
}
