package orch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/dkeye/tgcalls/internal/app"
	"github.com/dkeye/tgcalls/internal/core"
	"github.com/dkeye/tgcalls/internal/domain"
	"github.com/dkeye/tgcalls/internal/mocks"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const r1 = "6ba7b810-9dad-11d1-80b4-00c04fd430c8"

type recConn struct {
	mu     sync.Mutex
	frames []core.Frame
	fail   bool
	closed bool
}

func (c *recConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail || c.closed {
		return core.ErrClosed
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *recConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *recConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// take returns the decoded frames received so far and resets the buffer.
func (c *recConn) take(t *testing.T) []map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.frames))
	for _, f := range c.frames {
		var m map[string]any
		require.NoError(t, json.Unmarshal(f, &m))
		out = append(out, m)
	}
	c.frames = nil
	return out
}

type harness struct {
	reg  *app.Registry
	orch *Orchestrator
}

func newHarness(presence PresenceStore, requireShared bool) *harness {
	reg := app.NewRegistry()
	return &harness{reg: reg, orch: NewOrchestrator(reg, NewRouter(reg, requireShared), presence)}
}

// connect registers a connection and discards its connected envelope.
func (h *harness) connect(t *testing.T, uid domain.UserID) *recConn {
	t.Helper()
	c := &recConn{}
	h.orch.OnConnect(context.Background(), uid, c)
	got := c.take(t)
	require.Len(t, got, 1)
	require.Equal(t, "connected", got[0]["type"])
	return c
}

func (h *harness) send(uid domain.UserID, raw string) {
	h.orch.OnFrame(uid, core.Frame(raw))
}

func TestOrchestrator_ConnectSendsGreeting(t *testing.T) {
	req := require.New(t)
	h := newHarness(nil, false)
	c := &recConn{}

	h.orch.OnConnect(context.Background(), 7, c)

	got := c.take(t)
	req.Len(got, 1)
	req.Equal(map[string]any{"type": "connected", "user_id": float64(7), "message": "WebSocket connected successfully"}, got[0])
	req.True(h.reg.IsOnline(7))
}

func TestScenario_JoinAnnouncesPeers(t *testing.T) {
	req := require.New(t)
	h := newHarness(nil, false)
	a := h.connect(t, 1)
	b := h.connect(t, 2)

	// when A joins an empty room
	h.send(1, `{"type":"join-room","room_id":"`+r1+`"}`)
	// then A gets an empty roster
	req.Equal([]map[string]any{{"type": "room-users", "room_id": r1, "users": []any{}}}, a.take(t))

	// when B joins
	h.send(2, `{"type":"join-room","room_id":"`+r1+`"}`)
	req.Equal([]map[string]any{{"type": "room-users", "room_id": r1, "users": []any{float64(1)}}}, b.take(t))
	req.Equal([]map[string]any{{"type": "user-joined", "user_id": float64(2), "room_id": r1}}, a.take(t))
}

func TestScenario_OfferReachesTargetOnly(t *testing.T) {
	req := require.New(t)
	h := newHarness(nil, false)
	a := h.connect(t, 1)
	b := h.connect(t, 2)
	c := h.connect(t, 3)

	h.send(2, `{"type":"offer","target_user_id":1,"sdp":"x"}`)

	req.Equal([]map[string]any{{"type": "offer", "from_user_id": float64(2), "room_id": nil, "sdp": "x"}}, a.take(t))
	req.Empty(b.take(t))
	req.Empty(c.take(t))
}

func TestRouter_PointToPointPassThrough(t *testing.T) {
	req := require.New(t)
	h := newHarness(nil, false)
	a := h.connect(t, 1)
	b := h.connect(t, 2)

	h.send(1, `{"type":"offer","target_user_id":2,"room_id":"`+r1+`","sdp":{"type":"offer","sdp":"v=0"}}`)
	req.Equal([]map[string]any{{
		"type": "offer", "from_user_id": float64(1), "room_id": r1,
		"sdp": map[string]any{"type": "offer", "sdp": "v=0"},
	}}, b.take(t))

	h.send(2, `{"type":"answer","target_user_id":1,"sdp":{"type":"answer","sdp":"v=0"}}`)
	req.Equal([]map[string]any{{
		"type": "answer", "from_user_id": float64(2),
		"sdp": map[string]any{"type": "answer", "sdp": "v=0"},
	}}, a.take(t))

	h.send(2, `{"type":"ice-candidate","target_user_id":1,"candidate":{"candidate":"candidate:1","sdpMLineIndex":0}}`)
	req.Equal([]map[string]any{{
		"type": "ice-candidate", "from_user_id": float64(2),
		"candidate": map[string]any{"candidate": "candidate:1", "sdpMLineIndex": float64(0)},
	}}, a.take(t))
}

func TestRouter_ForwardToOfflineTargetIsSilent(t *testing.T) {
	req := require.New(t)
	h := newHarness(nil, false)
	a := h.connect(t, 1)

	h.send(1, `{"type":"offer","target_user_id":99,"sdp":"x"}`)

	req.Empty(a.take(t))
	req.Equal(1, h.reg.OnlineCount())
}

func TestScenario_DisconnectThenLeave(t *testing.T) {
	req := require.New(t)
	h := newHarness(nil, false)
	a := h.connect(t, 1)
	b := h.connect(t, 2)
	before := h.reg.RoomCount()
	h.send(1, `{"type":"join-room","room_id":"`+r1+`"}`)
	h.send(2, `{"type":"join-room","room_id":"`+r1+`"}`)
	b.take(t)

	// when A disconnects
	h.orch.OnDisconnect(context.Background(), 1, a)
	req.Equal([]domain.UserID{2}, h.reg.MembersOf(r1))

	// when B leaves
	h.send(2, `{"type":"leave-room","room_id":"`+r1+`"}`)
	req.Equal(before, h.reg.RoomCount())
	req.Empty(h.reg.MembersOf(r1))
	req.Empty(b.take(t), "the leaver is no longer a member")
}

func TestRouter_LeaveNotifiesRemaining(t *testing.T) {
	req := require.New(t)
	h := newHarness(nil, false)
	a := h.connect(t, 1)
	b := h.connect(t, 2)
	h.send(1, `{"type":"join-room","room_id":"`+r1+`"}`)
	h.send(2, `{"type":"join-room","room_id":"`+r1+`"}`)
	a.take(t)
	b.take(t)

	h.send(2, `{"type":"leave-room","room_id":"`+r1+`"}`)

	req.Equal([]map[string]any{{"type": "user-left", "user_id": float64(2), "room_id": r1}}, a.take(t))
	req.Empty(b.take(t))
}

func TestScenario_InvalidEnvelopesAreDropped(t *testing.T) {
	h := newHarness(nil, false)
	a := h.connect(t, 1)
	b := h.connect(t, 2)
	h.send(2, `{"type":"join-room","room_id":"`+r1+`"}`)
	b.take(t)

	for _, raw := range []string{
		`{"type":"join-room"}`,
		`not json`,
		`{"room_id":"` + r1 + `"}`,
		`{"type":"teleport"}`,
		`{"type":"offer","sdp":"x"}`,
		`{"type":"ice-candidate","target_user_id":2}`,
	} {
		t.Run(raw, func(t *testing.T) {
			req := require.New(t)
			h.send(1, raw)
			req.Empty(a.take(t))
			req.Empty(b.take(t))
			req.Equal([]domain.UserID{2}, h.reg.MembersOf(r1))
			req.Equal(1, h.reg.RoomCount())
			req.True(h.reg.IsOnline(1))
		})
	}
}

func TestRouter_DuplicateJoinIsIdempotent(t *testing.T) {
	req := require.New(t)
	h := newHarness(nil, false)
	a := h.connect(t, 1)
	b := h.connect(t, 2)
	h.send(1, `{"type":"join-room","room_id":"`+r1+`"}`)
	h.send(2, `{"type":"join-room","room_id":"`+r1+`"}`)
	a.take(t)
	b.take(t)

	h.send(2, `{"type":"join-room","room_id":"`+r1+`"}`)

	req.Equal([]domain.UserID{1, 2}, h.reg.MembersOf(r1))
	req.Equal([]map[string]any{{"type": "room-users", "room_id": r1, "users": []any{float64(1)}}}, b.take(t))
}

func TestRouter_RequireSharedRoom(t *testing.T) {
	req := require.New(t)
	h := newHarness(nil, true)
	a := h.connect(t, 1)
	b := h.connect(t, 2)

	// given no common room
	h.send(1, `{"type":"offer","target_user_id":2,"sdp":"x"}`)
	req.Empty(b.take(t))

	// given a common room
	h.send(1, `{"type":"join-room","room_id":"`+r1+`"}`)
	h.send(2, `{"type":"join-room","room_id":"`+r1+`"}`)
	a.take(t)
	b.take(t)
	h.send(1, `{"type":"offer","target_user_id":2,"sdp":"x"}`)
	req.Len(b.take(t), 1)
}

type panicConn struct{}

func (panicConn) TrySend(core.Frame) error { panic("transport exploded") }
func (panicConn) Close()                   {}

func TestRouter_HandlerPanicBecomesErrorEnvelope(t *testing.T) {
	req := require.New(t)
	h := newHarness(nil, false)
	a := h.connect(t, 1)
	h.reg.Register(2, panicConn{})

	// when forwarding to the target panics
	h.send(1, `{"type":"offer","target_user_id":2,"sdp":"x"}`)

	// then the sender gets an error envelope and stays connected
	req.Equal([]map[string]any{{"type": "error", "message": "transport exploded"}}, a.take(t))
	req.True(h.reg.IsOnline(1))
}

func TestOrchestrator_SupersededConnection(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	presence := mocks.NewMockPresenceStore(ctrl)
	h := newHarness(presence, false)
	ctx := context.Background()

	presence.EXPECT().SetPresence(gomock.Any(), domain.UserID(1), true).Return(nil).Times(2)
	old := h.connect(t, 1)
	h.send(1, `{"type":"join-room","room_id":"`+r1+`"}`)
	cur := h.connect(t, 1)

	// then the first handle is closed
	req.True(old.isClosed())
	req.False(cur.isClosed())

	// when the old read loop finishes, neither the registry entry nor presence change
	req.False(h.orch.OnDisconnect(ctx, 1, old))
	req.True(h.reg.IsOnline(1))
	req.Equal([]domain.UserID{1}, h.reg.MembersOf(r1))

	// when the live connection goes away, presence goes offline once
	presence.EXPECT().SetPresence(gomock.Any(), domain.UserID(1), false).Return(nil).Times(1)
	req.True(h.orch.OnDisconnect(ctx, 1, cur))
	req.False(h.reg.IsOnline(1))
	req.Equal(0, h.reg.RoomCount())
}

func TestOrchestrator_PresenceFailureIsNotFatal(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	presence := mocks.NewMockPresenceStore(ctrl)
	h := newHarness(presence, false)
	storeDown := errors.New("store down")

	presence.EXPECT().SetPresence(gomock.Any(), domain.UserID(5), true).Return(storeDown)
	c := &recConn{}
	h.orch.OnConnect(context.Background(), 5, c)
	req.True(h.reg.IsOnline(5))
	req.Len(c.take(t), 1)

	presence.EXPECT().SetPresence(gomock.Any(), domain.UserID(5), false).Return(storeDown)
	h.orch.OnDisconnect(context.Background(), 5, c)
	req.False(h.reg.IsOnline(5))
}

func TestOrchestrator_DisconnectAfterRegistryClose(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	presence := mocks.NewMockPresenceStore(ctrl)
	h := newHarness(presence, false)

	presence.EXPECT().SetPresence(gomock.Any(), domain.UserID(3), true).Return(nil)
	c := h.connect(t, 3)
	h.reg.Close()
	req.True(c.isClosed())

	presence.EXPECT().SetPresence(gomock.Any(), domain.UserID(3), false).Return(nil)
	h.orch.OnDisconnect(context.Background(), 3, c)
}

func TestOrchestrator_FailedGreetingDropsConnection(t *testing.T) {
	req := require.New(t)
	h := newHarness(nil, false)
	c := &recConn{fail: true}

	h.orch.OnConnect(context.Background(), 4, c)

	req.False(h.reg.IsOnline(4))
	req.True(c.isClosed())
}

// lastPresence keeps the most recent presence written per user.
type lastPresence struct {
	mu   sync.Mutex
	last map[domain.UserID]bool
}

func (p *lastPresence) SetPresence(_ context.Context, uid domain.UserID, online bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		p.last = make(map[domain.UserID]bool)
	}
	p.last[uid] = online
	return nil
}

func (p *lastPresence) get(uid domain.UserID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last[uid]
}

func TestOrchestrator_ReconnectKeepsUserOnline(t *testing.T) {
	req := require.New(t)

	// given an old socket whose read loop ends before the reconnect registers
	presence := &lastPresence{}
	h := newHarness(presence, false)
	old := h.connect(t, 1)
	req.True(h.orch.OnDisconnect(context.Background(), 1, old))
	req.False(presence.get(1))
	h.connect(t, 1)
	req.True(presence.get(1))

	// given a reconnect that registers before the old read loop ends
	presence = &lastPresence{}
	h = newHarness(presence, false)
	old = h.connect(t, 2)
	h.connect(t, 2)
	req.False(h.orch.OnDisconnect(context.Background(), 2, old))
	req.True(presence.get(2))
}

func TestOrchestrator_ReconnectRaceLeavesPresenceOnline(t *testing.T) {
	req := require.New(t)

	for i := 0; i < 200; i++ {
		presence := &lastPresence{}
		h := newHarness(presence, false)
		old := &recConn{}
		h.orch.OnConnect(context.Background(), 7, old)

		// when the old socket closes while a new one connects
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.orch.OnDisconnect(context.Background(), 7, old)
		}()
		go func() {
			defer wg.Done()
			h.orch.OnConnect(context.Background(), 7, &recConn{})
		}()
		wg.Wait()

		// then a live handle always means persisted online
		req.True(h.reg.IsOnline(7))
		req.True(presence.get(7), "iteration %d", i)
	}
}
