package signal

import (
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/tgcalls/internal/app/orch"
	"github.com/dkeye/tgcalls/internal/core"
	"github.com/dkeye/tgcalls/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/sourcegraph/conc"
)

const (
	writeWait       = 5 * time.Second
	presenceTimeout = 5 * time.Second
)

// WSConn is an indirection over *websocket.Conn to ease testing.
type WSConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(mt int, data []byte) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	Close() error
}

type Options struct {
	ReadLimit      int64
	PingPeriod     time.Duration
	SendBuffer     int
	AllowedOrigins []string
	Limiter        *FrameRateLimiter
}

// SignalWSController accepts signaling connections and runs one reader and
// one writer goroutine for each of them.
type SignalWSController struct {
	Orch     *orch.Orchestrator
	opts     Options
	upgrader websocket.Upgrader
	wg       conc.WaitGroup
}

func NewSignalWSController(o *orch.Orchestrator, opts Options) *SignalWSController {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 54 * time.Second
	}
	return &SignalWSController{
		Orch: o,
		opts: opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(opts.AllowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 || lo.Contains(allowed, "*") {
		return func(r *http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || lo.Contains(allowed, origin)
	}
}

// WsSignalConn implements core.SignalConnection over a websocket.
type WsSignalConn struct {
	conn WSConn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func NewWsSignalConn(conn WSConn, buffer int) *WsSignalConn {
	return &WsSignalConn{conn: conn, send: make(chan core.Frame, buffer)}
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// HandleSignal upgrades the request and attaches the connection to uid.
// The caller has already authenticated uid.
func (ctl *SignalWSController) HandleSignal(c *gin.Context, uid domain.UserID) {
	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Stringer("user_id", uid).Msg("ws upgrade")
		return
	}
	log.Info().Str("module", "signal").Stringer("user_id", uid).Str("remote", c.ClientIP()).Msg("new WS connection")

	ctl.Serve(c.Request.Context(), uid, ws)
}
