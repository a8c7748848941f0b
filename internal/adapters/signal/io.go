package signal

import (
	"context"
	"time"

	"github.com/dkeye/tgcalls/internal/core"
	"github.com/dkeye/tgcalls/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Serve registers ws for uid and starts its pumps. It returns immediately.
func (ctl *SignalWSController) Serve(ctx context.Context, uid domain.UserID, ws WSConn) {
	if ctl.opts.ReadLimit > 0 {
		ws.SetReadLimit(ctl.opts.ReadLimit)
	}
	conn := NewWsSignalConn(ws, ctl.opts.SendBuffer)
	ctl.Orch.OnConnect(ctx, uid, conn)

	ctl.wg.Go(func() { ctl.writePump(uid, conn) })
	ctl.wg.Go(func() { ctl.readPump(uid, conn) })
}

// Wait blocks until every connection goroutine has exited.
func (ctl *SignalWSController) Wait() {
	if r := ctl.wg.WaitAndRecover(); r != nil {
		log.Error().Str("module", "signal").Str("panic", r.String()).Msg("connection goroutine panicked")
	}
}

func (ctl *SignalWSController) writePump(uid domain.UserID, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Stringer("user_id", uid).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Stringer("user_id", uid).Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "signal").Stringer("user_id", uid).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Warn().Err(err).Str("module", "signal").Stringer("user_id", uid).Msg("writePump ping error")
				return
			}
		}
	}
}

// readPump owns the disconnect path; it runs OnDisconnect exactly once.
func (ctl *SignalWSController) readPump(uid domain.UserID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Stringer("user_id", uid).Msg("readPump closing")
		c.Close()
		ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
		defer cancel()
		// a superseded socket leaves the live one's window alone
		if ctl.Orch.OnDisconnect(ctx, uid, c) && ctl.opts.Limiter != nil {
			ctl.opts.Limiter.Forget(uid)
		}
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("module", "signal").Stringer("user_id", uid).Msg("readPump read error")
			}
			return
		}
		if ctl.opts.Limiter != nil && !ctl.opts.Limiter.Allow(uid) {
			log.Warn().Str("module", "signal").Stringer("user_id", uid).Msg("rate limited, frame dropped")
			continue
		}
		ctl.Orch.OnFrame(uid, core.Frame(data))
	}
}
