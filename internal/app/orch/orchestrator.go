//go:generate go run go.uber.org/mock/mockgen -source=orchestrator.go -destination=../../mocks/mock_presence_store.go -package=mocks
package orch

import (
	"context"
	"sync"

	"github.com/dkeye/tgcalls/internal/app"
	"github.com/dkeye/tgcalls/internal/core"
	"github.com/dkeye/tgcalls/internal/domain"
	"github.com/rs/zerolog/log"
)

// PresenceStore persists the online flag of a user.
type PresenceStore interface {
	SetPresence(ctx context.Context, userID domain.UserID, online bool) error
}

// Orchestrator drives the lifecycle of one signaling connection:
// connect, frames, disconnect.
type Orchestrator struct {
	Registry *app.Registry
	Router   *Router
	Presence PresenceStore

	// presenceMu serialises the live-handle check with the presence write,
	// striped by user id.
	presenceMu [presenceStripes]sync.Mutex
}

const presenceStripes = 64

func NewOrchestrator(reg *app.Registry, router *Router, presence PresenceStore) *Orchestrator {
	return &Orchestrator{Registry: reg, Router: router, Presence: presence}
}

func (o *Orchestrator) OnConnect(ctx context.Context, uid domain.UserID, conn core.SignalConnection) {
	if prev := o.Registry.Register(uid, conn); prev != nil && prev != conn {
		log.Info().Str("module", "orch").Stringer("user_id", uid).Msg("closing superseded connection")
		prev.Close()
	}

	mu := o.presenceLock(uid)
	mu.Lock()
	o.setPresence(ctx, uid, true)
	mu.Unlock()

	frame, err := core.Encode(core.NewConnected(uid))
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Stringer("user_id", uid).Msg("encode connected")
		return
	}
	o.Registry.SendTo(uid, frame)
}

func (o *Orchestrator) OnFrame(uid domain.UserID, frame core.Frame) {
	o.Router.Dispatch(uid, frame)
}

// OnDisconnect must run once per connection. Presence goes offline only when
// no newer connection of the same user is live. It reports whether conn was
// still the registered handle.
func (o *Orchestrator) OnDisconnect(ctx context.Context, uid domain.UserID, conn core.SignalConnection) bool {
	released := o.Registry.Release(uid, conn)

	mu := o.presenceLock(uid)
	mu.Lock()
	defer mu.Unlock()
	if o.Registry.IsOnline(uid) {
		log.Debug().Str("module", "orch").Stringer("user_id", uid).Msg("newer connection live, presence kept")
		return released
	}
	o.setPresence(ctx, uid, false)
	return released
}

func (o *Orchestrator) presenceLock(uid domain.UserID) *sync.Mutex {
	return &o.presenceMu[uint64(uid)%presenceStripes]
}

func (o *Orchestrator) setPresence(ctx context.Context, uid domain.UserID, online bool) {
	if o.Presence == nil {
		return
	}
	if err := o.Presence.SetPresence(ctx, uid, online); err != nil {
		log.Warn().Err(err).Str("module", "orch").Stringer("user_id", uid).Bool("online", online).Msg("presence update failed")
	}
}
