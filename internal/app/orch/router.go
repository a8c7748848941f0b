package orch

import (
	"errors"
	"fmt"

	"github.com/dkeye/tgcalls/internal/app"
	"github.com/dkeye/tgcalls/internal/core"
	"github.com/dkeye/tgcalls/internal/domain"
	"github.com/rs/zerolog/log"
)

// Router turns inbound frames into registry mutations and outbound envelopes.
// It keeps no state of its own.
type Router struct {
	Registry *app.Registry

	// RequireSharedRoom drops offer/answer/ice-candidate envelopes whose
	// sender and target have no room in common.
	RequireSharedRoom bool
}

func NewRouter(reg *app.Registry, requireSharedRoom bool) *Router {
	return &Router{Registry: reg, RequireSharedRoom: requireSharedRoom}
}

// Dispatch handles one frame from sender. Protocol errors are dropped;
// handler failures are reported back to the sender as an error envelope.
func (rt *Router) Dispatch(sender domain.UserID, frame core.Frame) {
	msg, err := core.DecodeInbound(frame)
	if err != nil {
		ev := log.Warn().Err(err).Str("module", "orch.router").Stringer("user_id", sender)
		var de *core.DecodeError
		if errors.As(err, &de) && de.Type != "" {
			ev = ev.Str("type", string(de.Type))
		}
		ev.Msg("dropping envelope")
		return
	}

	if err := rt.handle(sender, msg); err != nil {
		log.Error().Err(err).Str("module", "orch.router").Stringer("user_id", sender).
			Str("type", string(msg.Kind())).Msg("handler failed")
		rt.sendError(sender, err.Error())
	}
}

func (rt *Router) handle(sender domain.UserID, msg core.Inbound) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()

	switch m := msg.(type) {
	case core.JoinRoom:
		return rt.handleJoin(sender, m)
	case core.LeaveRoom:
		return rt.handleLeave(sender, m)
	case core.Offer:
		return rt.forward(sender, m.Target, core.NewForwardedOffer(sender, m))
	case core.Answer:
		return rt.forward(sender, m.Target, core.NewForwardedAnswer(sender, m))
	case core.ICECandidate:
		return rt.forward(sender, m.Target, core.NewForwardedICECandidate(sender, m))
	default:
		return fmt.Errorf("unhandled envelope %T", msg)
	}
}

func (rt *Router) sendError(uid domain.UserID, message string) {
	frame, err := core.Encode(core.NewError(message))
	if err != nil {
		log.Error().Err(err).Str("module", "orch.router").Msg("encode error envelope")
		return
	}
	rt.Registry.SendTo(uid, frame)
}
