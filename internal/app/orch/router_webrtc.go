package orch

import (
	"github.com/dkeye/tgcalls/internal/core"
	"github.com/dkeye/tgcalls/internal/domain"
	"github.com/rs/zerolog/log"
)

// forward relays a negotiation envelope to target only. Payloads are opaque.
func (rt *Router) forward(sender, target domain.UserID, env any) error {
	if rt.RequireSharedRoom && !rt.Registry.ShareRoom(sender, target) {
		log.Warn().Str("module", "orch.router").Stringer("user_id", sender).Stringer("target", target).
			Msg("target outside sender rooms, dropped")
		return nil
	}

	frame, err := core.Encode(env)
	if err != nil {
		return err
	}
	rt.Registry.SendTo(target, frame)

	log.Debug().Str("module", "orch.router").Stringer("user_id", sender).Stringer("target", target).Msg("forwarded")
	return nil
}
