package orch

import (
	"github.com/dkeye/tgcalls/internal/core"
	"github.com/dkeye/tgcalls/internal/domain"
	"github.com/rs/zerolog/log"
)

func (rt *Router) handleJoin(sender domain.UserID, m core.JoinRoom) error {
	prior := rt.Registry.JoinRoom(m.RoomID, sender)

	joined, err := core.Encode(core.NewUserJoined(sender, m.RoomID))
	if err != nil {
		return err
	}
	users, err := core.Encode(core.NewRoomUsers(m.RoomID, prior))
	if err != nil {
		return err
	}

	rt.Registry.BroadcastToRoom(m.RoomID, joined, sender)
	rt.Registry.SendTo(sender, users)

	log.Info().Str("module", "orch.router").Stringer("user_id", sender).Stringer("room_id", m.RoomID).
		Int("peers", len(prior)).Msg("join")
	return nil
}

// handleLeave notifies every remaining member, the leaver is no longer in the set.
func (rt *Router) handleLeave(sender domain.UserID, m core.LeaveRoom) error {
	rt.Registry.LeaveRoom(m.RoomID, sender)

	left, err := core.Encode(core.NewUserLeft(sender, m.RoomID))
	if err != nil {
		return err
	}
	rt.Registry.BroadcastToRoom(m.RoomID, left)

	log.Info().Str("module", "orch.router").Stringer("user_id", sender).Stringer("room_id", m.RoomID).Msg("leave")
	return nil
}
