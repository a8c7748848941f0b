package http

import (
	"fmt"
	"net/http"
	"time"

	"github.com/dkeye/tgcalls/internal/app"
	"github.com/dkeye/tgcalls/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

type CreateRoomRequest struct {
	CreatorID int64 `json:"creator_id" binding:"required,gt=0"`
}

type MembershipRequest struct {
	UserID int64 `json:"user_id" binding:"required,gt=0"`
}

// RoomResponse carries duration_seconds only once the room is closed.
type RoomResponse struct {
	ID              domain.RoomID   `json:"id"`
	CreatorID       domain.UserID   `json:"creator_id"`
	IsActive        bool            `json:"is_active"`
	CreatedAt       time.Time       `json:"created_at"`
	ClosedAt        *time.Time      `json:"closed_at"`
	DurationSeconds *int64          `json:"duration_seconds"`
	Participants    []domain.UserID `json:"participants"`
}

type RoomListResponse struct {
	Rooms []RoomResponse `json:"rooms"`
	Total int            `json:"total"`
}

func toRoomResponse(info app.RoomInfo, _ int) RoomResponse {
	parts := info.Participants
	if parts == nil {
		parts = []domain.UserID{}
	}
	resp := RoomResponse{
		ID:           info.Room.ID,
		CreatorID:    info.Room.CreatorID,
		IsActive:     info.Room.IsActive,
		CreatedAt:    info.Room.CreatedAt.UTC(),
		ClosedAt:     timePtr(info.Room.ClosedAt),
		Participants: parts,
	}
	if info.Room.ClosedAt != nil {
		secs := int64(info.Room.Duration() / time.Second)
		resp.DurationSeconds = &secs
	}
	return resp
}

func (h *handler) createRoom(c *gin.Context) {
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	info, err := h.deps.Rooms.Create(c.Request.Context(), domain.UserID(req.CreatorID))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toRoomResponse(*info, 0))
}

func (h *handler) listRooms(c *gin.Context) {
	rooms, err := h.deps.Rooms.ListActive(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, RoomListResponse{Rooms: lo.Map(rooms, toRoomResponse), Total: len(rooms)})
}

func (h *handler) getRoom(c *gin.Context) {
	id, err := domain.ParseRoomID(c.Param("room_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	info, err := h.deps.Rooms.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toRoomResponse(*info, 0))
}

func (h *handler) joinRoom(c *gin.Context) {
	id, uid, ok := h.bindMembership(c)
	if !ok {
		return
	}
	if err := h.deps.Rooms.Join(c.Request.Context(), id, uid); err != nil {
		writeError(c, err)
		return
	}
	log.Info().Str("module", "adapters.http").Stringer("room_id", id).Stringer("user_id", uid).Msg("joined room")
	c.JSON(http.StatusOK, gin.H{"message": "Successfully joined room"})
}

func (h *handler) leaveRoom(c *gin.Context) {
	id, uid, ok := h.bindMembership(c)
	if !ok {
		return
	}
	if err := h.deps.Rooms.Leave(c.Request.Context(), id, uid); err != nil {
		writeError(c, err)
		return
	}
	log.Info().Str("module", "adapters.http").Stringer("room_id", id).Stringer("user_id", uid).Msg("left room")
	c.JSON(http.StatusOK, gin.H{"message": "Successfully left room"})
}

func (h *handler) bindMembership(c *gin.Context) (domain.RoomID, domain.UserID, bool) {
	id, err := domain.ParseRoomID(c.Param("room_id"))
	if err != nil {
		writeError(c, err)
		return "", 0, false
	}
	var req MembershipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return "", 0, false
	}
	return id, domain.UserID(req.UserID), true
}
