package app

import (
	"errors"
	"slices"
	"sync"

	"github.com/dkeye/tgcalls/internal/core"
	"github.com/dkeye/tgcalls/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// Registry is the in-memory map of live connections and room membership.
// A user id has at most one live handle; a room never holds an empty set.
type Registry struct {
	// Policy handles full send buffers. Set before the first send.
	Policy Policy

	mu    sync.RWMutex
	conns map[domain.UserID]core.SignalConnection
	rooms map[domain.RoomID]map[domain.UserID]struct{}
}

type Stats struct {
	OnlineUsers int `json:"online_users"`
	ActiveRooms int `json:"active_rooms"`
}

func NewRegistry() *Registry {
	return &Registry{
		Policy: SimplePolicy{},
		conns:  make(map[domain.UserID]core.SignalConnection),
		rooms:  make(map[domain.RoomID]map[domain.UserID]struct{}),
	}
}

// Register installs conn for uid and returns the handle it replaced, if any.
// The caller owns closing the returned handle.
func (r *Registry) Register(uid domain.UserID, conn core.SignalConnection) core.SignalConnection {
	r.mu.Lock()
	prev := r.conns[uid]
	r.conns[uid] = conn
	total := len(r.conns)
	r.mu.Unlock()

	log.Info().Str("module", "app.registry").Stringer("user_id", uid).
		Bool("replaced", prev != nil).Int("online", total).Msg("registered connection")
	return prev
}

// Unregister drops the handle of uid and removes uid from every room.
func (r *Registry) Unregister(uid domain.UserID) {
	r.mu.Lock()
	_, had := r.conns[uid]
	delete(r.conns, uid)
	left := r.dropMemberLocked(uid)
	total := len(r.conns)
	r.mu.Unlock()

	if had || len(left) > 0 {
		log.Info().Str("module", "app.registry").Stringer("user_id", uid).
			Int("rooms_left", len(left)).Int("online", total).Msg("unregistered connection")
	}
}

// Release unregisters uid only while conn is still its current handle.
func (r *Registry) Release(uid domain.UserID, conn core.SignalConnection) bool {
	r.mu.Lock()
	if cur, ok := r.conns[uid]; !ok || cur != conn {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, uid)
	left := r.dropMemberLocked(uid)
	total := len(r.conns)
	r.mu.Unlock()

	log.Info().Str("module", "app.registry").Stringer("user_id", uid).
		Int("rooms_left", len(left)).Int("online", total).Msg("released connection")
	return true
}

// dropMemberLocked removes uid from all rooms, pruning the ones it empties.
func (r *Registry) dropMemberLocked(uid domain.UserID) []domain.RoomID {
	var left []domain.RoomID
	for rid, members := range r.rooms {
		if _, ok := members[uid]; !ok {
			continue
		}
		delete(members, uid)
		if len(members) == 0 {
			delete(r.rooms, rid)
		}
		left = append(left, rid)
	}
	return left
}

// SendTo delivers frame to uid. A failed delivery is terminal for the handle,
// which is unregistered and closed, unless Policy chooses to drop the frame
// of a slow consumer.
func (r *Registry) SendTo(uid domain.UserID, frame core.Frame) {
	r.mu.RLock()
	conn, ok := r.conns[uid]
	r.mu.RUnlock()
	if !ok {
		log.Debug().Str("module", "app.registry").Stringer("user_id", uid).Msg("send to offline user skipped")
		return
	}

	if err := conn.TrySend(frame); err != nil {
		if errors.Is(err, core.ErrBackpressure) && r.Policy != nil && r.Policy.OnBackPressure(uid) == DropFrame {
			log.Warn().Err(err).Str("module", "app.registry").Stringer("user_id", uid).Msg("slow consumer, frame dropped")
			return
		}
		log.Warn().Err(err).Str("module", "app.registry").Stringer("user_id", uid).Msg("send failed, dropping connection")
		r.Release(uid, conn)
		conn.Close()
	}
}

// BroadcastToRoom sends frame to every current member of roomID except the
// ids in exclude. Membership is snapshotted before any send.
func (r *Registry) BroadcastToRoom(roomID domain.RoomID, frame core.Frame, exclude ...domain.UserID) {
	r.mu.RLock()
	members, ok := r.rooms[roomID]
	var targets []domain.UserID
	if ok {
		targets = lo.Without(lo.Keys(members), exclude...)
	}
	r.mu.RUnlock()

	if !ok {
		log.Warn().Str("module", "app.registry").Stringer("room_id", roomID).Msg("broadcast to unknown room")
		return
	}
	for _, uid := range targets {
		r.SendTo(uid, frame)
	}
}

// JoinRoom adds uid to roomID and returns the members that were there before,
// uid excluded. Repeated joins are no-ops apart from the returned snapshot.
func (r *Registry) JoinRoom(roomID domain.RoomID, uid domain.UserID) []domain.UserID {
	r.mu.Lock()
	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[domain.UserID]struct{})
		r.rooms[roomID] = members
	}
	prior := sortedMembers(members, uid)
	_, already := members[uid]
	members[uid] = struct{}{}
	size := len(members)
	r.mu.Unlock()

	log.Info().Str("module", "app.registry").Stringer("room_id", roomID).Stringer("user_id", uid).
		Bool("already_member", already).Int("members", size).Msg("joined room")
	return prior
}

// LeaveRoom removes uid from roomID if present and prunes the room when empty.
func (r *Registry) LeaveRoom(roomID domain.RoomID, uid domain.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.rooms[roomID]
	if !ok {
		return
	}
	delete(members, uid)
	if len(members) == 0 {
		delete(r.rooms, roomID)
	}
	log.Info().Str("module", "app.registry").Stringer("room_id", roomID).Stringer("user_id", uid).
		Int("members", len(members)).Msg("left room")
}

func (r *Registry) MembersOf(roomID domain.RoomID) []domain.UserID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedMembers(r.rooms[roomID])
}

func (r *Registry) IsOnline(uid domain.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[uid]
	return ok
}

func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// ShareRoom reports whether a and b are members of at least one common room.
func (r *Registry) ShareRoom(a, b domain.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, members := range r.rooms {
		_, okA := members[a]
		_, okB := members[b]
		if okA && okB {
			return true
		}
	}
	return false
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{OnlineUsers: len(r.conns), ActiveRooms: len(r.rooms)}
}

// Close closes every live handle and forgets all state.
func (r *Registry) Close() {
	r.mu.Lock()
	conns := lo.Values(r.conns)
	r.conns = make(map[domain.UserID]core.SignalConnection)
	r.rooms = make(map[domain.RoomID]map[domain.UserID]struct{})
	r.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	log.Info().Str("module", "app.registry").Int("closed", len(conns)).Msg("registry closed")
}

func sortedMembers(members map[domain.UserID]struct{}, exclude ...domain.UserID) []domain.UserID {
	out := lo.Without(lo.Keys(members), exclude...)
	slices.Sort(out)
	return out
}
