package relay

import (
	"context"

	"github.com/lattice-video/signaling/internal/core"
	"github.com/lattice-video/signaling/internal/domain"
	"github.com/lattice-video/signaling/internal/registry"
)

type roomCreatePayload struct {
	Name            string `json:"name"`
	IsPrivate       bool   `json:"isPrivate"`
	MaxParticipants int    `json:"maxParticipants"`
	ID              string `json:"id"`
}

type roomJoinPayload struct {
	RoomID   string `json:"roomId"`
	Passcode string `json:"passcode"`
}

func (r *Relay) handleRoomCreate(ctx context.Context, c *wsConn, state *connState, data []byte) {
	p, err := decode[roomCreatePayload](data)
	if err != nil {
		r.sendError(ctx, c, domain.NewError(domain.CodeInternal, "malformed room:create"))
		return
	}

	result, err := r.rooms.CreateRoom(ctx, core.CreateRoomRequest{
		RoomID:          domain.RoomID(p.ID),
		Name:            p.Name,
		IsPrivate:       p.IsPrivate,
		MaxParticipants: p.MaxParticipants,
		Identity:        state.identity,
		SocketID:        state.socketID,
		Conn:            c,
	})
	if err != nil {
		r.sendError(ctx, c, err)
		return
	}

	r.send(c, core.EventRoomCreated, joinResultPayload(result))
}

func (r *Relay) handleRoomJoin(ctx context.Context, c *wsConn, state *connState, data []byte) {
	p, err := decode[roomJoinPayload](data)
	if err != nil {
		r.sendError(ctx, c, domain.NewError(domain.CodeInternal, "malformed room:join"))
		return
	}

	result, err := r.rooms.Join(ctx, core.JoinRequest{
		RoomID:   domain.RoomID(p.RoomID),
		Passcode: p.Passcode,
		Identity: state.identity,
		SocketID: state.socketID,
		Conn:     c,
	})
	if err != nil {
		r.sendError(ctx, c, err)
		return
	}

	r.send(c, core.EventRoomJoined, joinResultPayload(result))

	frame, err := registry.EncodeEvent(core.EventUserJoined, struct {
		User        domain.User     `json:"user"`
		Participant domain.Snapshot `json:"participant"`
	}{User: state.identity, Participant: result.Self.Snapshot()})
	if err == nil {
		r.rooms.Broadcast(result.Room.RoomID, result.Self.PeerID, frame)
	}
}

// room:user-left is broadcast by the registry itself (registry.Leave),
// the single point both an explicit leave and a reap-triggered
// disconnect funnel through, so this handler only tears down the
// caller's own state.
func (r *Relay) handleRoomLeave(c *wsConn, state *connState) {
	roomID, ok := r.rooms.RoomOf(state.socketID)
	if !ok {
		return
	}
	r.sfu.LeaveSfu(state.socketID)
	r.rooms.Leave(state.socketID, roomID)
}

// handleEndCall is authorized only for the room's host; the relay is
// the layer that knows the caller's role, so it enforces HostRequired
// here rather than inside C3 (spec.md §4.1's endCall contract).
func (r *Relay) handleEndCall(ctx context.Context, c *wsConn, state *connState) {
	roomID, ok := r.rooms.RoomOf(state.socketID)
	if !ok {
		r.sendError(ctx, c, domain.ErrRoomNotFound)
		return
	}
	participant, ok := r.rooms.ParticipantOf(state.socketID)
	if !ok || participant.Role != domain.RoleHost {
		r.sendError(ctx, c, domain.ErrHostRequired)
		return
	}

	// Broadcast with an empty "from" so every peer, including the host
	// who issued the call, receives it (scenario S5).
	frame, err := registry.EncodeEvent(core.EventCallEnded, struct {
		RoomID domain.RoomID `json:"roomId"`
		Reason string        `json:"reason"`
	}{RoomID: roomID, Reason: "Host ended the call"})
	if err == nil {
		r.rooms.Broadcast(roomID, "", frame)
	}

	if err := r.rooms.EndCall(ctx, state.socketID); err != nil {
		r.sendError(ctx, c, err)
		return
	}
	r.sfu.CloseRoom(roomID)
}

func joinResultPayload(res *core.JoinResult) any {
	return struct {
		RoomID       domain.RoomID       `json:"roomId"`
		User         domain.User         `json:"user"`
		Participants []domain.Snapshot   `json:"participants"`
		Settings     domain.RoomSettings `json:"settings"`
		IsHost       bool                `json:"isHost"`
	}{
		RoomID:       res.Room.RoomID,
		User:         res.Self.User,
		Participants: res.Participants,
		Settings:     res.Room.Settings,
		IsHost:       res.IsHost,
	}
}
