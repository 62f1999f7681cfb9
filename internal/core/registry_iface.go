package core

import (
	"context"

	"github.com/lattice-video/signaling/internal/domain"
)

// CreateRoomRequest is the payload behind the room:create event. RoomID
// is optional; when empty the registry generates one.
type CreateRoomRequest struct {
	RoomID          domain.RoomID
	Name            string
	IsPrivate       bool
	MaxParticipants int
	Identity        domain.User
	SocketID        domain.SocketID
	Conn            SignalConnection
}

// JoinRequest is the payload behind the room:join event.
type JoinRequest struct {
	RoomID   domain.RoomID
	Passcode string
	Identity domain.User
	SocketID domain.SocketID
	Conn     SignalConnection
}

// JoinResult is what the joining client is sent back as room:joined.
type JoinResult struct {
	Room         *domain.Room
	Self         *domain.Participant
	Participants []domain.Snapshot
	IsHost       bool
}

// RoomRegistry (C3) is the single source of truth for live session
// state. Every mutation named in spec.md §4.1 must appear atomic to
// observers of a given room (linearizable per room; no cross-room
// ordering).
type RoomRegistry interface {
	CreateRoom(ctx context.Context, req CreateRoomRequest) (*JoinResult, error)
	Join(ctx context.Context, req JoinRequest) (*JoinResult, error)
	Leave(socketID domain.SocketID, roomID domain.RoomID)
	UpdateMediaState(socketID domain.SocketID, update domain.MediaStateUpdate) error
	EndCall(ctx context.Context, socketID domain.SocketID) error
	HandleDisconnect(socketID domain.SocketID)

	RoomOf(socketID domain.SocketID) (domain.RoomID, bool)
	ParticipantOf(socketID domain.SocketID) (*domain.Participant, bool)

	// SendToPeer delivers an already-encoded frame to the named peer
	// within roomID, returning false if the peer is absent or
	// disconnected (used by the relay for peer-targeted signaling).
	SendToPeer(roomID domain.RoomID, peerID domain.PeerID, frame Frame) bool

	// RoomStats and AllRoomStats back the admin diagnostic events.
	RoomStats(roomID domain.RoomID) (RoomStats, bool)
	AllRoomStats() []RoomStats
}

// RoomStats is the read-only snapshot exposed to admin callers; it
// never includes secrets (passcode hash, invite list).
type RoomStats struct {
	RoomID           domain.RoomID     `json:"roomId"`
	Status           domain.RoomStatus `json:"status"`
	ParticipantCount int               `json:"participantCount"`
	CreatedAt        string            `json:"createdAt"`
}
