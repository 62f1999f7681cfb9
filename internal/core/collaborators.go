// Package core declares the interfaces the session layer's components
// depend on: the external collaborators (TokenVerifier, CallStore,
// MediaWorker) and the contracts the three owned components
// (RoomRegistry, SignalingRelay, MediaSession) expose to each other.
package core

import (
	"context"

	"github.com/lattice-video/signaling/internal/domain"
)

// TokenVerifier (C1) validates a bearer token and returns the
// authenticated identity. It never mutates the session layer's state.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (domain.User, error)
}

// CallRecord is what CallStore.GetByRoomID returns: enough of the call
// row for RoomRegistry.join to enforce its access checks.
type CallRecord struct {
	CallID       domain.CallID
	HostUserID   domain.UserID
	Status       domain.RoomStatus
	Settings     domain.RoomSettings
	PasscodeHash string
}

// CallStore (C2) persists call records and participant status
// transitions. Every method is idempotent on retry; failures are
// logged by the caller and never block session progress (spec.md §7).
type CallStore interface {
	GetByRoomID(ctx context.Context, roomID domain.RoomID) (*CallRecord, error)
	AddParticipant(ctx context.Context, callID domain.CallID, userID domain.UserID, role domain.Role) error
	UpdateParticipantStatus(ctx context.Context, callID domain.CallID, userID domain.UserID, connected bool, socketID domain.SocketID) error
	Start(ctx context.Context, callID domain.CallID) error
	End(ctx context.Context, callID domain.CallID) error
}
