package domain

import "time"

// Role is a tagged variant handled with exhaustive switches rather than
// a subclass hierarchy (see the polymorphism note in SPEC_FULL.md §3).
type Role string

const (
	RoleHost        Role = "host"
	RoleModerator   Role = "moderator"
	RoleParticipant Role = "participant"
	RoleGuest       Role = "guest"
)

// MediaState is tri-state per field: a nil field in an update request
// (MediaStateUpdate) retains the participant's prior value.
type MediaState struct {
	Audio  bool `json:"audio"`
	Video  bool `json:"video"`
	Screen bool `json:"screen"`
}

// MediaStateUpdate carries only the fields the caller wants to change.
type MediaStateUpdate struct {
	Audio  *bool
	Video  *bool
	Screen *bool
}

func (m MediaState) Apply(u MediaStateUpdate) MediaState {
	if u.Audio != nil {
		m.Audio = *u.Audio
	}
	if u.Video != nil {
		m.Video = *u.Video
	}
	if u.Screen != nil {
		m.Screen = *u.Screen
	}
	return m
}

// Participant is a user's presence in a Room. Invariant P1: PeerID is
// unique within a room and server-generated. Invariant P2: at most one
// connected Participant per (roomId, userId).
type Participant struct {
	PeerID      PeerID
	UserID      UserID
	SocketID    SocketID
	User        User
	Role        Role
	JoinedAt    time.Time
	LeftAt      *time.Time
	IsConnected bool
	MediaState  MediaState
}

// Snapshot is the read-only view sent to clients over the wire.
type Snapshot struct {
	PeerID     PeerID     `json:"peerId"`
	User       User       `json:"user"`
	Role       Role       `json:"role"`
	MediaState MediaState `json:"mediaState"`
}

func (p *Participant) Snapshot() Snapshot {
	return Snapshot{PeerID: p.PeerID, User: p.User, Role: p.Role, MediaState: p.MediaState}
}
