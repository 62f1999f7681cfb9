package domain

import "time"

type RoomStatus string

const (
	RoomWaiting RoomStatus = "waiting"
	RoomLive    RoomStatus = "live"
	RoomEnded   RoomStatus = "ended"
)

type CallType string

const (
	CallTypeOpen        CallType = "open"
	CallTypeInvitedOnly CallType = "invited_only"
)

// RoomSettings is the immutable-at-join, host-mutable configuration
// fetched from CallStore on first join and cached on the Room.
type RoomSettings struct {
	Name            string   `json:"name"`
	IsPrivate       bool     `json:"isPrivate"`
	PasscodeHash    string   `json:"-"`
	MaxParticipants int      `json:"maxParticipants"`
	CallType        CallType `json:"callType"`
	InviteList      []UserID `json:"-"`
	SFU             bool     `json:"sfu"`
}

// Room is the authoritative in-memory session bound to a RoomID.
// Invariants: R1 roomId unique across live rooms, R2 hostUserId is
// immutable for the room's lifetime, R3 reaped only after the grace
// period elapses with an empty participant map.
type Room struct {
	RoomID       RoomID
	CallID       CallID
	HostUserID   UserID
	Settings     RoomSettings
	Participants map[PeerID]*Participant
	Status       RoomStatus
	CreatedAt    time.Time
}

func NewRoom(roomID RoomID, callID CallID, hostUserID UserID, settings RoomSettings, now time.Time) *Room {
	return &Room{
		RoomID:       roomID,
		CallID:       callID,
		HostUserID:   hostUserID,
		Settings:     settings,
		Participants: make(map[PeerID]*Participant),
		Status:       RoomWaiting,
		CreatedAt:    now,
	}
}

// ConnectedCount returns the number of participants currently connected;
// this is the value compared against MaxParticipants (spec.md RoomFull).
func (r *Room) ConnectedCount() int {
	n := 0
	for _, p := range r.Participants {
		if p.IsConnected {
			n++
		}
	}
	return n
}

func (r *Room) ParticipantByUser(userID UserID) *Participant {
	for _, p := range r.Participants {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}
