package relay

import (
	"time"

	"github.com/google/uuid"

	"github.com/lattice-video/signaling/internal/core"
	"github.com/lattice-video/signaling/internal/domain"
	"github.com/lattice-video/signaling/internal/registry"
)

type chatMessagePayload struct {
	Message string        `json:"message"`
	To      domain.PeerID `json:"to"`
}

type chatTypingPayload struct {
	IsTyping bool `json:"isTyping"`
}

// handleChatMessage fans a message out in the room, or sends it only
// to `to` when addressed (spec.md §4.2). No chat history is kept
// (spec.md's Non-goals).
func (r *Relay) handleChatMessage(c *wsConn, state *connState, data []byte) {
	p, err := decode[chatMessagePayload](data)
	if err != nil {
		return
	}
	roomID, ok := r.rooms.RoomOf(state.socketID)
	if !ok {
		return
	}
	self, ok := r.rooms.ParticipantOf(state.socketID)
	if !ok {
		return
	}

	payload := struct {
		ID        string        `json:"id"`
		From      domain.PeerID `json:"from"`
		User      domain.User   `json:"user"`
		Message   string        `json:"message"`
		Timestamp int64         `json:"timestamp"`
	}{ID: uuid.NewString(), From: self.PeerID, User: state.identity, Message: p.Message, Timestamp: time.Now().UnixMilli()}

	frame, err := registry.EncodeEvent(core.EventChatMessage, payload)
	if err != nil {
		return
	}

	if p.To != "" {
		r.rooms.SendToPeer(roomID, p.To, frame)
		return
	}
	r.rooms.Broadcast(roomID, self.PeerID, frame)
}

func (r *Relay) handleChatTyping(c *wsConn, state *connState, data []byte) {
	p, err := decode[chatTypingPayload](data)
	if err != nil {
		return
	}
	roomID, ok := r.rooms.RoomOf(state.socketID)
	if !ok {
		return
	}
	self, ok := r.rooms.ParticipantOf(state.socketID)
	if !ok {
		return
	}

	frame, err := registry.EncodeEvent(core.EventChatTyping, struct {
		From     domain.PeerID `json:"from"`
		IsTyping bool          `json:"isTyping"`
	}{From: self.PeerID, IsTyping: p.IsTyping})
	if err == nil {
		r.rooms.Broadcast(roomID, self.PeerID, frame)
	}
}
