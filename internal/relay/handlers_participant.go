package relay

import (
	"github.com/lattice-video/signaling/internal/core"
	"github.com/lattice-video/signaling/internal/domain"
	"github.com/lattice-video/signaling/internal/registry"
)

type mediaStatePayload struct {
	AudioEnabled       *bool `json:"audioEnabled"`
	VideoEnabled       *bool `json:"videoEnabled"`
	ScreenShareEnabled *bool `json:"screenShareEnabled"`
}

func (r *Relay) handleUpdateMediaState(c *wsConn, state *connState, data []byte) {
	p, err := decode[mediaStatePayload](data)
	if err != nil {
		return
	}
	update := domain.MediaStateUpdate{Audio: p.AudioEnabled, Video: p.VideoEnabled, Screen: p.ScreenShareEnabled}
	if err := r.rooms.UpdateMediaState(state.socketID, update); err != nil {
		return
	}

	roomID, ok := r.rooms.RoomOf(state.socketID)
	if !ok {
		return
	}
	participant, ok := r.rooms.ParticipantOf(state.socketID)
	if !ok {
		return
	}

	frame, err := registry.EncodeEvent(core.EventMediaStateChanged, struct {
		UserID     domain.UserID     `json:"userId"`
		PeerID     domain.PeerID     `json:"peerId"`
		MediaState domain.MediaState `json:"mediaState"`
	}{UserID: participant.UserID, PeerID: participant.PeerID, MediaState: participant.MediaState})
	if err == nil {
		r.rooms.Broadcast(roomID, participant.PeerID, frame)
	}
}
