package relay

import (
	"encoding/json"

	"github.com/lattice-video/signaling/internal/core"
	"github.com/lattice-video/signaling/internal/domain"
	"github.com/lattice-video/signaling/internal/registry"
)

type webrtcForwardPayload struct {
	To        domain.PeerID   `json:"to"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// handleWebRTCForward relays offer/answer/ice-candidate to the named
// peer, stamping the authoritative `from` (spec.md §4.2's message
// envelope rule, invariant 4). ICE candidates to a missing peer are
// dropped silently; other kinds get a non-fatal PeerUnreachable error
// (spec.md §4.2, scenario S4).
func (r *Relay) handleWebRTCForward(c *wsConn, state *connState, event core.Event, data []byte) {
	p, err := decode[webrtcForwardPayload](data)
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

	fields := struct {
		From      domain.PeerID   `json:"from"`
		To        domain.PeerID   `json:"to"`
		Offer     json.RawMessage `json:"offer,omitempty"`
		Answer    json.RawMessage `json:"answer,omitempty"`
		Candidate json.RawMessage `json:"candidate,omitempty"`
		User      domain.User     `json:"user"`
	}{From: self.PeerID, To: p.To, Offer: p.Offer, Answer: p.Answer, Candidate: p.Candidate, User: state.identity}

	frame, err := registry.EncodeEvent(event, fields)
	if err != nil {
		return
	}

	if delivered := r.rooms.SendToPeer(roomID, p.To, frame); !delivered {
		if event == core.EventICECandidate {
			return
		}
		r.send(c, core.EventError, struct {
			Message string      `json:"message"`
			Code    domain.Code `json:"code"`
		}{Message: domain.ErrPeerUnreachable.Message, Code: domain.CodePeerUnreachable})
	}
}

func (r *Relay) handleGetICEServers(c *wsConn) {
	r.send(c, core.EventICEServers, struct {
		ICEServers []ICEServer `json:"iceServers"`
	}{ICEServers: r.cfg.ICEServers})
}
