package relay

import (
	"github.com/lattice-video/signaling/internal/core"
	"github.com/lattice-video/signaling/internal/domain"
)

type adminRoomStatsPayload struct {
	RoomID domain.RoomID `json:"roomId"`
}

// handleAdminRoomStats and handleAdminAllRooms never expose passcodes
// or tokens (spec.md §4.2's admin surface is read-only diagnostics).
func (r *Relay) handleAdminRoomStats(c *wsConn, data []byte) {
	p, err := decode[adminRoomStatsPayload](data)
	if err != nil {
		return
	}
	stats, ok := r.rooms.RoomStats(p.RoomID)
	if !ok {
		r.send(c, core.EventError, struct {
			Message string      `json:"message"`
			Code    domain.Code `json:"code"`
		}{Message: domain.ErrRoomNotFound.Message, Code: domain.CodeRoomNotFound})
		return
	}
	r.send(c, core.EventAdminRoomStats, stats)
}

func (r *Relay) handleAdminAllRooms(c *wsConn) {
	r.send(c, core.EventAdminAllRooms, struct {
		Rooms []core.RoomStats `json:"rooms"`
	}{Rooms: r.rooms.AllRoomStats()})
}
