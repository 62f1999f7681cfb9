package relay

import (
	"context"

	"github.com/lattice-video/signaling/internal/core"
)

// handleFrame demultiplexes one inbound frame to its handler
// (spec.md §4.2's event surface, grouped as in spec.md §6.1). Handlers
// never block one peer on another: each frame is handled to
// completion before the read loop reads the next one, but the loop
// itself never blocks other sockets since every socket has its own
// read/write pump.
func (r *Relay) handleFrame(ctx context.Context, c *wsConn, state *connState, data core.Frame) {
	env, err := decode[inboundEnvelope](data)
	if err != nil {
		r.log.Warn().Err(err).Str("socket", string(state.socketID)).Msg("malformed frame")
		return
	}

	switch env.Type {
	case core.EventRoomCreate:
		r.handleRoomCreate(ctx, c, state, data)
	case core.EventRoomJoin:
		r.handleRoomJoin(ctx, c, state, data)
	case core.EventRoomLeave:
		r.handleRoomLeave(c, state)
	case core.EventRoomEndCall:
		r.handleEndCall(ctx, c, state)

	case core.EventUpdateMediaState:
		r.handleUpdateMediaState(c, state, data)

	case core.EventOffer, core.EventAnswer, core.EventICECandidate:
		r.handleWebRTCForward(c, state, env.Type, data)
	case core.EventGetICEServers:
		r.handleGetICEServers(c)

	case core.EventSfuJoinRoom:
		r.handleSfuJoinRoom(ctx, c, state, data)
	case core.EventSfuCreateTransport:
		r.handleSfuCreateTransport(ctx, c, state, data)
	case core.EventSfuConnectTransport:
		r.handleSfuConnectTransport(ctx, c, state, data)
	case core.EventSfuProduce:
		r.handleSfuProduce(ctx, c, state, data)
	case core.EventSfuConsume:
		r.handleSfuConsume(ctx, c, state, data)
	case core.EventSfuResumeConsumer:
		r.handleSfuResumeConsumer(c, state, data)
	case core.EventSfuPauseProducer:
		r.handleSfuPauseProducer(c, state, data)

	case core.EventChatMessage:
		r.handleChatMessage(c, state, data)
	case core.EventChatTyping:
		r.handleChatTyping(c, state, data)

	case core.EventAdminRoomStats:
		r.handleAdminRoomStats(c, data)
	case core.EventAdminAllRooms:
		r.handleAdminAllRooms(c)

	default:
		r.log.Debug().Str("event", string(env.Type)).Msg("unhandled event")
	}
}
