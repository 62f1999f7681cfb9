package relay

import (
	"context"
	"encoding/json"

	"github.com/lattice-video/signaling/internal/core"
	"github.com/lattice-video/signaling/internal/domain"
)

type sfuJoinRoomPayload struct {
	RoomID          domain.RoomID   `json:"roomId"`
	RTPCapabilities json.RawMessage `json:"rtpCapabilities"`
}

func (r *Relay) handleSfuJoinRoom(ctx context.Context, c *wsConn, state *connState, data []byte) {
	p, err := decode[sfuJoinRoomPayload](data)
	if err != nil {
		r.sendError(ctx, c, domain.NewError(domain.CodeInternal, "malformed sfu:join-room"))
		return
	}
	caps, err := r.sfu.JoinSfu(ctx, state.socketID, p.RoomID, p.RTPCapabilities)
	if err != nil {
		r.sendError(ctx, c, err)
		return
	}
	r.send(c, core.EventSfuRouterCapabilities, struct {
		RTPCapabilities json.RawMessage `json:"rtpCapabilities"`
	}{RTPCapabilities: caps})
}

type sfuCreateTransportPayload struct {
	Direction domain.TransportDirection `json:"direction"`
}

func (r *Relay) handleSfuCreateTransport(ctx context.Context, c *wsConn, state *connState, data []byte) {
	p, err := decode[sfuCreateTransportPayload](data)
	if err != nil {
		r.sendError(ctx, c, domain.NewError(domain.CodeInternal, "malformed sfu:create-transport"))
		return
	}
	info, err := r.sfu.CreateTransport(ctx, state.socketID, p.Direction)
	if err != nil {
		r.sendError(ctx, c, err)
		return
	}
	state.enqueueTransport(p.Direction)
	r.send(c, core.EventSfuTransportCreated, info)
}

type sfuConnectTransportPayload struct {
	DTLSParameters json.RawMessage `json:"dtlsParameters"`
}

func (r *Relay) handleSfuConnectTransport(ctx context.Context, c *wsConn, state *connState, data []byte) {
	p, err := decode[sfuConnectTransportPayload](data)
	if err != nil {
		r.sendError(ctx, c, domain.NewError(domain.CodeInternal, "malformed sfu:connect-transport"))
		return
	}
	dir, ok := state.dequeueTransport()
	if !ok {
		r.sendError(ctx, c, domain.NewError(domain.CodeInternal, "connect-transport with no pending transport"))
		return
	}
	if err := r.sfu.ConnectTransport(ctx, state.socketID, dir, p.DTLSParameters); err != nil {
		r.sendError(ctx, c, err)
		return
	}
	r.send(c, core.EventSfuTransportConnected, struct {
		Direction domain.TransportDirection `json:"direction"`
	}{Direction: dir})
}

type sfuProducePayload struct {
	Kind          domain.MediaKind `json:"kind"`
	RTPParameters json.RawMessage  `json:"rtpParameters"`
}

func (r *Relay) handleSfuProduce(ctx context.Context, c *wsConn, state *connState, data []byte) {
	p, err := decode[sfuProducePayload](data)
	if err != nil {
		r.sendError(ctx, c, domain.NewError(domain.CodeInternal, "malformed sfu:produce"))
		return
	}
	producerID, err := r.sfu.Produce(ctx, state.socketID, p.Kind, p.RTPParameters)
	if err != nil {
		r.sendError(ctx, c, err)
		return
	}
	r.send(c, core.EventSfuProducerCreated, struct {
		ID domain.ProducerID `json:"id"`
	}{ID: producerID})
}

type sfuConsumePayload struct {
	ProducerID      domain.ProducerID `json:"producerId"`
	RTPCapabilities json.RawMessage   `json:"rtpCapabilities"`
}

func (r *Relay) handleSfuConsume(ctx context.Context, c *wsConn, state *connState, data []byte) {
	p, err := decode[sfuConsumePayload](data)
	if err != nil {
		r.sendError(ctx, c, domain.NewError(domain.CodeInternal, "malformed sfu:consume"))
		return
	}
	info, err := r.sfu.Consume(ctx, state.socketID, p.ProducerID, p.RTPCapabilities)
	if err != nil {
		r.sendError(ctx, c, err)
		return
	}
	r.send(c, core.EventSfuConsumerCreated, struct {
		ID             domain.ConsumerID `json:"id"`
		ProducerID     domain.ProducerID `json:"producerId"`
		Kind           domain.MediaKind  `json:"kind"`
		RTPParameters  json.RawMessage   `json:"rtpParameters"`
		ProducerPeerID domain.PeerID     `json:"producerPeerId"`
	}{ID: info.ID, ProducerID: p.ProducerID, Kind: info.Kind, RTPParameters: info.RTPParameters, ProducerPeerID: info.ProducerPeerID})
}

type sfuResumeConsumerPayload struct {
	ConsumerID domain.ConsumerID `json:"consumerId"`
}

func (r *Relay) handleSfuResumeConsumer(c *wsConn, state *connState, data []byte) {
	p, err := decode[sfuResumeConsumerPayload](data)
	if err != nil {
		return
	}
	if err := r.sfu.ResumeConsumer(state.socketID, p.ConsumerID); err != nil {
		return
	}
	r.send(c, core.EventSfuConsumerResumed, struct {
		ConsumerID domain.ConsumerID `json:"consumerId"`
	}{ConsumerID: p.ConsumerID})
}

type sfuPauseProducerPayload struct {
	Pause bool `json:"pause"`
}

func (r *Relay) handleSfuPauseProducer(c *wsConn, state *connState, data []byte) {
	p, err := decode[sfuPauseProducerPayload](data)
	if err != nil {
		return
	}
	_ = r.sfu.PauseProducer(state.socketID, p.Pause)
}
