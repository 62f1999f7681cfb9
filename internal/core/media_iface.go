package core

import (
	"context"
	"encoding/json"

	"github.com/lattice-video/signaling/internal/domain"
)

// MediaSession (C5) owns the media-routing topology for rooms that
// opt into SFU mode. Every method resolves the caller's room/peer via
// the socket id it is bound to (mirrors §4.3's `socket` first
// argument).
type MediaSession interface {
	JoinSfu(ctx context.Context, socketID domain.SocketID, roomID domain.RoomID, clientRTPCapabilities json.RawMessage) (routerRTPCapabilities json.RawMessage, err error)
	CreateTransport(ctx context.Context, socketID domain.SocketID, direction domain.TransportDirection) (TransportInfo, error)
	ConnectTransport(ctx context.Context, socketID domain.SocketID, direction domain.TransportDirection, dtlsParameters json.RawMessage) error
	Produce(ctx context.Context, socketID domain.SocketID, kind domain.MediaKind, rtpParameters json.RawMessage) (domain.ProducerID, error)
	Consume(ctx context.Context, socketID domain.SocketID, producerID domain.ProducerID, rtpCapabilities json.RawMessage) (ConsumerInfo, error)
	ResumeConsumer(socketID domain.SocketID, consumerID domain.ConsumerID) error
	PauseProducer(socketID domain.SocketID, pause bool) error
	LeaveSfu(socketID domain.SocketID)
	CloseRoom(roomID domain.RoomID)
}

type TransportInfo struct {
	ID             domain.TransportID `json:"id"`
	ICEParameters  json.RawMessage    `json:"iceParameters"`
	ICECandidates  json.RawMessage    `json:"iceCandidates"`
	DTLSParameters json.RawMessage    `json:"dtlsParameters"`
}

type ConsumerInfo struct {
	ID             domain.ConsumerID `json:"id"`
	Kind           domain.MediaKind  `json:"kind"`
	RTPParameters  json.RawMessage   `json:"rtpParameters"`
	ProducerPeerID domain.PeerID     `json:"producerPeerId"`
}

// MediaWorker is the opaque native media-routing library (spec.md §6.3):
// create a router with a configured codec set, create transports,
// produce/consume, pause/resume, and surface a died event. In-process
// death is treated as fatal per spec.md §4.4.
type MediaWorker interface {
	CreateRouter(ctx context.Context, roomID domain.RoomID) (RouterHandle, error)
	Died() <-chan struct{}
}

type RouterHandle interface {
	RoomID() domain.RoomID
	RTPCapabilities() json.RawMessage
	CanConsume(producerID domain.ProducerID, rtpCapabilities json.RawMessage) bool
	CreateTransport(ctx context.Context, direction domain.TransportDirection) (TransportHandle, error)
	Close()
}

type TransportHandle interface {
	ID() domain.TransportID
	ICEParameters() json.RawMessage
	ICECandidates() json.RawMessage
	DTLSParameters() json.RawMessage
	Connect(ctx context.Context, dtlsParameters json.RawMessage) error
	Produce(ctx context.Context, kind domain.MediaKind, rtpParameters json.RawMessage) (ProducerHandle, error)
	Consume(ctx context.Context, producer ProducerHandle, rtpCapabilities json.RawMessage) (ConsumerHandle, error)
	OnDTLSClosed(func())
	Close()
}

type ProducerHandle interface {
	ID() domain.ProducerID
	Kind() domain.MediaKind
	Pause()
	Resume()
	Close()
}

type ConsumerHandle interface {
	ID() domain.ConsumerID
	Kind() domain.MediaKind
	RTPParameters() json.RawMessage
	Resume() error
	Pause() error
	Close()
}
