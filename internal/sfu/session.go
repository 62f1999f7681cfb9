// Package sfu implements MediaSession (C5): per-room routers and
// per-peer transports/producers/consumers on top of a core.MediaWorker.
package sfu

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lattice-video/signaling/internal/core"
	"github.com/lattice-video/signaling/internal/domain"
	"github.com/lattice-video/signaling/internal/registry"
)

// RoomResolver is the subset of core.RoomRegistry the SFU needs to
// translate a socket id into the room/peer it belongs to. Satisfied
// structurally by *registry.Registry.
type RoomResolver interface {
	RoomOf(socketID domain.SocketID) (domain.RoomID, bool)
	ParticipantOf(socketID domain.SocketID) (*domain.Participant, bool)
}

// Broadcaster is the subset of the registry's fan-out surface the SFU
// needs to announce producers and pause state to a room. Satisfied
// structurally by *registry.Registry (Broadcast is not part of
// core.RoomRegistry, see that package's doc comment).
type Broadcaster interface {
	SendToPeer(roomID domain.RoomID, peerID domain.PeerID, frame core.Frame) bool
	Broadcast(roomID domain.RoomID, from domain.PeerID, frame core.Frame) (int, []domain.PeerID)
}

// roomSFU is one room's SFU-mode state: a router and every SfuPeer that
// has joined it (spec.md §4.3).
type roomSFU struct {
	router core.RouterHandle
	mu     sync.RWMutex
	peers  map[domain.PeerID]*peerState
}

// peerState tracks one participant's transports and, per producer id,
// which producer/transport it lives on, so leaveSfu and pauseProducer
// can find everything a peer owns without a room-wide scan.
type peerState struct {
	socketID domain.SocketID
	sfuPeer  *domain.SfuPeer

	sendTransport core.TransportHandle
	recvTransport core.TransportHandle

	producers map[domain.ProducerID]core.ProducerHandle
	consumers map[domain.ConsumerID]core.ConsumerHandle
}

func newPeerState(socketID domain.SocketID, peerID domain.PeerID) *peerState {
	return &peerState{
		socketID:  socketID,
		sfuPeer:   domain.NewSfuPeer(peerID),
		producers: make(map[domain.ProducerID]core.ProducerHandle),
		consumers: make(map[domain.ConsumerID]core.ConsumerHandle),
	}
}

// Session implements core.MediaSession.
type Session struct {
	worker core.MediaWorker
	rooms  RoomResolver
	fanout Broadcaster
	log    zerolog.Logger

	mu     sync.Mutex
	byRoom map[domain.RoomID]*roomSFU
}

func New(worker core.MediaWorker, rooms RoomResolver, fanout Broadcaster) *Session {
	return &Session{
		worker: worker,
		rooms:  rooms,
		fanout: fanout,
		log:    log.With().Str("module", "sfu").Logger(),
		byRoom: make(map[domain.RoomID]*roomSFU),
	}
}

func (s *Session) roomState(roomID domain.RoomID) (*roomSFU, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.byRoom[roomID]
	return rs, ok
}

func (s *Session) resolve(socketID domain.SocketID) (domain.RoomID, *roomSFU, *peerState, error) {
	roomID, ok := s.rooms.RoomOf(socketID)
	if !ok {
		return "", nil, nil, domain.ErrRoomNotFound
	}
	rs, ok := s.roomState(roomID)
	if !ok {
		return "", nil, nil, domain.NewError(domain.CodeInternal, "socket has not joined sfu mode for this room")
	}
	rs.mu.RLock()
	ps, ok := findPeerBySocket(rs.peers, socketID)
	rs.mu.RUnlock()
	if !ok {
		return "", nil, nil, domain.NewError(domain.CodeInternal, "socket has no sfu peer state")
	}
	return roomID, rs, ps, nil
}

func findPeerBySocket(peers map[domain.PeerID]*peerState, socketID domain.SocketID) (*peerState, bool) {
	for _, ps := range peers {
		if ps.socketID == socketID {
			return ps, true
		}
	}
	return nil, false
}

// JoinSfu creates or reuses the room's router and allocates an SfuPeer
// for the caller (spec.md §4.3).
func (s *Session) JoinSfu(ctx context.Context, socketID domain.SocketID, roomID domain.RoomID, clientRTPCapabilities json.RawMessage) (json.RawMessage, error) {
	participant, ok := s.rooms.ParticipantOf(socketID)
	if !ok {
		return nil, domain.ErrRoomNotFound
	}

	s.mu.Lock()
	rs, ok := s.byRoom[roomID]
	if !ok {
		router, err := s.worker.CreateRouter(ctx, roomID)
		if err != nil {
			s.mu.Unlock()
			return nil, err
		}
		rs = &roomSFU{router: router, peers: make(map[domain.PeerID]*peerState)}
		s.byRoom[roomID] = rs
	}
	s.mu.Unlock()

	rs.mu.Lock()
	rs.peers[participant.PeerID] = newPeerState(socketID, participant.PeerID)
	type existingProducer struct {
		peerID     domain.PeerID
		producerID domain.ProducerID
		kind       domain.MediaKind
	}
	var existing []existingProducer
	for _, ps := range rs.peers {
		if ps.sfuPeer.PeerID == participant.PeerID {
			continue
		}
		for producerID, kind := range ps.sfuPeer.Producers {
			existing = append(existing, existingProducer{peerID: ps.sfuPeer.PeerID, producerID: producerID, kind: kind})
		}
	}
	rs.mu.Unlock()

	// Producer propagation (spec.md §4.3): a late joiner learns about
	// every already-active producer in the room, not just future ones.
	for _, ep := range existing {
		payload := struct {
			PeerID     domain.PeerID     `json:"peerId"`
			ProducerID domain.ProducerID `json:"producerId"`
			Kind       domain.MediaKind  `json:"kind"`
		}{PeerID: ep.peerID, ProducerID: ep.producerID, Kind: ep.kind}
		frame, err := encodeEvent(core.EventSfuNewProducer, payload)
		if err == nil {
			s.fanout.SendToPeer(roomID, participant.PeerID, frame)
		}
	}

	s.log.Info().Str("room", string(roomID)).Str("peer", string(participant.PeerID)).Msg("joined sfu")
	return rs.router.RTPCapabilities(), nil
}

// CreateTransport creates a WebRTC transport in the caller's direction
// and records it as the peer's send or recv transport, replacing any
// prior one for that direction.
func (s *Session) CreateTransport(ctx context.Context, socketID domain.SocketID, direction domain.TransportDirection) (core.TransportInfo, error) {
	_, rs, ps, err := s.resolve(socketID)
	if err != nil {
		return core.TransportInfo{}, err
	}
	t, err := rs.router.CreateTransport(ctx, direction)
	if err != nil {
		return core.TransportInfo{}, err
	}
	t.OnDTLSClosed(func() { s.closeTransport(rs, ps, direction) })

	rs.mu.Lock()
	if direction == domain.DirectionSend {
		ps.sendTransport = t
		ps.sfuPeer.SendTransport = t.ID()
		ps.sfuPeer.HasSend = true
	} else {
		ps.recvTransport = t
		ps.sfuPeer.RecvTransport = t.ID()
		ps.sfuPeer.HasRecv = true
	}
	rs.mu.Unlock()

	return core.TransportInfo{
		ID:             t.ID(),
		ICEParameters:  t.ICEParameters(),
		ICECandidates:  t.ICECandidates(),
		DTLSParameters: t.DTLSParameters(),
	}, nil
}

// closeTransport runs when the worker reports a transport's DTLS state
// went to closed (spec.md §4.3's transport state machine); it tears
// down the transport's children per invariant S1.
func (s *Session) closeTransport(rs *roomSFU, ps *peerState, direction domain.TransportDirection) {
	var producers []core.ProducerHandle
	var consumers []core.ConsumerHandle
	rs.mu.Lock()
	if direction == domain.DirectionSend {
		for id, p := range ps.producers {
			producers = append(producers, p)
			delete(ps.producers, id)
			delete(ps.sfuPeer.Producers, id)
		}
		ps.sendTransport = nil
		ps.sfuPeer.HasSend = false
	} else {
		for id, c := range ps.consumers {
			consumers = append(consumers, c)
			delete(ps.consumers, id)
			delete(ps.sfuPeer.Consumers, id)
		}
		ps.recvTransport = nil
		ps.sfuPeer.HasRecv = false
	}
	rs.mu.Unlock()

	for _, p := range producers {
		p.Close()
	}
	for _, c := range consumers {
		c.Close()
	}
}

func (s *Session) ConnectTransport(ctx context.Context, socketID domain.SocketID, direction domain.TransportDirection, dtlsParameters json.RawMessage) error {
	_, rs, ps, err := s.resolve(socketID)
	if err != nil {
		return err
	}
	rs.mu.RLock()
	t := ps.sendTransport
	if direction == domain.DirectionRecv {
		t = ps.recvTransport
	}
	rs.mu.RUnlock()
	if t == nil {
		return domain.NewError(domain.CodeInternal, "no transport in that direction")
	}
	return t.Connect(ctx, dtlsParameters)
}

// Produce creates a producer on the caller's send transport and
// announces it to every other connected participant in the room
// (spec.md §4.3, scenario S6).
func (s *Session) Produce(ctx context.Context, socketID domain.SocketID, kind domain.MediaKind, rtpParameters json.RawMessage) (domain.ProducerID, error) {
	roomID, rs, ps, err := s.resolve(socketID)
	if err != nil {
		return "", err
	}
	rs.mu.RLock()
	t := ps.sendTransport
	rs.mu.RUnlock()
	if t == nil {
		return "", domain.NewError(domain.CodeInternal, "no send transport")
	}

	p, err := t.Produce(ctx, kind, rtpParameters)
	if err != nil {
		return "", err
	}

	rs.mu.Lock()
	ps.producers[p.ID()] = p
	ps.sfuPeer.Producers[p.ID()] = kind
	peerID := ps.sfuPeer.PeerID
	rs.mu.Unlock()

	payload := struct {
		PeerID     domain.PeerID    `json:"peerId"`
		ProducerID domain.ProducerID `json:"producerId"`
		Kind       domain.MediaKind `json:"kind"`
	}{PeerID: peerID, ProducerID: p.ID(), Kind: kind}
	frame, err := encodeEvent(core.EventSfuNewProducer, payload)
	if err == nil {
		s.fanout.Broadcast(roomID, peerID, frame)
	}

	s.log.Info().Str("room", string(roomID)).Str("peer", string(peerID)).Str("producer", string(p.ID())).Msg("produce")
	return p.ID(), nil
}

// Consume validates router.CanConsume, then creates a paused consumer
// on the caller's recv transport (spec.md §4.3, invariant S2).
func (s *Session) Consume(ctx context.Context, socketID domain.SocketID, producerID domain.ProducerID, rtpCapabilities json.RawMessage) (core.ConsumerInfo, error) {
	_, rs, ps, err := s.resolve(socketID)
	if err != nil {
		return core.ConsumerInfo{}, err
	}
	if !rs.router.CanConsume(producerID, rtpCapabilities) {
		return core.ConsumerInfo{}, domain.ErrUnconsumable
	}

	producerHandle, producerPeerID, ok := s.findProducer(rs, producerID)
	if !ok {
		return core.ConsumerInfo{}, domain.ErrUnconsumable
	}

	rs.mu.RLock()
	t := ps.recvTransport
	rs.mu.RUnlock()
	if t == nil {
		return core.ConsumerInfo{}, domain.NewError(domain.CodeInternal, "no recv transport")
	}

	c, err := t.Consume(ctx, producerHandle, rtpCapabilities)
	if err != nil {
		return core.ConsumerInfo{}, err
	}

	rs.mu.Lock()
	ps.consumers[c.ID()] = c
	ps.sfuPeer.Consumers[c.ID()] = domain.ConsumerRef{ProducerID: producerID, PeerID: producerPeerID}
	rs.mu.Unlock()

	return core.ConsumerInfo{
		ID:             c.ID(),
		Kind:           c.Kind(),
		RTPParameters:  c.RTPParameters(),
		ProducerPeerID: producerPeerID,
	}, nil
}

func (s *Session) findProducer(rs *roomSFU, producerID domain.ProducerID) (core.ProducerHandle, domain.PeerID, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	for _, ps := range rs.peers {
		if p, ok := ps.producers[producerID]; ok {
			return p, ps.sfuPeer.PeerID, true
		}
	}
	return nil, "", false
}

func (s *Session) ResumeConsumer(socketID domain.SocketID, consumerID domain.ConsumerID) error {
	_, rs, ps, err := s.resolve(socketID)
	if err != nil {
		return err
	}
	rs.mu.RLock()
	c, ok := ps.consumers[consumerID]
	rs.mu.RUnlock()
	if !ok {
		return domain.NewError(domain.CodeInternal, "unknown consumer")
	}
	return c.Resume()
}

// PauseProducer applies to every producer the caller owns in the room:
// the wire event carries no producerId (spec.md §6.1's
// sfu:pause-producer{pause}), so it is a blanket mute/unmute of the
// caller's own media.
func (s *Session) PauseProducer(socketID domain.SocketID, pause bool) error {
	roomID, rs, ps, err := s.resolve(socketID)
	if err != nil {
		return err
	}
	rs.mu.RLock()
	producers := make([]core.ProducerHandle, 0, len(ps.producers))
	for _, p := range ps.producers {
		producers = append(producers, p)
	}
	peerID := ps.sfuPeer.PeerID
	rs.mu.RUnlock()

	for _, p := range producers {
		if pause {
			p.Pause()
		} else {
			p.Resume()
		}
		payload := struct {
			ProducerID domain.ProducerID `json:"producerId"`
			Paused     bool              `json:"paused"`
		}{ProducerID: p.ID(), Paused: pause}
		frame, err := encodeEvent(core.EventSfuProducerPaused, payload)
		if err == nil {
			s.fanout.Broadcast(roomID, peerID, frame)
		}
	}
	return nil
}

// LeaveSfu closes everything the socket's peer owns; if the room's
// SFU peer count drops to zero, the router is closed too (spec.md
// §4.3).
func (s *Session) LeaveSfu(socketID domain.SocketID) {
	roomID, ok := s.rooms.RoomOf(socketID)
	if !ok {
		return
	}
	rs, ok := s.roomState(roomID)
	if !ok {
		return
	}

	rs.mu.Lock()
	ps, ok := findPeerBySocket(rs.peers, socketID)
	if !ok {
		rs.mu.Unlock()
		return
	}
	delete(rs.peers, ps.sfuPeer.PeerID)
	empty := len(rs.peers) == 0
	rs.mu.Unlock()

	for _, c := range ps.consumers {
		c.Close()
	}
	for _, p := range ps.producers {
		p.Close()
	}
	if ps.sendTransport != nil {
		ps.sendTransport.Close()
	}
	if ps.recvTransport != nil {
		ps.recvTransport.Close()
	}

	if empty {
		s.closeRoom(roomID, rs)
	}
}

// CloseRoom force-closes a room's SFU state; used by the registry when
// a room ends or is reaped (spec.md §4.1's "instruct C5 to close its
// router").
func (s *Session) CloseRoom(roomID domain.RoomID) {
	rs, ok := s.roomState(roomID)
	if !ok {
		return
	}
	s.closeRoom(roomID, rs)
}

func (s *Session) closeRoom(roomID domain.RoomID, rs *roomSFU) {
	rs.mu.Lock()
	peers := make([]*peerState, 0, len(rs.peers))
	for _, ps := range rs.peers {
		peers = append(peers, ps)
	}
	rs.peers = make(map[domain.PeerID]*peerState)
	rs.mu.Unlock()

	for _, ps := range peers {
		for _, c := range ps.consumers {
			c.Close()
		}
		for _, p := range ps.producers {
			p.Close()
		}
		if ps.sendTransport != nil {
			ps.sendTransport.Close()
		}
		if ps.recvTransport != nil {
			ps.recvTransport.Close()
		}
	}

	rs.router.Close()

	s.mu.Lock()
	delete(s.byRoom, roomID)
	s.mu.Unlock()

	s.log.Info().Str("room", string(roomID)).Msg("sfu room closed")
}

var _ core.MediaSession = (*Session)(nil)

// encodeEvent shares the registry's flat wire-envelope shape so relay
// clients see one consistent JSON layout regardless of which component
// produced the frame.
func encodeEvent(event core.Event, payload any) (core.Frame, error) {
	return registry.EncodeEvent(event, payload)
}
