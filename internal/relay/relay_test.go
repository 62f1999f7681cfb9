package relay

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/lattice-video/signaling/internal/core"
	"github.com/lattice-video/signaling/internal/domain"
)

type fakeRooms struct {
	participants map[domain.SocketID]*domain.Participant
	roomOf       map[domain.SocketID]domain.RoomID
	sent         map[domain.PeerID][]core.Frame
	broadcasts   []broadcastCall
	endCallErr   error
	ended        bool
}

type broadcastCall struct {
	roomID domain.RoomID
	from   domain.PeerID
	frame  core.Frame
}

func newFakeRooms() *fakeRooms {
	return &fakeRooms{
		participants: map[domain.SocketID]*domain.Participant{},
		roomOf:       map[domain.SocketID]domain.RoomID{},
		sent:         map[domain.PeerID][]core.Frame{},
	}
}

func (f *fakeRooms) CreateRoom(ctx context.Context, req core.CreateRoomRequest) (*core.JoinResult, error) {
	return nil, nil
}
func (f *fakeRooms) Join(ctx context.Context, req core.JoinRequest) (*core.JoinResult, error) {
	return nil, nil
}
func (f *fakeRooms) Leave(socketID domain.SocketID, roomID domain.RoomID) {
	delete(f.participants, socketID)
	delete(f.roomOf, socketID)
}
func (f *fakeRooms) UpdateMediaState(socketID domain.SocketID, update domain.MediaStateUpdate) error {
	p, ok := f.participants[socketID]
	if !ok {
		return domain.ErrRoomNotFound
	}
	p.MediaState = p.MediaState.Apply(update)
	return nil
}
func (f *fakeRooms) EndCall(ctx context.Context, socketID domain.SocketID) error {
	f.ended = true
	return f.endCallErr
}
func (f *fakeRooms) HandleDisconnect(socketID domain.SocketID) {}
func (f *fakeRooms) RoomOf(socketID domain.SocketID) (domain.RoomID, bool) {
	r, ok := f.roomOf[socketID]
	return r, ok
}
func (f *fakeRooms) ParticipantOf(socketID domain.SocketID) (*domain.Participant, bool) {
	p, ok := f.participants[socketID]
	return p, ok
}
func (f *fakeRooms) SendToPeer(roomID domain.RoomID, peerID domain.PeerID, frame core.Frame) bool {
	if peerID == "" {
		return false
	}
	if _, known := f.sent[peerID]; !known && peerID != "known-peer" {
		return false
	}
	f.sent[peerID] = append(f.sent[peerID], frame)
	return true
}
func (f *fakeRooms) RoomStats(roomID domain.RoomID) (core.RoomStats, bool) { return core.RoomStats{}, false }
func (f *fakeRooms) AllRoomStats() []core.RoomStats                       { return nil }
func (f *fakeRooms) Broadcast(roomID domain.RoomID, from domain.PeerID, frame core.Frame) (int, []domain.PeerID) {
	f.broadcasts = append(f.broadcasts, broadcastCall{roomID: roomID, from: from, frame: frame})
	return 0, nil
}

type fakeSFU struct{ leftSocket domain.SocketID; closedRoom domain.RoomID }

func (f *fakeSFU) JoinSfu(ctx context.Context, socketID domain.SocketID, roomID domain.RoomID, caps json.RawMessage) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}
func (f *fakeSFU) CreateTransport(ctx context.Context, socketID domain.SocketID, direction domain.TransportDirection) (core.TransportInfo, error) {
	return core.TransportInfo{}, nil
}
func (f *fakeSFU) ConnectTransport(ctx context.Context, socketID domain.SocketID, direction domain.TransportDirection, dtls json.RawMessage) error {
	return nil
}
func (f *fakeSFU) Produce(ctx context.Context, socketID domain.SocketID, kind domain.MediaKind, rtp json.RawMessage) (domain.ProducerID, error) {
	return "", nil
}
func (f *fakeSFU) Consume(ctx context.Context, socketID domain.SocketID, producerID domain.ProducerID, caps json.RawMessage) (core.ConsumerInfo, error) {
	return core.ConsumerInfo{}, nil
}
func (f *fakeSFU) ResumeConsumer(socketID domain.SocketID, consumerID domain.ConsumerID) error { return nil }
func (f *fakeSFU) PauseProducer(socketID domain.SocketID, pause bool) error                    { return nil }
func (f *fakeSFU) LeaveSfu(socketID domain.SocketID)                                           { f.leftSocket = socketID }
func (f *fakeSFU) CloseRoom(roomID domain.RoomID)                                              { f.closedRoom = roomID }

func newTestRelay(rooms *fakeRooms, sfu *fakeSFU) *Relay {
	return New(rooms, sfu, nil, Config{})
}

func newTestConn() *wsConn {
	return &wsConn{send: make(chan core.Frame, 8)}
}

func drain(c *wsConn) core.Frame {
	select {
	case f := <-c.send:
		return f
	default:
		return nil
	}
}

// invariant 4: the relay always stamps `from` itself; a caller-supplied
// from field in the wire payload must never survive to delivery.
func TestWebRTCForwardStampsAuthoritativeFrom(t *testing.T) {
	rooms := newFakeRooms()
	rooms.roomOf["s1"] = "room1"
	rooms.participants["s1"] = &domain.Participant{PeerID: "peer1"}
	rooms.sent["known-peer"] = nil

	r := newTestRelay(rooms, &fakeSFU{})
	c := newTestConn()
	state := &connState{socketID: "s1"}

	payload, _ := json.Marshal(webrtcForwardPayload{To: "known-peer", Offer: json.RawMessage(`{"sdp":"x"}`)})
	r.handleWebRTCForward(c, state, core.EventOffer, payload)

	frames := rooms.sent["known-peer"]
	if len(frames) != 1 {
		t.Fatalf("expected 1 delivered frame, got %d", len(frames))
	}
	var got struct {
		From string `json:"from"`
	}
	if err := json.Unmarshal(frames[0], &got); err != nil {
		t.Fatal(err)
	}
	if got.From != "peer1" {
		t.Fatalf("from = %q, want peer1 (server-stamped)", got.From)
	}
}

// scenario S4: an ICE candidate addressed to a peer that isn't present
// is dropped silently, no error frame sent back.
func TestICECandidateToMissingPeerDroppedSilently(t *testing.T) {
	rooms := newFakeRooms()
	rooms.roomOf["s1"] = "room1"
	rooms.participants["s1"] = &domain.Participant{PeerID: "peer1"}

	r := newTestRelay(rooms, &fakeSFU{})
	c := newTestConn()
	state := &connState{socketID: "s1"}

	payload, _ := json.Marshal(webrtcForwardPayload{To: "ghost", Candidate: json.RawMessage(`{}`)})
	r.handleWebRTCForward(c, state, core.EventICECandidate, payload)

	if f := drain(c); f != nil {
		t.Fatalf("expected no frame sent to caller, got %s", f)
	}
}

// non-ICE forwards to a missing peer surface a PeerUnreachable error.
func TestOfferToMissingPeerReturnsPeerUnreachable(t *testing.T) {
	rooms := newFakeRooms()
	rooms.roomOf["s1"] = "room1"
	rooms.participants["s1"] = &domain.Participant{PeerID: "peer1"}

	r := newTestRelay(rooms, &fakeSFU{})
	c := newTestConn()
	state := &connState{socketID: "s1"}

	payload, _ := json.Marshal(webrtcForwardPayload{To: "ghost", Offer: json.RawMessage(`{}`)})
	r.handleWebRTCForward(c, state, core.EventOffer, payload)

	f := drain(c)
	if f == nil {
		t.Fatal("expected an error frame")
	}
	var got struct {
		Type string      `json:"type"`
		Code domain.Code `json:"code"`
	}
	if err := json.Unmarshal(f, &got); err != nil {
		t.Fatal(err)
	}
	if got.Code != domain.CodePeerUnreachable {
		t.Fatalf("code = %q, want PeerUnreachable", got.Code)
	}
}

// invariant 5: broadcasts never loop the sender's own frame back to
// them; here we only assert the relay always passes `from` as the
// caller's own peer id to Broadcast so C3 can exclude it.
func TestChatMessageBroadcastExcludesSender(t *testing.T) {
	rooms := newFakeRooms()
	rooms.roomOf["s1"] = "room1"
	rooms.participants["s1"] = &domain.Participant{PeerID: "peer1"}

	r := newTestRelay(rooms, &fakeSFU{})
	c := newTestConn()
	state := &connState{socketID: "s1"}

	payload, _ := json.Marshal(chatMessagePayload{Message: "hi"})
	r.handleChatMessage(c, state, payload)

	if len(rooms.broadcasts) != 1 {
		t.Fatalf("expected 1 broadcast, got %d", len(rooms.broadcasts))
	}
	if rooms.broadcasts[0].from != "peer1" {
		t.Fatalf("broadcast from = %q, want peer1", rooms.broadcasts[0].from)
	}
}

// scenario S5: only the host may end the call; a non-host is rejected
// with HostRequired and no broadcast happens.
func TestEndCallRejectsNonHost(t *testing.T) {
	rooms := newFakeRooms()
	rooms.roomOf["s1"] = "room1"
	rooms.participants["s1"] = &domain.Participant{PeerID: "peer1", Role: domain.RoleParticipant}

	r := newTestRelay(rooms, &fakeSFU{})
	c := newTestConn()
	state := &connState{socketID: "s1"}

	r.handleEndCall(context.Background(), c, state)

	if len(rooms.broadcasts) != 0 {
		t.Fatalf("expected no broadcast for non-host end-call attempt")
	}
	if rooms.ended {
		t.Fatalf("expected EndCall not to be invoked")
	}
}

// scenario S5: the host ending the call broadcasts room:call-ended to
// the whole room (from="" so the host also receives it) and closes the
// SFU router for the room.
func TestEndCallByHostBroadcastsAndClosesSFU(t *testing.T) {
	rooms := newFakeRooms()
	rooms.roomOf["s1"] = "room1"
	rooms.participants["s1"] = &domain.Participant{PeerID: "peer1", Role: domain.RoleHost}

	sfu := &fakeSFU{}
	r := newTestRelay(rooms, sfu)
	c := newTestConn()
	state := &connState{socketID: "s1"}

	r.handleEndCall(context.Background(), c, state)

	if len(rooms.broadcasts) != 1 {
		t.Fatalf("expected 1 broadcast, got %d", len(rooms.broadcasts))
	}
	if rooms.broadcasts[0].from != "" {
		t.Fatalf("expected empty from so the host also receives it, got %q", rooms.broadcasts[0].from)
	}
	if !rooms.ended {
		t.Fatal("expected EndCall to be invoked")
	}
	if sfu.closedRoom != "room1" {
		t.Fatalf("expected SFU room1 to be closed, got %q", sfu.closedRoom)
	}
}

// sfu:connect-transport carries no direction on the wire; the relay
// recovers it from the create-transport call that preceded it.
func TestConnectTransportInfersDirectionFromQueue(t *testing.T) {
	rooms := newFakeRooms()
	sfu := &fakeSFU{}
	r := newTestRelay(rooms, sfu)
	c := newTestConn()
	state := &connState{socketID: "s1"}

	createPayload, _ := json.Marshal(sfuCreateTransportPayload{Direction: domain.DirectionSend})
	r.handleSfuCreateTransport(context.Background(), c, state, createPayload)
	drain(c)

	connectPayload, _ := json.Marshal(sfuConnectTransportPayload{DTLSParameters: json.RawMessage(`{}`)})
	r.handleSfuConnectTransport(context.Background(), c, state, connectPayload)

	f := drain(c)
	if f == nil {
		t.Fatal("expected transport-connected frame")
	}
	var got struct {
		Direction domain.TransportDirection `json:"direction"`
	}
	if err := json.Unmarshal(f, &got); err != nil {
		t.Fatal(err)
	}
	if got.Direction != domain.DirectionSend {
		t.Fatalf("direction = %q, want send", got.Direction)
	}
}
