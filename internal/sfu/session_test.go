package sfu

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/lattice-video/signaling/internal/core"
	"github.com/lattice-video/signaling/internal/domain"
)

// fakeWorker/fakeRouter/fakeTransport/fakeProducer/fakeConsumer are
// minimal core.MediaWorker collaborators for exercising Session
// without pulling in a real pion PeerConnection.

type fakeWorker struct {
	mu      sync.Mutex
	routers map[domain.RoomID]*fakeRouter
	died    chan struct{}
}

func newFakeWorker() *fakeWorker {
	return &fakeWorker{routers: make(map[domain.RoomID]*fakeRouter), died: make(chan struct{})}
}

func (w *fakeWorker) CreateRouter(ctx context.Context, roomID domain.RoomID) (core.RouterHandle, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if r, ok := w.routers[roomID]; ok {
		return r, nil
	}
	r := &fakeRouter{roomID: roomID, live: make(map[domain.ProducerID]bool)}
	w.routers[roomID] = r
	return r, nil
}

func (w *fakeWorker) Died() <-chan struct{} { return w.died }

type fakeRouter struct {
	roomID domain.RoomID
	mu     sync.Mutex
	live   map[domain.ProducerID]bool
	closed bool
}

func (r *fakeRouter) RoomID() domain.RoomID                { return r.roomID }
func (r *fakeRouter) RTPCapabilities() json.RawMessage      { return json.RawMessage(`{"codecs":[]}`) }
func (r *fakeRouter) CanConsume(id domain.ProducerID, _ json.RawMessage) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live[id]
}
func (r *fakeRouter) CreateTransport(ctx context.Context, direction domain.TransportDirection) (core.TransportHandle, error) {
	return &fakeTransport{router: r, direction: direction, id: domain.TransportID("t-" + string(direction))}, nil
}
func (r *fakeRouter) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

type fakeTransport struct {
	router    *fakeRouter
	direction domain.TransportDirection
	id        domain.TransportID
	closeCB   func()
	closed    bool
}

func (t *fakeTransport) ID() domain.TransportID          { return t.id }
func (t *fakeTransport) ICEParameters() json.RawMessage  { return json.RawMessage(`{}`) }
func (t *fakeTransport) ICECandidates() json.RawMessage  { return json.RawMessage(`[]`) }
func (t *fakeTransport) DTLSParameters() json.RawMessage { return json.RawMessage(`{}`) }
func (t *fakeTransport) Connect(ctx context.Context, _ json.RawMessage) error { return nil }

func (t *fakeTransport) Produce(ctx context.Context, kind domain.MediaKind, _ json.RawMessage) (core.ProducerHandle, error) {
	p := &fakeProducer{id: domain.ProducerID(string(t.id) + "-p"), kind: kind, router: t.router}
	t.router.mu.Lock()
	t.router.live[p.id] = true
	t.router.mu.Unlock()
	return p, nil
}

func (t *fakeTransport) Consume(ctx context.Context, producer core.ProducerHandle, _ json.RawMessage) (core.ConsumerHandle, error) {
	p := producer.(*fakeProducer)
	return &fakeConsumer{id: domain.ConsumerID(string(t.id) + "-c-" + string(p.id)), producer: p}, nil
}

func (t *fakeTransport) OnDTLSClosed(fn func()) { t.closeCB = fn }
func (t *fakeTransport) Close()                 { t.closed = true }

type fakeProducer struct {
	id     domain.ProducerID
	kind   domain.MediaKind
	router *fakeRouter
	paused bool
	closed bool
}

func (p *fakeProducer) ID() domain.ProducerID { return p.id }
func (p *fakeProducer) Kind() domain.MediaKind { return p.kind }
func (p *fakeProducer) Pause()                 { p.paused = true }
func (p *fakeProducer) Resume()                { p.paused = false }
func (p *fakeProducer) Close() {
	p.closed = true
	p.router.mu.Lock()
	delete(p.router.live, p.id)
	p.router.mu.Unlock()
}

type fakeConsumer struct {
	id       domain.ConsumerID
	producer *fakeProducer
	paused   bool
	closed   bool
}

func (c *fakeConsumer) ID() domain.ConsumerID        { return c.id }
func (c *fakeConsumer) Kind() domain.MediaKind       { return c.producer.kind }
func (c *fakeConsumer) RTPParameters() json.RawMessage { return json.RawMessage(`{}`) }
func (c *fakeConsumer) Resume() error                { c.paused = false; return nil }
func (c *fakeConsumer) Pause() error                 { c.paused = true; return nil }
func (c *fakeConsumer) Close()                       { c.closed = true }

// fakeRooms/fakeFanout stand in for the registry's RoomResolver and
// Broadcaster surfaces without pulling internal/registry into a test
// for internal/sfu.

type fakeRooms struct {
	mu           sync.Mutex
	socketRoom   map[domain.SocketID]domain.RoomID
	participants map[domain.SocketID]*domain.Participant
}

func newFakeRooms() *fakeRooms {
	return &fakeRooms{
		socketRoom:   make(map[domain.SocketID]domain.RoomID),
		participants: make(map[domain.SocketID]*domain.Participant),
	}
}

func (f *fakeRooms) put(socketID domain.SocketID, roomID domain.RoomID, peerID domain.PeerID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.socketRoom[socketID] = roomID
	f.participants[socketID] = &domain.Participant{PeerID: peerID, SocketID: socketID}
}

func (f *fakeRooms) RoomOf(socketID domain.SocketID) (domain.RoomID, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.socketRoom[socketID]
	return r, ok
}

func (f *fakeRooms) ParticipantOf(socketID domain.SocketID) (*domain.Participant, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.participants[socketID]
	return p, ok
}

type fakeFanout struct {
	mu         sync.Mutex
	sent       map[domain.PeerID][]core.Frame
	knownPeers map[domain.PeerID]bool
}

func newFakeFanout() *fakeFanout {
	return &fakeFanout{sent: make(map[domain.PeerID][]core.Frame)}
}

func (f *fakeFanout) SendToPeer(roomID domain.RoomID, peerID domain.PeerID, frame core.Frame) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[peerID] = append(f.sent[peerID], frame)
	return true
}

// Broadcast fans to every peer this test has registered except from,
// mirroring the registry's real behaviour closely enough for these tests.
func (f *fakeFanout) Broadcast(roomID domain.RoomID, from domain.PeerID, frame core.Frame) (int, []domain.PeerID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sent := 0
	for peerID := range f.knownPeers {
		if peerID == from {
			continue
		}
		f.sent[peerID] = append(f.sent[peerID], frame)
		sent++
	}
	return sent, nil
}

func (f *fakeFanout) know(peerID domain.PeerID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.knownPeers == nil {
		f.knownPeers = make(map[domain.PeerID]bool)
	}
	f.knownPeers[peerID] = true
}

func TestJoinSfuReusesRouterPerRoom(t *testing.T) {
	worker := newFakeWorker()
	rooms := newFakeRooms()
	fanout := newFakeFanout()
	s := New(worker, rooms, fanout)

	rooms.put("sock-a", "room-1", "peer-a")
	rooms.put("sock-b", "room-1", "peer-b")
	fanout.know("peer-a")
	fanout.know("peer-b")

	if _, err := s.JoinSfu(context.Background(), "sock-a", "room-1", nil); err != nil {
		t.Fatalf("JoinSfu a: %v", err)
	}
	if _, err := s.JoinSfu(context.Background(), "sock-b", "room-1", nil); err != nil {
		t.Fatalf("JoinSfu b: %v", err)
	}

	if len(worker.routers) != 1 {
		t.Fatalf("want one router for one room, got %d", len(worker.routers))
	}
}

// TestProducerFanOutExcludesProducer mirrors scenario S6: A produces,
// B and C each receive exactly one sfu:new-producer, A receives none.
func TestProducerFanOutExcludesProducer(t *testing.T) {
	worker := newFakeWorker()
	rooms := newFakeRooms()
	fanout := newFakeFanout()
	s := New(worker, rooms, fanout)

	for _, p := range []struct {
		sock domain.SocketID
		peer domain.PeerID
	}{
		{"sock-a", "peer-a"}, {"sock-b", "peer-b"}, {"sock-c", "peer-c"},
	} {
		rooms.put(p.sock, "room-5", p.peer)
		fanout.know(p.peer)
		if _, err := s.JoinSfu(context.Background(), p.sock, "room-5", nil); err != nil {
			t.Fatalf("JoinSfu %s: %v", p.sock, err)
		}
		if _, err := s.CreateTransport(context.Background(), p.sock, domain.DirectionSend); err != nil {
			t.Fatalf("CreateTransport send %s: %v", p.sock, err)
		}
	}

	if _, err := s.Produce(context.Background(), "sock-a", domain.KindVideo, nil); err != nil {
		t.Fatalf("Produce: %v", err)
	}

	if got := len(fanout.sent["peer-a"]); got != 0 {
		t.Fatalf("producer should not hear its own new-producer, got %d frames", got)
	}
	if got := len(fanout.sent["peer-b"]); got != 1 {
		t.Fatalf("peer-b want exactly 1 new-producer frame, got %d", got)
	}
	if got := len(fanout.sent["peer-c"]); got != 1 {
		t.Fatalf("peer-c want exactly 1 new-producer frame, got %d", got)
	}
}

func TestConsumeUnknownProducerFails(t *testing.T) {
	worker := newFakeWorker()
	rooms := newFakeRooms()
	fanout := newFakeFanout()
	s := New(worker, rooms, fanout)

	rooms.put("sock-a", "room-9", "peer-a")
	fanout.know("peer-a")
	if _, err := s.JoinSfu(context.Background(), "sock-a", "room-9", nil); err != nil {
		t.Fatalf("JoinSfu: %v", err)
	}
	if _, err := s.CreateTransport(context.Background(), "sock-a", domain.DirectionRecv); err != nil {
		t.Fatalf("CreateTransport recv: %v", err)
	}

	_, err := s.Consume(context.Background(), "sock-a", "no-such-producer", nil)
	if err != domain.ErrUnconsumable {
		t.Fatalf("want ErrUnconsumable, got %v", err)
	}
}

func TestLeaveSfuClosesRouterWhenRoomEmpty(t *testing.T) {
	worker := newFakeWorker()
	rooms := newFakeRooms()
	fanout := newFakeFanout()
	s := New(worker, rooms, fanout)

	rooms.put("sock-a", "room-solo", "peer-a")
	fanout.know("peer-a")
	if _, err := s.JoinSfu(context.Background(), "sock-a", "room-solo", nil); err != nil {
		t.Fatalf("JoinSfu: %v", err)
	}

	s.LeaveSfu("sock-a")

	router := worker.routers["room-solo"]
	if router == nil || !router.closed {
		t.Fatal("want router closed once the last sfu peer leaves")
	}
	if _, ok := s.roomState("room-solo"); ok {
		t.Fatal("want room-solo removed from session state")
	}
}
