package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lattice-video/signaling/internal/core"
	"github.com/lattice-video/signaling/internal/domain"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	closed bool
	fail   bool
}

func (f *fakeConn) TrySend(frame core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("backpressure")
	}
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

type fakeStore struct {
	mu      sync.Mutex
	records map[domain.RoomID]*core.CallRecord
	ended   map[domain.CallID]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[domain.RoomID]*core.CallRecord), ended: make(map[domain.CallID]bool)}
}

func (s *fakeStore) GetByRoomID(ctx context.Context, roomID domain.RoomID) (*core.CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[roomID]
	if !ok {
		return nil, errors.New("not found")
	}
	return r, nil
}

func (s *fakeStore) AddParticipant(ctx context.Context, callID domain.CallID, userID domain.UserID, role domain.Role) error {
	return nil
}

func (s *fakeStore) UpdateParticipantStatus(ctx context.Context, callID domain.CallID, userID domain.UserID, connected bool, socketID domain.SocketID) error {
	return nil
}

func (s *fakeStore) Start(ctx context.Context, callID domain.CallID) error { return nil }

func (s *fakeStore) End(ctx context.Context, callID domain.CallID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended[callID] = true
	return nil
}

func newTestRegistry() (*Registry, *fakeStore) {
	store := newFakeStore()
	r := New(store, Options{ReapGrace: 20 * time.Millisecond, SweepInterval: time.Hour})
	return r, store
}

func TestCreateRoomJoinsHostFirst(t *testing.T) {
	r, _ := newTestRegistry()
	defer r.Close()

	res, err := r.CreateRoom(context.Background(), core.CreateRoomRequest{
		Name:     "standup",
		Identity: domain.User{ID: "u-host"},
		SocketID: "sock-1",
		Conn:     &fakeConn{},
	})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if !res.IsHost {
		t.Fatal("creator should be host")
	}
	if len(res.Participants) != 1 {
		t.Fatalf("want 1 participant, got %d", len(res.Participants))
	}
}

func TestJoinUnknownRoomFails(t *testing.T) {
	r, _ := newTestRegistry()
	defer r.Close()

	_, err := r.Join(context.Background(), core.JoinRequest{
		RoomID:   "missing",
		Identity: domain.User{ID: "u1"},
		SocketID: "s1",
		Conn:     &fakeConn{},
	})
	if !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("want ErrRoomNotFound, got %v", err)
	}
}

func TestJoinRespectsMaxParticipants(t *testing.T) {
	r, _ := newTestRegistry()
	defer r.Close()

	created, err := r.CreateRoom(context.Background(), core.CreateRoomRequest{
		RoomID:          "r1",
		MaxParticipants: 1,
		Identity:        domain.User{ID: "host"},
		SocketID:        "s0",
		Conn:            &fakeConn{},
	})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	_ = created

	_, err = r.Join(context.Background(), core.JoinRequest{
		RoomID:   "r1",
		Identity: domain.User{ID: "u2"},
		SocketID: "s2",
		Conn:     &fakeConn{},
	})
	if !errors.Is(err, domain.ErrRoomFull) {
		t.Fatalf("want ErrRoomFull, got %v", err)
	}
}

func TestNoDuplicatePeerOnReconnect(t *testing.T) {
	r, _ := newTestRegistry()
	defer r.Close()

	created, err := r.CreateRoom(context.Background(), core.CreateRoomRequest{
		RoomID:   "r1",
		Identity: domain.User{ID: "host"},
		SocketID: "s0",
		Conn:     &fakeConn{},
	})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	originalPeerID := created.Self.PeerID

	res, err := r.Join(context.Background(), core.JoinRequest{
		RoomID:   "r1",
		Identity: domain.User{ID: "host"},
		SocketID: "s0-new",
		Conn:     &fakeConn{},
	})
	if err != nil {
		t.Fatalf("Join (reconnect): %v", err)
	}
	if len(res.Participants) != 1 {
		t.Fatalf("want 1 participant after reconnect, got %d", len(res.Participants))
	}
	if res.Self.PeerID != originalPeerID {
		t.Fatalf("peerId changed on rebind: got %q, want %q (invariant P2)", res.Self.PeerID, originalPeerID)
	}
	if _, ok := r.ParticipantOf("s0"); ok {
		t.Fatal("stale socket binding should have been dropped")
	}
	if _, ok := r.ParticipantOf("s0-new"); !ok {
		t.Fatal("new socket binding should resolve")
	}
}

func TestBroadcastExcludesSenderAndReportsDropped(t *testing.T) {
	r, _ := newTestRegistry()
	defer r.Close()

	res, err := r.CreateRoom(context.Background(), core.CreateRoomRequest{
		RoomID:   "r1",
		Identity: domain.User{ID: "host"},
		SocketID: "s0",
		Conn:     &fakeConn{},
	})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	hostPeer := res.Self.PeerID

	stuck := &fakeConn{fail: true}
	if _, err := r.Join(context.Background(), core.JoinRequest{
		RoomID:   "r1",
		Identity: domain.User{ID: "u2"},
		SocketID: "s2",
		Conn:     stuck,
	}); err != nil {
		t.Fatalf("Join: %v", err)
	}

	sent, dropped := r.Broadcast("r1", hostPeer, core.Frame(`{"type":"chat:message"}`))
	if sent != 0 {
		t.Fatalf("want 0 sent (only member is dropped), got %d", sent)
	}
	if len(dropped) != 1 {
		t.Fatalf("want 1 dropped, got %d", len(dropped))
	}
}

func TestHandleDisconnectReapsAfterGrace(t *testing.T) {
	r, store := newTestRegistry()
	defer r.Close()
	store.records["r1"] = &core.CallRecord{CallID: "c1", HostUserID: "host"}

	res, err := r.CreateRoom(context.Background(), core.CreateRoomRequest{
		RoomID:   "r1",
		Identity: domain.User{ID: "host"},
		SocketID: "s0",
		Conn:     &fakeConn{},
	})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	_ = res

	r.HandleDisconnect("s0")
	if _, ok := r.ParticipantOf("s0"); !ok {
		t.Fatal("participant should still be present during grace period")
	}

	time.Sleep(60 * time.Millisecond)
	if _, ok := r.ParticipantOf("s0"); ok {
		t.Fatal("participant should be reaped after grace period elapses")
	}
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	rl := NewRoomRateLimiter(2, time.Second).WithClock(clock)

	if !rl.Allow("u1") {
		t.Fatal("first attempt should be allowed")
	}
	if !rl.Allow("u1") {
		t.Fatal("second attempt should be allowed")
	}
	if rl.Allow("u1") {
		t.Fatal("third attempt within the window should be blocked")
	}

	now = now.Add(2 * time.Second)
	if !rl.Allow("u1") {
		t.Fatal("attempt after the window rolls over should be allowed")
	}
}
