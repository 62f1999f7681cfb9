// Package store implements core.CallStore (C2): the durable side of
// call records and participant status, external to the session layer
// per spec.md §1 but bundled here so the service runs end to end.
package store

import (
	"context"
	"sync"

	"github.com/lattice-video/signaling/internal/core"
	"github.com/lattice-video/signaling/internal/domain"
)

// MemoryCallStore is an in-memory core.CallStore for tests and local
// development without a database.
type MemoryCallStore struct {
	mu      sync.Mutex
	records map[domain.RoomID]*core.CallRecord
}

func NewMemoryCallStore() *MemoryCallStore {
	return &MemoryCallStore{records: make(map[domain.RoomID]*core.CallRecord)}
}

// Seed registers a call record for a room; used by tests and by
// whatever REST handler creates calls out of process in a real
// deployment (out of scope here, per spec.md §1).
func (s *MemoryCallStore) Seed(roomID domain.RoomID, record core.CallRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := record
	s.records[roomID] = &rec
}

func (s *MemoryCallStore) GetByRoomID(ctx context.Context, roomID domain.RoomID) (*core.CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[roomID]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryCallStore) AddParticipant(ctx context.Context, callID domain.CallID, userID domain.UserID, role domain.Role) error {
	return nil
}

func (s *MemoryCallStore) UpdateParticipantStatus(ctx context.Context, callID domain.CallID, userID domain.UserID, connected bool, socketID domain.SocketID) error {
	return nil
}

func (s *MemoryCallStore) Start(ctx context.Context, callID domain.CallID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.CallID == callID {
			rec.Status = domain.RoomLive
		}
	}
	return nil
}

func (s *MemoryCallStore) End(ctx context.Context, callID domain.CallID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.CallID == callID {
			rec.Status = domain.RoomEnded
		}
	}
	return nil
}

var _ core.CallStore = (*MemoryCallStore)(nil)
