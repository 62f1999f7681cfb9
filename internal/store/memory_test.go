package store

import (
	"context"
	"errors"
	"testing"

	"github.com/lattice-video/signaling/internal/core"
	"github.com/lattice-video/signaling/internal/domain"
)

func TestMemoryCallStoreRoundTrip(t *testing.T) {
	s := NewMemoryCallStore()
	s.Seed("room-1", core.CallRecord{CallID: "call-1", HostUserID: "host", Status: domain.RoomWaiting})

	rec, err := s.GetByRoomID(context.Background(), "room-1")
	if err != nil {
		t.Fatalf("GetByRoomID: %v", err)
	}
	if rec.CallID != "call-1" {
		t.Fatalf("unexpected call id: %s", rec.CallID)
	}

	if err := s.Start(context.Background(), "call-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rec, _ = s.GetByRoomID(context.Background(), "room-1")
	if rec.Status != domain.RoomLive {
		t.Fatalf("want live, got %s", rec.Status)
	}

	if err := s.End(context.Background(), "call-1"); err != nil {
		t.Fatalf("End: %v", err)
	}
	rec, _ = s.GetByRoomID(context.Background(), "room-1")
	if rec.Status != domain.RoomEnded {
		t.Fatalf("want ended, got %s", rec.Status)
	}
}

func TestMemoryCallStoreMissingRoom(t *testing.T) {
	s := NewMemoryCallStore()
	_, err := s.GetByRoomID(context.Background(), "missing")
	if !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("want ErrRoomNotFound, got %v", err)
	}
}
