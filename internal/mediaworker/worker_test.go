package mediaworker

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/lattice-video/signaling/internal/domain"
)

func TestDefaultRTPCapabilitiesShape(t *testing.T) {
	raw := defaultRTPCapabilities()
	var decoded struct {
		Codecs           []codecCapability `json:"codecs"`
		StartBitrateKbps int               `json:"startBitrateKbps"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.StartBitrateKbps != 1000 {
		t.Fatalf("want 1000 kbps start bitrate, got %d", decoded.StartBitrateKbps)
	}
	if len(decoded.Codecs) == 0 {
		t.Fatal("want at least one codec")
	}
}

func TestCreateRouterIsIdempotentPerRoom(t *testing.T) {
	w, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	r1, err := w.CreateRouter(context.Background(), domain.RoomID("r1"))
	if err != nil {
		t.Fatalf("CreateRouter: %v", err)
	}
	r2, err := w.CreateRouter(context.Background(), domain.RoomID("r1"))
	if err != nil {
		t.Fatalf("CreateRouter: %v", err)
	}
	if r1 != r2 {
		t.Fatal("want the same router for the same room")
	}
}

func TestKillClosesDiedChannel(t *testing.T) {
	w, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	select {
	case <-w.Died():
		t.Fatal("Died should not be closed yet")
	default:
	}
	w.Kill()
	select {
	case <-w.Died():
	default:
		t.Fatal("Died should be closed after Kill")
	}
}
