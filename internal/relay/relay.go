// Package relay implements SignalingRelay (C4): per-socket handshake
// authentication and event dispatch, grounded on the teacher's
// SignalWSController (gin route + gorilla/websocket upgrade + a
// read/write pump per connection).
package relay

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lattice-video/signaling/internal/core"
	"github.com/lattice-video/signaling/internal/domain"
	"github.com/lattice-video/signaling/internal/registry"
)

// Rooms is what the relay needs from C3: the full core.RoomRegistry
// contract plus the registry's room-wide fan-out, which is
// deliberately excluded from core.RoomRegistry as relay-internal
// traffic shaping (see internal/registry's doc comment on Broadcast).
type Rooms interface {
	core.RoomRegistry
	Broadcast(roomID domain.RoomID, from domain.PeerID, frame core.Frame) (int, []domain.PeerID)
}

// ICEServer mirrors the shape sent in webrtc:ice-servers.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// Config carries the STUN/TURN settings surfaced to clients over
// webrtc:get-ice-servers (spec.md §6.2/§6.3) and the handshake's
// rate-limit knobs (spec.md §5).
type Config struct {
	ICEServers     []ICEServer
	AllowedOrigins []string
	AuthRateLimit  int
	AuthRateWindow time.Duration
	ReadLimit      int64
	PingPeriod     time.Duration
}

func (c Config) withDefaults() Config {
	if c.AuthRateLimit <= 0 {
		c.AuthRateLimit = 5
	}
	if c.AuthRateWindow <= 0 {
		c.AuthRateWindow = 15 * time.Minute
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 32 * 1024
	}
	if c.PingPeriod <= 0 {
		c.PingPeriod = 54 * time.Second
	}
	return c
}

// Relay is the C4 SignalingRelay implementation.
type Relay struct {
	rooms    Rooms
	sfu      core.MediaSession
	verifier core.TokenVerifier
	cfg      Config
	limiter  *registry.RoomRateLimiter
	log      zerolog.Logger
}

func New(rooms Rooms, sfu core.MediaSession, verifier core.TokenVerifier, cfg Config) *Relay {
	cfg = cfg.withDefaults()
	return &Relay{
		rooms:    rooms,
		sfu:      sfu,
		verifier: verifier,
		cfg:      cfg,
		limiter:  registry.NewRoomRateLimiter(cfg.AuthRateLimit, cfg.AuthRateWindow),
		log:      log.With().Str("module", "relay").Logger(),
	}
}
