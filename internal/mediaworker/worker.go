// Package mediaworker implements core.MediaWorker (the concrete body
// behind spec.md §6.3's opaque native media library) with
// github.com/pion/webrtc/v4, since the retrieval pack carries no
// mediasoup binding. internal/sfu only ever talks to the
// core.MediaWorker interface, so a real mediasoup-worker adapter could
// replace PionWorker without touching internal/sfu.
package mediaworker

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lattice-video/signaling/internal/core"
	"github.com/lattice-video/signaling/internal/domain"
)

// Config binds spec.md §6.2's MEDIASOUP_* and STUN/TURN fields to the
// concrete pion settings that stand in for them.
type Config struct {
	STUNServer           string
	TURNServerURL        string
	TURNServerUsername   string
	TURNServerCredential string
	ListenIP             string
	AnnouncedIP          string
	MinPort              uint16
	MaxPort              uint16
}

// PionWorker is the process-wide MediaWorker singleton. It never
// terminates media itself; it builds one webrtc.API per router with a
// shared codec/port configuration.
type PionWorker struct {
	cfg Config
	log zerolog.Logger

	mu       sync.Mutex
	routers  map[domain.RoomID]*pionRouter
	settings webrtc.SettingEngine
	iceCfg   webrtc.Configuration

	died chan struct{}
}

func New(cfg Config) (*PionWorker, error) {
	w := &PionWorker{
		cfg:     cfg,
		log:     log.With().Str("module", "mediaworker").Logger(),
		routers: make(map[domain.RoomID]*pionRouter),
		died:    make(chan struct{}),
	}

	if cfg.MinPort != 0 && cfg.MaxPort != 0 {
		if err := w.settings.SetEphemeralUDPPortRange(cfg.MinPort, cfg.MaxPort); err != nil {
			return nil, fmt.Errorf("mediaworker: port range: %w", err)
		}
	}
	if cfg.AnnouncedIP != "" {
		if ip := net.ParseIP(cfg.AnnouncedIP); ip != nil {
			w.settings.SetNAT1To1IPs([]string{cfg.AnnouncedIP}, webrtc.ICECandidateTypeHost)
		}
	}

	iceServers := []webrtc.ICEServer{}
	if cfg.STUNServer != "" {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{cfg.STUNServer}})
	}
	if cfg.TURNServerURL != "" {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       []string{cfg.TURNServerURL},
			Username:   cfg.TURNServerUsername,
			Credential: cfg.TURNServerCredential,
		})
	}
	w.iceCfg = webrtc.Configuration{ICEServers: iceServers}

	return w, nil
}

// Died is closed by Kill; the caller (cmd/server) treats this as fatal
// per spec.md §4.4 and exits so a supervisor restarts the process.
func (w *PionWorker) Died() <-chan struct{} { return w.died }

// Kill marks the worker dead. Nothing inside PionWorker calls it; the
// worker's tests do, to exercise Died.
func (w *PionWorker) Kill() {
	select {
	case <-w.died:
	default:
		close(w.died)
	}
}

func (w *PionWorker) CreateRouter(ctx context.Context, roomID domain.RoomID) (core.RouterHandle, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if r, ok := w.routers[roomID]; ok {
		return r, nil
	}
	api := webrtc.NewAPI(webrtc.WithSettingEngine(w.settings))
	r := newRouter(roomID, api, w.iceCfg, w.log.With().Str("room", string(roomID)).Logger(), func() {
		w.closeRouter(roomID)
	})
	w.routers[roomID] = r
	return r, nil
}

func (w *PionWorker) closeRouter(roomID domain.RoomID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.routers, roomID)
}

// defaultRTPCapabilities matches spec.md §6.3's supported codec set:
// Opus/48k/stereo audio, VP8/VP9/H.264 video, 1000 kbps start bitrate.
func defaultRTPCapabilities() json.RawMessage {
	caps := struct {
		Codecs           []codecCapability `json:"codecs"`
		StartBitrateKbps int               `json:"startBitrateKbps"`
	}{
		Codecs: []codecCapability{
			{Kind: "audio", MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
			{Kind: "video", MimeType: "video/VP8", ClockRate: 90000},
			{Kind: "video", MimeType: "video/VP9", ClockRate: 90000},
			{Kind: "video", MimeType: "video/H264", ClockRate: 90000},
		},
		StartBitrateKbps: 1000,
	}
	b, _ := json.Marshal(caps)
	return b
}

type codecCapability struct {
	Kind      string `json:"kind"`
	MimeType  string `json:"mimeType"`
	ClockRate int    `json:"clockRate"`
	Channels  int    `json:"channels,omitempty"`
}

var _ core.MediaWorker = (*PionWorker)(nil)
