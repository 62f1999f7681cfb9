package mediaworker

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/lattice-video/signaling/internal/domain"
)

// outTrackState mirrors the teacher's TrackState: a subscriber leg can
// be forwarding, muted (producer paused), or marked for cleanup.
type outTrackState int32

const (
	outTrackOk outTrackState = iota
	outTrackMuted
	outTrackDelete
)

// outTrack is one consumer's leg of a relay: the local track a
// downstream PeerConnection reads from.
type outTrack struct {
	track *webrtc.TrackLocalStaticRTP
	state atomic.Int32
}

func newOutTrack(track *webrtc.TrackLocalStaticRTP) *outTrack {
	ot := &outTrack{track: track}
	ot.state.Store(int32(outTrackMuted))
	return ot
}

func (ot *outTrack) getState() outTrackState { return outTrackState(ot.state.Load()) }
func (ot *outTrack) markOk()                 { ot.state.Store(int32(outTrackOk)) }
func (ot *outTrack) markMuted()              { ot.state.Store(int32(outTrackMuted)) }
func (ot *outTrack) markDelete()             { ot.state.Store(int32(outTrackDelete)) }

// relay forwards RTP packets read from one producer's remote track to
// every consumer subscribed to it. Adapted from the teacher's
// internal/app/sfu.Relay, keyed by domain.ConsumerID instead of a
// session id.
type relay struct {
	src *webrtc.TrackRemote

	mu        sync.RWMutex
	outTracks map[domain.ConsumerID]*outTrack

	cancel context.CancelFunc
}

func newRelay(src *webrtc.TrackRemote, cancel context.CancelFunc) *relay {
	return &relay{src: src, outTracks: make(map[domain.ConsumerID]*outTrack), cancel: cancel}
}

func (r *relay) loop(ctx context.Context, logger *zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			r.markAllDelete()
			return
		default:
		}
		pkt, _, err := r.src.ReadRTP()
		if err != nil {
			logger.Error().Err(err).Msg("relay read RTP error, stopping")
			r.markAllDelete()
			return
		}
		r.forward(pkt, logger)
	}
}

func (r *relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	snapshot := make(map[domain.ConsumerID]*outTrack, len(r.outTracks))
	r.mu.RLock()
	maps.Copy(snapshot, r.outTracks)
	r.mu.RUnlock()

	dirty := make([]domain.ConsumerID, 0, len(snapshot))
	for consumerID, ot := range snapshot {
		switch ot.getState() {
		case outTrackDelete:
			dirty = append(dirty, consumerID)
		case outTrackMuted:
		case outTrackOk:
			if err := ot.track.WriteRTP(pkt); err != nil {
				logger.Error().Err(err).Str("consumer", string(consumerID)).Msg("relay write RTP error")
				ot.markDelete()
				dirty = append(dirty, consumerID)
			}
		}
	}
	if len(dirty) > 0 {
		r.cleanup(dirty)
	}
}

func (r *relay) cleanup(dirty []domain.ConsumerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range dirty {
		delete(r.outTracks, id)
	}
}

func (r *relay) markAllDelete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ot := range r.outTracks {
		ot.markDelete()
	}
}

func (r *relay) addOutTrack(consumerID domain.ConsumerID, ot *outTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outTracks[consumerID] = ot
}

func (r *relay) removeOutTrack(consumerID domain.ConsumerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.outTracks, consumerID)
}

func (r *relay) stop() {
	if r.cancel != nil {
		r.cancel()
	}
}
