package mediaworker

import (
	"context"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/lattice-video/signaling/internal/core"
	"github.com/lattice-video/signaling/internal/domain"
)

// pionProducer is a participant's uplink for one media kind. It owns
// the relay that fans its RTP out to every subscribed consumer.
type pionProducer struct {
	id     domain.ProducerID
	kind   domain.MediaKind
	track  *webrtc.TrackRemote
	relay  *relay
	router *pionRouter
	log    zerolog.Logger

	cancel context.CancelFunc
}

func newProducer(id domain.ProducerID, kind domain.MediaKind, track *webrtc.TrackRemote, router *pionRouter, logger zerolog.Logger) *pionProducer {
	ctx, cancel := context.WithCancel(context.Background())
	r := newRelay(track, cancel)
	p := &pionProducer{id: id, kind: kind, track: track, relay: r, router: router, log: logger, cancel: cancel}
	go r.loop(ctx, &logger)
	return p
}

func (p *pionProducer) ID() domain.ProducerID { return p.id }
func (p *pionProducer) Kind() domain.MediaKind { return p.kind }

// Pause mutes every consumer subscribed to this producer, matching
// spec.md §4.3's pauseProducer forwarding to the worker.
func (p *pionProducer) Pause() {
	p.relay.mu.RLock()
	defer p.relay.mu.RUnlock()
	for _, ot := range p.relay.outTracks {
		ot.markMuted()
	}
}

func (p *pionProducer) Resume() {
	p.relay.mu.RLock()
	defer p.relay.mu.RUnlock()
	for _, ot := range p.relay.outTracks {
		ot.markOk()
	}
}

func (p *pionProducer) Close() {
	p.relay.stop()
	if p.router != nil {
		p.router.unregisterProducer(p.id)
	}
}

var _ core.ProducerHandle = (*pionProducer)(nil)
