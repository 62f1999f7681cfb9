package mediaworker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/lattice-video/signaling/internal/core"
	"github.com/lattice-video/signaling/internal/domain"
)

// sdpBlob is the JSON shape this worker uses in place of mediasoup's
// split iceParameters/dtlsParameters: pion negotiates ICE and DTLS
// together as one SDP, so the transport's "parameters" are its local
// offer and its "connect" payload is the remote answer.
type sdpBlob struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
}

// pionTransport stands in for one mediasoup WebRTC transport: one
// webrtc.PeerConnection per direction per participant, grounded on the
// teacher's rtc.WebRTCConnection.
type pionTransport struct {
	id        domain.TransportID
	direction domain.TransportDirection
	pc        *webrtc.PeerConnection
	router    *pionRouter
	log       zerolog.Logger

	localOffer webrtc.SessionDescription

	mu          sync.Mutex
	connected   bool
	closed      bool
	onDTLSClose func()

	// trackWaiters fans out remote tracks as they arrive on OnTrack, keyed
	// by kind, so Produce can wait for the matching track without
	// polling.
	trackWaiters map[domain.MediaKind]chan *webrtc.TrackRemote
}

func newTransport(id domain.TransportID, direction domain.TransportDirection, pc *webrtc.PeerConnection, router *pionRouter, logger zerolog.Logger) *pionTransport {
	t := &pionTransport{
		id:           id,
		direction:    direction,
		pc:           pc,
		router:       router,
		log:          logger,
		trackWaiters: make(map[domain.MediaKind]chan *webrtc.TrackRemote),
	}

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if s == webrtc.PeerConnectionStateClosed || s == webrtc.PeerConnectionStateFailed {
			t.mu.Lock()
			cb := t.onDTLSClose
			t.mu.Unlock()
			if cb != nil {
				cb()
			}
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		kind := domain.KindAudio
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			kind = domain.KindVideo
		}
		t.mu.Lock()
		ch, ok := t.trackWaiters[kind]
		t.mu.Unlock()
		if ok {
			select {
			case ch <- track:
			default:
			}
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err == nil {
		gatherComplete := webrtc.GatheringCompletePromise(pc)
		if err := pc.SetLocalDescription(offer); err == nil {
			<-gatherComplete
		}
	}
	if ld := pc.LocalDescription(); ld != nil {
		t.localOffer = *ld
	}

	return t
}

func (t *pionTransport) ID() domain.TransportID { return t.id }

func (t *pionTransport) ICEParameters() json.RawMessage {
	b, _ := json.Marshal(sdpBlob{SDP: t.localOffer.SDP, Type: t.localOffer.Type.String()})
	return b
}

// ICECandidates is empty: pion's non-trickle gather-complete promise
// already bundles every host/srflx/relay candidate into the SDP
// returned by ICEParameters.
func (t *pionTransport) ICECandidates() json.RawMessage { return json.RawMessage(`[]`) }

func (t *pionTransport) DTLSParameters() json.RawMessage { return json.RawMessage(`{}`) }

func (t *pionTransport) Connect(ctx context.Context, dtlsParameters json.RawMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connected {
		return nil // idempotent per transport, spec.md §4.3
	}
	var blob sdpBlob
	if err := json.Unmarshal(dtlsParameters, &blob); err != nil {
		return err
	}
	sdpType := webrtc.SDPTypeAnswer
	if blob.Type != "" {
		sdpType = webrtc.NewSDPType(blob.Type)
	}
	if err := t.pc.SetRemoteDescription(webrtc.SessionDescription{Type: sdpType, SDP: blob.SDP}); err != nil {
		return err
	}
	t.connected = true
	return nil
}

func (t *pionTransport) Produce(ctx context.Context, kind domain.MediaKind, rtpParameters json.RawMessage) (core.ProducerHandle, error) {
	if t.direction != domain.DirectionSend {
		return nil, errors.New("mediaworker: produce called on a non-send transport")
	}
	t.mu.Lock()
	ch := make(chan *webrtc.TrackRemote, 1)
	t.trackWaiters[kind] = ch
	t.mu.Unlock()

	var track *webrtc.TrackRemote
	select {
	case track = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p := newProducer(domain.ProducerID(uuid.NewString()), kind, track, t.router, t.log.With().Str("kind", string(kind)).Logger())
	t.router.registerProducer(p)
	return p, nil
}

func (t *pionTransport) Consume(ctx context.Context, producerHandle core.ProducerHandle, rtpCapabilities json.RawMessage) (core.ConsumerHandle, error) {
	if t.direction != domain.DirectionRecv {
		return nil, errors.New("mediaworker: consume called on a non-recv transport")
	}
	p, ok := producerHandle.(*pionProducer)
	if !ok {
		return nil, errors.New("mediaworker: producer handle from a different worker implementation")
	}

	codec := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}
	if p.kind == domain.KindVideo {
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}
	}
	localTrack, err := webrtc.NewTrackLocalStaticRTP(codec, string(p.id), "consumer-"+string(p.id))
	if err != nil {
		return nil, err
	}
	if _, err := t.pc.AddTrack(localTrack); err != nil {
		return nil, err
	}

	c := newConsumer(domain.ConsumerID(uuid.NewString()), p, localTrack)
	p.relay.addOutTrack(c.id, c.out)
	c.out.markMuted() // starts paused per spec.md §4.3's consume contract
	return c, nil
}

func (t *pionTransport) OnDTLSClosed(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDTLSClose = fn
}

func (t *pionTransport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()
	if err := t.pc.Close(); err != nil {
		t.log.Error().Err(err).Msg("transport close error")
	}
}

var _ core.TransportHandle = (*pionTransport)(nil)
