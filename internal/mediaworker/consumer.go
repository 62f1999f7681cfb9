package mediaworker

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"

	"github.com/lattice-video/signaling/internal/core"
	"github.com/lattice-video/signaling/internal/domain"
)

// pionConsumer is a participant's downlink for one producer, backed by
// an outTrack registered on the producer's relay.
type pionConsumer struct {
	id       domain.ConsumerID
	producer *pionProducer
	out      *outTrack
}

func newConsumer(id domain.ConsumerID, producer *pionProducer, local *webrtc.TrackLocalStaticRTP) *pionConsumer {
	return &pionConsumer{id: id, producer: producer, out: newOutTrack(local)}
}

func (c *pionConsumer) ID() domain.ConsumerID  { return c.id }
func (c *pionConsumer) Kind() domain.MediaKind { return c.producer.kind }

func (c *pionConsumer) RTPParameters() json.RawMessage {
	params := struct {
		MimeType string `json:"mimeType"`
	}{MimeType: c.out.track.Codec().MimeType}
	b, _ := json.Marshal(params)
	return b
}

// Resume is called after the client has set up its receiver track
// (spec.md §4.3): a consumer is created paused and only starts
// forwarding once the client confirms readiness.
func (c *pionConsumer) Resume() error {
	c.out.markOk()
	return nil
}

func (c *pionConsumer) Pause() error {
	c.out.markMuted()
	return nil
}

func (c *pionConsumer) Close() {
	c.producer.relay.removeOutTrack(c.id)
}

var _ core.ConsumerHandle = (*pionConsumer)(nil)
