package relay

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/lattice-video/signaling/internal/core"
	"github.com/lattice-video/signaling/internal/domain"
	"github.com/lattice-video/signaling/internal/registry"
)

// inboundEnvelope reads only the discriminator; handlers re-unmarshal
// the same bytes into their own typed payload.
type inboundEnvelope struct {
	Type core.Event `json:"type"`
}

func (r *Relay) send(c *wsConn, event core.Event, payload any) {
	frame, err := registry.EncodeEvent(event, payload)
	if err != nil {
		r.log.Error().Err(err).Str("event", string(event)).Msg("encode outbound frame failed")
		return
	}
	_ = c.TrySend(frame)
}

// sendError translates a domain error into the outbound error
// envelope (spec.md §7). Errors not carrying the taxonomy are logged
// with a correlation id and reported as Internal without leaking their
// text.
func (r *Relay) sendError(ctx context.Context, c *wsConn, err error) {
	se := domain.AsError(err)
	if se.Code == domain.CodeInternal {
		corrID := uuid.NewString()
		r.log.Error().Err(err).Str("correlationId", corrID).Msg("internal error")
	}
	r.send(c, core.EventError, struct {
		Message string      `json:"message"`
		Code    domain.Code `json:"code"`
	}{Message: se.Message, Code: se.Code})
}

func decode[T any](data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}
