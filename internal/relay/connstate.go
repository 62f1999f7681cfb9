package relay

import "github.com/lattice-video/signaling/internal/domain"

// connState is the per-socket identity fixed at handshake time
// (spec.md §4.2: "attached to the socket's per-connection state and is
// immutable for the connection's lifetime"). pendingTransports is
// mutable but only ever touched from the connection's own read pump,
// so it needs no lock.
//
// sfu:connect-transport carries only { dtlsParameters } on the wire
// (spec.md §6.1) — the direction is implicit in which transport
// object the client is calling on. The relay recovers it by queuing
// each direction at sfu:create-transport time and dequeuing FIFO,
// matching mediasoup-client's create-then-immediately-connect pattern.
type connState struct {
	socketID          domain.SocketID
	identity          domain.User
	pendingTransports []domain.TransportDirection
}

func (s *connState) enqueueTransport(dir domain.TransportDirection) {
	s.pendingTransports = append(s.pendingTransports, dir)
}

func (s *connState) dequeueTransport() (domain.TransportDirection, bool) {
	if len(s.pendingTransports) == 0 {
		return "", false
	}
	dir := s.pendingTransports[0]
	s.pendingTransports = s.pendingTransports[1:]
	return dir, true
}
