package registry

import (
	"sync"
	"time"

	"github.com/lattice-video/signaling/internal/core"
	"github.com/lattice-video/signaling/internal/domain"
)

// memberEntry pairs a live participant with the transport used to reach
// it. Domain stays transport-free; the pairing lives here.
type memberEntry struct {
	participant *domain.Participant
	conn        core.SignalConnection
	leaveTimer  *time.Timer
}

// roomState is the registry's threadsafe in-memory view of a single
// room, grounded on the teacher's roomImpl (bySID/byUser maps guarded
// by one RWMutex, never held across an external call).
type roomState struct {
	mu   sync.RWMutex
	room *domain.Room

	byPeer   map[domain.PeerID]*memberEntry
	bySocket map[domain.SocketID]domain.PeerID
	byUser   map[domain.UserID]domain.PeerID

	lastEmptyAt time.Time
}

func newRoomState(room *domain.Room) *roomState {
	return &roomState{
		room:     room,
		byPeer:   make(map[domain.PeerID]*memberEntry),
		bySocket: make(map[domain.SocketID]domain.PeerID),
		byUser:   make(map[domain.UserID]domain.PeerID),
	}
}

// commitJoin performs the rebind lookup, the RoomFull capacity check,
// and the new member's insertion under one critical section, so no
// other join can interleave between the capacity check and the commit
// (spec.md §5: lock -> validate -> commit). newParticipant is called
// with the peerId to reuse on a rebind, or "" for a fresh join.
func (rs *roomState) commitJoin(userID domain.UserID, newParticipant func(rebindPeerID domain.PeerID) *domain.Participant, conn core.SignalConnection, maxParticipants int) (participant *domain.Participant, staleSocket domain.SocketID, err error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	var rebindPeerID domain.PeerID
	if userID != "" {
		if existingPeerID, ok := rs.byUser[userID]; ok {
			existing := rs.byPeer[existingPeerID]
			rebindPeerID = existingPeerID
			staleSocket = existing.participant.SocketID
			delete(rs.byPeer, existingPeerID)
			delete(rs.bySocket, staleSocket)
			delete(rs.byUser, userID)
			delete(rs.room.Participants, existingPeerID)
		}
	}

	if maxParticipants > 0 && rs.connectedCountLocked() >= maxParticipants {
		return nil, "", domain.ErrRoomFull
	}

	p := newParticipant(rebindPeerID)
	rs.byPeer[p.PeerID] = &memberEntry{participant: p, conn: conn}
	rs.bySocket[p.SocketID] = p.PeerID
	rs.byUser[p.UserID] = p.PeerID
	rs.room.Participants[p.PeerID] = p
	return p, staleSocket, nil
}

// connectedCountLocked mirrors domain.Room.ConnectedCount but must be
// called with rs.mu already held, so it never races commitJoin/
// removeMember's writes to rs.room.Participants.
func (rs *roomState) connectedCountLocked() int {
	n := 0
	for _, p := range rs.room.Participants {
		if p.IsConnected {
			n++
		}
	}
	return n
}

// removeMember deletes bookkeeping for peerID and returns the entry
// that was removed, if any, so the caller can close its connection
// outside the lock.
func (rs *roomState) removeMember(peerID domain.PeerID) *memberEntry {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	entry, ok := rs.byPeer[peerID]
	if !ok {
		return nil
	}
	delete(rs.byPeer, peerID)
	delete(rs.bySocket, entry.participant.SocketID)
	delete(rs.byUser, entry.participant.UserID)
	delete(rs.room.Participants, peerID)
	if len(rs.byPeer) == 0 {
		rs.lastEmptyAt = time.Now()
	}
	return entry
}

func (rs *roomState) peerBySocket(socketID domain.SocketID) (domain.PeerID, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	peerID, ok := rs.bySocket[socketID]
	return peerID, ok
}

func (rs *roomState) member(peerID domain.PeerID) (*memberEntry, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	entry, ok := rs.byPeer[peerID]
	return entry, ok
}

func (rs *roomState) snapshot() []domain.Snapshot {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	out := make([]domain.Snapshot, 0, len(rs.byPeer))
	for _, e := range rs.byPeer {
		out = append(out, e.participant.Snapshot())
	}
	return out
}

func (rs *roomState) count() int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return len(rs.byPeer)
}

// broadcast fans data out to every member but from, dropping (and
// reporting) members whose connection is backed up. It never blocks:
// TrySend is expected to be non-blocking on the adapter side.
func (rs *roomState) broadcast(from domain.PeerID, data core.Frame) (sent int, dropped []domain.PeerID) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	for peerID, e := range rs.byPeer {
		if peerID == from {
			continue
		}
		if err := e.conn.TrySend(data); err != nil {
			dropped = append(dropped, peerID)
			continue
		}
		sent++
	}
	return sent, dropped
}

func (rs *roomState) sendTo(peerID domain.PeerID, data core.Frame) bool {
	rs.mu.RLock()
	e, ok := rs.byPeer[peerID]
	rs.mu.RUnlock()
	if !ok {
		return false
	}
	return e.conn.TrySend(data) == nil
}

func (rs *roomState) idleSince() (time.Time, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	if len(rs.byPeer) != 0 {
		return time.Time{}, false
	}
	return rs.lastEmptyAt, true
}
