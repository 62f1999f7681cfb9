// Package registry implements RoomRegistry (C3): the single
// authoritative in-memory map of live rooms, participants, and their
// socket bindings.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/lattice-video/signaling/internal/core"
	"github.com/lattice-video/signaling/internal/domain"
)

// Options configures reap and sweep timings (spec.md §4.1's grace
// period and the periodic empty-room sweep). Zero values fall back to
// the documented defaults.
type Options struct {
	ReapGrace       time.Duration
	SweepInterval   time.Duration
	EmptyThreshold  time.Duration
	MaxSweepWorkers int
}

func (o Options) withDefaults() Options {
	if o.ReapGrace <= 0 {
		o.ReapGrace = 30 * time.Second
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = 2 * time.Minute
	}
	if o.EmptyThreshold <= 0 {
		o.EmptyThreshold = 5 * time.Minute
	}
	if o.MaxSweepWorkers <= 0 {
		o.MaxSweepWorkers = 8
	}
	return o
}

// Registry implements core.RoomRegistry.
type Registry struct {
	store core.CallStore
	opts  Options
	log   zerolog.Logger

	mu    sync.RWMutex
	rooms map[domain.RoomID]*roomState

	// socketRoom lets HandleDisconnect and Leave find a socket's room
	// without a scan; entries are removed on Leave/HandleDisconnect.
	socketRoomMu sync.RWMutex
	socketRoom   map[domain.SocketID]domain.RoomID

	stopSweep chan struct{}
	sweepDone chan struct{}

	// sfuCloser is set once at startup (cmd/server) after both the
	// registry and the SFU session exist, breaking what would otherwise
	// be a circular import between internal/registry and internal/sfu.
	sfuCloser func(domain.RoomID)
}

// SetSFUCloser wires the callback the registry uses to tear down a
// room's SFU state (spec.md §4.1: "instruct C5 to close its router")
// once that room's participant map becomes empty, and on EndCall.
func (r *Registry) SetSFUCloser(fn func(domain.RoomID)) {
	r.sfuCloser = fn
}

func New(store core.CallStore, opts Options) *Registry {
	r := &Registry{
		store:      store,
		opts:       opts.withDefaults(),
		log:        log.With().Str("module", "registry").Logger(),
		rooms:      make(map[domain.RoomID]*roomState),
		socketRoom: make(map[domain.SocketID]domain.RoomID),
		stopSweep:  make(chan struct{}),
		sweepDone:  make(chan struct{}),
	}
	go r.sweepLoop()
	return r
}

// Close stops the background sweep goroutine. Safe to call once.
func (r *Registry) Close() {
	close(r.stopSweep)
	<-r.sweepDone
}

func (r *Registry) getRoom(roomID domain.RoomID) (*roomState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rs, ok := r.rooms[roomID]
	return rs, ok
}

func (r *Registry) bindSocket(socketID domain.SocketID, roomID domain.RoomID) {
	r.socketRoomMu.Lock()
	r.socketRoom[socketID] = roomID
	r.socketRoomMu.Unlock()
}

func (r *Registry) unbindSocket(socketID domain.SocketID) {
	r.socketRoomMu.Lock()
	delete(r.socketRoom, socketID)
	r.socketRoomMu.Unlock()
}

func (r *Registry) RoomOf(socketID domain.SocketID) (domain.RoomID, bool) {
	r.socketRoomMu.RLock()
	defer r.socketRoomMu.RUnlock()
	roomID, ok := r.socketRoom[socketID]
	return roomID, ok
}

func (r *Registry) ParticipantOf(socketID domain.SocketID) (*domain.Participant, bool) {
	roomID, ok := r.RoomOf(socketID)
	if !ok {
		return nil, false
	}
	rs, ok := r.getRoom(roomID)
	if !ok {
		return nil, false
	}
	peerID, ok := rs.peerBySocket(socketID)
	if !ok {
		return nil, false
	}
	entry, ok := rs.member(peerID)
	if !ok {
		return nil, false
	}
	return entry.participant, true
}

// CreateRoom materializes a room in memory and joins the caller as its
// host. It never touches CallStore: call-record creation is out of
// scope for the session layer (spec.md §1's collaborators), so a room
// created this way has no backing call record until one is layered in
// externally, matching the walk-up scenario in spec.md §8's S1.
func (r *Registry) CreateRoom(ctx context.Context, req core.CreateRoomRequest) (*core.JoinResult, error) {
	roomID := req.RoomID
	if roomID == "" {
		roomID = domain.RoomID(uuid.NewString())
	}

	r.mu.Lock()
	if _, exists := r.rooms[roomID]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("room %s already exists", roomID)
	}
	settings := domain.RoomSettings{
		Name:            req.Name,
		IsPrivate:       req.IsPrivate,
		MaxParticipants: req.MaxParticipants,
	}
	room := domain.NewRoom(roomID, "", req.Identity.ID, settings, time.Now())
	rs := newRoomState(room)
	r.rooms[roomID] = rs
	r.mu.Unlock()

	r.log.Info().Str("room", string(roomID)).Str("host", string(req.Identity.ID)).Msg("room created")

	return r.join(ctx, rs, joinArgs{
		identity: req.Identity,
		socketID: req.SocketID,
		conn:     req.Conn,
		role:     domain.RoleHost,
	})
}

// Join resolves a room, either one already resident in memory (the
// common case: a host created it via CreateRoom moments earlier) or,
// on a cold hit, one backed by an externally created call record.
func (r *Registry) Join(ctx context.Context, req core.JoinRequest) (*core.JoinResult, error) {
	rs, ok := r.getRoom(req.RoomID)
	if !ok {
		record, err := r.store.GetByRoomID(ctx, req.RoomID)
		if err != nil {
			return nil, domain.ErrRoomNotFound
		}
		if record == nil {
			return nil, domain.ErrRoomNotFound
		}
		if record.Status == domain.RoomEnded {
			return nil, domain.ErrEnded
		}
		room := domain.NewRoom(req.RoomID, record.CallID, record.HostUserID, record.Settings, time.Now())
		room.Status = record.Status

		r.mu.Lock()
		if existing, raced := r.rooms[req.RoomID]; raced {
			rs = existing
		} else {
			rs = newRoomState(room)
			r.rooms[req.RoomID] = rs
		}
		r.mu.Unlock()

		if err := r.checkAccess(record, req); err != nil {
			return nil, err
		}
	} else if err := r.checkAccessAgainstRoom(rs, req); err != nil {
		return nil, err
	}

	role := domain.RoleParticipant
	if req.Identity.ID != "" && req.Identity.ID == rs.room.HostUserID {
		role = domain.RoleHost
	}
	if req.Identity.ID.IsGuest() {
		role = domain.RoleGuest
	}

	return r.join(ctx, rs, joinArgs{
		identity: req.Identity,
		socketID: req.SocketID,
		conn:     req.Conn,
		role:     role,
	})
}

// checkAccess is used only for a cold-loaded room, which has zero
// members by construction, so MaxParticipants never rejects here.
func (r *Registry) checkAccess(record *core.CallRecord, req core.JoinRequest) error {
	if record.Settings.CallType == domain.CallTypeInvitedOnly {
		if !isInvited(record.Settings.InviteList, req.Identity.ID) && req.Identity.ID != record.HostUserID {
			return domain.ErrNotInvited
		}
	}
	if record.PasscodeHash != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(record.PasscodeHash), []byte(req.Passcode)); err != nil {
			return domain.ErrInvalidPasscode
		}
	}
	return nil
}

// checkAccessAgainstRoom validates everything a rebind can't fix
// (Ended status, invite list, passcode). RoomFull is deliberately not
// checked here: it is enforced atomically by roomState.commitJoin,
// which runs after the rebind removal and under the same lock as the
// capacity read, so a reconnecting user is never rejected against
// their own about-to-be-replaced slot and the check never races
// concurrent joins over rs.room.Participants.
func (r *Registry) checkAccessAgainstRoom(rs *roomState, req core.JoinRequest) error {
	rs.mu.RLock()
	status := rs.room.Status
	settings := rs.room.Settings
	hostUserID := rs.room.HostUserID
	rs.mu.RUnlock()

	if status == domain.RoomEnded {
		return domain.ErrEnded
	}
	if settings.CallType == domain.CallTypeInvitedOnly {
		if !isInvited(settings.InviteList, req.Identity.ID) && req.Identity.ID != hostUserID {
			return domain.ErrNotInvited
		}
	}
	if settings.PasscodeHash != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(settings.PasscodeHash), []byte(req.Passcode)); err != nil {
			return domain.ErrInvalidPasscode
		}
	}
	return nil
}

func isInvited(list []domain.UserID, userID domain.UserID) bool {
	for _, id := range list {
		if id == userID {
			return true
		}
	}
	return false
}

type joinArgs struct {
	identity domain.User
	socketID domain.SocketID
	conn     core.SignalConnection
	role     domain.Role
}

func (r *Registry) join(ctx context.Context, rs *roomState, args joinArgs) (*core.JoinResult, error) {
	// reconnect: replace the stale socket binding rather than creating a
	// duplicate participant (invariant P2: one live peer per user per
	// room). The peerId is preserved across the rebind (spec.md §4.1,
	// testable property 6) — only socketId/conn/isConnected/leftAt
	// change. The rebind lookup, the RoomFull capacity check, and the
	// commit all happen under roomState.commitJoin's single lock so
	// concurrent joins can't race the capacity read against each other's
	// writes to rs.room.Participants (spec.md §5's lock -> validate ->
	// commit discipline).
	newParticipant := func(rebindPeerID domain.PeerID) *domain.Participant {
		peerID := rebindPeerID
		if peerID == "" {
			peerID = domain.PeerID(uuid.NewString())
		}
		return &domain.Participant{
			PeerID:      peerID,
			UserID:      args.identity.ID,
			SocketID:    args.socketID,
			User:        args.identity,
			Role:        args.role,
			JoinedAt:    time.Now(),
			IsConnected: true,
		}
	}

	participant, staleSocket, err := rs.commitJoin(args.identity.ID, newParticipant, args.conn, rs.room.Settings.MaxParticipants)
	if err != nil {
		return nil, err
	}
	if staleSocket != "" {
		r.unbindSocket(staleSocket)
	}
	r.bindSocket(args.socketID, rs.room.RoomID)

	rs.mu.Lock()
	firstLive := rs.room.Status == domain.RoomWaiting
	if firstLive {
		rs.room.Status = domain.RoomLive
	}
	rs.mu.Unlock()

	// Invariant P3: guest transitions never reach CallStore.
	if rs.room.CallID != "" && !args.identity.ID.IsGuest() {
		if err := r.store.AddParticipant(ctx, rs.room.CallID, args.identity.ID, args.role); err != nil {
			r.log.Warn().Err(err).Str("room", string(rs.room.RoomID)).Msg("call store add participant failed")
		}
		if err := r.store.UpdateParticipantStatus(ctx, rs.room.CallID, args.identity.ID, true, args.socketID); err != nil {
			r.log.Warn().Err(err).Str("room", string(rs.room.RoomID)).Msg("call store status update failed")
		}
	}
	if rs.room.CallID != "" && firstLive {
		if err := r.store.Start(ctx, rs.room.CallID); err != nil {
			r.log.Warn().Err(err).Str("room", string(rs.room.RoomID)).Msg("call store start failed")
		}
	}

	r.log.Info().Str("room", string(rs.room.RoomID)).Str("peer", string(participant.PeerID)).Str("role", string(args.role)).Msg("participant joined")

	return &core.JoinResult{
		Room:         rs.room,
		Self:         participant,
		Participants: rs.snapshot(),
		IsHost:       args.role == domain.RoleHost,
	}, nil
}

// UpdateMediaState applies a partial media-state patch (spec.md §4.1);
// nil fields in the update retain their previous value.
func (r *Registry) UpdateMediaState(socketID domain.SocketID, update domain.MediaStateUpdate) error {
	roomID, ok := r.RoomOf(socketID)
	if !ok {
		return domain.ErrRoomNotFound
	}
	rs, ok := r.getRoom(roomID)
	if !ok {
		return domain.ErrRoomNotFound
	}
	peerID, ok := rs.peerBySocket(socketID)
	if !ok {
		return domain.ErrRoomNotFound
	}
	entry, ok := rs.member(peerID)
	if !ok {
		return domain.ErrRoomNotFound
	}
	rs.mu.Lock()
	entry.participant.MediaState = entry.participant.MediaState.Apply(update)
	rs.mu.Unlock()
	return nil
}

// Leave removes a participant from its room and, when the room falls
// empty, deletes the room at once and hands it to the SFU closer.
func (r *Registry) Leave(socketID domain.SocketID, roomID domain.RoomID) {
	rs, ok := r.getRoom(roomID)
	if !ok {
		r.unbindSocket(socketID)
		return
	}
	peerID, ok := rs.peerBySocket(socketID)
	if !ok {
		r.unbindSocket(socketID)
		return
	}
	entry := rs.removeMember(peerID)
	r.unbindSocket(socketID)
	if entry == nil {
		return
	}
	if entry.conn != nil {
		entry.conn.Close()
	}
	// Invariant P3: guest transitions never reach CallStore.
	if rs.room.CallID != "" && !entry.participant.UserID.IsGuest() {
		if err := r.store.UpdateParticipantStatus(context.Background(), rs.room.CallID, entry.participant.UserID, false, socketID); err != nil {
			r.log.Warn().Err(err).Msg("call store status update on leave failed")
		}
	}

	// leave "emits UserLeft to peers" (spec.md §4.1), and handleDisconnect
	// is "equivalent to leave with a socket-drop reason" — broadcasting
	// here, the one place both paths funnel through, covers an explicit
	// room:leave and a reap-triggered removal alike.
	if frame, err := EncodeEvent(core.EventUserLeft, struct {
		UserID      domain.UserID   `json:"userId"`
		Participant domain.Snapshot `json:"participant"`
	}{UserID: entry.participant.UserID, Participant: entry.participant.Snapshot()}); err == nil {
		rs.broadcast(peerID, frame)
	} else {
		r.log.Warn().Err(err).Msg("failed to encode user-left frame")
	}

	r.log.Info().Str("room", string(roomID)).Str("peer", string(peerID)).Msg("participant left")

	if rs.count() == 0 {
		r.mu.Lock()
		delete(r.rooms, roomID)
		r.mu.Unlock()
		if r.sfuCloser != nil {
			r.sfuCloser(roomID)
		}
	}
}

// HandleDisconnect gives a dropped socket a grace period (spec.md
// §4.1) before treating it as a Leave, so a brief network blip does
// not evict the participant.
func (r *Registry) HandleDisconnect(socketID domain.SocketID) {
	roomID, ok := r.RoomOf(socketID)
	if !ok {
		return
	}
	rs, ok := r.getRoom(roomID)
	if !ok {
		return
	}
	peerID, ok := rs.peerBySocket(socketID)
	if !ok {
		return
	}
	entry, ok := rs.member(peerID)
	if !ok {
		return
	}

	rs.mu.Lock()
	entry.participant.IsConnected = false
	if entry.leaveTimer != nil {
		entry.leaveTimer.Stop()
	}
	entry.leaveTimer = time.AfterFunc(r.opts.ReapGrace, func() {
		r.Leave(socketID, roomID)
	})
	rs.mu.Unlock()

	r.log.Debug().Str("room", string(roomID)).Str("peer", string(peerID)).Dur("grace", r.opts.ReapGrace).Msg("participant disconnected, reap scheduled")
}

// EndCall closes a room for every participant; only the host may call
// this (enforced by the relay, which knows the caller's role).
func (r *Registry) EndCall(ctx context.Context, socketID domain.SocketID) error {
	roomID, ok := r.RoomOf(socketID)
	if !ok {
		return domain.ErrRoomNotFound
	}
	rs, ok := r.getRoom(roomID)
	if !ok {
		return domain.ErrRoomNotFound
	}

	rs.mu.Lock()
	rs.room.Status = domain.RoomEnded
	members := make([]*memberEntry, 0, len(rs.byPeer))
	for _, e := range rs.byPeer {
		members = append(members, e)
	}
	rs.mu.Unlock()

	for _, e := range members {
		e.conn.Close()
	}

	r.mu.Lock()
	delete(r.rooms, roomID)
	r.mu.Unlock()

	if r.sfuCloser != nil {
		r.sfuCloser(roomID)
	}

	if rs.room.CallID != "" {
		if err := r.store.End(ctx, rs.room.CallID); err != nil {
			r.log.Warn().Err(err).Str("room", string(roomID)).Msg("call store end failed")
		}
	}

	r.log.Info().Str("room", string(roomID)).Int("evicted", len(members)).Msg("call ended")
	return nil
}

func (r *Registry) SendToPeer(roomID domain.RoomID, peerID domain.PeerID, frame core.Frame) bool {
	rs, ok := r.getRoom(roomID)
	if !ok {
		return false
	}
	return rs.sendTo(peerID, frame)
}

// Broadcast is used by the relay for room-wide fan-out (chat, media
// state changes, presence). Not part of core.RoomRegistry because it
// is relay-internal traffic shaping, not a lifecycle operation.
func (r *Registry) Broadcast(roomID domain.RoomID, from domain.PeerID, frame core.Frame) (sent int, dropped []domain.PeerID) {
	rs, ok := r.getRoom(roomID)
	if !ok {
		return 0, nil
	}
	return rs.broadcast(from, frame)
}

func (r *Registry) RoomStats(roomID domain.RoomID) (core.RoomStats, bool) {
	rs, ok := r.getRoom(roomID)
	if !ok {
		return core.RoomStats{}, false
	}
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return core.RoomStats{
		RoomID:           roomID,
		Status:           rs.room.Status,
		ParticipantCount: len(rs.byPeer),
		CreatedAt:        rs.room.CreatedAt.Format(time.RFC3339),
	}, true
}

func (r *Registry) AllRoomStats() []core.RoomStats {
	r.mu.RLock()
	ids := make([]domain.RoomID, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	out := make([]core.RoomStats, 0, len(ids))
	for _, id := range ids {
		if s, ok := r.RoomStats(id); ok {
			out = append(out, s)
		}
	}
	return out
}

// EncodeEvent flattens payload's fields into the same JSON object as
// the `type` discriminator (spec.md §6.1's wire shape, e.g.
// `room:joined { roomId, user, participants[], settings, isHost }`
// rather than a nested envelope). payload may be nil for events with
// no fields.
func EncodeEvent(event core.Event, payload any) (core.Frame, error) {
	fields := map[string]json.RawMessage{}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(b, &fields); err != nil {
			return nil, err
		}
	}
	typeJSON, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	fields["type"] = typeJSON
	return json.Marshal(fields)
}
