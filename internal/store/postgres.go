package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lattice-video/signaling/internal/core"
	"github.com/lattice-video/signaling/internal/domain"
)

// PostgresCallStore persists call records and participant status
// transitions, grounded on Ilpaka-vibeemeet's pgxpool-based
// repository. Every write is idempotent per spec.md §6.3.
type PostgresCallStore struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

func NewPostgresCallStore(db *pgxpool.Pool) *PostgresCallStore {
	return &PostgresCallStore{db: db, log: log.With().Str("module", "store.postgres").Logger()}
}

// NewPostgresPool opens the pgxpool.Pool cmd/server hands to
// NewPostgresCallStore, keeping pool lifecycle (and its Close) owned by
// the caller.
func NewPostgresPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	return pgxpool.New(ctx, databaseURL)
}

func (s *PostgresCallStore) GetByRoomID(ctx context.Context, roomID domain.RoomID) (*core.CallRecord, error) {
	const query = `
		SELECT call_id, host_user_id, status, room_name, is_private, passcode_hash,
		       max_participants, call_type, sfu_enabled
		FROM calls
		WHERE room_id = $1
	`
	var rec core.CallRecord
	err := s.db.QueryRow(ctx, query, roomID).Scan(
		&rec.CallID, &rec.HostUserID, &rec.Status, &rec.Settings.Name, &rec.Settings.IsPrivate,
		&rec.PasscodeHash, &rec.Settings.MaxParticipants, &rec.Settings.CallType, &rec.Settings.SFU,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRoomNotFound
		}
		s.log.Error().Err(err).Str("room", string(roomID)).Msg("get call by room id failed")
		return nil, err
	}
	rec.Settings.PasscodeHash = rec.PasscodeHash
	return &rec, nil
}

func (s *PostgresCallStore) AddParticipant(ctx context.Context, callID domain.CallID, userID domain.UserID, role domain.Role) error {
	const query = `
		INSERT INTO call_participants (call_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (call_id, user_id) DO UPDATE SET role = EXCLUDED.role
	`
	if _, err := s.db.Exec(ctx, query, callID, userID, role); err != nil {
		s.log.Error().Err(err).Str("call", string(callID)).Str("user", string(userID)).Msg("add participant failed")
		return err
	}
	return nil
}

func (s *PostgresCallStore) UpdateParticipantStatus(ctx context.Context, callID domain.CallID, userID domain.UserID, connected bool, socketID domain.SocketID) error {
	const query = `
		UPDATE call_participants
		SET is_connected = $3, socket_id = $4, left_at = CASE WHEN $3 THEN NULL ELSE now() END
		WHERE call_id = $1 AND user_id = $2
	`
	if _, err := s.db.Exec(ctx, query, callID, userID, connected, socketID); err != nil {
		s.log.Error().Err(err).Str("call", string(callID)).Str("user", string(userID)).Msg("update participant status failed")
		return err
	}
	return nil
}

func (s *PostgresCallStore) Start(ctx context.Context, callID domain.CallID) error {
	const query = `
		UPDATE calls SET status = $2, started_at = COALESCE(started_at, now())
		WHERE call_id = $1 AND status <> $2
	`
	if _, err := s.db.Exec(ctx, query, callID, domain.RoomLive); err != nil {
		s.log.Error().Err(err).Str("call", string(callID)).Msg("start call failed")
		return err
	}
	return nil
}

func (s *PostgresCallStore) End(ctx context.Context, callID domain.CallID) error {
	const query = `
		UPDATE calls SET status = $2, ended_at = now()
		WHERE call_id = $1 AND status <> $2
	`
	if _, err := s.db.Exec(ctx, query, callID, domain.RoomEnded); err != nil {
		s.log.Error().Err(err).Str("call", string(callID)).Msg("end call failed")
		return err
	}
	return nil
}

var _ core.CallStore = (*PostgresCallStore)(nil)
