// Package database persists room documents in PostgreSQL. Rooms are stored
// whole as JSONB keyed by room id: the in-memory RoomManager is the source of
// truth while the process runs, so the store only ever needs get-all, upsert
// and delete.
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scythe504/gameswap-backend/internal"
)

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
	room_id    TEXT PRIMARY KEY,
	room_name  TEXT NOT NULL,
	document   JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS room_archive (
	room_id     TEXT NOT NULL,
	room_name   TEXT NOT NULL,
	document    JSONB NOT NULL,
	archived_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

type Store struct {
	pool *pgxpool.Pool
}

// New connects, verifies the connection and creates the tables if needed.
func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	log.Printf("[Database] Connected and schema is ready")
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// RoomRepository is the primary store for live rooms.
type RoomRepository struct {
	store *Store
}

func NewRoomRepository(store *Store) *RoomRepository {
	return &RoomRepository{store: store}
}

func (r *RoomRepository) GetAll(ctx context.Context) ([]internal.RoomRecord, error) {
	rows, err := r.store.pool.Query(ctx, `SELECT document FROM rooms`)
	if err != nil {
		return nil, fmt.Errorf("query rooms: %w", err)
	}
	defer rows.Close()

	var records []internal.RoomRecord
	for rows.Next() {
		var document []byte
		if err := rows.Scan(&document); err != nil {
			return nil, fmt.Errorf("scan room row: %w", err)
		}
		var record internal.RoomRecord
		if err := json.Unmarshal(document, &record); err != nil {
			return nil, fmt.Errorf("decode room document: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (r *RoomRepository) Save(ctx context.Context, record internal.RoomRecord) error {
	document, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode room document: %w", err)
	}
	_, err = r.store.pool.Exec(ctx, `
		INSERT INTO rooms (room_id, room_name, document, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (room_id)
		DO UPDATE SET room_name = $2, document = $3, updated_at = now()`,
		record.RoomId, record.RoomName, document)
	if err != nil {
		return fmt.Errorf("save room %s: %w", record.RoomId, err)
	}
	return nil
}

func (r *RoomRepository) Delete(ctx context.Context, roomId string) error {
	if _, err := r.store.pool.Exec(ctx, `DELETE FROM rooms WHERE room_id = $1`, roomId); err != nil {
		return fmt.Errorf("delete room %s: %w", roomId, err)
	}
	return nil
}

// RoomArchive keeps a snapshot of every deleted room. Append only.
type RoomArchive struct {
	store *Store
}

func NewRoomArchive(store *Store) *RoomArchive {
	return &RoomArchive{store: store}
}

func (a *RoomArchive) Add(ctx context.Context, record internal.RoomRecord) error {
	document, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode room document: %w", err)
	}
	_, err = a.store.pool.Exec(ctx, `
		INSERT INTO room_archive (room_id, room_name, document)
		VALUES ($1, $2, $3)`,
		record.RoomId, record.RoomName, document)
	if err != nil {
		return fmt.Errorf("archive room %s: %w", record.RoomId, err)
	}
	return nil
}
