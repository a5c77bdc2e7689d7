// Copyright 2024-2026 Aiku AI

package correspondence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/util/dbutil"

	"github.com/aiku/anysync/pkg/correspondence/upgrades"
)

// SQLStore keeps edges in a SQLite or Postgres database.
type SQLStore struct {
	db *dbutil.Database
	// lastStamp keeps recorded_at strictly increasing so record order survives
	// clock granularity.
	lastStamp atomic.Int64
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore wraps an open database. Call Upgrade before use.
func NewSQLStore(db *dbutil.Database) *SQLStore {
	db.UpgradeTable = upgrades.Table
	return &SQLStore{db: db}
}

// OpenSQL opens the database at uri, wraps it and applies the schema.
// dbType is a database/sql driver name: "sqlite3" or "postgres".
func OpenSQL(ctx context.Context, dbType, uri string, log zerolog.Logger) (*SQLStore, error) {
	raw, err := sql.Open(dbType, uri)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbType == "sqlite3" {
		// SQLite allows one writer; a single connection also keeps :memory: consistent.
		raw.SetMaxOpenConns(1)
	}
	db, err := dbutil.NewWithDB(raw, dbType)
	if err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("failed to wrap database: %w", err)
	}
	db.Log = dbutil.ZeroLogger(log.With().Str("db_section", "correspondence").Logger())
	store := NewSQLStore(db)
	if err = store.Upgrade(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return store, nil
}

// Upgrade applies pending schema upgrades.
func (s *SQLStore) Upgrade(ctx context.Context) error {
	if err := s.db.Upgrade(ctx); err != nil {
		return fmt.Errorf("failed to upgrade correspondence schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

const (
	selectTargetIDQuery = `
		SELECT target_message_id FROM correspondence
		WHERE source_platform=$1 AND source_message_id=$2 AND target_platform=$3 AND target_group_id=$4
	`
	upsertEdgeQuery = `
		INSERT INTO correspondence
			(source_platform, source_group_id, source_message_id, target_platform, target_group_id, target_message_id, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (source_platform, source_message_id, target_platform, target_group_id)
		DO UPDATE SET source_group_id=excluded.source_group_id, target_message_id=excluded.target_message_id
	`
	deleteEdgeQuery = `
		DELETE FROM correspondence
		WHERE source_platform=$1 AND source_message_id=$2 AND target_platform=$3 AND target_group_id=$4
	`
	selectEdgesQuery = `
		SELECT source_platform, source_group_id, source_message_id, target_platform, target_group_id, target_message_id
		FROM correspondence
		WHERE source_platform=$1 AND source_message_id=$2
		ORDER BY recorded_at, target_platform, target_group_id
	`
)

func (s *SQLStore) Record(ctx context.Context, e Edge) error {
	if err := e.Validate(); err != nil {
		return err
	}
	now := s.stamp()
	return s.db.DoTxn(ctx, nil, func(ctx context.Context) error {
		if err := s.put(ctx, e, now); err != nil {
			return err
		}
		return s.put(ctx, e.Mirror(), now)
	})
}

func (s *SQLStore) stamp() int64 {
	for {
		last := s.lastStamp.Load()
		now := max(time.Now().UnixNano(), last+1)
		if s.lastStamp.CompareAndSwap(last, now) {
			return now
		}
	}
}

func (s *SQLStore) put(ctx context.Context, e Edge, now int64) error {
	var oldTargetID string
	err := s.db.QueryRow(ctx, selectTargetIDQuery,
		e.SourcePlatform, e.SourceMessageID, e.TargetPlatform, e.TargetGroupID,
	).Scan(&oldTargetID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("failed to read existing edge: %w", err)
	case oldTargetID != e.TargetMessageID:
		old := e
		old.TargetMessageID = oldTargetID
		if err = s.remove(ctx, old.Mirror()); err != nil {
			return err
		}
	}
	_, err = s.db.Exec(ctx, upsertEdgeQuery,
		e.SourcePlatform, e.SourceGroupID, e.SourceMessageID,
		e.TargetPlatform, e.TargetGroupID, e.TargetMessageID, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert edge: %w", err)
	}
	return nil
}

func (s *SQLStore) remove(ctx context.Context, e Edge) error {
	_, err := s.db.Exec(ctx, deleteEdgeQuery, e.SourcePlatform, e.SourceMessageID, e.TargetPlatform, e.TargetGroupID)
	if err != nil {
		return fmt.Errorf("failed to delete edge: %w", err)
	}
	return nil
}

func (s *SQLStore) Lookup(ctx context.Context, platform, messageID, targetPlatform, expectedGroupID string) (Edge, bool, error) {
	edges, err := s.LookupAll(ctx, platform, messageID)
	if err != nil {
		return Edge{}, false, err
	}
	for _, e := range edges {
		if e.TargetPlatform != targetPlatform {
			continue
		}
		if expectedGroupID == "" || e.TargetGroupID == expectedGroupID {
			return e, true, nil
		}
	}
	return Edge{}, false, nil
}

func (s *SQLStore) LookupAll(ctx context.Context, platform, messageID string) ([]Edge, error) {
	rows, err := s.db.Query(ctx, selectEdgesQuery, platform, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer rows.Close()

	var edges []Edge
	for rows.Next() {
		var e Edge
		if err = rows.Scan(&e.SourcePlatform, &e.SourceGroupID, &e.SourceMessageID,
			&e.TargetPlatform, &e.TargetGroupID, &e.TargetMessageID); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

func (s *SQLStore) Delete(ctx context.Context, e Edge) error {
	return s.db.DoTxn(ctx, nil, func(ctx context.Context) error {
		if err := s.remove(ctx, e); err != nil {
			return err
		}
		return s.remove(ctx, e.Mirror())
	})
}
