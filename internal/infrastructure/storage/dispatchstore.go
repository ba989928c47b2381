// Package storage implements the Dispatch Store: a durable key/value of
// dispatch_id -> serialized Result, backed by uptrace/bun against
// Postgres, the teacher's ORM/driver choice. One row per dispatch, upserted
// in place.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	storagemodels "github.com/latticerun/dispatcher/internal/infrastructure/storage/models"
	"github.com/latticerun/dispatcher/pkg/models"
	"github.com/latticerun/dispatcher/pkg/result"
)

// Config configures the underlying Postgres connection.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleTime     time.Duration
	MaxConnLifetime time.Duration
}

// Open establishes the bun.DB handle used by the Dispatch Store.
func Open(cfg Config) (*bun.DB, error) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DSN)))
	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetConnMaxIdleTime(cfg.MaxIdleTime)
	sqldb.SetConnMaxLifetime(cfg.MaxConnLifetime)

	db := bun.NewDB(sqldb, pgdialect.New())
	return db, nil
}

// DispatchStore maps dispatch_id -> serialized Result with upsert
// semantics (§4.6).
type DispatchStore struct {
	db *bun.DB
}

// NewDispatchStore wraps an open bun.DB handle.
func NewDispatchStore(db *bun.DB) *DispatchStore {
	return &DispatchStore{db: db}
}

// CreateSchema creates the dispatches table if it does not already exist.
// Out-of-scope per spec.md ("the migration tooling around the persistent
// store"), kept here only as the minimal bootstrap a fresh local deployment
// needs; a real deployment runs its own migration tooling instead.
func (s *DispatchStore) CreateSchema(ctx context.Context) error {
	_, err := s.db.NewCreateTable().
		Model((*storagemodels.DispatchRow)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create dispatches table: %w", err)
	}
	return nil
}

// Upsert writes res's current snapshot, replacing any existing row for the
// same dispatch_id.
func (s *DispatchStore) Upsert(ctx context.Context, res *result.Result) error {
	return s.upsertTx(ctx, s.db, res)
}

func (s *DispatchStore) upsertTx(ctx context.Context, ex bun.IDB, res *result.Result) error {
	doc := res.Snapshot()
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode result doc: %w", err)
	}

	row := &storagemodels.DispatchRow{
		DispatchID: doc.DispatchID,
		ResultDoc:  payload,
		UpdatedAt:  time.Now().UTC(),
	}

	_, err = ex.NewInsert().
		Model(row).
		On("CONFLICT (dispatch_id) DO UPDATE").
		Set("result_doc = EXCLUDED.result_doc").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert dispatch %s: %w", doc.DispatchID, err)
	}
	return nil
}

// Get loads the serialized Result document for dispatchID.
func (s *DispatchStore) Get(ctx context.Context, dispatchID string) (result.ResultDoc, error) {
	row := new(storagemodels.DispatchRow)
	err := s.db.NewSelect().
		Model(row).
		Where("dispatch_id = ?", dispatchID).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return result.ResultDoc{}, models.ErrDispatchNotFound
		}
		return result.ResultDoc{}, fmt.Errorf("get dispatch %s: %w", dispatchID, err)
	}

	var doc result.ResultDoc
	if err := json.Unmarshal(row.ResultDoc, &doc); err != nil {
		return result.ResultDoc{}, fmt.Errorf("decode dispatch %s: %w", dispatchID, err)
	}
	return doc, nil
}

// Delete removes the row for dispatchID.
func (s *DispatchStore) Delete(ctx context.Context, dispatchID string) error {
	_, err := s.db.NewDelete().
		Model((*storagemodels.DispatchRow)(nil)).
		Where("dispatch_id = ?", dispatchID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete dispatch %s: %w", dispatchID, err)
	}
	return nil
}
