package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/uptrace/bun"

	"github.com/latticerun/dispatcher/internal/application/filestorage"
	"github.com/latticerun/dispatcher/pkg/result"
)

// pendingUpload is a queued blob write, deferred until the session commits.
type pendingUpload struct {
	storageType string
	storagePath string
	fileName    string
	reader      io.Reader
}

// pendingDelete is a queued blob removal, deferred until after uploads
// drain.
type pendingDelete struct {
	storageType string
	storagePath string
	fileName    string
}

// Session is a scoped transactional window for Dispatch Store writes plus
// two side-queues: pending uploads and pending deletes. On normal exit it
// commits the transaction, then drains uploads in queued order, then
// drains deletes in queued order. Any failure before Commit rolls the
// transaction back and discards both queues — no storage mutation. Every
// code path out of a Session must call exactly one of Commit or Rollback
// (§9, "scoped transactional session").
type Session struct {
	store    *DispatchStore
	blobs    *filestorage.Registry
	logger   *slog.Logger
	tx       bun.Tx
	uploads  []pendingUpload
	deletes  []pendingDelete
	done     bool
}

// Begin opens a new Session against the Dispatch Store's database.
func (s *DispatchStore) Begin(ctx context.Context, blobs *filestorage.Registry, logger *slog.Logger) (*Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin dispatch store session: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{store: s, blobs: blobs, logger: logger, tx: tx}, nil
}

// Upsert writes res's current snapshot within the session's transaction.
func (sess *Session) Upsert(ctx context.Context, res *result.Result) error {
	if sess.done {
		return fmt.Errorf("session already closed")
	}
	return sess.store.upsertTx(ctx, sess.tx, res)
}

// QueueUpload defers a blob write until the session commits.
func (sess *Session) QueueUpload(storageType, storagePath, fileName string, r io.Reader) {
	sess.uploads = append(sess.uploads, pendingUpload{storageType, storagePath, fileName, r})
}

// QueueDelete defers a blob removal until after uploads drain.
func (sess *Session) QueueDelete(storageType, storagePath, fileName string) {
	sess.deletes = append(sess.deletes, pendingDelete{storageType, storagePath, fileName})
}

// Commit commits the transaction, then drains uploads in queued order, then
// deletes in queued order. Upload/delete failures are logged, not
// propagated: the transaction has already committed, so the Result itself
// is durable regardless of blob side-effects.
func (sess *Session) Commit(ctx context.Context) error {
	if sess.done {
		return fmt.Errorf("session already closed")
	}
	sess.done = true

	if err := sess.tx.Commit(); err != nil {
		return fmt.Errorf("commit dispatch store session: %w", err)
	}

	for _, u := range sess.uploads {
		provider, err := sess.blobs.Resolve(u.storageType)
		if err != nil {
			sess.logger.Warn("session upload: resolve backend failed", "path", u.storagePath, "error", err)
			continue
		}
		if _, err := provider.Store(ctx, u.storagePath, u.fileName, u.reader); err != nil {
			sess.logger.Warn("session upload failed", "path", u.storagePath, "file", u.fileName, "error", err)
		}
	}
	for _, d := range sess.deletes {
		provider, err := sess.blobs.Resolve(d.storageType)
		if err != nil {
			sess.logger.Warn("session delete: resolve backend failed", "path", d.storagePath, "error", err)
			continue
		}
		if err := provider.Delete(ctx, d.storagePath, d.fileName); err != nil {
			sess.logger.Warn("session delete failed", "path", d.storagePath, "file", d.fileName, "error", err)
		}
	}
	return nil
}

// Rollback aborts the transaction and discards both side-queues: no
// storage mutation happens.
func (sess *Session) Rollback() error {
	if sess.done {
		return nil
	}
	sess.done = true
	sess.uploads = nil
	sess.deletes = nil
	if err := sess.tx.Rollback(); err != nil {
		return fmt.Errorf("rollback dispatch store session: %w", err)
	}
	return nil
}
