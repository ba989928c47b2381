// Package models holds the bun row models backing the dispatcher's
// persistent store.
package models

import (
	"time"

	"github.com/uptrace/bun"
)

// DispatchRow is the single row type the Dispatch Store persists: one row
// per dispatch_id holding the full serialized Result document as jsonb.
type DispatchRow struct {
	bun.BaseModel `bun:"table:dispatches,alias:d"`

	DispatchID string    `bun:"dispatch_id,pk"`
	ResultDoc  []byte    `bun:"result_doc,type:jsonb"`
	UpdatedAt  time.Time `bun:"updated_at,notnull"`
}
