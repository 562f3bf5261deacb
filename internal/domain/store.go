package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
	// Event restricts audit queries to one event name.
	Event string
}

// Counters is the value of the three identifier counters.
type Counters struct {
	Items       uint64 `json:"items"`
	Collections uint64 `json:"collections"`
	Assets      uint64 `json:"assets"`
}

// Snapshot is the full ledger state in ascending identifier order.
type Snapshot struct {
	Counters    Counters     `json:"counters"`
	Items       []MarketItem `json:"items"`
	Collections []Collection `json:"collections"`
	Memberships []Membership `json:"memberships"`
}

// Changeset is what one committed operation wrote: the final form of every
// touched record and the membership entries it added or removed.
type Changeset struct {
	Counters    Counters
	Items       []MarketItem
	Collections []Collection
	Joined      []Membership
	Left        []Membership
}

// Empty reports whether the changeset carries no record writes.
func (c Changeset) Empty() bool {
	return len(c.Items) == 0 && len(c.Collections) == 0 && len(c.Joined) == 0 && len(c.Left) == 0
}

// LedgerStore persists ledger tables. Commit must apply the whole changeset
// atomically or not at all.
type LedgerStore interface {
	Load(ctx context.Context) (Snapshot, error)
	Commit(ctx context.Context, cs Changeset) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
