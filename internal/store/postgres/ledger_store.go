package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marketledger/internal/domain"
)

// Counter rows in ledger_counters.
const (
	counterItems       = "items"
	counterCollections = "collections"
	counterAssets      = "assets"
)

// LedgerStore implements domain.LedgerStore using PostgreSQL.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a new LedgerStore backed by the given pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// compile-time interface check
var _ domain.LedgerStore = (*LedgerStore)(nil)

// Commit applies cs in one transaction. Collections are written before items
// so that collection_id references resolve, and memberships last. Left
// entries are removed before Joined entries are inserted because an item may
// leave one collection and join another in the same operation.
func (s *LedgerStore) Commit(ctx context.Context, cs domain.Changeset) error {
	return inTx(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		const upsertCounter = `
			INSERT INTO ledger_counters (name, value) VALUES ($1, $2)
			ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value`
		batch.Queue(upsertCounter, counterItems, int64(cs.Counters.Items))
		batch.Queue(upsertCounter, counterCollections, int64(cs.Counters.Collections))
		batch.Queue(upsertCounter, counterAssets, int64(cs.Counters.Assets))

		for _, c := range cs.Collections {
			batch.Queue(`
				INSERT INTO collections
					(collection_id, owner, badge_asset_id, items_in_collection, items_sold, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
				ON CONFLICT (collection_id) DO UPDATE SET
					owner               = EXCLUDED.owner,
					badge_asset_id      = EXCLUDED.badge_asset_id,
					items_in_collection = EXCLUDED.items_in_collection,
					items_sold          = EXCLUDED.items_sold,
					updated_at          = NOW()`,
				int64(c.CollectionID), c.Owner.Hex(), int64(c.BadgeAssetID),
				int64(c.ItemsInCollection), int64(c.ItemsSoldInCollection),
			)
		}

		for _, it := range cs.Items {
			batch.Queue(`
				INSERT INTO market_items
					(item_id, asset_id, seller, owner, for_sale, sold, price, collection_id, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, NOW(), NOW())
				ON CONFLICT (item_id) DO UPDATE SET
					owner         = EXCLUDED.owner,
					for_sale      = EXCLUDED.for_sale,
					sold          = EXCLUDED.sold,
					price         = EXCLUDED.price,
					collection_id = EXCLUDED.collection_id,
					updated_at    = NOW()`,
				int64(it.ItemID), int64(it.AssetID), it.Seller.Hex(), nullAddress(it.Owner),
				it.ForSale, it.Sold, it.Price.Dec(), nullCollection(it.CollectionID),
			)
		}

		for _, m := range cs.Left {
			batch.Queue(
				"DELETE FROM collection_members WHERE collection_id = $1 AND item_id = $2",
				int64(m.CollectionID), int64(m.ItemID),
			)
		}
		for _, m := range cs.Joined {
			batch.Queue(
				"INSERT INTO collection_members (collection_id, item_id) VALUES ($1, $2)",
				int64(m.CollectionID), int64(m.ItemID),
			)
		}

		br := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("postgres: commit changeset statement %d: %w", i, err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("postgres: commit changeset: %w", err)
		}
		return nil
	})
}

// Load reads the whole ledger in ascending identifier order.
func (s *LedgerStore) Load(ctx context.Context) (domain.Snapshot, error) {
	var snap domain.Snapshot

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return snap, fmt.Errorf("postgres: load begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if snap.Counters, err = loadCounters(ctx, tx); err != nil {
		return snap, err
	}
	if snap.Collections, err = loadCollections(ctx, tx); err != nil {
		return snap, err
	}
	if snap.Items, err = loadItems(ctx, tx); err != nil {
		return snap, err
	}
	if snap.Memberships, err = loadMemberships(ctx, tx); err != nil {
		return snap, err
	}
	return snap, nil
}

func loadCounters(ctx context.Context, tx pgx.Tx) (domain.Counters, error) {
	var c domain.Counters
	rows, err := tx.Query(ctx, "SELECT name, value FROM ledger_counters")
	if err != nil {
		return c, fmt.Errorf("postgres: load counters: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			name  string
			value int64
		)
		if err := rows.Scan(&name, &value); err != nil {
			return c, fmt.Errorf("postgres: scan counter: %w", err)
		}
		switch name {
		case counterItems:
			c.Items = uint64(value)
		case counterCollections:
			c.Collections = uint64(value)
		case counterAssets:
			c.Assets = uint64(value)
		}
	}
	if err := rows.Err(); err != nil {
		return c, fmt.Errorf("postgres: load counters rows: %w", err)
	}
	return c, nil
}

func loadCollections(ctx context.Context, tx pgx.Tx) ([]domain.Collection, error) {
	rows, err := tx.Query(ctx, `
		SELECT collection_id, owner, badge_asset_id, items_in_collection, items_sold
		FROM collections ORDER BY collection_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load collections: %w", err)
	}
	defer rows.Close()

	var out []domain.Collection
	for rows.Next() {
		var (
			id, badge, count, sold int64
			owner                  string
		)
		if err := rows.Scan(&id, &owner, &badge, &count, &sold); err != nil {
			return nil, fmt.Errorf("postgres: scan collection: %w", err)
		}
		out = append(out, domain.Collection{
			CollectionID:          domain.CollectionID(id),
			Owner:                 common.HexToAddress(owner),
			BadgeAssetID:          domain.AssetID(badge),
			ItemsInCollection:     uint64(count),
			ItemsSoldInCollection: uint64(sold),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load collections rows: %w", err)
	}
	return out, nil
}

func loadItems(ctx context.Context, tx pgx.Tx) ([]domain.MarketItem, error) {
	rows, err := tx.Query(ctx, `
		SELECT item_id, asset_id, seller, owner, for_sale, sold, price::text, collection_id
		FROM market_items ORDER BY item_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load items: %w", err)
	}
	defer rows.Close()

	var out []domain.MarketItem
	for rows.Next() {
		var (
			id, asset     int64
			seller, price string
			owner         *string
			forSale, sold bool
			collection    *int64
		)
		if err := rows.Scan(&id, &asset, &seller, &owner, &forSale, &sold, &price, &collection); err != nil {
			return nil, fmt.Errorf("postgres: scan item: %w", err)
		}
		p, err := uint256.FromDecimal(price)
		if err != nil {
			return nil, fmt.Errorf("postgres: item %d price %q: %w", id, price, err)
		}
		it := domain.MarketItem{
			ItemID:  domain.ItemID(id),
			AssetID: domain.AssetID(asset),
			Seller:  common.HexToAddress(seller),
			ForSale: forSale,
			Sold:    sold,
			Price:   *p,
		}
		if owner != nil {
			it.Owner = common.HexToAddress(*owner)
		}
		if collection != nil {
			it.CollectionID = domain.CollectionID(*collection)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load items rows: %w", err)
	}
	return out, nil
}

func loadMemberships(ctx context.Context, tx pgx.Tx) ([]domain.Membership, error) {
	rows, err := tx.Query(ctx,
		"SELECT collection_id, item_id FROM collection_members ORDER BY collection_id, item_id")
	if err != nil {
		return nil, fmt.Errorf("postgres: load memberships: %w", err)
	}
	defer rows.Close()

	var out []domain.Membership
	for rows.Next() {
		var cid, iid int64
		if err := rows.Scan(&cid, &iid); err != nil {
			return nil, fmt.Errorf("postgres: scan membership: %w", err)
		}
		out = append(out, domain.Membership{CollectionID: domain.CollectionID(cid), ItemID: domain.ItemID(iid)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load memberships rows: %w", err)
	}
	return out, nil
}

// nullAddress maps the unset address to SQL NULL.
func nullAddress(a common.Address) *string {
	if a == (common.Address{}) {
		return nil
	}
	s := a.Hex()
	return &s
}

func nullCollection(id domain.CollectionID) *int64 {
	if id == 0 {
		return nil
	}
	v := int64(id)
	return &v
}
