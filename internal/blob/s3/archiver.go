package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/marketledger/internal/domain"
)

// snapshotPrefix is the key prefix of every archive.
const snapshotPrefix = "snapshots/"

// multipartThreshold is the archive size above which uploads switch to the
// multipart manager.
const multipartThreshold = 8 * 1024 * 1024

// SnapshotArchiver implements domain.Archiver. Archives are JSON documents
// at snapshots/YYYY/MM/DD/<unix>.json carrying a Keccak-256 checksum of
// their body.
type SnapshotArchiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
}

// NewArchiver creates a SnapshotArchiver.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader) *SnapshotArchiver {
	return &SnapshotArchiver{writer: writer, reader: reader}
}

var _ domain.Archiver = (*SnapshotArchiver)(nil)

// Write uploads a and returns its key. Archives are immutable: a second
// write for the same second fails. Checksum is computed here; any value
// already in a is ignored.
func (a *SnapshotArchiver) Write(ctx context.Context, arc domain.Archive) (string, error) {
	doc := toDocument(arc)
	sum, err := doc.checksum()
	if err != nil {
		return "", fmt.Errorf("s3blob: checksum archive: %w", err)
	}
	doc.Checksum = sum

	buf, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal archive: %w", err)
	}

	path := archivePath(arc.TakenAt)
	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return "", fmt.Errorf("s3blob: check archive: %w", err)
	}
	if exists {
		return "", fmt.Errorf("s3blob: archive %s: %w", path, domain.ErrInvalidState)
	}
	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), multipartThreshold)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/json")
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: upload archive: %w", err)
	}
	return path, nil
}

// Latest downloads and verifies the newest archive. It returns
// domain.ErrNotFound when none exists.
func (a *SnapshotArchiver) Latest(ctx context.Context) (domain.Archive, error) {
	infos, err := a.reader.List(ctx, snapshotPrefix)
	if err != nil {
		return domain.Archive{}, fmt.Errorf("s3blob: list archives: %w", err)
	}
	var paths []string
	for _, info := range infos {
		if strings.HasSuffix(info.Path, ".json") {
			paths = append(paths, info.Path)
		}
	}
	if len(paths) == 0 {
		return domain.Archive{}, fmt.Errorf("s3blob: no archive under %s: %w", snapshotPrefix, domain.ErrNotFound)
	}
	slices.Sort(paths)
	return a.read(ctx, paths[len(paths)-1])
}

func (a *SnapshotArchiver) read(ctx context.Context, path string) (domain.Archive, error) {
	body, err := a.reader.Get(ctx, path)
	if err != nil {
		return domain.Archive{}, err
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		return domain.Archive{}, fmt.Errorf("s3blob: read archive %s: %w", path, err)
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.Archive{}, fmt.Errorf("s3blob: decode archive %s: %w", path, err)
	}
	want, err := doc.checksum()
	if err != nil {
		return domain.Archive{}, fmt.Errorf("s3blob: checksum archive %s: %w", path, err)
	}
	if doc.Checksum != want {
		return domain.Archive{}, fmt.Errorf("s3blob: archive %s checksum mismatch", path)
	}
	return doc.toArchive()
}

// archivePath partitions archives by UTC day:
//
//	snapshots/2026/10/14/1791979200.json
func archivePath(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s%s/%d.json", snapshotPrefix, t.Format("2006/01/02"), t.Unix())
}

// document is the wire form of an archive. Amounts are decimal strings.
type document struct {
	TakenAt     time.Time             `json:"taken_at"`
	Counters    domain.Counters       `json:"counters"`
	Items       []itemDoc             `json:"items"`
	Collections []domain.Collection   `json:"collections"`
	Memberships []domain.Membership   `json:"memberships"`
	Assets      []domain.AssetBalance `json:"assets,omitempty"`
	Funds       []domain.FundBalance  `json:"funds,omitempty"`
	Checksum    string                `json:"checksum,omitempty"`
}

type itemDoc struct {
	ItemID       domain.ItemID       `json:"item_id"`
	AssetID      domain.AssetID      `json:"asset_id"`
	Seller       common.Address      `json:"seller"`
	Owner        common.Address      `json:"owner"`
	ForSale      bool                `json:"for_sale"`
	Sold         bool                `json:"sold"`
	Price        string              `json:"price"`
	CollectionID domain.CollectionID `json:"collection_id"`
}

func toDocument(a domain.Archive) document {
	doc := document{
		TakenAt:     a.TakenAt.UTC(),
		Counters:    a.Ledger.Counters,
		Collections: a.Ledger.Collections,
		Memberships: a.Ledger.Memberships,
		Assets:      a.Assets,
		Funds:       a.Funds,
	}
	for _, it := range a.Ledger.Items {
		doc.Items = append(doc.Items, itemDoc{
			ItemID:       it.ItemID,
			AssetID:      it.AssetID,
			Seller:       it.Seller,
			Owner:        it.Owner,
			ForSale:      it.ForSale,
			Sold:         it.Sold,
			Price:        it.Price.Dec(),
			CollectionID: it.CollectionID,
		})
	}
	return doc
}

func (d document) toArchive() (domain.Archive, error) {
	a := domain.Archive{
		TakenAt: d.TakenAt,
		Ledger: domain.Snapshot{
			Counters:    d.Counters,
			Collections: d.Collections,
			Memberships: d.Memberships,
		},
		Assets:   d.Assets,
		Funds:    d.Funds,
		Checksum: d.Checksum,
	}
	for _, it := range d.Items {
		price, err := uint256.FromDecimal(it.Price)
		if err != nil {
			return domain.Archive{}, fmt.Errorf("s3blob: item %d price %q: %w", it.ItemID, it.Price, err)
		}
		a.Ledger.Items = append(a.Ledger.Items, domain.MarketItem{
			ItemID:       it.ItemID,
			AssetID:      it.AssetID,
			Seller:       it.Seller,
			Owner:        it.Owner,
			ForSale:      it.ForSale,
			Sold:         it.Sold,
			Price:        *price,
			CollectionID: it.CollectionID,
		})
	}
	return a, nil
}

// checksum hashes the document with its Checksum field cleared.
func (d document) checksum() (string, error) {
	d.Checksum = ""
	body, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	return crypto.Keccak256Hash(body).Hex(), nil
}
