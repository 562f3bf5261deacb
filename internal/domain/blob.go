package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archive is a ledger snapshot together with the collaborator balances it
// was taken alongside.
type Archive struct {
	TakenAt  time.Time      `json:"taken_at"`
	Ledger   Snapshot       `json:"ledger"`
	Assets   []AssetBalance `json:"assets,omitempty"`
	Funds    []FundBalance  `json:"funds,omitempty"`
	Checksum string         `json:"checksum"`
}

// Archiver writes ledger archives to cold storage.
type Archiver interface {
	Write(ctx context.Context, a Archive) (path string, err error)
	Latest(ctx context.Context) (Archive, error)
}
