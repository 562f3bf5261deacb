package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/marketledger/internal/domain"
)

// Ledger is the part of the marketplace the snapshot service reads and
// restores.
type Ledger interface {
	SnapshotWith(ctx context.Context, also func()) domain.Snapshot
	Restore(snap domain.Snapshot) error
}

// AssetBalances is an asset registry that can be dumped and reloaded.
type AssetBalances interface {
	Balances() []domain.AssetBalance
	Restore(balances []domain.AssetBalance)
}

// FundBalances is a funds ledger that can be dumped and reloaded.
type FundBalances interface {
	Balances() []domain.FundBalance
	Restore(balances []domain.FundBalance) error
}

// SnapshotService archives the ledger and its collaborator balances to cold
// storage and restores them from the newest archive.
type SnapshotService struct {
	ledger   Ledger
	assets   AssetBalances
	funds    FundBalances
	archiver domain.Archiver
	now      func() time.Time
	logger   *slog.Logger
}

// NewSnapshotService creates a SnapshotService.
func NewSnapshotService(l Ledger, assets AssetBalances, funds FundBalances, archiver domain.Archiver, logger *slog.Logger) *SnapshotService {
	return &SnapshotService{
		ledger:   l,
		assets:   assets,
		funds:    funds,
		archiver: archiver,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "snapshot")),
	}
}

// Take writes one consistent archive and returns its path.
func (s *SnapshotService) Take(ctx context.Context) (string, error) {
	arc := domain.Archive{TakenAt: s.now().UTC()}
	arc.Ledger = s.ledger.SnapshotWith(ctx, func() {
		arc.Assets = s.assets.Balances()
		arc.Funds = s.funds.Balances()
	})

	path, err := s.archiver.Write(ctx, arc)
	if err != nil {
		return "", fmt.Errorf("snapshot: write: %w", err)
	}
	s.logger.InfoContext(ctx, "snapshot: archived",
		slog.String("path", path),
		slog.Int("items", len(arc.Ledger.Items)),
		slog.Int("collections", len(arc.Ledger.Collections)),
	)
	return path, nil
}

// RestoreLatest loads the newest archive. It reports false without error
// when no archive exists yet.
func (s *SnapshotService) RestoreLatest(ctx context.Context) (bool, error) {
	arc, err := s.archiver.Latest(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		s.logger.InfoContext(ctx, "snapshot: no archive to restore")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("snapshot: latest: %w", err)
	}

	if err := s.ledger.Restore(arc.Ledger); err != nil {
		return false, fmt.Errorf("snapshot: restore ledger: %w", err)
	}
	s.assets.Restore(arc.Assets)
	if err := s.funds.Restore(arc.Funds); err != nil {
		return false, fmt.Errorf("snapshot: restore funds: %w", err)
	}
	s.logger.InfoContext(ctx, "snapshot: restored",
		slog.Time("taken_at", arc.TakenAt),
		slog.String("checksum", arc.Checksum),
	)
	return true, nil
}

// Run archives every interval until ctx is cancelled, and once more on the
// way out.
func (s *SnapshotService) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
			if _, err := s.Take(final); err != nil {
				s.logger.Error("snapshot: final archive failed", slog.String("error", err.Error()))
			}
			return nil
		case <-ticker.C:
			if _, err := s.Take(ctx); err != nil {
				s.logger.ErrorContext(ctx, "snapshot: periodic archive failed", slog.String("error", err.Error()))
			}
		}
	}
}
