// Package prepaper implements the pre-paper runtime history store: a small,
// writable SQLite cache of hybrid (historical + websocket + backfill) bars
// used to feed strategies during pre-paper trading sessions, kept physically
// disjoint from the backtest pipeline's parquet tree. Grounded on
// src/pre_paper/cache/sqlite_cache.py and runtime_history_loader.py.
package prepaper

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/quantforge/backtest-core/internal/contracts"
	"github.com/quantforge/backtest-core/pkg/runerrors"

	_ "modernc.org/sqlite"
)

const marketTZ = "America/New_York"

// Status is the outcome of EnsureHistory.
type Status string

const (
	StatusSufficient Status = "sufficient"
	StatusLoading    Status = "loading"
	StatusDegraded   Status = "degraded"
)

// Gap is a [Start, End) range missing from the cache.
type Gap struct {
	Start time.Time
	End   time.Time
}

// HistoryCheckResult is EnsureHistory's return value.
type HistoryCheckResult struct {
	Status          Status
	Symbol          string
	Timeframe       string
	RequiredStart   time.Time
	RequiredEnd     time.Time
	CachedStart     *time.Time
	CachedEnd       *time.Time
	Gaps            []Gap
	FetchAttempted  bool
	FetchSucceeded  bool
	Reason          string
}

// HistoricalFetcher backfills a [start, end) range of bars for symbol/tf,
// used only when EnsureHistory is called with autoBackfill.
type HistoricalFetcher interface {
	FetchBars(ctx context.Context, symbol, tf string, start, end time.Time) ([]contracts.OHLCV, error)
}

// Store is a SQLite-backed cache of runtime history bars. Its constructor
// enforces that dbPath resolves outside of both configured pipeline roots:
// the pre-paper store is a disjoint store, never sharing a filesystem subtree
// with the backtest parquet/artifact trees (spec's hard guard invariant).
type Store struct {
	db *sql.DB
}

// Open creates (or opens) the SQLite cache at dbPath, refusing to proceed if
// dbPath resolves under marketDataRoot or artifactsRoot.
func Open(dbPath, marketDataRoot, artifactsRoot string) (*Store, error) {
	if err := assertOutsideRoots(dbPath, marketDataRoot, artifactsRoot); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, runerrors.Wrap(runerrors.ErrCodeHistoryWriteFailed, "failed to create pre-paper cache directory", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, runerrors.Wrap(runerrors.ErrCodeHistoryWriteFailed, "failed to open pre-paper cache", err)
	}

	store := &Store{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS bars (
			symbol TEXT NOT NULL,
			tf TEXT NOT NULL,
			ts INTEGER NOT NULL,
			market_tz TEXT NOT NULL,
			open REAL NOT NULL,
			high REAL NOT NULL,
			low REAL NOT NULL,
			close REAL NOT NULL,
			volume REAL NOT NULL,
			source TEXT NOT NULL,
			inserted_at INTEGER NOT NULL,
			PRIMARY KEY (symbol, tf, ts)
		)
	`)
	if err != nil {
		return runerrors.Wrap(runerrors.ErrCodeHistoryWriteFailed, "failed to initialize pre-paper cache schema", err)
	}

	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_bars_range ON bars(symbol, tf, ts)`)
	if err != nil {
		return runerrors.Wrap(runerrors.ErrCodeHistoryWriteFailed, "failed to create pre-paper cache index", err)
	}

	return nil
}

// AppendBar inserts or replaces a single bar, idempotent on
// (symbol, tf, ts): a duplicate append silently overwrites rather than
// erroring, matching the Python cache's INSERT OR REPLACE semantics.
func (s *Store) AppendBar(ctx context.Context, symbol, tf string, ts time.Time, bar contracts.OHLCV, source contracts.HistorySource) error {
	return s.appendBars(ctx, symbol, tf, []contracts.OHLCV{bar}, source)
}

// AppendBars batch-inserts bars (e.g. from a backfill fetch).
func (s *Store) AppendBars(ctx context.Context, symbol, tf string, bars []contracts.OHLCV, source contracts.HistorySource) error {
	return s.appendBars(ctx, symbol, tf, bars, source)
}

func (s *Store) appendBars(ctx context.Context, symbol, tf string, bars []contracts.OHLCV, source contracts.HistorySource) error {
	if len(bars) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return runerrors.Wrap(runerrors.ErrCodeHistoryWriteFailed, "failed to begin pre-paper cache transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bars (symbol, tf, ts, market_tz, open, high, low, close, volume, source, inserted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (symbol, tf, ts) DO UPDATE SET
			open = excluded.open, high = excluded.high, low = excluded.low,
			close = excluded.close, volume = excluded.volume,
			source = excluded.source, inserted_at = excluded.inserted_at
	`)
	if err != nil {
		return runerrors.Wrap(runerrors.ErrCodeHistoryWriteFailed, "failed to prepare pre-paper cache insert", err)
	}
	defer stmt.Close()

	insertedAt := time.Now().UTC().Unix()

	for _, bar := range bars {
		open, _ := bar.Open.Float64()
		high, _ := bar.High.Float64()
		low, _ := bar.Low.Float64()
		closeP, _ := bar.Close.Float64()

		_, err := stmt.ExecContext(ctx, symbol, tf, bar.Timestamp.UTC().Unix(), marketTZ,
			open, high, low, closeP, float64(bar.Volume), string(source), insertedAt)
		if err != nil {
			return runerrors.Wrap(runerrors.ErrCodeHistoryWriteFailed, "failed to insert pre-paper cache bar", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return runerrors.Wrap(runerrors.ErrCodeHistoryWriteFailed, "failed to commit pre-paper cache transaction", err)
	}

	return nil
}

// GetRange returns the cached [min, max] timestamps for symbol/tf, or nil if
// nothing is cached.
func (s *Store) GetRange(ctx context.Context, symbol, tf string) (*time.Time, *time.Time, error) {
	var minTS, maxTS sql.NullInt64

	err := s.db.QueryRowContext(ctx,
		`SELECT MIN(ts), MAX(ts) FROM bars WHERE symbol = ? AND tf = ?`, symbol, tf,
	).Scan(&minTS, &maxTS)
	if err != nil {
		return nil, nil, runerrors.Wrap(runerrors.ErrCodeHistoryWriteFailed, "failed to query pre-paper cache range", err)
	}

	if !minTS.Valid {
		return nil, nil, nil
	}

	min := time.Unix(minTS.Int64, 0).UTC()
	max := time.Unix(maxTS.Int64, 0).UTC()

	return &min, &max, nil
}

// EnsureHistory checks whether the cache covers [requiredStart, requiredEnd]
// for symbol/tf, optionally backfilling via fetcher when autoBackfill is
// true. Strategy execution proceeds only when the returned Status is
// Sufficient; callers must otherwise emit no signals and log the Reason.
func (s *Store) EnsureHistory(ctx context.Context, symbol, tf, baseTFUsed string, requiredStart, requiredEnd time.Time, fetcher HistoricalFetcher, autoBackfill bool) (HistoryCheckResult, error) {
	cachedStart, cachedEnd, err := s.GetRange(ctx, symbol, tf)
	if err != nil {
		return HistoryCheckResult{}, err
	}

	base := HistoryCheckResult{
		Symbol:        symbol,
		Timeframe:     tf,
		RequiredStart: requiredStart,
		RequiredEnd:   requiredEnd,
	}

	if cachedStart == nil {
		if autoBackfill && fetcher != nil {
			return s.backfillAndRecheck(ctx, symbol, tf, requiredStart, requiredEnd, fetcher, base)
		}

		base.Status = StatusDegraded
		base.Gaps = []Gap{{Start: requiredStart, End: requiredEnd}}
		base.Reason = "no cached data, auto-backfill disabled"

		return base, nil
	}

	base.CachedStart = cachedStart
	base.CachedEnd = cachedEnd

	if !cachedStart.After(requiredStart) && !cachedEnd.Before(requiredEnd) {
		base.Status = StatusSufficient
		return base, nil
	}

	gaps := calculateGaps(requiredStart, requiredEnd, *cachedStart, *cachedEnd)
	base.Gaps = gaps

	if autoBackfill && fetcher != nil && len(gaps) > 0 {
		return s.backfillGapAndReturn(ctx, symbol, tf, gaps[0], fetcher, base)
	}

	base.Status = StatusDegraded
	base.Reason = fmt.Sprintf("history gaps exist, auto-backfill disabled: %s -> %s", gaps[0].Start, gaps[0].End)

	return base, nil
}

func (s *Store) backfillAndRecheck(ctx context.Context, symbol, tf string, requiredStart, requiredEnd time.Time, fetcher HistoricalFetcher, base HistoryCheckResult) (HistoryCheckResult, error) {
	base.FetchAttempted = true

	bars, err := fetcher.FetchBars(ctx, symbol, tf, requiredStart, requiredEnd)
	if err != nil {
		base.Status = StatusDegraded
		base.Reason = fmt.Sprintf("backfill error: %v", err)
		return base, nil
	}

	if len(bars) == 0 {
		base.Status = StatusDegraded
		base.Reason = "backfill returned no data"
		return base, nil
	}

	if err := s.AppendBars(ctx, symbol, tf, bars, contracts.HistorySourceBackfill); err != nil {
		return HistoryCheckResult{}, err
	}

	base.FetchSucceeded = true

	cachedStart, cachedEnd, err := s.GetRange(ctx, symbol, tf)
	if err != nil {
		return HistoryCheckResult{}, err
	}

	base.CachedStart = cachedStart
	base.CachedEnd = cachedEnd

	if cachedStart != nil && !cachedStart.After(requiredStart) && !cachedEnd.Before(requiredEnd) {
		base.Status = StatusSufficient
		return base, nil
	}

	gaps := calculateGaps(requiredStart, requiredEnd, *cachedStart, *cachedEnd)
	base.Status = StatusLoading
	base.Gaps = gaps
	base.Reason = fmt.Sprintf("partial backfill complete, gaps remain: %s -> %s", gaps[0].Start, gaps[0].End)

	return base, nil
}

func (s *Store) backfillGapAndReturn(ctx context.Context, symbol, tf string, gap Gap, fetcher HistoricalFetcher, base HistoryCheckResult) (HistoryCheckResult, error) {
	base.FetchAttempted = true

	bars, err := fetcher.FetchBars(ctx, symbol, tf, gap.Start, gap.End)
	if err != nil {
		base.Status = StatusDegraded
		base.Reason = fmt.Sprintf("backfill error: %v", err)
		return base, nil
	}

	if len(bars) == 0 {
		base.Status = StatusDegraded
		base.Reason = fmt.Sprintf("backfill returned no data for gap: %s -> %s", gap.Start, gap.End)
		return base, nil
	}

	if err := s.AppendBars(ctx, symbol, tf, bars, contracts.HistorySourceBackfill); err != nil {
		return HistoryCheckResult{}, err
	}

	base.FetchSucceeded = true
	base.Status = StatusLoading
	base.Reason = fmt.Sprintf("backfilling gap: %s -> %s", gap.Start, gap.End)

	return base, nil
}

func calculateGaps(requiredStart, requiredEnd, cachedStart, cachedEnd time.Time) []Gap {
	var gaps []Gap

	if cachedStart.After(requiredStart) {
		gaps = append(gaps, Gap{Start: requiredStart, End: cachedStart})
	}

	if cachedEnd.Before(requiredEnd) {
		gaps = append(gaps, Gap{Start: cachedEnd, End: requiredEnd})
	}

	return gaps
}

// assertOutsideRoots is the store's hard boundary guard: dbPath must not
// resolve under marketDataRoot or artifactsRoot, keeping the pre-paper cache
// physically disjoint from the backtest pipeline's own trees.
func assertOutsideRoots(dbPath, marketDataRoot, artifactsRoot string) error {
	abs, err := filepath.Abs(dbPath)
	if err != nil {
		return runerrors.Wrap(runerrors.ErrCodeHistoryStoreBoundaryViolation, "failed to resolve pre-paper cache path", err)
	}

	for _, root := range []string{marketDataRoot, artifactsRoot} {
		if root == "" {
			continue
		}

		rootAbs, err := filepath.Abs(root)
		if err != nil {
			return runerrors.Wrap(runerrors.ErrCodeHistoryStoreBoundaryViolation, "failed to resolve configured root", err)
		}

		if isUnder(abs, rootAbs) {
			return runerrors.Newf(runerrors.ErrCodeHistoryStoreBoundaryViolation,
				"pre-paper cache path %q resolves under configured root %q; it must be physically disjoint", abs, rootAbs)
		}
	}

	return nil
}

func isUnder(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}

	return rel == "." || (!strings.HasPrefix(rel, "..") && rel != "")
}
