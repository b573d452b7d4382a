// Package datafetch implements the consumer-only data fetcher (spec §4.3)
// and the bars snapshot loader (spec §4.4). It never fetches from the
// network; it only reads files already materialized by the external
// market-data producer.
package datafetch

import (
	"crypto/sha256"
	"database/sql"
	"encoding/csv"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/quantforge/backtest-core/internal/contracts"
	"github.com/quantforge/backtest-core/pkg/runerrors"
	"github.com/relvacode/iso8601"
	"github.com/shopspring/decimal"
)

// requiredColumns are the lowercase column names every bars file must carry.
var requiredColumns = []string{"timestamp", "open", "high", "low", "close", "volume"}

// LoadSnapshot detects the file format by extension (.csv or .parquet),
// loads it into memory with lowercase-normalized columns, converts
// timestamps to UTC, sorts ascending, and returns the bars plus the file's
// SHA-256 content hash.
func LoadSnapshot(path string) ([]contracts.OHLCV, string, error) {
	hash, err := sha256File(path)
	if err != nil {
		return nil, "", runerrors.Wrapf(runerrors.ErrCodeUnreadableSnapshot, err, "failed to hash %q", path)
	}

	var bars []contracts.OHLCV

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		bars, err = loadCSV(path)
	case ".parquet":
		bars, err = loadParquet(path)
	default:
		return nil, "", runerrors.Newf(runerrors.ErrCodeUnsupportedTimeframe, "unsupported bars file extension %q", filepath.Ext(path))
	}

	if err != nil {
		return nil, "", err
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })

	return bars, hash, nil
}

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func loadCSV(path string) ([]contracts.OHLCV, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, runerrors.Wrapf(runerrors.ErrCodeUnreadableSnapshot, err, "failed to open %q", path)
	}
	defer f.Close()

	r := csv.NewReader(f)

	header, err := r.Read()
	if err != nil {
		return nil, runerrors.Wrapf(runerrors.ErrCodeUnreadableSnapshot, err, "failed to read header of %q", path)
	}

	idx := map[string]int{}
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}

	for _, col := range requiredColumns {
		if _, ok := idx[col]; !ok {
			return nil, runerrors.Newf(runerrors.ErrCodeMissingColumns, "bars file %q missing required column %q", path, col)
		}
	}

	var bars []contracts.OHLCV

	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}

		if err != nil {
			return nil, runerrors.Wrapf(runerrors.ErrCodeUnreadableSnapshot, err, "failed to read row of %q", path)
		}

		ts, err := parseTimestamp(rec[idx["timestamp"]])
		if err != nil {
			return nil, runerrors.Wrapf(runerrors.ErrCodeUnreadableSnapshot, err, "failed to parse timestamp in %q", path)
		}

		volume, err := strconv.ParseInt(rec[idx["volume"]], 10, 64)
		if err != nil {
			volFloat, ferr := strconv.ParseFloat(rec[idx["volume"]], 64)
			if ferr != nil {
				return nil, runerrors.Wrapf(runerrors.ErrCodeUnreadableSnapshot, err, "failed to parse volume in %q", path)
			}

			volume = int64(volFloat)
		}

		bars = append(bars, contracts.OHLCV{
			Timestamp: ts.UTC(),
			Open:      decimal.RequireFromString(rec[idx["open"]]),
			High:      decimal.RequireFromString(rec[idx["high"]]),
			Low:       decimal.RequireFromString(rec[idx["low"]]),
			Close:     decimal.RequireFromString(rec[idx["close"]]),
			Volume:    volume,
		})
	}

	return bars, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)

	for _, layout := range []string{time.RFC3339, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}

	if seconds, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(seconds, 0), nil
	}

	// Falls back to a lenient ISO8601 parser for producer snapshots that
	// omit separators or use a non-RFC3339 timezone offset form.
	if t, err := iso8601.ParseString(raw); err == nil {
		return t, nil
	}

	return time.Time{}, runerrors.Newf(runerrors.ErrCodeUnreadableSnapshot, "unrecognized timestamp format %q", raw)
}

// loadParquet opens an in-memory DuckDB connection and reads the parquet
// file through read_parquet, normalizing columns to lowercase the same way
// the CSV path does.
func loadParquet(path string) ([]contracts.OHLCV, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, runerrors.Wrap(runerrors.ErrCodeUnreadableSnapshot, "failed to open duckdb connection", err)
	}
	defer db.Close()

	query := "SELECT timestamp, open, high, low, close, volume FROM read_parquet(?)"

	rows, err := db.Query(query, path)
	if err != nil {
		return nil, runerrors.Wrapf(runerrors.ErrCodeUnreadableSnapshot, err, "failed to read parquet %q", path)
	}
	defer rows.Close()

	var bars []contracts.OHLCV

	for rows.Next() {
		var (
			ts                     time.Time
			open, high, low, close float64
			volume                 int64
		)

		if err := rows.Scan(&ts, &open, &high, &low, &close, &volume); err != nil {
			return nil, runerrors.Wrapf(runerrors.ErrCodeUnreadableSnapshot, err, "failed to scan row from %q", path)
		}

		bars = append(bars, contracts.OHLCV{
			Timestamp: ts.UTC(),
			Open:      decimal.NewFromFloat(open),
			High:      decimal.NewFromFloat(high),
			Low:       decimal.NewFromFloat(low),
			Close:     decimal.NewFromFloat(close),
			Volume:    volume,
		})
	}

	return bars, rows.Err()
}
