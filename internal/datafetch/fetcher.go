package datafetch

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/quantforge/backtest-core/internal/contracts"
	"github.com/quantforge/backtest-core/internal/logging"
	"github.com/quantforge/backtest-core/pkg/runerrors"
	segjson "github.com/segmentio/encoding/json"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Timeframe enumerates the supported bar granularities.
type Timeframe string

const (
	TimeframeM1  Timeframe = "M1"
	TimeframeM5  Timeframe = "M5"
	TimeframeM15 Timeframe = "M15"
	TimeframeH1  Timeframe = "H1"
	TimeframeD1  Timeframe = "D1"
)

// minutesOf returns the bar width in minutes for every timeframe but D1,
// which is handled as a verbatim-copy special case.
func minutesOf(tf Timeframe) (int, error) {
	switch tf {
	case TimeframeM1:
		return 1, nil
	case TimeframeM5:
		return 5, nil
	case TimeframeM15:
		return 15, nil
	case TimeframeH1:
		return 60, nil
	default:
		return 0, runerrors.Newf(runerrors.ErrCodeUnsupportedTimeframe, "no fixed minute width for timeframe %q", tf)
	}
}

// FetchParams describes one data-fetcher invocation, per spec §4.3.
type FetchParams struct {
	Symbol            string
	Timeframe         Timeframe
	RequestedEnd      time.Time
	LookbackDays      int
	WarmupDays        int
	MarketDataRoot    string
	MarketTZ          string
	SessionMode       string
	ConsumerOnly      bool
}

// SnapshotResult reports where the fetcher wrote the run's bars snapshot(s).
type SnapshotResult struct {
	ExecBarsPath   string
	SignalBarsPath string
	ExecBars       []contracts.OHLCV
	SignalBars     []contracts.OHLCV
	EffectiveStart time.Time
	RequestedStart time.Time
}

type sidecarMetadata struct {
	MarketTZ        string `json:"market_tz"`
	Timeframe       string `json:"timeframe"`
	WarmupDays      int    `json:"warmup_days"`
	LookbackDays    int    `json:"lookback_days"`
	ExecBars        int    `json:"exec_bars"`
	SignalBars      int    `json:"signal_bars"`
	SessionMode     string `json:"session_mode"`
	OptionBSource   string `json:"option_b_source"`
	ConsumerOnly    bool   `json:"consumer_only"`
}

// producerFilePath derives the path to the external market-data service's
// derived-timeframe parquet, keyed by data root, timeframe minutes, and the
// uppercased symbol.
func producerFilePath(root string, symbol string, tf Timeframe) string {
	sym := strings.ToUpper(symbol)

	if tf == TimeframeD1 {
		return filepath.Join(root, sym, "D1.parquet")
	}

	minutes, _ := minutesOf(tf)

	return filepath.Join(root, sym, fmt.Sprintf("%dmin.parquet", minutes))
}

func normalizeToDayStartUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// FetchAndSnapshot locates the producer's derived-timeframe parquet, slices
// it to the requested window, and writes the run's bars snapshot(s). It
// never reaches out to the network; see ensure.go for the separate,
// optional producer reconciliation call the CLI may issue beforehand.
func FetchAndSnapshot(ctx context.Context, run contracts.RunContext, logger *logging.Logger, params FetchParams) (*SnapshotResult, error) {
	if params.Timeframe == TimeframeD1 {
		return fetchDaily(run, logger, params)
	}

	return fetchIntraday(ctx, run, logger, params)
}

func fetchDaily(run contracts.RunContext, logger *logging.Logger, params FetchParams) (*SnapshotResult, error) {
	src := producerFilePath(params.MarketDataRoot, params.Symbol, TimeframeD1)

	if _, err := os.Stat(src); err != nil {
		return nil, &runerrors.MissingHistoricalDataError{
			Symbol:      params.Symbol,
			Timeframe:   string(TimeframeD1),
			Remediation: fmt.Sprintf("expected producer file %q; invoke the producer ensure-timeframe endpoint for %s/D1", src, params.Symbol),
		}
	}

	dst := run.Path(fmt.Sprintf("bars_exec_%s_rth.parquet", TimeframeD1))

	if err := copyFileVerbatim(src, dst); err != nil {
		return nil, runerrors.Wrapf(runerrors.ErrCodeUnreadableSnapshot, err, "failed to copy D1 producer file %q", src)
	}

	bars, _, err := LoadSnapshot(dst)
	if err != nil {
		return nil, err
	}

	if len(bars) == 0 {
		return nil, runerrors.Newf(runerrors.ErrCodeEmptyWindow, "D1 snapshot for %s is empty after copy", params.Symbol)
	}

	requestedStart := normalizeToDayStartUTC(params.RequestedEnd.AddDate(0, 0, -params.LookbackDays))
	effectiveStart := normalizeToDayStartUTC(requestedStart.AddDate(0, 0, -params.WarmupDays))

	if err := writeSidecar(run, TimeframeD1, params, len(bars), len(bars), "producer_verbatim_copy"); err != nil {
		return nil, err
	}

	logger.Info("D1 snapshot written", zap.Int("bars", len(bars)), zap.String("symbol", params.Symbol))

	return &SnapshotResult{
		ExecBarsPath:   dst,
		SignalBarsPath: dst,
		ExecBars:       bars,
		SignalBars:     bars,
		EffectiveStart: effectiveStart,
		RequestedStart: requestedStart,
	}, nil
}

func fetchIntraday(ctx context.Context, run contracts.RunContext, logger *logging.Logger, params FetchParams) (*SnapshotResult, error) {
	src := producerFilePath(params.MarketDataRoot, params.Symbol, params.Timeframe)

	if _, err := os.Stat(src); err != nil {
		return nil, &runerrors.MissingHistoricalDataError{
			Symbol:      params.Symbol,
			Timeframe:   string(params.Timeframe),
			Remediation: fmt.Sprintf("expected producer file %q; invoke the producer ensure-timeframe endpoint for %s/%s", src, params.Symbol, params.Timeframe),
		}
	}

	requestedStart := normalizeToDayStartUTC(params.RequestedEnd.AddDate(0, 0, -params.LookbackDays))
	effectiveStart := normalizeToDayStartUTC(requestedStart.AddDate(0, 0, -params.WarmupDays))

	bars, err := sliceParquet(ctx, src, effectiveStart, params.RequestedEnd)
	if err != nil {
		return nil, err
	}

	if len(bars) == 0 {
		return nil, &runerrors.MissingHistoricalDataError{
			Symbol:      params.Symbol,
			Timeframe:   string(params.Timeframe),
			Remediation: fmt.Sprintf("window [%s, %s] sliced to zero rows in %q", effectiveStart, params.RequestedEnd, src),
		}
	}

	execPath := run.Path(fmt.Sprintf("bars_exec_%s_rth.parquet", params.Timeframe))
	if err := writeParquetSnapshot(execPath, bars); err != nil {
		return nil, err
	}

	result := &SnapshotResult{
		ExecBarsPath:   execPath,
		ExecBars:       bars,
		EffectiveStart: effectiveStart,
		RequestedStart: requestedStart,
	}

	// M1 and H1 have identical signal/exec bars per spec §4.3; other
	// intraday timeframes get a distinct signal snapshot written too.
	if params.Timeframe == TimeframeM1 || params.Timeframe == TimeframeH1 {
		result.SignalBarsPath = execPath
		result.SignalBars = bars
	} else {
		signalPath := run.Path(fmt.Sprintf("bars_signal_%s_rth.parquet", params.Timeframe))
		if err := writeParquetSnapshot(signalPath, bars); err != nil {
			return nil, err
		}

		result.SignalBarsPath = signalPath
		result.SignalBars = bars
	}

	if err := writeSidecar(run, params.Timeframe, params, len(result.ExecBars), len(result.SignalBars), "producer_sliced"); err != nil {
		return nil, err
	}

	logger.Info("intraday snapshot written", zap.Int("bars", len(bars)), zap.String("symbol", params.Symbol), zap.String("timeframe", string(params.Timeframe)))

	return result, nil
}

// sliceParquet opens the producer file through DuckDB's read_parquet and
// slices it to [start, end] with a squirrel-built query, mirroring
// data_fetcher.py's pandas boolean-mask slice.
func sliceParquet(ctx context.Context, path string, start, end time.Time) ([]contracts.OHLCV, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, runerrors.Wrap(runerrors.ErrCodeUnreadableSnapshot, "failed to open duckdb connection", err)
	}
	defer db.Close()

	// read_parquet() is a DuckDB table function, not a bindable parameter,
	// so the path is quoted and inlined while the window bounds stay
	// squirrel-built placeholders.
	from := fmt.Sprintf("read_parquet('%s')", strings.ReplaceAll(path, "'", "''"))

	query, args, err := sq.Select("timestamp", "open", "high", "low", "close", "volume").
		From(from).
		Where(sq.GtOrEq{"timestamp": start}).
		Where(sq.LtOrEq{"timestamp": end}).
		OrderBy("timestamp ASC").
		ToSql()
	if err != nil {
		return nil, runerrors.Wrap(runerrors.ErrCodeQueryFailed, "failed to build slice query", err)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, runerrors.Wrapf(runerrors.ErrCodeQueryFailed, err, "failed to slice %q", path)
	}
	defer rows.Close()

	var bars []contracts.OHLCV

	for rows.Next() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		var (
			ts                     time.Time
			open, high, low, close float64
			volume                 int64
		)

		if err := rows.Scan(&ts, &open, &high, &low, &close, &volume); err != nil {
			return nil, runerrors.Wrapf(runerrors.ErrCodeQueryFailed, err, "failed to scan slice row from %q", path)
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

// writeParquetSnapshot materializes bars into a run-directory parquet file
// via DuckDB's COPY ... TO, the same engine used to read them.
func writeParquetSnapshot(dst string, bars []contracts.OHLCV) error {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return runerrors.Wrap(runerrors.ErrCodeUnreadableSnapshot, "failed to open duckdb connection", err)
	}
	defer db.Close()

	if _, err := db.Exec(`CREATE TABLE snapshot (timestamp TIMESTAMP, open DOUBLE, high DOUBLE, low DOUBLE, close DOUBLE, volume BIGINT)`); err != nil {
		return runerrors.Wrap(runerrors.ErrCodeUnreadableSnapshot, "failed to create snapshot staging table", err)
	}

	stmt, err := db.Prepare(`INSERT INTO snapshot VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return runerrors.Wrap(runerrors.ErrCodeUnreadableSnapshot, "failed to prepare snapshot insert", err)
	}
	defer stmt.Close()

	for _, bar := range bars {
		open, _ := bar.Open.Float64()
		high, _ := bar.High.Float64()
		low, _ := bar.Low.Float64()
		closeVal, _ := bar.Close.Float64()

		if _, err := stmt.Exec(bar.Timestamp, open, high, low, closeVal, bar.Volume); err != nil {
			return runerrors.Wrap(runerrors.ErrCodeUnreadableSnapshot, "failed to insert snapshot row", err)
		}
	}

	copyQuery := fmt.Sprintf(`COPY (SELECT * FROM snapshot ORDER BY timestamp) TO '%s' (FORMAT PARQUET)`, strings.ReplaceAll(dst, "'", "''"))
	if _, err := db.Exec(copyQuery); err != nil {
		return runerrors.Wrapf(runerrors.ErrCodeUnreadableSnapshot, err, "failed to write snapshot parquet %q", dst)
	}

	return nil
}

func writeSidecar(run contracts.RunContext, tf Timeframe, params FetchParams, execBars, signalBars int, optionBSource string) error {
	meta := sidecarMetadata{
		MarketTZ:      params.MarketTZ,
		Timeframe:     string(tf),
		WarmupDays:    params.WarmupDays,
		LookbackDays:  params.LookbackDays,
		ExecBars:      execBars,
		SignalBars:    signalBars,
		SessionMode:   params.SessionMode,
		OptionBSource: optionBSource,
		ConsumerOnly:  true,
	}

	data, err := segjson.MarshalIndent(meta, "", "  ")
	if err != nil {
		return runerrors.Wrap(runerrors.ErrCodeManifestWriteFailed, "failed to marshal fetch sidecar", err)
	}

	path := run.Path(fmt.Sprintf("bars_%s_meta.json", tf))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return runerrors.Wrapf(runerrors.ErrCodeManifestWriteFailed, err, "failed to write fetch sidecar %q", path)
	}

	return nil
}

func copyFileVerbatim(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)

	return err
}
