package contracts

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"time"
)

// FillReason enumerates why a fill was produced.
type FillReason string

const (
	FillReasonSignal      FillReason = "signal_fill"
	FillReasonStopHit     FillReason = "stop_hit"
	FillReasonTakeProfit  FillReason = "take_profit_hit"
	FillReasonSessionEnd  FillReason = "session_end"
)

// Fill is the outcome of matching one intent against bars.
type Fill struct {
	TemplateID string
	Symbol     string
	FillTS     time.Time
	FillPrice  float64
	Reason     FillReason
}

var fillColumns = []string{"template_id", "symbol", "fill_ts", "fill_price", "reason"}

// CanonicalizeFills serializes the fills table (preserving the given order,
// which callers must have already derived from intent order) as
// deterministic UTF-8 CSV and returns the bytes plus SHA-256 hash.
func CanonicalizeFills(fills []Fill) ([]byte, string, error) {
	var buf bytes.Buffer

	w := csv.NewWriter(&buf)
	if err := w.Write(fillColumns); err != nil {
		return nil, "", err
	}

	for _, f := range fills {
		row := []string{
			f.TemplateID,
			f.Symbol,
			f.FillTS.UTC().Format(time.RFC3339),
			fmt.Sprintf("%g", f.FillPrice),
			string(f.Reason),
		}
		if err := w.Write(row); err != nil {
			return nil, "", err
		}
	}

	w.Flush()

	if err := w.Error(); err != nil {
		return nil, "", err
	}

	sum := sha256.Sum256(buf.Bytes())

	return buf.Bytes(), hex.EncodeToString(sum[:]), nil
}
