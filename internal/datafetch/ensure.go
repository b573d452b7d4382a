package datafetch

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/quantforge/backtest-core/pkg/runerrors"
	segjson "github.com/segmentio/encoding/json"
)

// EnsureRequest mirrors the producer's /ensure_timeframe_bars request body:
// a reconciliation request, not an order, so retries are safe here (unlike
// the paper-trading adapter).
type EnsureRequest struct {
	Symbol       string `json:"symbol"`
	Timeframe    string `json:"timeframe"`
	RequestedEnd string `json:"requested_end"`
	LookbackDays int    `json:"lookback_days"`
	WarmupDays   int    `json:"warmup_days"`
}

// EnsureResponse reports whether the producer materialized (or already had)
// the requested derived-timeframe file.
type EnsureResponse struct {
	OK      bool   `json:"ok"`
	Path    string `json:"path"`
	Message string `json:"message,omitempty"`
}

// EnsureTimeframeBars calls the external market-data producer's
// reconciliation endpoint, so that a missing derived-timeframe file can be
// backfilled. It is a standalone call: FetchAndSnapshot never makes it,
// keeping the fetcher strictly consumer-only, and none of the commands
// under cmd/ call it either.
func EnsureTimeframeBars(ctx context.Context, baseURL string, req EnsureRequest) (*EnsureResponse, error) {
	body, err := segjson.Marshal(req)
	if err != nil {
		return nil, runerrors.Wrap(runerrors.ErrCodeGeneral, "failed to marshal ensure-bars request", err)
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 250 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = nil

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/ensure_timeframe_bars", baseURL), bytes.NewReader(body))
	if err != nil {
		return nil, runerrors.Wrap(runerrors.ErrCodeGeneral, "failed to build ensure-bars request", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, runerrors.Wrapf(runerrors.ErrCodeDataNotFound, err, "ensure-bars call to %s failed", baseURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, runerrors.Newf(runerrors.ErrCodeDataNotFound, "ensure-bars call to %s returned status %d", baseURL, resp.StatusCode)
	}

	var out EnsureResponse
	if err := segjson.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, runerrors.Wrap(runerrors.ErrCodeDataNotFound, "failed to decode ensure-bars response", err)
	}

	return &out, nil
}
