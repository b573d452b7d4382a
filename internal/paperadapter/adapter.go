// Package paperadapter is the external-interface-only paper-trading adapter:
// one HTTP POST per signal, a deterministic idempotency key, and a classified
// outcome. Grounded on the teacher's internal/trading/provider HTTP-client
// shape and original_source's signal-to-order translation.
package paperadapter

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/quantforge/backtest-core/pkg/runerrors"
	segjson "github.com/segmentio/encoding/json"
)

// Side is the order side sent to the order-intent endpoint.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType is the order type sent to the order-intent endpoint.
type OrderType string

const (
	OrderTypeMarket OrderType = "MKT"
	OrderTypeLimit  OrderType = "LMT"
)

// Outcome classifies the adapter's result for one signal.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeError     Outcome = "error"
)

// idempotencyNamespace is a fixed UUID namespace: the key is a deterministic
// function of the 5-tuple alone, never of wall-clock time.
var idempotencyNamespace = uuid.MustParse("6c1a6e0a-6e1a-4a8a-9f6b-2f6f1a6e0a6c")

// SignalRequest is the input to Send: one strategy signal translated into an
// order-intent candidate.
type SignalRequest struct {
	Symbol    string
	Side      Side
	Timestamp time.Time
	Source    string
	OrderType OrderType
	Quantity  float64
	Price     *float64
	ClientTag string
}

// orderIntentBody is the wire body for POST /api/v1/orderintents.
type orderIntentBody struct {
	Symbol    string    `json:"symbol"`
	Side      Side      `json:"side"`
	Quantity  float64   `json:"quantity"`
	OrderType OrderType `json:"order_type"`
	Price     *float64  `json:"price,omitempty"`
	ClientTag string    `json:"client_tag"`
}

// Result is Send's return value.
type Result struct {
	Outcome        Outcome
	IdempotencyKey string
	StatusCode     int
	Message        string
}

// Adapter posts signals to an external order-intent endpoint. It never
// retries: the idempotency key makes retries at a higher layer safe, so the
// adapter itself must not hide a failed send behind a retry loop.
type Adapter struct {
	baseURL string
	client  *http.Client
}

// New builds an Adapter targeting baseURL. client may be nil, in which case
// http.DefaultClient is used (no retry transport is ever layered on).
func New(baseURL string, client *http.Client) *Adapter {
	if client == nil {
		client = http.DefaultClient
	}

	return &Adapter{baseURL: baseURL, client: client}
}

// IdempotencyKey computes the deterministic UUID for a signal's
// (symbol, side, timestamp, source, order_type) tuple.
func IdempotencyKey(req SignalRequest) string {
	name := fmt.Sprintf("%s|%s|%s|%s|%s", req.Symbol, req.Side, req.Timestamp.UTC().Format(time.RFC3339Nano), req.Source, req.OrderType)

	return uuid.NewSHA1(idempotencyNamespace, []byte(name)).String()
}

// Send classifies and (unless the request fails pre-send validation) sends
// one signal to the order-intent endpoint. A single HTTP attempt only.
func (a *Adapter) Send(ctx context.Context, req SignalRequest) Result {
	key := IdempotencyKey(req)

	if err := validate(req); err != nil {
		return Result{Outcome: OutcomeSkipped, IdempotencyKey: key, Message: err.Error()}
	}

	body, err := segjson.Marshal(orderIntentBody{
		Symbol:    req.Symbol,
		Side:      req.Side,
		Quantity:  req.Quantity,
		OrderType: req.OrderType,
		Price:     req.Price,
		ClientTag: req.ClientTag,
	})
	if err != nil {
		return Result{Outcome: OutcomeError, IdempotencyKey: key, Message: err.Error()}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/v1/orderintents", bytes.NewReader(body))
	if err != nil {
		return Result{Outcome: OutcomeError, IdempotencyKey: key, Message: err.Error()}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", key)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return Result{Outcome: OutcomeError, IdempotencyKey: key, Message: err.Error()}
	}
	defer resp.Body.Close()

	result := Result{IdempotencyKey: key, StatusCode: resp.StatusCode}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		result.Outcome = OutcomeCreated
	case resp.StatusCode == http.StatusConflict:
		result.Outcome = OutcomeDuplicate
	default:
		result.Outcome = OutcomeError
		result.Message = fmt.Sprintf("order-intent endpoint returned status %d", resp.StatusCode)
	}

	return result
}

func validate(req SignalRequest) error {
	if req.Symbol == "" {
		return runerrors.New(runerrors.ErrCodeAdapterValidationFailed, "symbol is required")
	}

	if req.Side != SideBuy && req.Side != SideSell {
		return runerrors.Newf(runerrors.ErrCodeAdapterValidationFailed, "invalid side: %q", req.Side)
	}

	if req.Quantity <= 0 {
		return runerrors.New(runerrors.ErrCodeAdapterValidationFailed, "quantity must be greater than zero")
	}

	if req.OrderType == OrderTypeLimit && req.Price == nil {
		return runerrors.New(runerrors.ErrCodeAdapterValidationFailed, "limit order requires a price")
	}

	return nil
}
