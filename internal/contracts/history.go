package contracts

import "time"

// HistorySource tags where a pre-paper history entry's bar originated.
type HistorySource string

const (
	HistorySourceHistorical HistorySource = "historical"
	HistorySourceWebsocket  HistorySource = "websocket"
	HistorySourceBackfill   HistorySource = "backfill"
)

// HistoryEntry is a cached bar in the pre-paper runtime history store,
// keyed by (Symbol, Timeframe, TsUTC).
type HistoryEntry struct {
	Symbol     string
	Timeframe  string
	TsUTC      time.Time
	Bar        OHLCV
	MarketTZ   string
	Source     HistorySource
	InsertedAt time.Time
}
