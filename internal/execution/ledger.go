package execution

import "github.com/quantforge/backtest-core/internal/contracts"

// BuildLedger folds starting cash forward through trades (already ordered by
// exit time) into a monotonically-sequenced checkpoint per exit.
func BuildLedger(startingCash float64, trades []contracts.Trade) []contracts.LedgerEntry {
	entries := make([]contracts.LedgerEntry, 0, len(trades))

	cash := startingCash

	for i, t := range trades {
		cash += t.PnL

		entries = append(entries, contracts.LedgerEntry{
			Seq:       i + 1,
			Timestamp: t.ExitTS,
			Cash:      cash,
		})
	}

	return entries
}
