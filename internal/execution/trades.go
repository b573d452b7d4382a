package execution

import (
	"sort"

	"github.com/quantforge/backtest-core/internal/contracts"
	"github.com/quantforge/backtest-core/pkg/runerrors"
	"github.com/shopspring/decimal"
)

// OpenLeg pairs an intent with the fill that opened its position; it is the
// entry half of a Trade until a matching exit fill closes it.
type OpenLeg struct {
	Intent    contracts.Intent
	EntryFill contracts.Fill
	Qty       decimal.Decimal
}

// BuildTrades pairs each intent's entry fill with the exit fill named by the
// intent's own OCOGroupID sibling, sizing quantity via sizer. An intent
// whose OCOGroupID has no corresponding exit fill is carried as an open
// position and excluded from the realized trade list.
//
// This baseline model assumes one entry fill and, at most, one exit fill per
// oco_group_id — consistent with the fill model only ever producing a
// signal_fill per intent today; richer matchers (stop/take-profit/session
// end) will produce the exit leg this pairs against.
func BuildTrades(intents []contracts.Intent, fills []contracts.Fill, sizer *PositionSizer) ([]contracts.Trade, error) {
	fillsByTemplate := make(map[string]contracts.Fill, len(fills))
	for _, f := range fills {
		fillsByTemplate[f.TemplateID] = f
	}

	byOCOGroup := make(map[string][]contracts.Intent)
	for _, in := range intents {
		byOCOGroup[in.OCOGroupID] = append(byOCOGroup[in.OCOGroupID], in)
	}

	trades := make([]contracts.Trade, 0, len(intents))

	for _, legs := range byOCOGroup {
		if len(legs) == 0 {
			continue
		}

		entry := legs[0]

		entryFill, ok := fillsByTemplate[entry.TemplateID]
		if !ok {
			continue
		}

		var exitFill contracts.Fill

		exitOK := false

		for _, leg := range legs[1:] {
			if f, ok := fillsByTemplate[leg.TemplateID]; ok {
				exitFill = f
				exitOK = true

				break
			}
		}

		if !exitOK {
			// Position still open at end of run; not a realized trade.
			continue
		}

		qty, err := sizer.Calculate(decimal.NewFromFloat(entryFill.FillPrice), decimal.NewFromFloat(entry.StopPrice))
		if err != nil {
			return nil, runerrors.Wrapf(runerrors.ErrCodeTradeConstructionFailed, err, "sizing failed for oco_group %s", entry.OCOGroupID)
		}

		qtyFloat, _ := qty.Float64()

		pnl := realizedPnL(entry.Side, entryFill.FillPrice, exitFill.FillPrice, qtyFloat)

		trades = append(trades, contracts.Trade{
			Symbol:     entry.Symbol,
			Side:       entry.Side,
			Qty:        qtyFloat,
			EntryTS:    entryFill.FillTS,
			EntryPrice: entryFill.FillPrice,
			ExitTS:     exitFill.FillTS,
			ExitPrice:  exitFill.FillPrice,
			PnL:        pnl,
			Reason:     exitFill.Reason,
			TemplateID: entry.TemplateID,
		})
	}

	sort.SliceStable(trades, func(i, j int) bool {
		if !trades[i].EntryTS.Equal(trades[j].EntryTS) {
			return trades[i].EntryTS.Before(trades[j].EntryTS)
		}

		return trades[i].TemplateID < trades[j].TemplateID
	})

	return trades, nil
}

func realizedPnL(side contracts.IntentSide, entryPrice, exitPrice, qty float64) float64 {
	if side == contracts.IntentSideSell {
		return (entryPrice - exitPrice) * qty
	}

	return (exitPrice - entryPrice) * qty
}
