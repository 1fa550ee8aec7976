package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/polypredict/ledger-engine/internal/model"
)

// GroupByEvent groups positions by event id, keeping the order in which
// each event first appears.
func GroupByEvent(positions []model.Position) []model.EventGroup {
	groups := make([]model.EventGroup, 0)
	index := make(map[string]int)

	for _, p := range positions {
		i, ok := index[p.EventID]
		if !ok {
			i = len(groups)
			index[p.EventID] = i
			groups = append(groups, model.EventGroup{
				EventID:      p.EventID,
				EventTitle:   p.EventTitle,
				EventImage:   p.EventImage,
				EventEndDate: p.EventEndDate,
			})
		}
		groups[i].Positions = append(groups[i].Positions, model.PositionView{
			Position: clonePosition(p),
			PnL:      CalculatePnL(p),
		})
	}
	return groups
}

// Summarize totals invested capital, mark-to-market value and PnL. Positions
// without a quote are valued at cost.
func Summarize(positions []model.Position) model.PortfolioSummary {
	invested := decimal.Zero
	pnl := decimal.Zero

	for _, p := range positions {
		invested = invested.Add(p.TotalInvested)
		pnl = pnl.Add(CalculatePnL(p).Value)
	}

	pct := decimal.Zero
	if invested.IsPositive() {
		pct = pnl.Div(invested).Mul(hundred)
	}

	return model.PortfolioSummary{
		TotalInvested:      invested,
		CurrentValue:       invested.Add(pnl),
		TotalPnL:           pnl,
		TotalPnLPercentage: pct,
		Positions:          len(positions),
	}
}
