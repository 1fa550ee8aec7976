package feed

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/polypredict/ledger-engine/internal/model"
)

// DefaultPrice is used for a side whose price is missing or unparsable.
var DefaultPrice = decimal.NewFromFloat(0.5)

// ParseOutcomePrices decodes a market's outcome price array, e.g.
// `["0.45","0.55"]`, into a Yes/No quote. Elements may be strings or
// numbers. A missing or malformed array yields {0.5, 0.5}; a single bad
// element defaults to 0.5.
func ParseOutcomePrices(raw string) model.Quote {
	q := model.Quote{Yes: DefaultPrice, No: DefaultPrice}
	if raw == "" {
		return q
	}

	var elems []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &elems); err != nil {
		return q
	}
	if len(elems) > 0 {
		q.Yes = parsePrice(elems[0])
	}
	if len(elems) > 1 {
		q.No = parsePrice(elems[1])
	}
	return q
}

func parsePrice(raw json.RawMessage) decimal.Decimal {
	if string(raw) == "null" {
		return DefaultPrice
	}
	var p decimal.Decimal
	if err := p.UnmarshalJSON(raw); err != nil {
		return DefaultPrice
	}
	return p
}

// ExtractMarketPrices builds the quote map for every market of every event.
func ExtractMarketPrices(events []model.Event) model.MarketPrices {
	prices := make(model.MarketPrices)
	for _, ev := range events {
		for _, m := range ev.Markets {
			prices[m.ID] = ParseOutcomePrices(m.OutcomePrices)
		}
	}
	return prices
}
