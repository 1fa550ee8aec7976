package wallet

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/polypredict/ledger-engine/internal/ledger"
	"github.com/polypredict/ledger-engine/internal/model"
	"github.com/polypredict/ledger-engine/internal/store"
)

// encodeBalance stores the balance as its plain decimal string.
func encodeBalance(b decimal.Decimal) []byte {
	return []byte(b.String())
}

func decodeBalance(raw []byte) (decimal.Decimal, error) {
	b, err := decimal.NewFromString(string(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("decode balance %q: %w", raw, err)
	}
	return b, nil
}

// encodePositions stores positions as a JSON array; an empty wallet is "[]".
func encodePositions(positions []model.Position) ([]byte, error) {
	if positions == nil {
		positions = []model.Position{}
	}
	return json.Marshal(positions)
}

func decodePositions(raw []byte) ([]model.Position, error) {
	var positions []model.Position
	if err := json.Unmarshal(raw, &positions); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}
	if positions == nil {
		positions = []model.Position{}
	}
	return positions, nil
}

// records encodes the given fields of a snapshot for a store write.
func records(s ledger.Snapshot, fields ...store.Field) (map[store.Field][]byte, error) {
	out := make(map[store.Field][]byte, len(fields))
	for _, f := range fields {
		switch f {
		case store.FieldBalance:
			out[f] = encodeBalance(s.Balance)
		case store.FieldPositions:
			data, err := encodePositions(s.Positions)
			if err != nil {
				return nil, err
			}
			out[f] = data
		}
	}
	return out, nil
}
