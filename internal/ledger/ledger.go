// Package ledger implements the position accounting rules of the paper
// wallet as pure transitions: each function computes a new state from an old
// one and never performs I/O. Persistence is applied by the caller.
package ledger

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/polypredict/ledger-engine/internal/model"
)

// InitialBalance is the virtual balance of a fresh or reset wallet.
var InitialBalance = decimal.NewFromInt(1000)

var (
	// ErrInvalidAmount is returned when the amount to spend is not positive.
	ErrInvalidAmount = errors.New("ledger: invalid amount")

	// ErrInsufficientBalance is returned when the amount exceeds the balance.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")

	// ErrInvalidPrice is returned for prices outside (0, 1]. A zero price
	// would yield an unbounded quantity.
	ErrInvalidPrice = errors.New("ledger: invalid price")

	// ErrInvalidSide is returned when the side is neither Yes nor No.
	ErrInvalidSide = errors.New("ledger: invalid side")
)

// Message returns the user-facing text for a ledger error, as shown by the
// trade dialog. Unknown errors yield "Trade failed".
func Message(err error) string {
	switch {
	case errors.Is(err, ErrInvalidAmount):
		return "Invalid amount"
	case errors.Is(err, ErrInsufficientBalance):
		return "Insufficient balance"
	case errors.Is(err, ErrInvalidPrice):
		return "Invalid price"
	case errors.Is(err, ErrInvalidSide):
		return "Invalid side"
	}
	return "Trade failed"
}

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Snapshot is the complete accounting state of one wallet.
type Snapshot struct {
	Balance   decimal.Decimal
	Positions []model.Position
}

// Default returns an empty wallet holding initial.
func Default(initial decimal.Decimal) Snapshot {
	return Snapshot{Balance: initial, Positions: []model.Position{}}
}

// Clone returns a deep copy of s.
func (s Snapshot) Clone() Snapshot {
	return Snapshot{Balance: s.Balance, Positions: clonePositions(s.Positions)}
}

// BuyIntent is a request to spend Amount on Side of Market at Price.
type BuyIntent struct {
	Event  model.Event
	Market model.Market
	Side   model.Side
	Price  decimal.Decimal
	Amount decimal.Decimal
}

// Validate checks the preconditions of a buy against the available balance.
// Checks run in order and stop at the first failure: amount, balance, price, side.
func (in BuyIntent) Validate(balance decimal.Decimal) error {
	if !in.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if in.Amount.GreaterThan(balance) {
		return ErrInsufficientBalance
	}
	if !in.Price.IsPositive() || in.Price.GreaterThan(one) {
		return ErrInvalidPrice
	}
	if !in.Side.Valid() {
		return ErrInvalidSide
	}
	return nil
}

// Buy applies a buy to s and returns the new snapshot together with the
// created or merged position. s itself is left untouched. A second buy on
// the same (market, side) merges into the existing position with a
// weighted-average price.
func Buy(s Snapshot, in BuyIntent, now time.Time, newID func() string) (Snapshot, model.Position, error) {
	if err := in.Validate(s.Balance); err != nil {
		return s, model.Position{}, err
	}

	quantity := in.Amount.Div(in.Price)
	positions := clonePositions(s.Positions)

	idx := -1
	for i, p := range positions {
		if p.MarketID == in.Market.ID && p.Side == in.Side {
			idx = i
			break
		}
	}

	var pos model.Position
	if idx >= 0 {
		pos = positions[idx]
		pos.Quantity = pos.Quantity.Add(quantity)
		pos.TotalInvested = pos.TotalInvested.Add(in.Amount)
		pos.AvgPrice = pos.TotalInvested.Div(pos.Quantity)
		pos.LastUpdated = now
		positions[idx] = pos
	} else {
		pos = model.Position{
			ID:            newID(),
			EventID:       in.Event.ID,
			EventTitle:    in.Event.Title,
			EventImage:    in.Event.Image,
			EventEndDate:  in.Event.EndDate,
			MarketID:      in.Market.ID,
			MarketTitle:   in.Market.Title(),
			Side:          in.Side,
			AvgPrice:      in.Price,
			Quantity:      quantity,
			TotalInvested: in.Amount,
			PurchasePrice: in.Price,
			Timestamp:     now,
			LastUpdated:   now,
		}
		positions = append(positions, pos)
	}

	next := Snapshot{
		Balance:   s.Balance.Sub(in.Amount),
		Positions: positions,
	}
	return next, clonePosition(pos), nil
}

// Reprice applies live quotes to positions. Positions whose market has no
// quote keep their current price and timestamp. Balance, quantity, average
// price and invested amount are never changed.
func Reprice(positions []model.Position, quotes model.MarketPrices, now time.Time) []model.Position {
	out := clonePositions(positions)
	for i := range out {
		q, ok := quotes[out[i].MarketID]
		if !ok {
			continue
		}
		price := q.For(out[i].Side)
		out[i].CurrentPrice = &price
		out[i].LastUpdated = now
	}
	return out
}

// CalculatePnL returns the unrealized PnL of p. A position without a current
// price reports zero.
func CalculatePnL(p model.Position) model.PnL {
	if p.CurrentPrice == nil {
		return model.PnL{Value: decimal.Zero, Percentage: decimal.Zero}
	}
	value := p.Quantity.Mul(*p.CurrentPrice).Sub(p.TotalInvested)
	pct := decimal.Zero
	if p.TotalInvested.IsPositive() {
		pct = value.Div(p.TotalInvested).Mul(hundred)
	}
	return model.PnL{Value: value, Percentage: pct}
}

func clonePositions(in []model.Position) []model.Position {
	out := make([]model.Position, len(in))
	for i, p := range in {
		out[i] = clonePosition(p)
	}
	return out
}

func clonePosition(p model.Position) model.Position {
	if p.CurrentPrice != nil {
		cp := *p.CurrentPrice
		p.CurrentPrice = &cp
	}
	return p
}
