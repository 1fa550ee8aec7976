// Package model defines the core domain types shared across the ledger engine.
// All monetary values use shopspring/decimal, never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is one of the two mutually exclusive outcomes of a market.
type Side string

const (
	SideYes Side = "Yes"
	SideNo  Side = "No"
)

// Valid reports whether s is Yes or No.
func (s Side) Valid() bool {
	return s == SideYes || s == SideNo
}

// Scope partitions wallet state by identity. The zero value is the guest scope.
type Scope struct {
	UserID string
}

// GuestScope returns the anonymous scope.
func GuestScope() Scope { return Scope{} }

// UserScope returns the scope of a signed-in user. An empty id is the guest.
func UserScope(userID string) Scope { return Scope{UserID: userID} }

// IsGuest reports whether no identity is attached.
func (s Scope) IsGuest() bool { return s.UserID == "" }

func (s Scope) String() string {
	if s.IsGuest() {
		return "guest"
	}
	return s.UserID
}

// Position is a user's cumulative stake in one (market, side) pair.
// Invariant: AvgPrice == TotalInvested / Quantity.
type Position struct {
	ID string `json:"id"`

	EventID      string `json:"eventId"`
	EventTitle   string `json:"eventTitle"`
	EventImage   string `json:"eventImage,omitempty"`
	EventEndDate string `json:"eventEndDate,omitempty"`

	MarketID    string `json:"marketId"`
	MarketTitle string `json:"marketTitle"`

	Side          Side            `json:"side"`
	AvgPrice      decimal.Decimal `json:"avgPrice"`
	Quantity      decimal.Decimal `json:"quantity"`
	TotalInvested decimal.Decimal `json:"totalInvested"`
	PurchasePrice decimal.Decimal `json:"purchasePrice"` // first buy price
	Timestamp     time.Time       `json:"timestamp"`     // first buy time
	LastUpdated   time.Time       `json:"lastUpdated"`

	// CurrentPrice is nil until a quote has been applied.
	CurrentPrice *decimal.Decimal `json:"currentPrice,omitempty"`
}

// Quote is the current price pair for a market's two sides.
type Quote struct {
	Yes decimal.Decimal `json:"yes"`
	No  decimal.Decimal `json:"no"`
}

// For returns the price of the given side.
func (q Quote) For(side Side) decimal.Decimal {
	if side == SideNo {
		return q.No
	}
	return q.Yes
}

// MarketPrices maps a market id to its latest quote.
type MarketPrices map[string]Quote

// Event is an externally sourced event grouping one or more markets.
type Event struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Slug        string          `json:"slug"`
	Image       string          `json:"image"`
	Description string          `json:"description,omitempty"`
	StartDate   string          `json:"startDate"`
	EndDate     string          `json:"endDate"`
	Volume      decimal.Decimal `json:"volume"`
	Active      bool            `json:"active"`
	Closed      bool            `json:"closed"`
	Markets     []Market        `json:"markets"`
}

// Market is a single binary market inside an Event. OutcomePrices is the
// upstream JSON-encoded two-element array, e.g. `["0.45","0.55"]`.
type Market struct {
	ID             string          `json:"id"`
	Question       string          `json:"question"`
	GroupItemTitle string          `json:"groupItemTitle,omitempty"`
	Outcomes       string          `json:"outcomes"`
	OutcomePrices  string          `json:"outcomePrices"`
	Volume         decimal.Decimal `json:"volume"`
}

// Title is the display title: the group item title, else the question.
func (m Market) Title() string {
	if m.GroupItemTitle != "" {
		return m.GroupItemTitle
	}
	return m.Question
}

// PnL is the unrealized profit and loss of a position.
type PnL struct {
	Value      decimal.Decimal `json:"value"`
	Percentage decimal.Decimal `json:"percentage"`
}

// PositionView is a position together with its PnL.
type PositionView struct {
	Position
	PnL PnL `json:"pnl"`
}

// EventGroup collects the positions held in one event.
type EventGroup struct {
	EventID      string         `json:"eventId"`
	EventTitle   string         `json:"eventTitle"`
	EventImage   string         `json:"eventImage,omitempty"`
	EventEndDate string         `json:"eventEndDate,omitempty"`
	Positions    []PositionView `json:"positions"`
}

// PortfolioSummary aggregates invested capital and PnL across positions.
type PortfolioSummary struct {
	TotalInvested      decimal.Decimal `json:"totalInvested"`
	CurrentValue       decimal.Decimal `json:"currentValue"`
	TotalPnL           decimal.Decimal `json:"totalPnL"`
	TotalPnLPercentage decimal.Decimal `json:"totalPnLPercentage"`
	Positions          int             `json:"positions"`
}

// Portfolio is the grouped positions view plus its summary.
type Portfolio struct {
	UserID  *string          `json:"userId"`
	Balance decimal.Decimal  `json:"balance"`
	Groups  []EventGroup     `json:"groups"`
	Summary PortfolioSummary `json:"summary"`
}

// WalletState is a read-only snapshot of the active wallet.
type WalletState struct {
	UserID    *string         `json:"userId"`
	Balance   decimal.Decimal `json:"balance"`
	Positions []Position      `json:"positions"`
}

// BuyResult is the outcome of a buy as reported to callers.
type BuyResult struct {
	Success  bool      `json:"success"`
	Error    string    `json:"error,omitempty"`
	Position *Position `json:"position,omitempty"`
}
