// Package trade provides the HTTP handlers for the paper-trading wallet:
// identity sessions, buying positions, applying quotes, resetting, and
// querying wallet and portfolio state.
//
// All monetary values use shopspring/decimal, never float64 for money.
package trade

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/polypredict/ledger-engine/internal/ledger"
	"github.com/polypredict/ledger-engine/internal/model"
	"github.com/polypredict/ledger-engine/internal/wallet"
)

// UserHeader names the request header carrying the signed-in user id.
const UserHeader = "X-User-ID"

// EventLister exposes the most recently polled events. *feed.Poller
// satisfies it.
type EventLister interface {
	Events() ([]model.Event, time.Time)
}

// Service handles wallet operations. Every request acts on the wallet of
// its own identity scope, resolved by ResolveWallet; each wallet serializes
// its own mutations.
type Service struct {
	wallets *wallet.Registry
	events  EventLister // optional; nil disables GET /events
}

// NewService creates a new wallet service.
// Pass nil for events if no quote feed is running.
func NewService(wallets *wallet.Registry, events EventLister) *Service {
	return &Service{
		wallets: wallets,
		events:  events,
	}
}

// --- Request/Response types ---

// SessionRequest is the JSON body for POST /session. A null or missing
// user_id selects the guest wallet.
type SessionRequest struct {
	UserID *string `json:"user_id"`
}

// BuyRequest is the JSON body for POST /wallet/buy.
type BuyRequest struct {
	Event  model.Event     `json:"event"`
	Market model.Market    `json:"market"`
	Side   model.Side      `json:"side"`   // "Yes" or "No"
	Price  decimal.Decimal `json:"price"`  // per share, in (0, 1]
	Amount decimal.Decimal `json:"amount"` // currency to spend
}

// EventsResponse is the JSON body returned from GET /events.
type EventsResponse struct {
	Events    []model.Event `json:"events"`
	UpdatedAt *time.Time    `json:"updated_at"`
}

// --- Middleware ---

type walletKey struct{}

// ScopeFromRequest returns the identity scope named by the X-User-ID header.
// A request without the header acts for the guest.
func ScopeFromRequest(r *http.Request) model.Scope {
	if id := r.Header.Get(UserHeader); id != "" {
		return model.UserScope(id)
	}
	return model.GuestScope()
}

// ResolveWallet opens the wallet of the request's scope and attaches it to
// the request context for the handlers below it.
func (s *Service) ResolveWallet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scope := ScopeFromRequest(r)
		wlt, err := s.wallets.Open(r.Context(), scope)
		if err != nil {
			slog.Error("wallet load failed", "scope", scope.String(), "err", err)
			writeError(w, "failed to load wallet", http.StatusInternalServerError)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), walletKey{}, wlt)))
	})
}

func walletFrom(r *http.Request) *wallet.Wallet {
	return r.Context().Value(walletKey{}).(*wallet.Wallet)
}

// --- HTTP Handlers ---

// StartSession handles POST /api/v1/session
// Re-reads the named identity's records and returns its state. It is not
// routed through ResolveWallet: the body, not the header, names the scope.
func (s *Service) StartSession(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	scope := model.GuestScope()
	if req.UserID != nil {
		scope = model.UserScope(*req.UserID)
	}

	wlt, err := s.wallets.Reload(r.Context(), scope)
	if err != nil {
		slog.Error("session start failed", "scope", scope.String(), "err", err)
		writeError(w, "failed to load wallet", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, wlt.State())
}

// GetWallet handles GET /api/v1/wallet
func (s *Service) GetWallet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, walletFrom(r).State())
}

// BuyPosition handles POST /api/v1/wallet/buy
// Rejected buys report success=false with a user-facing reason.
func (s *Service) BuyPosition(w http.ResponseWriter, r *http.Request) {
	var req BuyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, model.BuyResult{Error: "invalid request body"})
		return
	}

	pos, err := walletFrom(r).BuyPosition(r.Context(), req.Event, req.Market, req.Side, req.Price, req.Amount)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, model.BuyResult{Success: true, Position: &pos})
	case errors.Is(err, wallet.ErrPersistence):
		writeJSON(w, http.StatusInternalServerError, model.BuyResult{Error: "Persistence failure"})
	default:
		writeJSON(w, http.StatusUnprocessableEntity, model.BuyResult{Error: ledger.Message(err)})
	}
}

// UpdatePrices handles POST /api/v1/wallet/prices
// Body is a map of market id to {"yes": p, "no": q}.
func (s *Service) UpdatePrices(w http.ResponseWriter, r *http.Request) {
	var quotes model.MarketPrices
	if err := json.NewDecoder(r.Body).Decode(&quotes); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	wlt := walletFrom(r)
	if err := wlt.UpdatePositionPrices(r.Context(), quotes); err != nil {
		slog.Error("price update failed", "err", err)
		writeError(w, "failed to save prices", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, wlt.State())
}

// ResetWallet handles POST /api/v1/wallet/reset
func (s *Service) ResetWallet(w http.ResponseWriter, r *http.Request) {
	wlt := walletFrom(r)
	if err := wlt.ResetWallet(r.Context()); err != nil {
		slog.Error("wallet reset failed", "scope", wlt.Scope().String(), "err", err)
		writeError(w, "failed to reset wallet", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, wlt.State())
}

// GetPortfolio handles GET /api/v1/portfolio
// Returns positions grouped by event with PnL and portfolio totals.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, walletFrom(r).Portfolio())
}

// ListEvents handles GET /api/v1/events
// Serves the quote poller's last successful event list.
func (s *Service) ListEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, "quote feed disabled", http.StatusServiceUnavailable)
		return
	}

	events, at := s.events.Events()
	if events == nil {
		events = []model.Event{}
	}
	resp := EventsResponse{Events: events}
	if !at.IsZero() {
		resp.UpdatedAt = &at
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
