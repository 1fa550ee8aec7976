package trade_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/polypredict/ledger-engine/internal/model"
	"github.com/polypredict/ledger-engine/internal/store"
	"github.com/polypredict/ledger-engine/internal/trade"
	"github.com/polypredict/ledger-engine/internal/wallet"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type staticEvents struct {
	events []model.Event
	at     time.Time
}

func (s staticEvents) Events() ([]model.Event, time.Time) { return s.events, s.at }

// unreadableStore fails every read.
type unreadableStore struct{ *store.MemoryStore }

func (unreadableStore) Get(context.Context, model.Scope, store.Field) ([]byte, error) {
	return nil, errors.New("connection refused")
}

// brokenStore fails every write.
type brokenStore struct{ *store.MemoryStore }

func (brokenStore) Put(context.Context, model.Scope, map[store.Field][]byte) error {
	return errors.New("disk full")
}

// slowStore delays reads, standing in for a networked backend.
type slowStore struct{ *store.MemoryStore }

func (s slowStore) Get(ctx context.Context, scope model.Scope, field store.Field) ([]byte, error) {
	time.Sleep(time.Millisecond)
	return s.MemoryStore.Get(ctx, scope, field)
}

// newTestEnv creates a test Service with an in-memory store and chi router.
func newTestEnv(t *testing.T, st store.Store, events trade.EventLister) (*wallet.Registry, chi.Router) {
	t.Helper()
	if st == nil {
		st = store.NewMemoryStore()
	}
	var mu sync.Mutex
	n := 0
	reg := wallet.NewRegistry(st,
		wallet.WithClock(func() time.Time { return fixedNow }),
		wallet.WithIDGenerator(func() string {
			mu.Lock()
			defer mu.Unlock()
			n++
			return fmt.Sprintf("pos_%d", n)
		}),
	)
	svc := trade.NewService(reg, events)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/session", svc.StartSession)
		r.Get("/events", svc.ListEvents)
		r.Group(func(r chi.Router) {
			r.Use(svc.ResolveWallet)
			r.Get("/wallet", svc.GetWallet)
			r.Post("/wallet/buy", svc.BuyPosition)
			r.Post("/wallet/prices", svc.UpdatePrices)
			r.Post("/wallet/reset", svc.ResetWallet)
			r.Get("/portfolio", svc.GetPortfolio)
		})
	})
	return reg, r
}

func do(t *testing.T, router chi.Router, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func buyReq(side model.Side, price, amount float64) trade.BuyRequest {
	return trade.BuyRequest{
		Event:  model.Event{ID: "e1", Title: "Fed decision", Image: "fed.png", EndDate: "2025-07-30"},
		Market: model.Market{ID: "m1", Question: "Will the Fed cut rates?", GroupItemTitle: "25 bps cut"},
		Side:   side,
		Price:  d(price),
		Amount: d(amount),
	}
}

func decodeState(t *testing.T, rec *httptest.ResponseRecorder) model.WalletState {
	t.Helper()
	var st model.WalletState
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode state %q: %v", rec.Body.String(), err)
	}
	return st
}

// --- Buy ---

func TestBuyPosition_Success(t *testing.T) {
	_, router := newTestEnv(t, nil, nil)

	w := do(t, router, "POST", "/api/v1/wallet/buy", buyReq(model.SideYes, 0.5, 100))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var res model.BuyResult
	json.Unmarshal(w.Body.Bytes(), &res)
	if !res.Success || res.Position == nil {
		t.Fatalf("expected success with position, got %+v", res)
	}
	if !res.Position.Quantity.Equal(d(200)) {
		t.Errorf("expected quantity 200, got %s", res.Position.Quantity)
	}
	if res.Position.MarketTitle != "25 bps cut" {
		t.Errorf("expected group item title, got %q", res.Position.MarketTitle)
	}

	st := decodeState(t, do(t, router, "GET", "/api/v1/wallet", nil))
	if !st.Balance.Equal(d(900)) {
		t.Errorf("expected balance 900, got %s", st.Balance)
	}
	if st.UserID != nil {
		t.Errorf("guest wallet should have null userId, got %q", *st.UserID)
	}
}

func TestBuyPosition_Rejections(t *testing.T) {
	tests := []struct {
		name string
		req  trade.BuyRequest
		want string
	}{
		{"zero amount", buyReq(model.SideYes, 0.5, 0), "Invalid amount"},
		{"negative amount", buyReq(model.SideYes, 0.5, -5), "Invalid amount"},
		{"over balance", buyReq(model.SideYes, 0.5, 1000.01), "Insufficient balance"},
		{"zero price", buyReq(model.SideYes, 0, 10), "Invalid price"},
		{"price above one", buyReq(model.SideNo, 1.2, 10), "Invalid price"},
		{"unknown side", buyReq("Maybe", 0.5, 10), "Invalid side"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, router := newTestEnv(t, nil, nil)

			w := do(t, router, "POST", "/api/v1/wallet/buy", tt.req)
			if w.Code != http.StatusUnprocessableEntity {
				t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
			}
			var res model.BuyResult
			json.Unmarshal(w.Body.Bytes(), &res)
			if res.Success || res.Error != tt.want {
				t.Errorf("expected error %q, got %+v", tt.want, res)
			}

			st := decodeState(t, do(t, router, "GET", "/api/v1/wallet", nil))
			if !st.Balance.Equal(d(1000)) || len(st.Positions) != 0 {
				t.Errorf("rejected buy must not change state, got %+v", st)
			}
		})
	}
}

func TestBuyPosition_SpendsEntireBalance(t *testing.T) {
	_, router := newTestEnv(t, nil, nil)

	w := do(t, router, "POST", "/api/v1/wallet/buy", buyReq(model.SideNo, 0.25, 1000))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	st := decodeState(t, do(t, router, "GET", "/api/v1/wallet", nil))
	if !st.Balance.IsZero() {
		t.Errorf("expected zero balance, got %s", st.Balance)
	}
}

func TestBuyPosition_InvalidBody(t *testing.T) {
	_, router := newTestEnv(t, nil, nil)

	w := do(t, router, "POST", "/api/v1/wallet/buy", "{not json")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestBuyPosition_PersistenceFailure(t *testing.T) {
	_, router := newTestEnv(t, brokenStore{store.NewMemoryStore()}, nil)

	w := do(t, router, "POST", "/api/v1/wallet/buy", buyReq(model.SideYes, 0.5, 100))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d: %s", w.Code, w.Body.String())
	}
	var res model.BuyResult
	json.Unmarshal(w.Body.Bytes(), &res)
	if res.Success || res.Error != "Persistence failure" {
		t.Errorf("unexpected result %+v", res)
	}

	st := decodeState(t, do(t, router, "GET", "/api/v1/wallet", nil))
	if !st.Balance.Equal(d(1000)) || len(st.Positions) != 0 {
		t.Errorf("failed write must not change state, got %+v", st)
	}
}

// --- Prices and portfolio ---

func TestUpdatePrices_PortfolioPnL(t *testing.T) {
	_, router := newTestEnv(t, nil, nil)
	do(t, router, "POST", "/api/v1/wallet/buy", buyReq(model.SideYes, 0.5, 100))

	w := do(t, router, "POST", "/api/v1/wallet/prices", model.MarketPrices{
		"m1":    {Yes: d(0.6), No: d(0.4)},
		"other": {Yes: d(0.1), No: d(0.9)},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	st := decodeState(t, w)
	if len(st.Positions) != 1 || st.Positions[0].CurrentPrice == nil || !st.Positions[0].CurrentPrice.Equal(d(0.6)) {
		t.Fatalf("expected current price 0.6, got %+v", st.Positions)
	}

	var pf model.Portfolio
	json.Unmarshal(do(t, router, "GET", "/api/v1/portfolio", nil).Body.Bytes(), &pf)
	if len(pf.Groups) != 1 || pf.Groups[0].EventID != "e1" {
		t.Fatalf("expected one event group, got %+v", pf.Groups)
	}
	pnl := pf.Groups[0].Positions[0].PnL
	if !pnl.Value.Equal(d(20)) || !pnl.Percentage.Equal(d(20)) {
		t.Errorf("expected pnl 20 / 20%%, got %s / %s", pnl.Value, pnl.Percentage)
	}
	if !pf.Summary.CurrentValue.Equal(d(120)) {
		t.Errorf("expected current value 120, got %s", pf.Summary.CurrentValue)
	}
}

func TestUpdatePrices_InvalidBody(t *testing.T) {
	_, router := newTestEnv(t, nil, nil)

	w := do(t, router, "POST", "/api/v1/wallet/prices", `["m1"]`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

// --- Reset ---

func TestResetWallet(t *testing.T) {
	ms := store.NewMemoryStore()
	_, router := newTestEnv(t, ms, nil)
	do(t, router, "POST", "/api/v1/wallet/buy", buyReq(model.SideYes, 0.5, 300))

	st := decodeState(t, do(t, router, "POST", "/api/v1/wallet/reset", nil))
	if !st.Balance.Equal(d(1000)) || len(st.Positions) != 0 {
		t.Errorf("expected fresh wallet, got %+v", st)
	}
	if _, err := ms.Get(context.Background(), model.GuestScope(), store.FieldPositions); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected positions record deleted, got %v", err)
	}
}

// --- Identity ---

func TestStartSession_ReturnsNamedWallet(t *testing.T) {
	_, router := newTestEnv(t, nil, nil)
	do(t, router, "POST", "/api/v1/wallet/buy", buyReq(model.SideYes, 0.5, 100))
	do(t, router, "POST", "/api/v1/wallet/buy", buyReq(model.SideNo, 0.4, 40), trade.UserHeader, "alice")

	st := decodeState(t, do(t, router, "POST", "/api/v1/session", map[string]any{"user_id": "alice"}))
	if st.UserID == nil || *st.UserID != "alice" || !st.Balance.Equal(d(960)) {
		t.Fatalf("expected alice wallet with 960, got %+v", st)
	}

	st = decodeState(t, do(t, router, "POST", "/api/v1/session", map[string]any{"user_id": nil}))
	if st.UserID != nil || !st.Balance.Equal(d(900)) || len(st.Positions) != 1 {
		t.Errorf("expected guest wallet with 900, got %+v", st)
	}
}

func TestStartSession_RereadsStorage(t *testing.T) {
	ms := store.NewMemoryStore()
	_, router := newTestEnv(t, ms, nil)
	do(t, router, "POST", "/api/v1/wallet/buy", buyReq(model.SideYes, 0.5, 100), trade.UserHeader, "alice")

	// Records written by another process.
	ms.Put(context.Background(), model.UserScope("alice"), map[store.Field][]byte{store.FieldBalance: []byte("42")})

	st := decodeState(t, do(t, router, "POST", "/api/v1/session", map[string]any{"user_id": "alice"}))
	if !st.Balance.Equal(d(42)) {
		t.Errorf("expected reloaded balance 42, got %s", st.Balance)
	}
}

func TestStartSession_InvalidBody(t *testing.T) {
	_, router := newTestEnv(t, nil, nil)

	w := do(t, router, "POST", "/api/v1/session", "nope")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestResolveWallet_HeaderSelectsScope(t *testing.T) {
	reg, router := newTestEnv(t, nil, nil)

	do(t, router, "POST", "/api/v1/wallet/buy", buyReq(model.SideYes, 0.5, 100), trade.UserHeader, "bob")

	st := decodeState(t, do(t, router, "GET", "/api/v1/wallet", nil, trade.UserHeader, "bob"))
	if st.UserID == nil || *st.UserID != "bob" || !st.Balance.Equal(d(900)) {
		t.Fatalf("expected bob wallet with 900, got %+v", st)
	}

	// No header is always the guest, never the last user seen.
	st = decodeState(t, do(t, router, "GET", "/api/v1/wallet", nil))
	if st.UserID != nil || !st.Balance.Equal(d(1000)) {
		t.Errorf("expected untouched guest wallet, got %+v", st)
	}
	if len(reg.Scopes()) != 2 {
		t.Errorf("expected bob and guest wallets open, got %v", reg.Scopes())
	}
}

func TestResolveWallet_ConcurrentUsersStayPartitioned(t *testing.T) {
	_, router := newTestEnv(t, slowStore{store.NewMemoryStore()}, nil)

	users := []string{"alice", "bob"}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		for _, u := range users {
			wg.Add(1)
			go func(u string) {
				defer wg.Done()
				w := do(t, router, "POST", "/api/v1/wallet/buy", buyReq(model.SideYes, 0.5, 1), trade.UserHeader, u)
				if w.Code != http.StatusOK {
					t.Errorf("%s: expected 200, got %d: %s", u, w.Code, w.Body.String())
				}
			}(u)
		}
	}
	wg.Wait()

	for _, u := range users {
		st := decodeState(t, do(t, router, "GET", "/api/v1/wallet", nil, trade.UserHeader, u))
		if !st.Balance.Equal(d(950)) {
			t.Errorf("%s: expected balance 950, got %s", u, st.Balance)
		}
		if len(st.Positions) != 1 || !st.Positions[0].Quantity.Equal(d(100)) {
			t.Errorf("%s: expected one position of 100 shares, got %+v", u, st.Positions)
		}
	}
}

func TestResolveWallet_LoadFailure(t *testing.T) {
	_, router := newTestEnv(t, unreadableStore{store.NewMemoryStore()}, nil)

	w := do(t, router, "GET", "/api/v1/wallet", nil, trade.UserHeader, "alice")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

// --- Events ---

func TestListEvents(t *testing.T) {
	at := fixedNow.Add(-time.Minute)
	_, router := newTestEnv(t, nil, staticEvents{
		events: []model.Event{{ID: "e1", Title: "Fed decision"}},
		at:     at,
	})

	w := do(t, router, "GET", "/api/v1/events", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp trade.EventsResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Events) != 1 || resp.UpdatedAt == nil || !resp.UpdatedAt.Equal(at) {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestListEvents_NotPolledYet(t *testing.T) {
	_, router := newTestEnv(t, nil, staticEvents{})

	w := do(t, router, "GET", "/api/v1/events", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := w.Body.String(); got != "{\"events\":[],\"updated_at\":null}\n" {
		t.Errorf("unexpected body %q", got)
	}
}

func TestListEvents_FeedDisabled(t *testing.T) {
	_, router := newTestEnv(t, nil, nil)

	w := do(t, router, "GET", "/api/v1/events", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

// --- WebSocket payloads ---

func TestNewWSMessage(t *testing.T) {
	var got []trade.WSMessage
	st := store.NewMemoryStore()
	w := wallet.New(st, wallet.WithListener(func(c wallet.Change) {
		got = append(got, trade.NewWSMessage(c))
	}))
	ctx := context.Background()
	if err := w.Initialize(ctx, model.UserScope("alice")); err != nil {
		t.Fatal(err)
	}
	if _, err := w.BuyPosition(ctx, model.Event{ID: "e1"}, model.Market{ID: "m1"}, model.SideYes, d(0.5), d(50)); err != nil {
		t.Fatal(err)
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got))
	}
	if got[0].Type != "wallet_initialized" || got[1].Type != "position_bought" {
		t.Errorf("unexpected types %q, %q", got[0].Type, got[1].Type)
	}
	if got[1].Position == nil || !got[1].Summary.TotalInvested.Equal(d(50)) {
		t.Errorf("unexpected buy message %+v", got[1])
	}
	if got[1].State.UserID == nil || *got[1].State.UserID != "alice" {
		t.Errorf("expected alice in message state")
	}
}
