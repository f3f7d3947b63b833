package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/transfer/internal/errs"
	"github.com/tinoosan/transfer/internal/ledger"
	"github.com/tinoosan/transfer/internal/metrics"
	"github.com/tinoosan/transfer/internal/service/account"
	"github.com/tinoosan/transfer/internal/service/transfer"
	"github.com/tinoosan/transfer/internal/storage/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type acctResp struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Currency     string `json:"currency"`
	BalanceMinor int64  `json:"balance_minor"`
	Balance      string `json:"balance"`
	Version      int64  `json:"version"`
}

type transferResp struct {
	ID                      string  `json:"id"`
	Kind                    string  `json:"kind"`
	IdempotencyKey          string  `json:"idempotency_key"`
	SourceAccountID         *string `json:"source_account_id"`
	DestinationAccountID    string  `json:"destination_account_id"`
	AmountMinor             int64   `json:"amount_minor"`
	Amount                  string  `json:"amount"`
	Outcome                 string  `json:"outcome"`
	Reason                  string  `json:"reason"`
	SourceBalanceMinor      *int64  `json:"source_balance_minor"`
	DestinationBalanceMinor int64   `json:"destination_balance_minor"`
	Replayed                bool    `json:"replayed"`
}

type ledgerResp struct {
	AccountID string `json:"account_id"`
	Items     []struct {
		EntryID           string `json:"entry_id"`
		IdempotencyKey    string `json:"idempotency_key"`
		Direction         string `json:"direction"`
		Outcome           string `json:"outcome"`
		BalanceAfterMinor int64  `json:"balance_after_minor"`
	} `json:"items"`
	NextCursor *string `json:"next_cursor"`
}

type errResp struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type fixture struct {
	store *memory.Store
	h     http.Handler
	alice ledger.Account
	bob   ledger.Account
}

func setup(t *testing.T) fixture {
	t.Helper()
	store := memory.New()
	alice := ledger.Account{ID: uuid.New(), Name: "Alice", Currency: "GBP", Balance: 1000, CreatedAt: time.Now().UTC()}
	bob := ledger.Account{ID: uuid.New(), Name: "Bob", Currency: "GBP", CreatedAt: time.Now().UTC()}
	store.SeedAccount(alice)
	store.SeedAccount(bob)
	collector := metrics.New()
	engine := transfer.New(store, transfer.Options{Logger: testLogger(), Recorder: collector})
	h := New(account.New(store, store), engine, store, collector, testLogger()).Handler()
	return fixture{store: store, h: h, alice: alice, bob: bob}
}

func do(t *testing.T, h http.Handler, method, path string, body any, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return out
}

func transferBody(key string, from, to uuid.UUID, amount int64) map[string]any {
	return map[string]any{
		"idempotency_key":        key,
		"source_account_id":      from.String(),
		"destination_account_id": to.String(),
		"amount_minor":           amount,
	}
}

func TestPostAccount(t *testing.T) {
	f := setup(t)

	rr := do(t, f.h, http.MethodPost, "/v1/accounts", map[string]any{"name": "Carol", "currency": "eur"}, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	acc := decode[acctResp](t, rr)
	if acc.Currency != "EUR" || acc.BalanceMinor != 0 || acc.Version != 0 || acc.Balance != formatMinor("EUR", 0) {
		t.Fatalf("unexpected account: %+v", acc)
	}

	rr = do(t, f.h, http.MethodPost, "/v1/accounts", map[string]any{"name": "Carol", "currency": "XYZ"}, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown currency, got %d", rr.Code)
	}
	if e := decode[errResp](t, rr); e.Code != "validation_error" {
		t.Fatalf("expected validation_error, got %+v", e)
	}

	rr = do(t, f.h, http.MethodPost, "/v1/accounts", map[string]any{"name": "Carol", "currency": "GBP", "balance": 5}, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/accounts", strings.NewReader(`{"name":"x","currency":"GBP"}`))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", rec.Code)
	}
}

func TestGetAndListAccounts(t *testing.T) {
	f := setup(t)

	rr := do(t, f.h, http.MethodGet, "/v1/accounts/"+f.alice.ID.String(), nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if acc := decode[acctResp](t, rr); acc.BalanceMinor != 1000 || acc.Balance != formatMinor("GBP", 1000) {
		t.Fatalf("unexpected account: %+v", acc)
	}

	if rr := do(t, f.h, http.MethodGet, "/v1/accounts/"+uuid.NewString(), nil, nil); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if rr := do(t, f.h, http.MethodGet, "/v1/accounts/not-a-uuid", nil, nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}

	rr = do(t, f.h, http.MethodGet, "/v1/accounts", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if list := decode[[]acctResp](t, rr); len(list) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(list))
	}
}

func TestPostTransfer_CommitReplayReject(t *testing.T) {
	f := setup(t)

	rr := do(t, f.h, http.MethodPost, "/v1/transfers", transferBody("k1", f.alice.ID, f.bob.ID, 300), nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	first := decode[transferResp](t, rr)
	if first.Outcome != "committed" || first.Replayed || first.SourceBalanceMinor == nil || *first.SourceBalanceMinor != 700 || first.DestinationBalanceMinor != 300 {
		t.Fatalf("unexpected result: %+v", first)
	}
	if first.Amount == "" || first.Amount != formatMinor("GBP", 300) {
		t.Fatalf("unexpected formatted amount %q", first.Amount)
	}

	// Same key, different amount: the recorded result comes back untouched.
	rr = do(t, f.h, http.MethodPost, "/v1/transfers", transferBody("k1", f.alice.ID, f.bob.ID, 999), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 on replay, got %d", rr.Code)
	}
	replay := decode[transferResp](t, rr)
	if !replay.Replayed || replay.ID != first.ID || replay.AmountMinor != 300 {
		t.Fatalf("unexpected replay: %+v", replay)
	}

	rr = do(t, f.h, http.MethodPost, "/v1/transfers", transferBody("k2", f.alice.ID, f.bob.ID, 5000), nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
	rej := decode[transferResp](t, rr)
	if rej.Outcome != "rejected" || rej.Reason != "insufficient_funds" || *rej.SourceBalanceMinor != 700 {
		t.Fatalf("unexpected rejection: %+v", rej)
	}

	// A rejection is final even after the source is topped up.
	f.store.SeedAccount(ledger.Account{ID: f.alice.ID, Name: "Alice", Currency: "GBP", Balance: 100000, Version: 9})
	rr = do(t, f.h, http.MethodPost, "/v1/transfers", transferBody("k2", f.alice.ID, f.bob.ID, 5000), nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 on replayed rejection, got %d", rr.Code)
	}
	if again := decode[transferResp](t, rr); !again.Replayed || again.ID != rej.ID {
		t.Fatalf("unexpected replayed rejection: %+v", again)
	}
}

func TestPostTransfer_IdempotencyKeySources(t *testing.T) {
	f := setup(t)
	body := transferBody("", f.alice.ID, f.bob.ID, 100)
	delete(body, "idempotency_key")

	rr := do(t, f.h, http.MethodPost, "/v1/transfers", body, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without key, got %d", rr.Code)
	}

	rr = do(t, f.h, http.MethodPost, "/v1/transfers", body, map[string]string{"Idempotency-Key": "hdr-1"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201 with header key, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := decode[transferResp](t, rr); got.IdempotencyKey != "hdr-1" {
		t.Fatalf("expected key from header, got %q", got.IdempotencyKey)
	}

	rr = do(t, f.h, http.MethodPost, "/v1/transfers", transferBody("body-1", f.alice.ID, f.bob.ID, 100), map[string]string{"Idempotency-Key": "hdr-2"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for mismatched keys, got %d", rr.Code)
	}

	rr = do(t, f.h, http.MethodPost, "/v1/transfers", transferBody(strings.Repeat("k", transfer.MaxKeyLen+1), f.alice.ID, f.bob.ID, 100), nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for long key, got %d", rr.Code)
	}
}

func TestPostTransfer_InvalidRequests(t *testing.T) {
	f := setup(t)
	cases := []struct {
		name string
		body map[string]any
		want int
		code string
	}{
		{"zero amount", transferBody("z", f.alice.ID, f.bob.ID, 0), http.StatusBadRequest, "invalid_transfer"},
		{"same account", transferBody("s", f.alice.ID, f.alice.ID, 10), http.StatusBadRequest, "invalid_transfer"},
		{"nul in key", transferBody("a\x00b", f.alice.ID, f.bob.ID, 10), http.StatusBadRequest, "invalid_transfer"},
		{"unknown destination", transferBody("u", f.alice.ID, uuid.New(), 10), http.StatusNotFound, "account_not_found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := do(t, f.h, http.MethodPost, "/v1/transfers", tc.body, nil)
			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rr.Code, rr.Body.String())
			}
			if e := decode[errResp](t, rr); e.Code != tc.code {
				t.Fatalf("expected code %s, got %+v", tc.code, e)
			}
		})
	}

	body := transferBody("", f.alice.ID, f.bob.ID, 10)
	delete(body, "idempotency_key")
	rr := do(t, f.h, http.MethodPost, "/v1/transfers", body, map[string]string{"Idempotency-Key": "bad\xff\xfe"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid UTF-8 header key, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr := do(t, f.h, http.MethodGet, "/v1/transfers/bad%FF", nil, nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid UTF-8 lookup key, got %d", rr.Code)
	}
	if acc, _ := f.store.GetAccount(context.Background(), f.alice.ID); acc.Balance != 1000 {
		t.Fatalf("rejected keys moved funds: %d", acc.Balance)
	}

	eur := ledger.Account{ID: uuid.New(), Name: "Euro", Currency: "EUR", CreatedAt: time.Now().UTC()}
	f.store.SeedAccount(eur)
	rr = do(t, f.h, http.MethodPost, "/v1/transfers", transferBody("c", f.alice.ID, eur.ID, 10), nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for currency mismatch, got %d", rr.Code)
	}
}

func TestPostAccountTransfer_SourceFromPath(t *testing.T) {
	f := setup(t)
	path := "/v1/accounts/" + f.alice.ID.String() + "/transfers"

	body := map[string]any{"idempotency_key": "p1", "destination_account_id": f.bob.ID.String(), "amount_minor": 250}
	rr := do(t, f.h, http.MethodPost, path, body, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := decode[transferResp](t, rr); got.SourceAccountID == nil || *got.SourceAccountID != f.alice.ID.String() {
		t.Fatalf("expected source from path, got %+v", got)
	}

	rr = do(t, f.h, http.MethodPost, path, transferBody("p2", f.bob.ID, f.alice.ID, 1), nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 when body source differs from path, got %d", rr.Code)
	}
}

func TestPostDeposit(t *testing.T) {
	f := setup(t)
	path := "/v1/accounts/" + f.bob.ID.String() + "/deposits"

	rr := do(t, f.h, http.MethodPost, path, map[string]any{"amount_minor": 1500}, map[string]string{"Idempotency-Key": "d1"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	dep := decode[transferResp](t, rr)
	if dep.Kind != "deposit" || dep.SourceAccountID != nil || dep.SourceBalanceMinor != nil || dep.DestinationBalanceMinor != 1500 {
		t.Fatalf("unexpected deposit: %+v", dep)
	}

	rr = do(t, f.h, http.MethodPost, path, map[string]any{"amount_minor": 1500}, map[string]string{"Idempotency-Key": "d1"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 on replay, got %d", rr.Code)
	}

	rr = do(t, f.h, http.MethodGet, "/v1/accounts/"+f.bob.ID.String(), nil, nil)
	if acc := decode[acctResp](t, rr); acc.BalanceMinor != 1500 {
		t.Fatalf("deposit applied more than once: %d", acc.BalanceMinor)
	}

	rr = do(t, f.h, http.MethodPost, "/v1/accounts/"+uuid.NewString()+"/deposits", map[string]any{"amount_minor": 1}, map[string]string{"Idempotency-Key": "d2"})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestGetTransfer(t *testing.T) {
	f := setup(t)
	if rr := do(t, f.h, http.MethodPost, "/v1/transfers", transferBody("look", f.alice.ID, f.bob.ID, 10), nil); rr.Code != http.StatusCreated {
		t.Fatalf("setup transfer failed: %d", rr.Code)
	}

	rr := do(t, f.h, http.MethodGet, "/v1/transfers/look", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := decode[transferResp](t, rr); got.IdempotencyKey != "look" || got.Outcome != "committed" || !got.Replayed {
		t.Fatalf("unexpected lookup: %+v", got)
	}

	if rr := do(t, f.h, http.MethodGet, "/v1/transfers/missing", nil, nil); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestGetAccountLedger_Pagination(t *testing.T) {
	f := setup(t)
	for i, key := range []string{"l1", "l2", "l3"} {
		rr := do(t, f.h, http.MethodPost, "/v1/transfers", transferBody(key, f.alice.ID, f.bob.ID, int64(100*(i+1))), nil)
		if rr.Code != http.StatusCreated {
			t.Fatalf("transfer %s: %d", key, rr.Code)
		}
	}

	base := "/v1/accounts/" + f.alice.ID.String() + "/ledger"
	rr := do(t, f.h, http.MethodGet, base+"?limit=2", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	page := decode[ledgerResp](t, rr)
	if len(page.Items) != 2 || page.NextCursor == nil {
		t.Fatalf("expected 2 items and a cursor, got %+v", page)
	}
	if page.Items[0].IdempotencyKey != "l1" || page.Items[0].Direction != "debit" || page.Items[0].BalanceAfterMinor != 900 {
		t.Fatalf("unexpected first item: %+v", page.Items[0])
	}

	rr = do(t, f.h, http.MethodGet, base+"?limit=2&cursor="+*page.NextCursor, nil, nil)
	next := decode[ledgerResp](t, rr)
	if len(next.Items) != 1 || next.NextCursor != nil || next.Items[0].IdempotencyKey != "l3" {
		t.Fatalf("unexpected second page: %+v", next)
	}

	rr = do(t, f.h, http.MethodGet, "/v1/accounts/"+f.bob.ID.String()+"/ledger", nil, nil)
	credit := decode[ledgerResp](t, rr)
	if len(credit.Items) != 3 || credit.Items[2].Direction != "credit" || credit.Items[2].BalanceAfterMinor != 600 {
		t.Fatalf("unexpected credit view: %+v", credit)
	}

	if rr := do(t, f.h, http.MethodGet, base+"?limit=0", nil, nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rr.Code)
	}
	if rr := do(t, f.h, http.MethodGet, base+"?cursor=abc", nil, nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad cursor, got %d", rr.Code)
	}
	if rr := do(t, f.h, http.MethodGet, "/v1/accounts/"+uuid.NewString()+"/ledger", nil, nil); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestDictionaryAndOps(t *testing.T) {
	f := setup(t)

	rr := do(t, f.h, http.MethodGet, "/v1/dictionary/currencies", nil, nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"GBP"`) {
		t.Fatalf("unexpected currencies: %d %s", rr.Code, rr.Body.String())
	}
	if rr := do(t, f.h, http.MethodGet, "/healthz", nil, nil); rr.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rr.Code)
	}
	if rr := do(t, f.h, http.MethodGet, "/readyz", nil, nil); rr.Code != http.StatusOK {
		t.Fatalf("readyz: %d", rr.Code)
	}

	do(t, f.h, http.MethodPost, "/v1/transfers", transferBody("m1", f.alice.ID, f.bob.ID, 1), nil)
	rr = do(t, f.h, http.MethodGet, "/metrics", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics: %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `transfer_outcomes_total{kind="transfer",outcome="committed"} 1`) {
		t.Fatalf("outcome counter missing from scrape")
	}
}

// stubTransfers fails every call with err.
type stubTransfers struct{ err error }

func (s stubTransfers) Execute(context.Context, ledger.Transfer) (ledger.Result, error) {
	return ledger.Result{}, s.err
}
func (s stubTransfers) Deposit(context.Context, ledger.Deposit) (ledger.Result, error) {
	return ledger.Result{}, s.err
}
func (s stubTransfers) Lookup(context.Context, string) (ledger.Result, error) {
	return ledger.Result{}, s.err
}

func TestPostTransfer_ErrorMapping(t *testing.T) {
	store := memory.New()
	cases := []struct {
		err        error
		want       int
		retryAfter string
	}{
		{errs.ErrConcurrencyExhausted, http.StatusServiceUnavailable, "1"},
		{context.DeadlineExceeded, http.StatusServiceUnavailable, "1"},
		{errs.ErrStorage, http.StatusInternalServerError, ""},
	}
	for _, tc := range cases {
		h := New(account.New(store, store), stubTransfers{err: tc.err}, store, nil, testLogger()).Handler()
		rr := do(t, h, http.MethodPost, "/v1/transfers", transferBody("e", uuid.New(), uuid.New(), 1), nil)
		if rr.Code != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, rr.Code)
		}
		if got := rr.Header().Get("Retry-After"); got != tc.retryAfter {
			t.Fatalf("%v: unexpected Retry-After %q", tc.err, got)
		}
		if tc.want == http.StatusInternalServerError {
			if e := decode[errResp](t, rr); e.Error != "internal error" {
				t.Fatalf("storage detail leaked: %+v", e)
			}
		}
	}

	// Without a collector there is no /metrics route.
	h := New(account.New(store, store), stubTransfers{}, store, nil, testLogger()).Handler()
	if rr := do(t, h, http.MethodGet, "/metrics", nil, nil); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for /metrics, got %d", rr.Code)
	}
}

func TestFormatMinor_UnknownCurrencyOmitsDisplayAmount(t *testing.T) {
	if got := formatMinor("ZZZ", 5); got != "" {
		t.Fatalf("expected no display amount, got %q", got)
	}

	b, err := json.Marshal(toAccountResponse(ledger.Account{ID: uuid.New(), Name: "x", Currency: "ZZZ", Balance: 5}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := raw["balance"]; ok {
		t.Fatalf("balance present despite formatting failure: %s", b)
	}
	if raw["balance_minor"] != float64(5) {
		t.Fatalf("balance_minor missing: %s", b)
	}

	b, err = json.Marshal(toTransferResponse(ledger.Result{Entry: ledger.Entry{Currency: "ZZZ", Amount: 7}}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(b), `"amount":`) || !strings.Contains(string(b), `"amount_minor":7`) {
		t.Fatalf("unexpected transfer body: %s", b)
	}
}
