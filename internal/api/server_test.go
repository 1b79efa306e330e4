package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap/zaptest"

	"github.com/radieske/sportsbook-core/internal/betting"
	"github.com/radieske/sportsbook-core/internal/exposure"
	"github.com/radieske/sportsbook-core/internal/idempotency"
	"github.com/radieske/sportsbook-core/internal/ledger"
	"github.com/radieske/sportsbook-core/internal/risk"
	"github.com/radieske/sportsbook-core/internal/settlement"
	"github.com/radieske/sportsbook-core/internal/shared/apperr"
	"github.com/radieske/sportsbook-core/internal/shared/lock"
	"github.com/radieske/sportsbook-core/internal/shared/metrics"
	"github.com/radieske/sportsbook-core/internal/storage/memory"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	log := zaptest.NewLogger(t)
	m := metrics.NewMetrics(prometheus.NewRegistry())
	mem := memory.New()
	mem.AddCustomer("c1")

	exp := exposure.New(mem, log, m)
	led := ledger.New(mem, log, m)
	eng := risk.NewEngine(mem, exp, risk.DefaultMaxStakePerBet, log, m)
	idem := idempotency.NewExecutor(mem, lock.NewLocal(), log, m)

	a := &API{
		Bets: betting.NewService(betting.Deps{
			Store: mem, Risk: eng, Exposure: exp, Ledger: led, Idempotency: idem, Log: log, Metrics: m,
		}),
		Settlement: settlement.NewEngine(settlement.Deps{
			Store: mem, Exposure: exp, Ledger: led, Idempotency: idem, Log: log, Metrics: m,
		}),
		Ledger:    led,
		Exposure:  exp,
		Risk:      eng,
		Customers: mem,
		Log:       log,
	}
	srv := httptest.NewServer(a.Router())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, key string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd *bytes.Reader
	if s, ok := body.(string); ok {
		rd = bytes.NewReader([]byte(s))
	} else {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, srv.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(idempotencyHeader, key)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	return resp, buf.Bytes()
}

const betBody = `{"customerId":"c1","eventId":"E1","marketType":"MATCH_WINNER","selection":"HOME","odds":"1.85","stake":"100"}`

func TestPlaceBetFlow(t *testing.T) {
	srv := newServer(t)

	resp, _ := do(t, srv, http.MethodPost, "/customers/c1/deposits", "", `{"amount":"1000","externalRef":"DEP-1"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("deposit status %d", resp.StatusCode)
	}

	resp, body := do(t, srv, http.MethodPost, "/bets", "key-1", betBody)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("place status %d: %s", resp.StatusCode, body)
	}
	var placed PlaceBetResponse
	if err := json.Unmarshal(body, &placed); err != nil {
		t.Fatal(err)
	}
	if placed.BetID == nil || *placed.Status != "PLACED" || placed.AcceptedStake != "100.00" || placed.PotentialPayout != "185.00" || placed.Decision != "ACCEPT" {
		t.Fatalf("unexpected response %s", body)
	}

	_, replay := do(t, srv, http.MethodPost, "/bets", "key-1", betBody)
	if !bytes.Equal(replay, body) {
		t.Fatalf("replay differs:\n%s\n%s", body, replay)
	}

	resp, body = do(t, srv, http.MethodGet, "/bets/"+*placed.BetID, "", "")
	var bet BetResponse
	_ = json.Unmarshal(body, &bet)
	if resp.StatusCode != http.StatusOK || bet.Odds != "1.850" || bet.Stake != "100.00" {
		t.Fatalf("get bet %d: %s", resp.StatusCode, body)
	}

	_, body = do(t, srv, http.MethodGet, "/customers/c1/ledger/balance", "", "")
	var bal BalanceResponse
	_ = json.Unmarshal(body, &bal)
	if bal.Balance != "900.00" || bal.Currency != "SEK" {
		t.Fatalf("balance %s", body)
	}

	_, body = do(t, srv, http.MethodGet, "/customers/c1/ledger?page=0&size=1", "", "")
	var page LedgerPageResponse
	_ = json.Unmarshal(body, &page)
	if len(page.Entries) != 1 || page.Entries[0].Type != "DEBIT" || page.Entries[0].Amount != "100.00" {
		t.Fatalf("ledger page %s", body)
	}

	_, body = do(t, srv, http.MethodGet, "/admin/exposures?eventId=E1", "", "")
	var exps []ExposureResponse
	_ = json.Unmarshal(body, &exps)
	if len(exps) != 1 || exps[0].ReservedLiability != "85.00" {
		t.Fatalf("exposures %s", body)
	}

	resp, body = do(t, srv, http.MethodPost, "/admin/events/E1/result", "res-1", `{"winningSelection":"HOME"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("result status %d: %s", resp.StatusCode, body)
	}
	_, body = do(t, srv, http.MethodGet, "/customers/c1/ledger/balance", "", "")
	_ = json.Unmarshal(body, &bal)
	if bal.Balance != "1085.00" {
		t.Fatalf("balance after settlement %s", body)
	}

	_, body = do(t, srv, http.MethodPost, "/admin/events/E1/result", "res-2", `{"winningSelection":null}`)
	var again settlement.PostResultResponse
	_ = json.Unmarshal(body, &again)
	if !again.AlreadyRecorded {
		t.Fatalf("expected already recorded: %s", body)
	}
}

func TestRejectedBetHasNullID(t *testing.T) {
	srv := newServer(t)
	resp, body := do(t, srv, http.MethodPost, "/admin/limits", "",
		`{"scope":"EVENT_MARKET_SELECTION","scopeId":"E1|MATCH_WINNER|HOME","maxReservedLiability":"0"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("limit status %d: %s", resp.StatusCode, body)
	}

	resp, body = do(t, srv, http.MethodPost, "/bets", "key-1", betBody)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	var raw map[string]any
	_ = json.Unmarshal(body, &raw)
	if raw["betId"] != nil || raw["status"] != nil || raw["decision"] != "REJECT" {
		t.Fatalf("unexpected reject body %s", body)
	}
}

func TestErrorMapping(t *testing.T) {
	srv := newServer(t)
	_, _ = do(t, srv, http.MethodPost, "/customers/c1/deposits", "", `{"amount":"10","externalRef":"DEP-1"}`)

	cases := []struct {
		name, method, path, key string
		body                    any
		want                    int
	}{
		{"missing key", http.MethodPost, "/bets", "", betBody, http.StatusBadRequest},
		{"bad json", http.MethodPost, "/bets", "k", "{", http.StatusBadRequest},
		{"insufficient funds", http.MethodPost, "/bets", "k1", betBody, http.StatusUnprocessableEntity},
		{"unknown bet", http.MethodGet, "/bets/nope", "", "", http.StatusNotFound},
		{"unknown customer", http.MethodGet, "/customers/ghost/ledger/balance", "", "", http.StatusNotFound},
		{"bad page", http.MethodGet, "/customers/c1/ledger?page=x", "", "", http.StatusBadRequest},
		{"huge page", http.MethodGet, "/customers/c1/ledger?page=100000000000000000&size=100", "", "", http.StatusBadRequest},
		{"last allowed page", http.MethodGet, "/customers/c1/ledger?page=1000000&size=100", "", "", http.StatusOK},
		{"deposit conflict", http.MethodPost, "/customers/c1/deposits", "", `{"amount":"20","externalRef":"DEP-1"}`, http.StatusConflict},
		{"bad scope", http.MethodPost, "/admin/limits", "", `{"scope":"PLANET"}`, http.StatusBadRequest},
		{"result without key", http.MethodPost, "/admin/events/E1/result", "", `{}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := do(t, srv, tc.method, tc.path, tc.key, tc.body)
			if resp.StatusCode != tc.want {
				t.Fatalf("status %d, want %d: %s", resp.StatusCode, tc.want, body)
			}
		})
	}

	// mesma chave, payload diferente
	other := `{"customerId":"c1","eventId":"E1","marketType":"MATCH_WINNER","selection":"HOME","odds":"1.85","stake":"5"}`
	if resp, _ := do(t, srv, http.MethodPost, "/bets", "k2", other); resp.StatusCode != http.StatusOK {
		t.Fatalf("first placement %d", resp.StatusCode)
	}
	if resp, _ := do(t, srv, http.MethodPost, "/bets", "k2", betBody); resp.StatusCode != http.StatusConflict {
		t.Fatalf("conflict status %d", resp.StatusCode)
	}
}

func TestDepositReplayCreditsOnce(t *testing.T) {
	srv := newServer(t)
	body := `{"amount":"50","externalRef":"DEP-7"}`

	resp, first := do(t, srv, http.MethodPost, "/customers/c1/deposits", "", body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("deposit status %d: %s", resp.StatusCode, first)
	}
	resp, second := do(t, srv, http.MethodPost, "/customers/c1/deposits", "", body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("replay status %d: %s", resp.StatusCode, second)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("replay differs:\n%s\n%s", first, second)
	}
	var dep DepositResponse
	_ = json.Unmarshal(second, &dep)
	if dep.Balance != "50.00" {
		t.Fatalf("balance after replay %s", second)
	}
}

func TestStatusOf(t *testing.T) {
	if statusOf(apperr.ErrExposureConcurrencyExhausted) != http.StatusServiceUnavailable {
		t.Fatal("exhaustion should map to 503")
	}
	if statusOf(apperr.Storage("x", apperr.ErrStorage)) != http.StatusInternalServerError {
		t.Fatal("storage should map to 500")
	}
}
