package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/radieske/sportsbook-core/internal/betting"
	"github.com/radieske/sportsbook-core/internal/domain"
	"github.com/radieske/sportsbook-core/internal/risk"
	"github.com/radieske/sportsbook-core/internal/shared/apperr"
	"github.com/radieske/sportsbook-core/internal/shared/money"
	"github.com/radieske/sportsbook-core/internal/storage"
)

func (a *API) placeBet(w http.ResponseWriter, r *http.Request) {
	key, err := idempotencyKey(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req betting.PlaceBetRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	res, err := a.Bets.PlaceBet(r.Context(), req, key)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	// REJECT também é 200: a decisão vai no corpo
	writeJSON(w, http.StatusOK, toPlaceBetResponse(res))
}

func (a *API) getBet(w http.ResponseWriter, r *http.Request) {
	bet, err := a.Bets.GetBet(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBetResponse(bet))
}

func (a *API) requireCustomer(ctx context.Context, id string) error {
	ok, err := a.Customers.CustomerExists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("Customer", id)
	}
	return nil
}

func (a *API) getBalance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.requireCustomer(r.Context(), id); err != nil {
		a.writeError(w, r, err)
		return
	}
	bal, err := a.Ledger.Balance(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{CustomerID: id, Balance: money.Format(bal), Currency: money.Currency})
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperr.InvalidArgument("%s must be a non-negative integer", name)
	}
	return n, nil
}

func (a *API) listLedger(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	number, err := queryInt(r, "page", 0)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if number > storage.MaxPageNumber {
		a.writeError(w, r, apperr.InvalidArgument("page must be at most %d", storage.MaxPageNumber))
		return
	}
	size, err := queryInt(r, "size", storage.DefaultPageSize)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.requireCustomer(r.Context(), id); err != nil {
		a.writeError(w, r, err)
		return
	}

	page := storage.Page{Number: number, Size: size}.Normalize()
	entries, err := a.Ledger.List(r.Context(), id, page)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	out := LedgerPageResponse{CustomerID: id, Page: page.Number, Size: page.Size, Entries: make([]LedgerEntryResponse, 0, len(entries))}
	for _, e := range entries {
		out.Entries = append(out.Entries, toLedgerEntry(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) deposit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req DepositRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	if req.ExternalRef == "" {
		a.writeError(w, r, apperr.InvalidArgument("externalRef required"))
		return
	}
	entry, err := a.Ledger.Deposit(r.Context(), id, req.Amount, req.ExternalRef)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	bal, err := a.Ledger.Balance(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, DepositResponse{Entry: toLedgerEntry(entry), Balance: money.Format(bal)})
}

func (a *API) setLimit(w http.ResponseWriter, r *http.Request) {
	var req LimitRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	l, err := a.Risk.SetLimit(r.Context(), risk.LimitRequest{
		Scope:                domain.LimitScope(req.Scope),
		ScopeID:              req.ScopeID,
		MaxReservedLiability: req.MaxReservedLiability,
		MaxStakePerBet:       req.MaxStakePerBet,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLimitResponse(l))
}

func (a *API) listExposures(w http.ResponseWriter, r *http.Request) {
	exps, err := a.Exposure.List(r.Context(), r.URL.Query().Get("eventId"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	out := make([]ExposureResponse, 0, len(exps))
	for _, e := range exps {
		out = append(out, toExposureResponse(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) postResult(w http.ResponseWriter, r *http.Request) {
	key, err := idempotencyKey(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req PostResultRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	winner := ""
	if req.WinningSelection != nil {
		winner = *req.WinningSelection
	}

	res, err := a.Settlement.PostResult(r.Context(), chi.URLParam(r, "eventId"), winner, key)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
