// Package api expõe o núcleo via HTTP. Os handlers só traduzem JSON <-> serviços.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/radieske/sportsbook-core/internal/betting"
	"github.com/radieske/sportsbook-core/internal/exposure"
	"github.com/radieske/sportsbook-core/internal/ledger"
	"github.com/radieske/sportsbook-core/internal/risk"
	"github.com/radieske/sportsbook-core/internal/settlement"
	"github.com/radieske/sportsbook-core/internal/shared/apperr"
	"github.com/radieske/sportsbook-core/internal/shared/logger"
	"github.com/radieske/sportsbook-core/internal/storage"
)

const idempotencyHeader = "Idempotency-Key"

type API struct {
	Bets       *betting.Service
	Settlement *settlement.Engine
	Ledger     *ledger.Ledger
	Exposure   *exposure.Ledger
	Risk       *risk.Engine
	Customers  storage.Customers
	Log        *zap.Logger
}

func (a *API) Router() http.Handler {
	a.Log = logger.OrNop(a.Log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/bets", a.placeBet)
	r.Get("/bets/{id}", a.getBet)

	r.Route("/customers/{id}", func(r chi.Router) {
		r.Get("/ledger", a.listLedger)
		r.Get("/ledger/balance", a.getBalance)
		r.Post("/deposits", a.deposit)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Post("/limits", a.setLimit)
		r.Get("/exposures", a.listExposures)
		r.Post("/events/{eventId}/result", a.postResult)
	})
	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, apperr.ErrIdempotencyConflict):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrExposureConcurrencyExhausted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		a.Log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("requestId", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.InvalidArgument("bad json: %v", err)
	}
	return nil
}

func idempotencyKey(r *http.Request) (string, error) {
	k := r.Header.Get(idempotencyHeader)
	if k == "" {
		return "", apperr.InvalidArgument("%s header required", idempotencyHeader)
	}
	return k, nil
}
