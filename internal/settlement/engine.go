// Package settlement apura eventos: grava o resultado uma única vez, liquida as
// apostas PLACED (crédito, estorno ou nada), libera exposição e retoma varreduras
// interrompidas.
package settlement

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/radieske/sportsbook-core/internal/domain"
	"github.com/radieske/sportsbook-core/internal/exposure"
	"github.com/radieske/sportsbook-core/internal/idempotency"
	"github.com/radieske/sportsbook-core/internal/ledger"
	"github.com/radieske/sportsbook-core/internal/shared/apperr"
	"github.com/radieske/sportsbook-core/internal/shared/logger"
	"github.com/radieske/sportsbook-core/internal/shared/metrics"
	"github.com/radieske/sportsbook-core/internal/shared/money"
	"github.com/radieske/sportsbook-core/internal/storage"
	"github.com/radieske/sportsbook-core/pkg/contracts/events"
)

// PostResultRequest é o payload do digest de idempotência. Seleção vazia anula o evento.
type PostResultRequest struct {
	EventID          string `json:"eventId"`
	WinningSelection string `json:"winningSelection,omitempty"`
}

type PostResultResponse struct {
	Success           bool   `json:"success"`
	AlreadyRecorded   bool   `json:"alreadyRecorded,omitempty"`
	SettlementBatchID string `json:"settlementBatchId,omitempty"`
	BetsSettled       int    `json:"betsSettled"`
}

// Publisher recebe bet_settled após o commit de cada aposta.
type Publisher interface {
	PublishBetSettled(ctx context.Context, e events.BetSettled) error
}

type Deps struct {
	Store       storage.Store
	Exposure    *exposure.Ledger
	Ledger      *ledger.Ledger
	Idempotency *idempotency.Executor
	Publisher   Publisher
	Log         *zap.Logger
	Metrics     *metrics.Metrics
}

type Engine struct {
	store     storage.Store
	exposure  *exposure.Ledger
	ledger    *ledger.Ledger
	idem      *idempotency.Executor
	publisher Publisher
	log       *zap.Logger
	metrics   *metrics.Metrics

	newBatchID func() string
	now        func() time.Time
}

func NewEngine(d Deps) *Engine {
	return &Engine{
		store:      d.Store,
		exposure:   d.Exposure,
		ledger:     d.Ledger,
		idem:       d.Idempotency,
		publisher:  d.Publisher,
		log:        logger.OrNop(d.Log),
		metrics:    d.Metrics,
		newBatchID: func() string { return "BATCH-" + uuid.NewString() },
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// PostResult é idempotente por (RESULT_INGEST, eventId, clientKey) e, além disso,
// vira no-op se o evento já tiver resultado, qualquer que seja a chave.
func (e *Engine) PostResult(ctx context.Context, eventID, winningSelection, clientKey string) (PostResultResponse, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return PostResultResponse{}, apperr.InvalidArgument("eventId required")
	}
	req := PostResultRequest{EventID: eventID, WinningSelection: strings.TrimSpace(winningSelection)}
	return idempotency.Execute(ctx, e.idem, domain.ScopeResultIngest, eventID, clientKey, req,
		func(ctx context.Context) (PostResultResponse, error) { return e.ingest(ctx, req) })
}

func (e *Engine) ingest(ctx context.Context, req PostResultRequest) (PostResultResponse, error) {
	existing, err := e.store.GetEventResult(ctx, req.EventID)
	if err == nil {
		e.log.Info("result already recorded, skipping", zap.String("eventId", req.EventID))
		return PostResultResponse{Success: true, AlreadyRecorded: true, SettlementBatchID: existing.SettlementBatchID}, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return PostResultResponse{}, err
	}

	result := domain.EventResult{
		EventID:           req.EventID,
		WinningSelection:  req.WinningSelection,
		SettlementBatchID: e.newBatchID(),
	}
	if err := e.store.InsertEventResult(ctx, &result); err != nil {
		if errors.Is(err, apperr.ErrDuplicate) {
			// outro produtor gravou primeiro: o lote válido é o dele
			winner, gerr := e.store.GetEventResult(ctx, req.EventID)
			if gerr != nil {
				return PostResultResponse{}, gerr
			}
			e.log.Info("result recorded concurrently, skipping",
				zap.String("eventId", req.EventID), zap.String("settlementBatchId", winner.SettlementBatchID))
			return PostResultResponse{Success: true, AlreadyRecorded: true, SettlementBatchID: winner.SettlementBatchID}, nil
		}
		return PostResultResponse{}, err
	}

	n, err := e.sweep(ctx, result)
	if err != nil {
		// o resultado já está gravado; a varredura é retomada por ResumePending
		return PostResultResponse{}, err
	}
	return PostResultResponse{Success: true, SettlementBatchID: result.SettlementBatchID, BetsSettled: n}, nil
}

// Resume liquida as apostas que ainda estão PLACED de um evento já apurado.
func (e *Engine) Resume(ctx context.Context, eventID string) (int, error) {
	result, err := e.store.GetEventResult(ctx, eventID)
	if err != nil {
		return 0, err
	}
	return e.sweep(ctx, result)
}

// ResumePending retoma todos os eventos apurados com apostas abertas.
// Um evento com falha não impede os demais.
func (e *Engine) ResumePending(ctx context.Context) (int, error) {
	ids, err := e.store.ListEventsPendingSettlement(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	var errs []error
	for _, id := range ids {
		n, err := e.Resume(ctx, id)
		total += n
		if err != nil {
			e.log.Error("resume settlement failed", zap.String("eventId", id), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

func (e *Engine) sweep(ctx context.Context, result domain.EventResult) (int, error) {
	bets, err := e.store.ListBetsByEvent(ctx, result.EventID, domain.BetPlaced)
	if err != nil {
		return 0, err
	}
	e.log.Info("settling event",
		zap.String("eventId", result.EventID),
		zap.String("batchId", result.SettlementBatchID),
		zap.String("winningSelection", result.WinningSelection),
		zap.Bool("void", result.Void()),
		zap.Int("bets", len(bets)),
	)

	settled := 0
	for _, bet := range bets {
		ok, err := e.settleBet(ctx, result, bet)
		if err != nil {
			e.log.Error("settle bet failed",
				zap.String("eventId", result.EventID),
				zap.String("betId", bet.ID),
				zap.Error(err),
			)
			return settled, err
		}
		if ok {
			settled++
		}
	}

	e.log.Info("event settled",
		zap.String("eventId", result.EventID),
		zap.String("batchId", result.SettlementBatchID),
		zap.Int("settled", settled),
	)
	return settled, nil
}

func outcome(result domain.EventResult, bet domain.Bet) domain.BetStatus {
	switch {
	case result.Void():
		return domain.BetSettledVoid
	case bet.Selection == result.WinningSelection:
		return domain.BetSettledWon
	default:
		return domain.BetSettledLost
	}
}

// settleBet grava transição + lançamento + liberação numa transação só.
// Devolve false se a aposta já tinha saído de PLACED.
func (e *Engine) settleBet(ctx context.Context, result domain.EventResult, bet domain.Bet) (bool, error) {
	settledAt := e.now()
	bet.Status = outcome(result, bet)
	bet.SettledAt = &settledAt
	bet.SettlementBatchID = result.SettlementBatchID
	ref := "BET-" + bet.ID

	var transitioned bool
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx storage.Store) error {
		ok, err := tx.TransitionBet(ctx, &bet)
		if err != nil || !ok {
			return err
		}
		transitioned = true

		switch bet.Status {
		case domain.BetSettledVoid:
			_, err = e.ledger.With(tx).RefundStake(ctx, bet.CustomerID, bet.Stake, ref)
		case domain.BetSettledWon:
			_, err = e.ledger.With(tx).CreditPayout(ctx, bet.CustomerID, bet.PotentialPayout, ref)
		}
		if err != nil {
			return err
		}

		key := domain.ExposureKey{EventID: bet.EventID, MarketType: bet.MarketType, Selection: bet.Selection}
		_, err = e.exposure.With(tx).Release(ctx, key, bet.Liability())
		return err
	})
	if err != nil || !transitioned {
		return false, err
	}

	e.metrics.IncBetSettled(string(bet.Status))
	e.publish(ctx, bet)
	return true, nil
}

func (e *Engine) publish(ctx context.Context, bet domain.Bet) {
	if e.publisher == nil {
		return
	}
	payout := "0.00"
	switch bet.Status {
	case domain.BetSettledWon:
		payout = money.Format(bet.PotentialPayout)
	case domain.BetSettledVoid:
		payout = money.Format(bet.Stake)
	}
	err := e.publisher.PublishBetSettled(ctx, events.BetSettled{
		BetID:             bet.ID,
		CustomerID:        bet.CustomerID,
		EventID:           bet.EventID,
		Status:            string(bet.Status),
		Payout:            payout,
		SettlementBatchID: bet.SettlementBatchID,
		Ts:                *bet.SettledAt,
	})
	if err != nil {
		e.log.Warn("publish bet_settled failed", zap.String("betId", bet.ID), zap.Error(err))
	}
}
