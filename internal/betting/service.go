// Package betting orquestra a colocação de apostas:
// validação -> risco -> reserva de exposição -> débito + persistência, com compensação.
package betting

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/sportsbook-core/internal/domain"
	"github.com/radieske/sportsbook-core/internal/exposure"
	"github.com/radieske/sportsbook-core/internal/idempotency"
	"github.com/radieske/sportsbook-core/internal/ledger"
	"github.com/radieske/sportsbook-core/internal/risk"
	"github.com/radieske/sportsbook-core/internal/shared/apperr"
	"github.com/radieske/sportsbook-core/internal/shared/lock"
	"github.com/radieske/sportsbook-core/internal/shared/logger"
	"github.com/radieske/sportsbook-core/internal/shared/metrics"
	"github.com/radieske/sportsbook-core/internal/shared/money"
	"github.com/radieske/sportsbook-core/internal/storage"
	"github.com/radieske/sportsbook-core/pkg/contracts/events"
)

// PlaceBetRequest também é o payload usado no digest de idempotência.
type PlaceBetRequest struct {
	CustomerID string          `json:"customerId"`
	EventID    string          `json:"eventId"`
	MarketType string          `json:"marketType"`
	Selection  string          `json:"selection"`
	Odds       decimal.Decimal `json:"odds"`
	Stake      decimal.Decimal `json:"stake"`
}

// PlaceBetResult é gravado como resposta idempotente. Em REJECT, BetID e Status ficam vazios.
type PlaceBetResult struct {
	BetID           string           `json:"betId,omitempty"`
	Status          domain.BetStatus `json:"status,omitempty"`
	AcceptedStake   decimal.Decimal  `json:"acceptedStake"`
	PotentialPayout decimal.Decimal  `json:"potentialPayout"`
	Decision        risk.Decision    `json:"decision"`
	RejectReason    string           `json:"rejectReason,omitempty"`
}

// Publisher recebe bet_placed depois do commit. Falhas não desfazem a aposta.
type Publisher interface {
	PublishBetPlaced(ctx context.Context, e events.BetPlaced) error
}

type Deps struct {
	Store       storage.Store
	Risk        *risk.Engine
	Exposure    *exposure.Ledger
	Ledger      *ledger.Ledger
	Idempotency *idempotency.Executor
	// CustomerLocks serializa reserva + débito por cliente neste processo.
	// nil => lock.NewLocal().
	CustomerLocks lock.Locker
	Publisher     Publisher
	Log           *zap.Logger
	Metrics       *metrics.Metrics
}

type Service struct {
	store     storage.Store
	risk      *risk.Engine
	exposure  *exposure.Ledger
	ledger    *ledger.Ledger
	idem      *idempotency.Executor
	customers lock.Locker
	publisher Publisher
	log       *zap.Logger
	metrics   *metrics.Metrics

	newID func() string
}

func NewService(d Deps) *Service {
	if d.CustomerLocks == nil {
		d.CustomerLocks = lock.NewLocal()
	}
	return &Service{
		store:     d.Store,
		risk:      d.Risk,
		exposure:  d.Exposure,
		ledger:    d.Ledger,
		idem:      d.Idempotency,
		customers: d.CustomerLocks,
		publisher: d.Publisher,
		log:       logger.OrNop(d.Log),
		metrics:   d.Metrics,
		newID:     uuid.NewString,
	}
}

// PlaceBet é idempotente por (BET_PLACEMENT, customerId, clientKey).
func (s *Service) PlaceBet(ctx context.Context, req PlaceBetRequest, clientKey string) (PlaceBetResult, error) {
	start := time.Now()
	res, err := idempotency.Execute(ctx, s.idem, domain.ScopeBetPlacement, req.CustomerID, clientKey, req,
		func(ctx context.Context) (PlaceBetResult, error) { return s.place(ctx, req) })

	outcome := "error"
	if err == nil {
		outcome = strings.ToLower(string(res.Decision))
	}
	s.metrics.ObservePlacement(outcome, time.Since(start))
	return res, err
}

func (s *Service) GetBet(ctx context.Context, betID string) (domain.Bet, error) {
	return s.store.GetBet(ctx, betID)
}

func validate(req PlaceBetRequest) error {
	switch {
	case strings.TrimSpace(req.EventID) == "":
		return apperr.InvalidArgument("eventId required")
	case strings.TrimSpace(req.MarketType) == "":
		return apperr.InvalidArgument("marketType required")
	case strings.TrimSpace(req.Selection) == "":
		return apperr.InvalidArgument("selection required")
	case !money.ValidOdds(req.Odds):
		return apperr.InvalidArgument("odds must be at least %s", money.FormatOdds(money.MinOdds))
	case !money.IsPositive(money.Money(req.Stake)):
		return apperr.InvalidArgument("stake must be positive")
	}
	return nil
}

func (s *Service) place(ctx context.Context, req PlaceBetRequest) (PlaceBetResult, error) {
	ok, err := s.store.CustomerExists(ctx, req.CustomerID)
	if err != nil {
		return PlaceBetResult{}, err
	}
	if !ok {
		return PlaceBetResult{}, apperr.NotFound("Customer", req.CustomerID)
	}
	if err := validate(req); err != nil {
		return PlaceBetResult{}, err
	}

	key := domain.ExposureKey{EventID: req.EventID, MarketType: req.MarketType, Selection: req.Selection}
	odds := money.Odds(req.Odds)
	stake := money.Money(req.Stake)

	decision, err := s.risk.Evaluate(ctx, key, stake, money.Liability(stake, odds))
	if err != nil {
		return PlaceBetResult{}, err
	}
	if decision.Decision == risk.Reject {
		s.log.Info("bet rejected",
			zap.String("customerId", req.CustomerID),
			zap.String("key", key.String()),
			zap.String("reason", decision.RejectReason),
		)
		return PlaceBetResult{
			AcceptedStake:   decimal.Zero,
			PotentialPayout: decimal.Zero,
			Decision:        risk.Reject,
			RejectReason:    decision.RejectReason,
		}, nil
	}

	accepted := money.Money(decision.MaxAllowedStake)
	payout := money.PotentialPayout(accepted, odds)
	liability := payout.Sub(accepted)

	release, err := s.customers.Acquire(ctx, "customer:"+req.CustomerID)
	if err != nil {
		return PlaceBetResult{}, err
	}
	defer release()

	// exposição é reservada antes de qualquer movimento de dinheiro
	if money.IsPositive(liability) {
		if _, err := s.exposure.Reserve(ctx, key, liability); err != nil {
			return PlaceBetResult{}, err
		}
	}

	bet := domain.Bet{
		ID:              s.newID(),
		CustomerID:      req.CustomerID,
		EventID:         req.EventID,
		MarketType:      req.MarketType,
		Selection:       req.Selection,
		Odds:            odds,
		Stake:           accepted,
		PotentialPayout: payout,
		Status:          domain.BetPlaced,
	}
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Store) error {
		if _, err := s.ledger.With(tx).Debit(ctx, bet.CustomerID, accepted, domain.RefBetStake, "BET-"+bet.ID); err != nil {
			return err
		}
		return tx.InsertBet(ctx, &bet)
	})
	if err != nil {
		s.compensate(ctx, key, liability, req.CustomerID, err)
		return PlaceBetResult{}, err
	}

	s.log.Info("bet placed",
		zap.String("betId", bet.ID),
		zap.String("customerId", bet.CustomerID),
		zap.String("key", key.String()),
		zap.String("stake", money.Format(accepted)),
		zap.String("decision", string(decision.Decision)),
	)
	s.publish(ctx, bet, decision.Decision)

	return PlaceBetResult{
		BetID:           bet.ID,
		Status:          domain.BetPlaced,
		AcceptedStake:   accepted,
		PotentialPayout: payout,
		Decision:        decision.Decision,
	}, nil
}

// compensate desfaz a reserva quando débito/persistência falham. O erro original
// é sempre o que sobe; falha aqui só é registrada.
func (s *Service) compensate(ctx context.Context, key domain.ExposureKey, liability decimal.Decimal, customerID string, cause error) {
	if !money.IsPositive(liability) {
		return
	}
	// o ctx da requisição pode já ter expirado; a compensação precisa rodar mesmo assim
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if _, err := s.exposure.Release(cctx, key, liability); err != nil {
		s.metrics.IncCompensation("failed")
		s.log.Error("exposure compensation failed",
			zap.String("customerId", customerID),
			zap.String("key", key.String()),
			zap.String("liability", money.Format(liability)),
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
		return
	}
	s.metrics.IncCompensation("applied")
	s.log.Warn("exposure compensated after failed placement",
		zap.String("customerId", customerID),
		zap.String("key", key.String()),
		zap.String("liability", money.Format(liability)),
		zap.NamedError("cause", cause),
	)
}

func (s *Service) publish(ctx context.Context, bet domain.Bet, decision risk.Decision) {
	if s.publisher == nil {
		return
	}
	err := s.publisher.PublishBetPlaced(ctx, events.BetPlaced{
		BetID:           bet.ID,
		CustomerID:      bet.CustomerID,
		EventID:         bet.EventID,
		MarketType:      bet.MarketType,
		Selection:       bet.Selection,
		Odds:            money.FormatOdds(bet.Odds),
		Stake:           money.Format(bet.Stake),
		PotentialPayout: money.Format(bet.PotentialPayout),
		Decision:        string(decision),
	})
	if err != nil {
		s.log.Warn("publish bet_placed failed", zap.String("betId", bet.ID), zap.Error(err))
	}
}
