// Package risk avalia stake e passivo contra os limites configurados.
// Não reserva exposição; isso é feito pelo exposure.Ledger.
package risk

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/sportsbook-core/internal/domain"
	"github.com/radieske/sportsbook-core/internal/shared/apperr"
	"github.com/radieske/sportsbook-core/internal/shared/logger"
	"github.com/radieske/sportsbook-core/internal/shared/metrics"
	"github.com/radieske/sportsbook-core/internal/shared/money"
	"github.com/radieske/sportsbook-core/internal/storage"
)

type Decision string

const (
	Accept          Decision = "ACCEPT"
	AcceptWithLimit Decision = "ACCEPT_WITH_LIMIT"
	Reject          Decision = "REJECT"
)

// DefaultMaxStakePerBet vale quando nenhum escopo define teto de stake.
var DefaultMaxStakePerBet = decimal.NewFromInt(1000000)

type Result struct {
	Decision        Decision
	MaxAllowedStake decimal.Decimal // zero em REJECT
	RejectReason    string
}

func accept(stake decimal.Decimal) Result { return Result{Decision: Accept, MaxAllowedStake: stake} }

func acceptWithLimit(limit decimal.Decimal) Result {
	return Result{Decision: AcceptWithLimit, MaxAllowedStake: money.Money(limit)}
}

func reject(reason string) Result {
	return Result{Decision: Reject, MaxAllowedStake: decimal.Zero, RejectReason: reason}
}

// ExposureReader lê o passivo reservado atual (zero se a chave não existir).
type ExposureReader interface {
	Current(ctx context.Context, key domain.ExposureKey) (decimal.Decimal, error)
}

type Engine struct {
	limits          storage.Limits
	exposures       ExposureReader
	defaultMaxStake decimal.Decimal
	log             *zap.Logger
	metrics         *metrics.Metrics
}

func NewEngine(limits storage.Limits, exposures ExposureReader, defaultMaxStake decimal.Decimal, log *zap.Logger, m *metrics.Metrics) *Engine {
	return &Engine{
		limits:          limits,
		exposures:       exposures,
		defaultMaxStake: defaultMaxStake,
		log:             logger.OrNop(log),
		metrics:         m,
	}
}

// Evaluate decide ACCEPT / ACCEPT_WITH_LIMIT / REJECT para uma aposta.
func (e *Engine) Evaluate(ctx context.Context, key domain.ExposureKey, requestedStake, potentialLiability decimal.Decimal) (Result, error) {
	if !money.IsPositive(requestedStake) {
		return Result{}, apperr.InvalidArgument("stake must be positive")
	}
	res, err := e.evaluate(ctx, key, requestedStake, potentialLiability)
	if err != nil {
		return Result{}, err
	}
	e.metrics.ObserveDecision(string(res.Decision))
	e.log.Debug("risk decision",
		zap.String("key", key.String()),
		zap.String("stake", money.Format(requestedStake)),
		zap.String("liability", money.Format(potentialLiability)),
		zap.String("decision", string(res.Decision)),
		zap.String("maxAllowedStake", money.Format(res.MaxAllowedStake)),
	)
	return res, nil
}

func (e *Engine) evaluate(ctx context.Context, key domain.ExposureKey, requestedStake, potentialLiability decimal.Decimal) (Result, error) {
	// 1. teto de stake por aposta
	maxStake, found, err := e.resolve(ctx, key, func(l domain.Limit) *decimal.Decimal { return l.MaxStakePerBet })
	if err != nil {
		return Result{}, err
	}
	if !found {
		maxStake = e.defaultMaxStake
	}
	if requestedStake.GreaterThan(maxStake) {
		if !money.IsPositive(maxStake) {
			return reject("Stake limit exceeded: no bets allowed"), nil
		}
		return acceptWithLimit(maxStake), nil
	}

	// 2. teto de passivo da seleção
	maxLiability, found, err := e.resolve(ctx, key, func(l domain.Limit) *decimal.Decimal { return l.MaxReservedLiability })
	if err != nil {
		return Result{}, err
	}
	if !found || maxLiability.IsNegative() {
		return accept(requestedStake), nil
	}

	current, err := e.exposures.Current(ctx, key)
	if err != nil {
		return Result{}, err
	}
	if current.Add(potentialLiability).LessThanOrEqual(maxLiability) {
		return accept(requestedStake), nil
	}

	remaining := maxLiability.Sub(current)
	if !money.IsPositive(remaining) {
		return reject("Liability limit reached for selection"), nil
	}
	// passivo = stake × (odds - 1); arredonda a stake para baixo
	oddsMinusOne := money.OddsMinusOne(potentialLiability, requestedStake)
	if !money.IsPositive(oddsMinusOne) {
		return reject("Invalid odds for liability calculation"), nil
	}
	effectiveMax := decimal.Min(money.FloorDiv(remaining, oddsMinusOne), maxStake)
	if !money.IsPositive(effectiveMax) {
		return reject("Liability limit reached"), nil
	}
	if requestedStake.GreaterThan(effectiveMax) {
		return acceptWithLimit(effectiveMax), nil
	}
	return accept(requestedStake), nil
}

// resolve aplica a precedência seleção > evento > global; dentro de um escopo
// vale o menor valor configurado.
func (e *Engine) resolve(ctx context.Context, key domain.ExposureKey, field func(domain.Limit) *decimal.Decimal) (decimal.Decimal, bool, error) {
	scopes := []struct {
		scope domain.LimitScope
		id    string
	}{
		{domain.ScopeEventMarketSelection, key.ScopeID()},
		{domain.ScopeEvent, key.EventID},
		{domain.ScopeGlobal, ""},
	}
	for _, s := range scopes {
		limits, err := e.limits.ListLimits(ctx, s.scope, s.id)
		if err != nil {
			return decimal.Zero, false, err
		}
		var lowest *decimal.Decimal
		for _, l := range limits {
			if v := field(l); v != nil && (lowest == nil || v.LessThan(*lowest)) {
				lowest = v
			}
		}
		if lowest != nil {
			return *lowest, true, nil
		}
	}
	return decimal.Zero, false, nil
}
