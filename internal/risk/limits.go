package risk

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/sportsbook-core/internal/domain"
	"github.com/radieske/sportsbook-core/internal/shared/apperr"
	"github.com/radieske/sportsbook-core/internal/shared/money"
)

// LimitRequest é o payload administrativo de setLimit. Campo nil remove o teto.
type LimitRequest struct {
	Scope                domain.LimitScope
	ScopeID              string
	MaxReservedLiability *decimal.Decimal
	MaxStakePerBet       *decimal.Decimal
}

// SetLimit cria ou substitui o limite de (scope, scopeId).
func (e *Engine) SetLimit(ctx context.Context, req LimitRequest) (domain.Limit, error) {
	if !req.Scope.Valid() {
		return domain.Limit{}, apperr.InvalidArgument("unknown limit scope %q", req.Scope)
	}
	scopeID := strings.TrimSpace(req.ScopeID)
	if req.Scope == domain.ScopeGlobal {
		scopeID = ""
	} else if scopeID == "" {
		return domain.Limit{}, apperr.InvalidArgument("scopeId required for %s limits", req.Scope)
	}

	l := domain.Limit{Scope: req.Scope, ScopeID: scopeID}
	var err error
	if l.MaxReservedLiability, err = nonNegative("maxReservedLiability", req.MaxReservedLiability); err != nil {
		return domain.Limit{}, err
	}
	if l.MaxStakePerBet, err = nonNegative("maxStakePerBet", req.MaxStakePerBet); err != nil {
		return domain.Limit{}, err
	}

	if err := e.limits.UpsertLimit(ctx, &l); err != nil {
		return domain.Limit{}, err
	}
	e.log.Info("risk limit set",
		zap.String("scope", string(l.Scope)),
		zap.String("scopeId", l.ScopeID),
		zap.Int64("id", l.ID),
	)
	return l, nil
}

func nonNegative(field string, v *decimal.Decimal) (*decimal.Decimal, error) {
	if v == nil {
		return nil, nil
	}
	if v.IsNegative() {
		return nil, apperr.InvalidArgument("%s must not be negative", field)
	}
	r := money.Money(*v)
	return &r, nil
}
