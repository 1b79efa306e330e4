// Package exposure mantém o passivo reservado por (evento, mercado, seleção)
// com concorrência otimista: lê versão, calcula, grava condicionalmente e repete.
package exposure

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/sportsbook-core/internal/domain"
	"github.com/radieske/sportsbook-core/internal/shared/apperr"
	"github.com/radieske/sportsbook-core/internal/shared/logger"
	"github.com/radieske/sportsbook-core/internal/shared/metrics"
	"github.com/radieske/sportsbook-core/internal/shared/money"
	"github.com/radieske/sportsbook-core/internal/storage"
)

const (
	DefaultMaxAttempts = 10
	defaultBackoff     = 2 * time.Millisecond
)

type Ledger struct {
	store       storage.Exposures
	maxAttempts int
	backoff     time.Duration
	log         *zap.Logger
	metrics     *metrics.Metrics
}

type Option func(*Ledger)

// WithMaxAttempts limita o ciclo ler-calcular-gravar. n <= 0 mantém o default.
func WithMaxAttempts(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.maxAttempts = n
		}
	}
}

// WithBackoff define a pausa máxima (com jitter) entre tentativas. 0 desliga.
func WithBackoff(d time.Duration) Option {
	return func(l *Ledger) { l.backoff = d }
}

func New(store storage.Exposures, log *zap.Logger, m *metrics.Metrics, opts ...Option) *Ledger {
	l := &Ledger{
		store:       store,
		maxAttempts: DefaultMaxAttempts,
		backoff:     defaultBackoff,
		log:         logger.OrNop(log),
		metrics:     m,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// With devolve o ledger ligado a outro store (ex.: transação da liquidação).
func (l *Ledger) With(store storage.Exposures) *Ledger {
	cp := *l
	cp.store = store
	return &cp
}

// Reserve soma amount ao passivo da chave, criando a linha se ainda não existir.
func (l *Ledger) Reserve(ctx context.Context, key domain.ExposureKey, amount decimal.Decimal) (domain.Exposure, error) {
	amount = money.Money(amount)
	if !money.IsPositive(amount) {
		return domain.Exposure{}, apperr.InvalidArgument("reserve amount must be positive")
	}
	e, _, err := l.update(ctx, "reserve", key, true, func(cur decimal.Decimal) (decimal.Decimal, bool) {
		return cur.Add(amount), false
	})
	return e, err
}

// Release subtrai amount, travando em zero. amount <= 0 não faz nada.
func (l *Ledger) Release(ctx context.Context, key domain.ExposureKey, amount decimal.Decimal) (domain.Exposure, error) {
	amount = money.Money(amount)
	if !money.IsPositive(amount) {
		return domain.Exposure{}, nil
	}
	var before decimal.Decimal
	e, clamped, err := l.update(ctx, "release", key, false, func(cur decimal.Decimal) (decimal.Decimal, bool) {
		before = cur
		next := cur.Sub(amount)
		if next.IsNegative() {
			return decimal.Zero, true
		}
		return next, false
	})
	// anomalia registrada uma vez, só para a tentativa que venceu o CAS
	if err == nil && clamped {
		l.metrics.IncExposureClamp()
		l.log.Warn("exposure would go negative, clamping to zero",
			zap.String("key", key.String()),
			zap.String("reserved", money.Format(before)),
			zap.String("release", money.Format(amount)),
		)
	}
	return e, err
}

// update repete read + compute + CAS. O bool devolvido é o que compute
// retornou na tentativa que gravou.
func (l *Ledger) update(ctx context.Context, op string, key domain.ExposureKey, create bool, compute func(decimal.Decimal) (decimal.Decimal, bool)) (domain.Exposure, bool, error) {
	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		cur, err := l.read(ctx, key, create)
		if err != nil {
			return domain.Exposure{}, false, err
		}

		next, flag := compute(cur.ReservedLiability)
		ok, err := l.store.CompareAndSwapExposure(ctx, key, cur.Version, next)
		if err != nil {
			return domain.Exposure{}, false, err
		}
		if ok {
			cur.ReservedLiability = next
			cur.Version++
			return cur, flag, nil
		}

		l.metrics.IncExposureConflict()
		l.log.Debug("exposure version conflict, retrying",
			zap.String("op", op),
			zap.String("key", key.String()),
			zap.Int("attempt", attempt),
			zap.Int("maxAttempts", l.maxAttempts),
		)
		if attempt < l.maxAttempts {
			if err := l.pause(ctx); err != nil {
				return domain.Exposure{}, false, err
			}
		}
	}

	l.metrics.IncExposureExhausted()
	l.log.Error("max retries exceeded for exposure update",
		zap.String("op", op),
		zap.String("key", key.String()),
		zap.Int("attempts", l.maxAttempts),
	)
	return domain.Exposure{}, false, fmt.Errorf("%w: %s %s after %d attempts",
		apperr.ErrExposureConcurrencyExhausted, op, key, l.maxAttempts)
}

func (l *Ledger) read(ctx context.Context, key domain.ExposureKey, create bool) (domain.Exposure, error) {
	cur, err := l.store.GetExposure(ctx, key)
	if err == nil || !create || !errors.Is(err, apperr.ErrNotFound) {
		return cur, err
	}
	// outro chamador pode ter criado a linha entre o Get e o Create
	if err := l.store.CreateExposure(ctx, key); err != nil && !errors.Is(err, apperr.ErrDuplicate) {
		return domain.Exposure{}, err
	}
	return l.store.GetExposure(ctx, key)
}

func (l *Ledger) pause(ctx context.Context) error {
	if l.backoff <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(time.Duration(rand.Int63n(int64(l.backoff))) + time.Microsecond)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Current devolve o passivo reservado; chave inexistente vale zero.
func (l *Ledger) Current(ctx context.Context, key domain.ExposureKey) (decimal.Decimal, error) {
	e, err := l.store.GetExposure(ctx, key)
	if errors.Is(err, apperr.ErrNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return e.ReservedLiability, nil
}

// List devolve as exposições de um evento, ou todas se eventID for vazio.
func (l *Ledger) List(ctx context.Context, eventID string) ([]domain.Exposure, error) {
	return l.store.ListExposures(ctx, eventID)
}
