// Package idempotency garante no máximo uma execução por
// (scope, scopeKey, clientKey). Reexecuções idênticas devolvem a resposta gravada.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/radieske/sportsbook-core/internal/domain"
	"github.com/radieske/sportsbook-core/internal/shared/apperr"
	"github.com/radieske/sportsbook-core/internal/shared/lock"
	"github.com/radieske/sportsbook-core/internal/shared/logger"
	"github.com/radieske/sportsbook-core/internal/shared/metrics"
	"github.com/radieske/sportsbook-core/internal/storage"
)

type Executor struct {
	store   storage.IdempotencyRecords
	locker  lock.Locker
	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewExecutor cria o executor. locker nil desliga o lock de requisições em voo;
// a corrida de insert continua tratada.
func NewExecutor(store storage.IdempotencyRecords, locker lock.Locker, log *zap.Logger, m *metrics.Metrics) *Executor {
	return &Executor{store: store, locker: locker, log: logger.OrNop(log), metrics: m}
}

// Digest é o SHA-256 hex do JSON do payload. Structs serializam na ordem dos
// campos e mapas em ordem de chave, então o resultado é determinístico.
func Digest(request any) (string, error) {
	b, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("hash request: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Execute roda op no máximo uma vez por chave. Erros de op não são gravados,
// então o cliente pode repetir a mesma chave depois de uma falha.
func Execute[T any](ctx context.Context, e *Executor, scope domain.IdempotencyScope, scopeKey, clientKey string, request any, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if clientKey == "" {
		return zero, apperr.InvalidArgument("idempotency key required")
	}
	hash, err := Digest(request)
	if err != nil {
		return zero, err
	}
	fields := []zap.Field{
		zap.String("scope", string(scope)),
		zap.String("scopeKey", scopeKey),
		zap.String("key", clientKey),
	}

	if e.locker != nil {
		release, err := e.locker.Acquire(ctx, string(scope)+"|"+scopeKey+"|"+clientKey)
		if err != nil {
			return zero, fmt.Errorf("idempotency lock: %w", err)
		}
		defer release()
	}

	rec, err := e.store.GetIdempotencyRecord(ctx, scope, scopeKey, clientKey)
	switch {
	case err == nil:
		if rec.RequestHash != hash {
			e.metrics.IncIdempotencyConflict(string(scope))
			e.log.Warn("idempotency key reused with a different request", fields...)
			return zero, &apperr.IdempotencyConflictError{Scope: string(scope), ScopeKey: scopeKey, Key: clientKey}
		}
		var cached T
		if err := json.Unmarshal(rec.ResponseJSON, &cached); err != nil {
			return zero, fmt.Errorf("decode cached idempotency response: %w", err)
		}
		e.metrics.IncIdempotencyReplay(string(scope))
		e.log.Debug("idempotent replay", fields...)
		return cached, nil
	case !errors.Is(err, apperr.ErrNotFound):
		return zero, err
	}

	result, err := op(ctx)
	if err != nil {
		return zero, err
	}
	body, err := json.Marshal(result)
	if err != nil {
		return zero, fmt.Errorf("encode idempotency response: %w", err)
	}

	err = e.store.InsertIdempotencyRecord(ctx, &domain.IdempotencyRecord{
		Scope:        scope,
		ScopeKey:     scopeKey,
		ClientKey:    clientKey,
		RequestHash:  hash,
		ResponseJSON: body,
	})
	if err == nil {
		return result, nil
	}
	if !errors.Is(err, apperr.ErrDuplicate) {
		return zero, err
	}

	// outro chamador gravou a mesma chave entre o lookup e o insert
	winner, rerr := e.store.GetIdempotencyRecord(ctx, scope, scopeKey, clientKey)
	if rerr != nil {
		return zero, rerr
	}
	if winner.RequestHash == hash {
		e.log.Debug("idempotency insert race resolved, same request", fields...)
		return result, nil
	}
	e.metrics.IncIdempotencyConflict(string(scope))
	e.log.Error("idempotency insert race with a different request", fields...)
	return zero, &apperr.IdempotencyConflictError{Scope: string(scope), ScopeKey: scopeKey, Key: clientKey, Race: true}
}
