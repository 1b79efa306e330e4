package apperr

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Erros sentinela do núcleo. Os tipos abaixo carregam os detalhes e casam
// com estes valores via errors.Is.
var (
	ErrNotFound                     = errors.New("not found")
	ErrInvalidArgument              = errors.New("invalid argument")
	ErrInsufficientFunds            = errors.New("insufficient funds")
	ErrIdempotencyConflict          = errors.New("idempotency key reused with a different request")
	ErrExposureConcurrencyExhausted = errors.New("exposure update retries exhausted")
	ErrStorage                      = errors.New("storage failure")

	// ErrDuplicate sinaliza violação de unicidade no storage (ex.: chave de
	// idempotência ou resultado de evento já gravados).
	ErrDuplicate = errors.New("duplicate row")
)

// NotFoundError indica que um recurso (Customer, Bet, Exposure...) não existe.
type NotFoundError struct {
	Resource string
	ID       string
}

func NotFound(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s not found: %s", e.Resource, e.ID) }
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InvalidArgument embrulha ErrInvalidArgument com o motivo.
func InvalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// InsufficientFundsError é devolvido pelo débito quando o saldo derivado não cobre o valor.
type InsufficientFundsError struct {
	CustomerID string
	Required   decimal.Decimal
	Available  decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: customer %s has %s, required %s",
		e.CustomerID, e.Available.StringFixed(2), e.Required.StringFixed(2))
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// IdempotencyConflictError: mesma chave, payload diferente. Erro do cliente, nunca reconciliado.
type IdempotencyConflictError struct {
	Scope    string
	ScopeKey string
	Key      string
	// Race indica que o conflito só apareceu na corrida de insert.
	Race bool
}

func (e *IdempotencyConflictError) Error() string {
	if e.Race {
		return fmt.Sprintf("idempotency key %q for scope %s/%s inserted concurrently with a different request",
			e.Key, e.Scope, e.ScopeKey)
	}
	return fmt.Sprintf("idempotency key %q for scope %s/%s already used with a different request",
		e.Key, e.Scope, e.ScopeKey)
}

func (e *IdempotencyConflictError) Unwrap() error { return ErrIdempotencyConflict }

// StorageError embrulha falhas do driver. Casa com ErrStorage e com o erro original.
type StorageError struct {
	Op  string
	Err error
}

func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

func (e *StorageError) Error() string   { return fmt.Sprintf("storage %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() []error { return []error{ErrStorage, e.Err} }

// IsClient reporta erros causados pela entrada do chamador. Repetir não ajuda.
func IsClient(err error) bool {
	return errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrIdempotencyConflict)
}
