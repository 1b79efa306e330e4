// Package storage define o contrato do colaborador de persistência usado pelo núcleo.
//
// Implementações devem garantir: update condicional atômico de linha (Exposure),
// insert com unicidade (IdempotencyRecord, EventResult) e escrita transacional de
// várias linhas via WithinTx. Violação de unicidade é devolvida como apperr.ErrDuplicate.
package storage

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/radieske/sportsbook-core/internal/domain"
)

// Page pagina listagens. Number começa em 0.
type Page struct {
	Number int
	Size   int
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	// MaxPageNumber mantém Number*Size longe de overflow.
	MaxPageNumber = 1_000_000
)

// Normalize aplica defaults e limites de tamanho.
func (p Page) Normalize() Page {
	if p.Number < 0 {
		p.Number = 0
	}
	if p.Number > MaxPageNumber {
		p.Number = MaxPageNumber
	}
	if p.Size <= 0 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

func (p Page) Offset() int { return p.Number * p.Size }

type Customers interface {
	CustomerExists(ctx context.Context, customerID string) (bool, error)
}

type LedgerEntries interface {
	// SumBalance agrega CREDIT + REFUND - DEBIT das entradas do cliente.
	SumBalance(ctx context.Context, customerID string) (decimal.Decimal, error)
	InsertLedgerEntry(ctx context.Context, e *domain.LedgerEntry) error
	ListLedgerEntries(ctx context.Context, customerID string, page Page) ([]domain.LedgerEntry, error)
	// FindLedgerEntry busca a entrada mais antiga com (ref, refID). NotFound se não houver.
	FindLedgerEntry(ctx context.Context, customerID string, ref domain.ReferenceType, refID string) (domain.LedgerEntry, error)
	// LockCustomer serializa leitura de saldo + débito por cliente até o fim da transação.
	LockCustomer(ctx context.Context, customerID string) error
}

type Exposures interface {
	GetExposure(ctx context.Context, key domain.ExposureKey) (domain.Exposure, error)
	// CreateExposure insere a linha com passivo zero e versão 0.
	CreateExposure(ctx context.Context, key domain.ExposureKey) error
	// CompareAndSwapExposure grava o novo passivo somente se a versão ainda for expectedVersion.
	CompareAndSwapExposure(ctx context.Context, key domain.ExposureKey, expectedVersion int64, liability decimal.Decimal) (bool, error)
	ListExposures(ctx context.Context, eventID string) ([]domain.Exposure, error)
}

type Limits interface {
	ListLimits(ctx context.Context, scope domain.LimitScope, scopeID string) ([]domain.Limit, error)
	UpsertLimit(ctx context.Context, l *domain.Limit) error
}

type Bets interface {
	InsertBet(ctx context.Context, b *domain.Bet) error
	GetBet(ctx context.Context, betID string) (domain.Bet, error)
	ListBetsByEvent(ctx context.Context, eventID string, status domain.BetStatus) ([]domain.Bet, error)
	// TransitionBet move PLACED -> status terminal. Devolve false se a aposta já saiu de PLACED.
	TransitionBet(ctx context.Context, b *domain.Bet) (bool, error)
}

type EventResults interface {
	GetEventResult(ctx context.Context, eventID string) (domain.EventResult, error)
	InsertEventResult(ctx context.Context, r *domain.EventResult) error
	// ListEventsPendingSettlement devolve eventos apurados que ainda têm apostas PLACED.
	ListEventsPendingSettlement(ctx context.Context) ([]string, error)
}

type IdempotencyRecords interface {
	GetIdempotencyRecord(ctx context.Context, scope domain.IdempotencyScope, scopeKey, clientKey string) (domain.IdempotencyRecord, error)
	InsertIdempotencyRecord(ctx context.Context, r *domain.IdempotencyRecord) error
}

// Store agrega todos os repositórios e a fronteira transacional.
type Store interface {
	Customers
	LedgerEntries
	Exposures
	Limits
	Bets
	EventResults
	IdempotencyRecords

	// WithinTx executa fn com um Store ligado a uma transação; commit se fn devolver nil.
	// Chamadas aninhadas reutilizam a transação corrente.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error

	Ping(ctx context.Context) error
}
