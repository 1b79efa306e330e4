// Package ledger é o livro-razão append-only por cliente. O saldo é sempre
// derivado da soma das entradas; não existe contador mutável.
package ledger

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/sportsbook-core/internal/domain"
	"github.com/radieske/sportsbook-core/internal/shared/apperr"
	"github.com/radieske/sportsbook-core/internal/shared/logger"
	"github.com/radieske/sportsbook-core/internal/shared/metrics"
	"github.com/radieske/sportsbook-core/internal/shared/money"
	"github.com/radieske/sportsbook-core/internal/storage"
)

type Ledger struct {
	store   storage.Store
	log     *zap.Logger
	metrics *metrics.Metrics
}

func New(store storage.Store, log *zap.Logger, m *metrics.Metrics) *Ledger {
	return &Ledger{store: store, log: logger.OrNop(log), metrics: m}
}

// With devolve o ledger ligado a outro Store (tipicamente uma transação).
func (l *Ledger) With(store storage.Store) *Ledger {
	cp := *l
	cp.store = store
	return &cp
}

// Debit valida saldo e grava o DEBIT na mesma transação, sob lock do cliente.
func (l *Ledger) Debit(ctx context.Context, customerID string, amount decimal.Decimal, ref domain.ReferenceType, refID string) (domain.LedgerEntry, error) {
	// arredonda antes de validar: 0.004 vira 0.00 e é rejeitado
	amount = money.Money(amount)
	if !money.IsPositive(amount) {
		return domain.LedgerEntry{}, apperr.InvalidArgument("debit amount must be positive")
	}

	var entry domain.LedgerEntry
	err := l.store.WithinTx(ctx, func(ctx context.Context, tx storage.Store) error {
		if err := tx.LockCustomer(ctx, customerID); err != nil {
			return err
		}
		balance, err := tx.SumBalance(ctx, customerID)
		if err != nil {
			return err
		}
		if balance.LessThan(amount) {
			return &apperr.InsufficientFundsError{CustomerID: customerID, Required: amount, Available: balance}
		}
		entry = newEntry(customerID, domain.EntryDebit, amount, ref, refID)
		return tx.InsertLedgerEntry(ctx, &entry)
	})
	if err != nil {
		return domain.LedgerEntry{}, err
	}

	l.metrics.IncLedgerEntry(string(domain.EntryDebit))
	l.log.Info("ledger debit",
		zap.String("customerId", customerID),
		zap.String("amount", money.Format(amount)),
		zap.String("reference", refID),
	)
	return entry, nil
}

// CreditPayout credita o prêmio de aposta vencedora. Sem checagem de saldo.
func (l *Ledger) CreditPayout(ctx context.Context, customerID string, amount decimal.Decimal, refID string) (domain.LedgerEntry, error) {
	return l.append(ctx, customerID, domain.EntryCredit, amount, domain.RefBetPayout, refID)
}

// RefundStake devolve a stake de aposta anulada.
func (l *Ledger) RefundStake(ctx context.Context, customerID string, amount decimal.Decimal, refID string) (domain.LedgerEntry, error) {
	return l.append(ctx, customerID, domain.EntryRefund, amount, domain.RefBetRefund, refID)
}

// Deposit credita fundos externos. É idempotente por (cliente, externalRef):
// repetir com o mesmo valor devolve a entrada original; valor diferente é conflito.
func (l *Ledger) Deposit(ctx context.Context, customerID string, amount decimal.Decimal, externalRef string) (domain.LedgerEntry, error) {
	externalRef = strings.TrimSpace(externalRef)
	if externalRef == "" {
		return domain.LedgerEntry{}, apperr.InvalidArgument("externalRef required")
	}
	amount = money.Money(amount)
	if !money.IsPositive(amount) {
		return domain.LedgerEntry{}, apperr.InvalidArgument("deposit amount must be positive")
	}
	ok, err := l.store.CustomerExists(ctx, customerID)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	if !ok {
		return domain.LedgerEntry{}, apperr.NotFound("Customer", customerID)
	}

	var entry domain.LedgerEntry
	err = l.store.WithinTx(ctx, func(ctx context.Context, tx storage.Store) error {
		if err := tx.LockCustomer(ctx, customerID); err != nil {
			return err
		}
		existing, err := tx.FindLedgerEntry(ctx, customerID, domain.RefDeposit, externalRef)
		switch {
		case err == nil:
			if !existing.Amount.Equal(amount) {
				return &apperr.IdempotencyConflictError{Scope: string(domain.RefDeposit), ScopeKey: customerID, Key: externalRef}
			}
			l.log.Debug("deposit replayed", zap.String("customerId", customerID), zap.String("reference", externalRef))
			entry = existing
			return nil
		case !errors.Is(err, apperr.ErrNotFound):
			return err
		}
		entry, err = l.With(tx).append(ctx, customerID, domain.EntryCredit, amount, domain.RefDeposit, externalRef)
		return err
	})
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	return entry, nil
}

func (l *Ledger) append(ctx context.Context, customerID string, typ domain.LedgerEntryType, amount decimal.Decimal, ref domain.ReferenceType, refID string) (domain.LedgerEntry, error) {
	amount = money.Money(amount)
	if !money.IsPositive(amount) {
		return domain.LedgerEntry{}, apperr.InvalidArgument("%s amount must be positive", typ)
	}
	entry := newEntry(customerID, typ, amount, ref, refID)
	if err := l.store.InsertLedgerEntry(ctx, &entry); err != nil {
		return domain.LedgerEntry{}, err
	}

	l.metrics.IncLedgerEntry(string(typ))
	l.log.Info("ledger entry",
		zap.String("type", string(typ)),
		zap.String("customerId", customerID),
		zap.String("amount", money.Format(entry.Amount)),
		zap.String("reference", refID),
	)
	return entry, nil
}

func newEntry(customerID string, typ domain.LedgerEntryType, amount decimal.Decimal, ref domain.ReferenceType, refID string) domain.LedgerEntry {
	return domain.LedgerEntry{
		CustomerID:    customerID,
		Type:          typ,
		Amount:        amount,
		Currency:      money.Currency,
		ReferenceType: ref,
		ReferenceID:   refID,
	}
}

// Balance agrega as entradas do cliente. Cliente sem entradas tem saldo zero.
func (l *Ledger) Balance(ctx context.Context, customerID string) (decimal.Decimal, error) {
	bal, err := l.store.SumBalance(ctx, customerID)
	if err != nil {
		return decimal.Zero, err
	}
	return money.Money(bal), nil
}

// List devolve as entradas mais recentes primeiro.
func (l *Ledger) List(ctx context.Context, customerID string, page storage.Page) ([]domain.LedgerEntry, error) {
	return l.store.ListLedgerEntries(ctx, customerID, page)
}
