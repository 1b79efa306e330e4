// Package memory implementa storage.Store em memória, para ENV=local e testes.
//
// Operações fora de transação seguram o lock global só durante a chamada, então
// ciclos ler-calcular-gravar de chamadores diferentes se intercalam como num banco
// real. WithinTx segura o lock global por toda a transação (serializável) e
// desfaz as mutações em ordem reversa se fn falhar.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/radieske/sportsbook-core/internal/domain"
	"github.com/radieske/sportsbook-core/internal/shared/apperr"
	"github.com/radieske/sportsbook-core/internal/storage"
)

type state struct {
	mu sync.Mutex

	customers   map[string]struct{}
	entries     map[string][]domain.LedgerEntry
	nextEntryID int64
	exposures   map[domain.ExposureKey]domain.Exposure
	limits      map[limitKey]domain.Limit
	nextLimitID int64
	bets        map[string]domain.Bet
	results     map[string]domain.EventResult
	idempotency map[idemKey]domain.IdempotencyRecord
}

type limitKey struct {
	scope   domain.LimitScope
	scopeID string
}

type idemKey struct {
	scope     domain.IdempotencyScope
	scopeKey  string
	clientKey string
}

// Store é o handle público. Quando tx != nil o lock global já está seguro.
type Store struct {
	st *state
	tx *txLog
}

type txLog struct {
	undo []func()
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	return &Store{st: &state{
		customers:   make(map[string]struct{}),
		entries:     make(map[string][]domain.LedgerEntry),
		exposures:   make(map[domain.ExposureKey]domain.Exposure),
		limits:      make(map[limitKey]domain.Limit),
		bets:        make(map[string]domain.Bet),
		results:     make(map[string]domain.EventResult),
		idempotency: make(map[idemKey]domain.IdempotencyRecord),
	}}
}

func (s *Store) lock() func() {
	if s.tx != nil {
		return func() {}
	}
	s.st.mu.Lock()
	return s.st.mu.Unlock
}

func (s *Store) onRollback(fn func()) {
	if s.tx != nil {
		s.tx.undo = append(s.tx.undo, fn)
	}
}

func now() time.Time { return time.Now().UTC() }

// AddCustomer cadastra um cliente (o cadastro real é colaborador externo).
func (s *Store) AddCustomer(customerID string) {
	defer s.lock()()
	s.st.customers[customerID] = struct{}{}
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx storage.Store) error) error {
	if s.tx != nil {
		return fn(ctx, s)
	}
	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	tx := &Store{st: s.st, tx: &txLog{}}
	if err := fn(ctx, tx); err != nil {
		for i := len(tx.tx.undo) - 1; i >= 0; i-- {
			tx.tx.undo[i]()
		}
		return err
	}
	return nil
}

func (s *Store) CustomerExists(_ context.Context, customerID string) (bool, error) {
	defer s.lock()()
	_, ok := s.st.customers[customerID]
	return ok, nil
}

// ---- ledger ----

func (s *Store) SumBalance(_ context.Context, customerID string) (decimal.Decimal, error) {
	defer s.lock()()
	sum := decimal.Zero
	for _, e := range s.st.entries[customerID] {
		sum = sum.Add(e.Signed())
	}
	return sum, nil
}

func (s *Store) InsertLedgerEntry(_ context.Context, e *domain.LedgerEntry) error {
	defer s.lock()()
	s.st.nextEntryID++
	e.ID = s.st.nextEntryID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now()
	}
	customer := e.CustomerID
	s.st.entries[customer] = append(s.st.entries[customer], *e)
	s.onRollback(func() {
		list := s.st.entries[customer]
		s.st.entries[customer] = list[:len(list)-1]
	})
	return nil
}

func (s *Store) ListLedgerEntries(_ context.Context, customerID string, page storage.Page) ([]domain.LedgerEntry, error) {
	defer s.lock()()
	page = page.Normalize()
	all := s.st.entries[customerID]
	offset := page.Offset()
	if offset < 0 || offset >= len(all) {
		return []domain.LedgerEntry{}, nil
	}
	out := make([]domain.LedgerEntry, 0, page.Size)
	// mais recentes primeiro
	for i := len(all) - 1 - offset; i >= 0 && len(out) < page.Size; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (s *Store) FindLedgerEntry(_ context.Context, customerID string, ref domain.ReferenceType, refID string) (domain.LedgerEntry, error) {
	defer s.lock()()
	for _, e := range s.st.entries[customerID] {
		if e.ReferenceType == ref && e.ReferenceID == refID {
			return e, nil
		}
	}
	return domain.LedgerEntry{}, apperr.NotFound("LedgerEntry", string(ref)+":"+refID)
}

// LockCustomer é implícito: a transação em memória já é serializável.
func (s *Store) LockCustomer(context.Context, string) error { return nil }

// ---- exposure ----

func (s *Store) GetExposure(_ context.Context, key domain.ExposureKey) (domain.Exposure, error) {
	defer s.lock()()
	e, ok := s.st.exposures[key]
	if !ok {
		return domain.Exposure{}, apperr.NotFound("Exposure", key.String())
	}
	return e, nil
}

func (s *Store) CreateExposure(_ context.Context, key domain.ExposureKey) error {
	defer s.lock()()
	if _, ok := s.st.exposures[key]; ok {
		return apperr.ErrDuplicate
	}
	s.st.exposures[key] = domain.Exposure{Key: key, ReservedLiability: decimal.Zero, Version: 0, UpdatedAt: now()}
	s.onRollback(func() { delete(s.st.exposures, key) })
	return nil
}

func (s *Store) CompareAndSwapExposure(_ context.Context, key domain.ExposureKey, expectedVersion int64, liability decimal.Decimal) (bool, error) {
	defer s.lock()()
	cur, ok := s.st.exposures[key]
	if !ok || cur.Version != expectedVersion {
		return false, nil
	}
	prev := cur
	cur.ReservedLiability = liability
	cur.Version++
	cur.UpdatedAt = now()
	s.st.exposures[key] = cur
	s.onRollback(func() { s.st.exposures[key] = prev })
	return true, nil
}

func (s *Store) ListExposures(_ context.Context, eventID string) ([]domain.Exposure, error) {
	defer s.lock()()
	out := make([]domain.Exposure, 0)
	for k, e := range s.st.exposures {
		if eventID == "" || k.EventID == eventID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.ScopeID() < out[j].Key.ScopeID() })
	return out, nil
}

// ---- limits ----

func (s *Store) ListLimits(_ context.Context, scope domain.LimitScope, scopeID string) ([]domain.Limit, error) {
	defer s.lock()()
	l, ok := s.st.limits[limitKey{scope, scopeID}]
	if !ok {
		return nil, nil
	}
	return []domain.Limit{l}, nil
}

func (s *Store) UpsertLimit(_ context.Context, l *domain.Limit) error {
	defer s.lock()()
	k := limitKey{l.Scope, l.ScopeID}
	prev, existed := s.st.limits[k]
	if existed {
		l.ID = prev.ID
	} else {
		s.st.nextLimitID++
		l.ID = s.st.nextLimitID
	}
	l.UpdatedAt = now()
	s.st.limits[k] = *l
	s.onRollback(func() {
		if existed {
			s.st.limits[k] = prev
		} else {
			delete(s.st.limits, k)
		}
	})
	return nil
}

// ---- bets ----

func (s *Store) InsertBet(_ context.Context, b *domain.Bet) error {
	defer s.lock()()
	if _, ok := s.st.bets[b.ID]; ok {
		return apperr.ErrDuplicate
	}
	if b.PlacedAt.IsZero() {
		b.PlacedAt = now()
	}
	s.st.bets[b.ID] = *b
	id := b.ID
	s.onRollback(func() { delete(s.st.bets, id) })
	return nil
}

func (s *Store) GetBet(_ context.Context, betID string) (domain.Bet, error) {
	defer s.lock()()
	b, ok := s.st.bets[betID]
	if !ok {
		return domain.Bet{}, apperr.NotFound("Bet", betID)
	}
	return b, nil
}

func (s *Store) ListBetsByEvent(_ context.Context, eventID string, status domain.BetStatus) ([]domain.Bet, error) {
	defer s.lock()()
	out := make([]domain.Bet, 0)
	for _, b := range s.st.bets {
		if b.EventID == eventID && b.Status == status {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PlacedAt.Equal(out[j].PlacedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].PlacedAt.Before(out[j].PlacedAt)
	})
	return out, nil
}

func (s *Store) TransitionBet(_ context.Context, b *domain.Bet) (bool, error) {
	defer s.lock()()
	cur, ok := s.st.bets[b.ID]
	if !ok {
		return false, apperr.NotFound("Bet", b.ID)
	}
	if cur.Status != domain.BetPlaced {
		return false, nil
	}
	prev := cur
	cur.Status = b.Status
	cur.SettledAt = b.SettledAt
	cur.SettlementBatchID = b.SettlementBatchID
	s.st.bets[b.ID] = cur
	id := b.ID
	s.onRollback(func() { s.st.bets[id] = prev })
	return true, nil
}

// ---- results ----

func (s *Store) GetEventResult(_ context.Context, eventID string) (domain.EventResult, error) {
	defer s.lock()()
	r, ok := s.st.results[eventID]
	if !ok {
		return domain.EventResult{}, apperr.NotFound("EventResult", eventID)
	}
	return r, nil
}

func (s *Store) InsertEventResult(_ context.Context, r *domain.EventResult) error {
	defer s.lock()()
	if _, ok := s.st.results[r.EventID]; ok {
		return apperr.ErrDuplicate
	}
	if r.ResultedAt.IsZero() {
		r.ResultedAt = now()
	}
	s.st.results[r.EventID] = *r
	id := r.EventID
	s.onRollback(func() { delete(s.st.results, id) })
	return nil
}

func (s *Store) ListEventsPendingSettlement(context.Context) ([]string, error) {
	defer s.lock()()
	pending := make(map[string]struct{})
	for _, b := range s.st.bets {
		if b.Status != domain.BetPlaced {
			continue
		}
		if _, ok := s.st.results[b.EventID]; ok {
			pending[b.EventID] = struct{}{}
		}
	}
	out := make([]string, 0, len(pending))
	for id := range pending {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// ---- idempotency ----

func (s *Store) GetIdempotencyRecord(_ context.Context, scope domain.IdempotencyScope, scopeKey, clientKey string) (domain.IdempotencyRecord, error) {
	defer s.lock()()
	r, ok := s.st.idempotency[idemKey{scope, scopeKey, clientKey}]
	if !ok {
		return domain.IdempotencyRecord{}, apperr.NotFound("IdempotencyRecord", clientKey)
	}
	r.ResponseJSON = append([]byte(nil), r.ResponseJSON...)
	return r, nil
}

func (s *Store) InsertIdempotencyRecord(_ context.Context, r *domain.IdempotencyRecord) error {
	defer s.lock()()
	k := idemKey{r.Scope, r.ScopeKey, r.ClientKey}
	if _, ok := s.st.idempotency[k]; ok {
		return apperr.ErrDuplicate
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now()
	}
	rec := *r
	rec.ResponseJSON = append([]byte(nil), r.ResponseJSON...)
	s.st.idempotency[k] = rec
	s.onRollback(func() { delete(s.st.idempotency, k) })
	return nil
}
