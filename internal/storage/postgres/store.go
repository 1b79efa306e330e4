// Package postgres implementa storage.Store sobre database/sql + lib/pq.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/radieske/sportsbook-core/internal/domain"
	"github.com/radieske/sportsbook-core/internal/shared/apperr"
	"github.com/radieske/sportsbook-core/internal/storage"
)

//go:embed schema.sql
var schema string

// querier é satisfeito por *sql.DB e *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db *sql.DB
	q  querier
	tx *sql.Tx
}

var _ storage.Store = (*Store)(nil)

func New(db *sql.DB) *Store { return &Store{db: db, q: db} }

// Migrate aplica o schema (idempotente).
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return apperr.Storage("ping", s.db.PingContext(ctx))
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx storage.Store) error) error {
	if s.tx != nil {
		return fn(ctx, s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Storage("begin tx", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &Store{db: s.db, q: tx, tx: tx}); err != nil {
		return err
	}
	return apperr.Storage("commit tx", tx.Commit())
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

// insertedOne traduz "ON CONFLICT DO NOTHING" sem linha afetada em ErrDuplicate,
// sem abortar a transação corrente.
func insertedOne(op string, res sql.Result, err error) error {
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.ErrDuplicate
		}
		return apperr.Storage(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Storage(op, err)
	}
	if n == 0 {
		return apperr.ErrDuplicate
	}
	return nil
}

func (s *Store) CustomerExists(ctx context.Context, customerID string) (bool, error) {
	var exists bool
	err := s.q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM customers WHERE id=$1)`, customerID).Scan(&exists)
	return exists, apperr.Storage("customer exists", err)
}

// AddCustomer cadastra um cliente. Usado por seed e testes de integração.
func (s *Store) AddCustomer(ctx context.Context, customerID string) error {
	_, err := s.q.ExecContext(ctx, `INSERT INTO customers(id) VALUES($1) ON CONFLICT DO NOTHING`, customerID)
	return apperr.Storage("add customer", err)
}

// ---- ledger ----

func (s *Store) SumBalance(ctx context.Context, customerID string) (decimal.Decimal, error) {
	var bal decimal.Decimal
	err := s.q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CASE WHEN entry_type='DEBIT' THEN -amount ELSE amount END), 0)
		FROM ledger_entries WHERE customer_id=$1`, customerID).Scan(&bal)
	if err != nil {
		return decimal.Zero, apperr.Storage("sum balance", err)
	}
	return bal, nil
}

func (s *Store) InsertLedgerEntry(ctx context.Context, e *domain.LedgerEntry) error {
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO ledger_entries(customer_id, entry_type, amount, currency, reference_type, reference_id)
		VALUES($1,$2,$3,$4,$5,$6)
		RETURNING id, created_at`,
		e.CustomerID, string(e.Type), e.Amount, e.Currency, string(e.ReferenceType), e.ReferenceID,
	).Scan(&e.ID, &e.CreatedAt)
	if isUniqueViolation(err) {
		return apperr.ErrDuplicate
	}
	return apperr.Storage("insert ledger entry", err)
}

func (s *Store) ListLedgerEntries(ctx context.Context, customerID string, page storage.Page) ([]domain.LedgerEntry, error) {
	page = page.Normalize()
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, customer_id, entry_type, amount, currency, reference_type, reference_id, created_at
		FROM ledger_entries
		WHERE customer_id=$1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, customerID, page.Size, page.Offset())
	if err != nil {
		return nil, apperr.Storage("list ledger entries", err)
	}
	defer rows.Close()

	out := make([]domain.LedgerEntry, 0, page.Size)
	for rows.Next() {
		var e domain.LedgerEntry
		var typ, ref string
		if err := rows.Scan(&e.ID, &e.CustomerID, &typ, &e.Amount, &e.Currency, &ref, &e.ReferenceID, &e.CreatedAt); err != nil {
			return nil, apperr.Storage("scan ledger entry", err)
		}
		e.Type = domain.LedgerEntryType(typ)
		e.ReferenceType = domain.ReferenceType(ref)
		out = append(out, e)
	}
	return out, apperr.Storage("list ledger entries", rows.Err())
}

func (s *Store) FindLedgerEntry(ctx context.Context, customerID string, ref domain.ReferenceType, refID string) (domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	var typ, rt string
	err := s.q.QueryRowContext(ctx, `
		SELECT id, customer_id, entry_type, amount, currency, reference_type, reference_id, created_at
		FROM ledger_entries
		WHERE customer_id=$1 AND reference_type=$2 AND reference_id=$3
		ORDER BY id
		LIMIT 1`, customerID, string(ref), refID,
	).Scan(&e.ID, &e.CustomerID, &typ, &e.Amount, &e.Currency, &rt, &e.ReferenceID, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.LedgerEntry{}, apperr.NotFound("LedgerEntry", string(ref)+":"+refID)
	}
	if err != nil {
		return domain.LedgerEntry{}, apperr.Storage("find ledger entry", err)
	}
	e.Type = domain.LedgerEntryType(typ)
	e.ReferenceType = domain.ReferenceType(rt)
	return e, nil
}

// LockCustomer pega um advisory lock transacional por cliente.
func (s *Store) LockCustomer(ctx context.Context, customerID string) error {
	if s.tx == nil {
		return apperr.Storage("lock customer", errors.New("customer lock requires a transaction"))
	}
	_, err := s.q.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "customer:"+customerID)
	return apperr.Storage("lock customer", err)
}

// ---- exposure ----

func (s *Store) GetExposure(ctx context.Context, key domain.ExposureKey) (domain.Exposure, error) {
	e := domain.Exposure{Key: key}
	err := s.q.QueryRowContext(ctx, `
		SELECT reserved_liability, version, updated_at
		FROM exposures WHERE event_id=$1 AND market_type=$2 AND selection=$3`,
		key.EventID, key.MarketType, key.Selection,
	).Scan(&e.ReservedLiability, &e.Version, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Exposure{}, apperr.NotFound("Exposure", key.String())
	}
	if err != nil {
		return domain.Exposure{}, apperr.Storage("get exposure", err)
	}
	return e, nil
}

func (s *Store) CreateExposure(ctx context.Context, key domain.ExposureKey) error {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO exposures(event_id, market_type, selection, reserved_liability, version)
		VALUES($1,$2,$3,0,0)
		ON CONFLICT DO NOTHING`, key.EventID, key.MarketType, key.Selection)
	return insertedOne("create exposure", res, err)
}

func (s *Store) CompareAndSwapExposure(ctx context.Context, key domain.ExposureKey, expectedVersion int64, liability decimal.Decimal) (bool, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE exposures
		SET reserved_liability=$4, version=version+1, updated_at=now()
		WHERE event_id=$1 AND market_type=$2 AND selection=$3 AND version=$5`,
		key.EventID, key.MarketType, key.Selection, liability, expectedVersion)
	if err != nil {
		return false, apperr.Storage("cas exposure", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Storage("cas exposure", err)
	}
	return n == 1, nil
}

func (s *Store) ListExposures(ctx context.Context, eventID string) ([]domain.Exposure, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT event_id, market_type, selection, reserved_liability, version, updated_at
		FROM exposures
		WHERE $1 = '' OR event_id = $1
		ORDER BY event_id, market_type, selection`, eventID)
	if err != nil {
		return nil, apperr.Storage("list exposures", err)
	}
	defer rows.Close()

	out := make([]domain.Exposure, 0)
	for rows.Next() {
		var e domain.Exposure
		if err := rows.Scan(&e.Key.EventID, &e.Key.MarketType, &e.Key.Selection, &e.ReservedLiability, &e.Version, &e.UpdatedAt); err != nil {
			return nil, apperr.Storage("scan exposure", err)
		}
		out = append(out, e)
	}
	return out, apperr.Storage("list exposures", rows.Err())
}

// ---- limits ----

func (s *Store) ListLimits(ctx context.Context, scope domain.LimitScope, scopeID string) ([]domain.Limit, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, scope, scope_id, max_reserved_liability, max_stake_per_bet, updated_at
		FROM limits WHERE scope=$1 AND scope_id=$2`, string(scope), scopeID)
	if err != nil {
		return nil, apperr.Storage("list limits", err)
	}
	defer rows.Close()

	var out []domain.Limit
	for rows.Next() {
		var l domain.Limit
		var sc string
		var maxLiab, maxStake decimal.NullDecimal
		if err := rows.Scan(&l.ID, &sc, &l.ScopeID, &maxLiab, &maxStake, &l.UpdatedAt); err != nil {
			return nil, apperr.Storage("scan limit", err)
		}
		l.Scope = domain.LimitScope(sc)
		if maxLiab.Valid {
			l.MaxReservedLiability = &maxLiab.Decimal
		}
		if maxStake.Valid {
			l.MaxStakePerBet = &maxStake.Decimal
		}
		out = append(out, l)
	}
	return out, apperr.Storage("list limits", rows.Err())
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(*d)
}

func (s *Store) UpsertLimit(ctx context.Context, l *domain.Limit) error {
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO limits(scope, scope_id, max_reserved_liability, max_stake_per_bet)
		VALUES($1,$2,$3,$4)
		ON CONFLICT (scope, scope_id) DO UPDATE
		SET max_reserved_liability=EXCLUDED.max_reserved_liability,
		    max_stake_per_bet=EXCLUDED.max_stake_per_bet,
		    updated_at=now()
		RETURNING id, updated_at`,
		string(l.Scope), l.ScopeID, nullDecimal(l.MaxReservedLiability), nullDecimal(l.MaxStakePerBet),
	).Scan(&l.ID, &l.UpdatedAt)
	return apperr.Storage("upsert limit", err)
}

// ---- bets ----

const betColumns = `id, customer_id, event_id, market_type, selection, odds, stake, potential_payout,
	status, placed_at, settled_at, settlement_batch_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBet(r rowScanner) (domain.Bet, error) {
	var b domain.Bet
	var status string
	var settledAt sql.NullTime
	var batch sql.NullString
	if err := r.Scan(&b.ID, &b.CustomerID, &b.EventID, &b.MarketType, &b.Selection, &b.Odds, &b.Stake,
		&b.PotentialPayout, &status, &b.PlacedAt, &settledAt, &batch); err != nil {
		return domain.Bet{}, err
	}
	b.Status = domain.BetStatus(status)
	if settledAt.Valid {
		t := settledAt.Time
		b.SettledAt = &t
	}
	b.SettlementBatchID = batch.String
	return b, nil
}

func (s *Store) InsertBet(ctx context.Context, b *domain.Bet) error {
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO bets(id, customer_id, event_id, market_type, selection, odds, stake, potential_payout, status)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING placed_at`,
		b.ID, b.CustomerID, b.EventID, b.MarketType, b.Selection, b.Odds, b.Stake, b.PotentialPayout, string(b.Status),
	).Scan(&b.PlacedAt)
	if isUniqueViolation(err) {
		return apperr.ErrDuplicate
	}
	return apperr.Storage("insert bet", err)
}

func (s *Store) GetBet(ctx context.Context, betID string) (domain.Bet, error) {
	b, err := scanBet(s.q.QueryRowContext(ctx, `SELECT `+betColumns+` FROM bets WHERE id=$1`, betID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Bet{}, apperr.NotFound("Bet", betID)
	}
	if err != nil {
		return domain.Bet{}, apperr.Storage("get bet", err)
	}
	return b, nil
}

func (s *Store) ListBetsByEvent(ctx context.Context, eventID string, status domain.BetStatus) ([]domain.Bet, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+betColumns+`
		FROM bets WHERE event_id=$1 AND status=$2
		ORDER BY placed_at, id`, eventID, string(status))
	if err != nil {
		return nil, apperr.Storage("list bets", err)
	}
	defer rows.Close()

	out := make([]domain.Bet, 0)
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, apperr.Storage("scan bet", err)
		}
		out = append(out, b)
	}
	return out, apperr.Storage("list bets", rows.Err())
}

func (s *Store) TransitionBet(ctx context.Context, b *domain.Bet) (bool, error) {
	var batch sql.NullString
	if b.SettlementBatchID != "" {
		batch = sql.NullString{String: b.SettlementBatchID, Valid: true}
	}
	res, err := s.q.ExecContext(ctx, `
		UPDATE bets SET status=$2, settled_at=$3, settlement_batch_id=$4
		WHERE id=$1 AND status='PLACED'`,
		b.ID, string(b.Status), b.SettledAt, batch)
	if err != nil {
		return false, apperr.Storage("transition bet", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Storage("transition bet", err)
	}
	if n == 1 {
		return true, nil
	}
	if _, err := s.GetBet(ctx, b.ID); err != nil {
		return false, err
	}
	return false, nil
}

// ---- results ----

func (s *Store) GetEventResult(ctx context.Context, eventID string) (domain.EventResult, error) {
	r := domain.EventResult{EventID: eventID}
	var winner sql.NullString
	err := s.q.QueryRowContext(ctx, `
		SELECT winning_selection, settlement_batch_id, resulted_at
		FROM event_results WHERE event_id=$1`, eventID).Scan(&winner, &r.SettlementBatchID, &r.ResultedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.EventResult{}, apperr.NotFound("EventResult", eventID)
	}
	if err != nil {
		return domain.EventResult{}, apperr.Storage("get event result", err)
	}
	r.WinningSelection = winner.String
	return r, nil
}

func (s *Store) InsertEventResult(ctx context.Context, r *domain.EventResult) error {
	var winner sql.NullString
	if !r.Void() {
		winner = sql.NullString{String: r.WinningSelection, Valid: true}
	}
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO event_results(event_id, winning_selection, settlement_batch_id)
		VALUES($1,$2,$3)
		ON CONFLICT DO NOTHING`, r.EventID, winner, r.SettlementBatchID)
	return insertedOne("insert event result", res, err)
}

func (s *Store) ListEventsPendingSettlement(ctx context.Context) ([]string, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT DISTINCT r.event_id
		FROM event_results r
		JOIN bets b ON b.event_id = r.event_id AND b.status = 'PLACED'
		ORDER BY r.event_id`)
	if err != nil {
		return nil, apperr.Storage("list pending settlement", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Storage("scan pending settlement", err)
		}
		out = append(out, id)
	}
	return out, apperr.Storage("list pending settlement", rows.Err())
}

// ---- idempotency ----

func (s *Store) GetIdempotencyRecord(ctx context.Context, scope domain.IdempotencyScope, scopeKey, clientKey string) (domain.IdempotencyRecord, error) {
	r := domain.IdempotencyRecord{Scope: scope, ScopeKey: scopeKey, ClientKey: clientKey}
	err := s.q.QueryRowContext(ctx, `
		SELECT request_hash, response_json, created_at
		FROM idempotency_records
		WHERE scope=$1 AND scope_key=$2 AND client_key=$3`,
		string(scope), scopeKey, clientKey).Scan(&r.RequestHash, &r.ResponseJSON, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IdempotencyRecord{}, apperr.NotFound("IdempotencyRecord", clientKey)
	}
	if err != nil {
		return domain.IdempotencyRecord{}, apperr.Storage("get idempotency record", err)
	}
	return r, nil
}

func (s *Store) InsertIdempotencyRecord(ctx context.Context, r *domain.IdempotencyRecord) error {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO idempotency_records(scope, scope_key, client_key, request_hash, response_json)
		VALUES($1,$2,$3,$4,$5)
		ON CONFLICT DO NOTHING`,
		string(r.Scope), r.ScopeKey, r.ClientKey, r.RequestHash, r.ResponseJSON)
	return insertedOne("insert idempotency record", res, err)
}
