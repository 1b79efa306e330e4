package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"

	"github.com/radieske/sportsbook-core/internal/domain"
	"github.com/radieske/sportsbook-core/internal/shared/apperr"
	"github.com/radieske/sportsbook-core/internal/shared/lock"
	"github.com/radieske/sportsbook-core/internal/storage"
	"github.com/radieske/sportsbook-core/internal/storage/memory"
)

type request struct {
	Amount string `json:"amount"`
	Note   string `json:"note"`
}

type response struct {
	ID     int64           `json:"id"`
	Amount decimal.Decimal `json:"amount"`
}

func counter(calls *int32) func(context.Context) (response, error) {
	return func(context.Context) (response, error) {
		n := atomic.AddInt32(calls, 1)
		return response{ID: int64(n), Amount: decimal.RequireFromString("185.00")}, nil
	}
}

func TestReplayReturnsStoredResponse(t *testing.T) {
	ctx := context.Background()
	e := NewExecutor(memory.New(), lock.NewLocal(), zaptest.NewLogger(t), nil)
	var calls int32
	req := request{Amount: "100.00", Note: "x"}

	first, err := Execute(ctx, e, domain.ScopeBetPlacement, "c1", "k1", req, counter(&calls))
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := Execute(ctx, e, domain.ScopeBetPlacement, "c1", "k1", req, counter(&calls))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if calls != 1 {
		t.Fatalf("operation ran %d times", calls)
	}
	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if string(a) != string(b) {
		t.Fatalf("replay not byte-identical: %s vs %s", a, b)
	}
}

func TestDifferentPayloadConflicts(t *testing.T) {
	ctx := context.Background()
	e := NewExecutor(memory.New(), nil, zaptest.NewLogger(t), nil)
	var calls int32

	if _, err := Execute(ctx, e, domain.ScopeBetPlacement, "c1", "k1", request{Amount: "1"}, counter(&calls)); err != nil {
		t.Fatalf("first: %v", err)
	}
	_, err := Execute(ctx, e, domain.ScopeBetPlacement, "c1", "k1", request{Amount: "2"}, counter(&calls))
	var conflict *apperr.IdempotencyConflictError
	if !errors.As(err, &conflict) || conflict.Race {
		t.Fatalf("expected plain conflict, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("operation ran %d times", calls)
	}
}

func TestKeysAreScoped(t *testing.T) {
	ctx := context.Background()
	e := NewExecutor(memory.New(), nil, zaptest.NewLogger(t), nil)
	var calls int32
	req := request{Amount: "1"}

	_, _ = Execute(ctx, e, domain.ScopeBetPlacement, "c1", "k1", req, counter(&calls))
	_, _ = Execute(ctx, e, domain.ScopeBetPlacement, "c2", "k1", req, counter(&calls))
	_, _ = Execute(ctx, e, domain.ScopeResultIngest, "c1", "k1", req, counter(&calls))
	if calls != 3 {
		t.Fatalf("expected independent keys, operation ran %d times", calls)
	}
}

func TestErrorsAreNotCached(t *testing.T) {
	ctx := context.Background()
	e := NewExecutor(memory.New(), nil, zaptest.NewLogger(t), nil)
	boom := errors.New("boom")
	var calls int32
	failing := func(context.Context) (response, error) {
		atomic.AddInt32(&calls, 1)
		return response{}, boom
	}

	if _, err := Execute(ctx, e, domain.ScopeBetPlacement, "c1", "k1", request{}, failing); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, err := Execute(ctx, e, domain.ScopeBetPlacement, "c1", "k1", request{}, counter(&calls)); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if calls != 2 {
		t.Fatalf("operation ran %d times", calls)
	}
}

func TestMissingKey(t *testing.T) {
	e := NewExecutor(memory.New(), nil, nil, nil)
	var calls int32
	if _, err := Execute(context.Background(), e, domain.ScopeBetPlacement, "c1", "", request{}, counter(&calls)); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestConcurrentDuplicatesRunOnce(t *testing.T) {
	ctx := context.Background()
	e := NewExecutor(memory.New(), lock.NewLocal(), zaptest.NewLogger(t), nil)
	var calls int32
	req := request{Amount: "10"}

	var wg sync.WaitGroup
	results := make([]response, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := Execute(ctx, e, domain.ScopeBetPlacement, "c1", "same", req, counter(&calls))
			if err != nil {
				t.Errorf("execute: %v", err)
			}
			results[i] = r
		}(i)
	}
	wg.Wait()

	if calls != 1 {
		t.Fatalf("operation ran %d times", calls)
	}
	for _, r := range results {
		if r.ID != 1 {
			t.Fatalf("unexpected result %+v", r)
		}
	}
}

// racingStore esconde o registro no primeiro lookup, simulando um vencedor
// que grava entre o lookup e o insert.
type racingStore struct {
	storage.IdempotencyRecords
	winnerHash string
	lookups    int
	insertErr  error
}

func (s *racingStore) GetIdempotencyRecord(ctx context.Context, scope domain.IdempotencyScope, scopeKey, clientKey string) (domain.IdempotencyRecord, error) {
	s.lookups++
	if s.lookups == 1 {
		return domain.IdempotencyRecord{}, apperr.NotFound("IdempotencyRecord", clientKey)
	}
	return domain.IdempotencyRecord{Scope: scope, ScopeKey: scopeKey, ClientKey: clientKey, RequestHash: s.winnerHash, ResponseJSON: []byte(`{"id":99,"amount":"1"}`)}, nil
}

func (s *racingStore) InsertIdempotencyRecord(context.Context, *domain.IdempotencyRecord) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	return apperr.ErrDuplicate
}

func TestInsertRaceSameRequestReturnsLocalResult(t *testing.T) {
	req := request{Amount: "10"}
	hash, _ := Digest(req)
	e := NewExecutor(&racingStore{winnerHash: hash}, nil, zaptest.NewLogger(t), nil)
	var calls int32

	got, err := Execute(context.Background(), e, domain.ScopeBetPlacement, "c1", "k", req, counter(&calls))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got.ID != 1 {
		t.Fatalf("expected local result, got %+v", got)
	}
}

func TestInsertRaceDifferentRequestFailsLoudly(t *testing.T) {
	e := NewExecutor(&racingStore{winnerHash: "other"}, nil, zaptest.NewLogger(t), nil)
	var calls int32

	_, err := Execute(context.Background(), e, domain.ScopeBetPlacement, "c1", "k", request{Amount: "10"}, counter(&calls))
	var conflict *apperr.IdempotencyConflictError
	if !errors.As(err, &conflict) || !conflict.Race {
		t.Fatalf("expected race conflict, got %v", err)
	}
}

func TestInsertStorageFailurePropagates(t *testing.T) {
	store := &racingStore{insertErr: apperr.Storage("insert idempotency record", errors.New("connection reset"))}
	e := NewExecutor(store, nil, zaptest.NewLogger(t), nil)
	var calls int32

	_, err := Execute(context.Background(), e, domain.ScopeBetPlacement, "c1", "k", request{}, counter(&calls))
	if !errors.Is(err, apperr.ErrStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
}

func TestDigestIsDeterministic(t *testing.T) {
	a, _ := Digest(map[string]any{"b": 1, "a": "x"})
	b, _ := Digest(map[string]any{"a": "x", "b": 1})
	if a != b || len(a) != 64 {
		t.Fatalf("digest mismatch %s / %s", a, b)
	}
	c, _ := Digest(request{Amount: "1"})
	if c == a {
		t.Fatal("different payloads share a digest")
	}
}
