package risk

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"

	"github.com/radieske/sportsbook-core/internal/domain"
	"github.com/radieske/sportsbook-core/internal/exposure"
	"github.com/radieske/sportsbook-core/internal/shared/apperr"
	"github.com/radieske/sportsbook-core/internal/storage/memory"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

var homeKey = domain.ExposureKey{EventID: "evt-1", MarketType: domain.MarketMatchWinner, Selection: domain.SelectionHome}

func TestEvaluate(t *testing.T) {
	cases := []struct {
		name      string
		limits    []LimitRequest
		reserved  string
		stake     string
		liability string
		want      Decision
		wantStake string
	}{
		{
			name: "no limits accepts", stake: "100", liability: "85",
			want: Accept, wantStake: "100.00",
		},
		{
			name:   "event per-bet cap limits the stake",
			limits: []LimitRequest{{Scope: domain.ScopeEvent, ScopeID: "evt-1", MaxStakePerBet: dp("50")}},
			stake:  "100", liability: "85",
			want: AcceptWithLimit, wantStake: "50.00",
		},
		{
			name:     "selection liability cap already reached rejects",
			limits:   []LimitRequest{{Scope: domain.ScopeEventMarketSelection, ScopeID: "evt-1|MATCH_WINNER|HOME", MaxReservedLiability: dp("50")}},
			reserved: "50",
			stake:    "100", liability: "85",
			want: Reject, wantStake: "0.00",
		},
		{
			name:     "remaining liability derives a floored stake",
			limits:   []LimitRequest{{Scope: domain.ScopeEventMarketSelection, ScopeID: "evt-1|MATCH_WINNER|HOME", MaxReservedLiability: dp("100")}},
			reserved: "90",
			stake:    "100", liability: "85",
			// 10 / 0.85 = 11.7647 -> 11.76
			want: AcceptWithLimit, wantStake: "11.76",
		},
		{
			name:   "liability exactly at cap accepts",
			limits: []LimitRequest{{Scope: domain.ScopeEvent, ScopeID: "evt-1", MaxReservedLiability: dp("85")}},
			stake:  "100", liability: "85",
			want: Accept, wantStake: "100.00",
		},
		{
			name:   "zero per-bet cap rejects",
			limits: []LimitRequest{{Scope: domain.ScopeGlobal, MaxStakePerBet: dp("0")}},
			stake:  "1", liability: "0.85",
			want: Reject, wantStake: "0.00",
		},
		{
			name: "narrowest scope wins",
			limits: []LimitRequest{
				{Scope: domain.ScopeGlobal, MaxStakePerBet: dp("10")},
				{Scope: domain.ScopeEventMarketSelection, ScopeID: "evt-1|MATCH_WINNER|HOME", MaxStakePerBet: dp("200")},
			},
			stake: "100", liability: "85",
			want: Accept, wantStake: "100.00",
		},
		{
			name:   "other selection is not affected by selection limit",
			limits: []LimitRequest{{Scope: domain.ScopeEventMarketSelection, ScopeID: "evt-1|MATCH_WINNER|AWAY", MaxStakePerBet: dp("1")}},
			stake:  "100", liability: "85",
			want: Accept, wantStake: "100.00",
		},
		{
			name: "default ceiling applies without limits", stake: "2000000", liability: "10",
			want: AcceptWithLimit, wantStake: "1000000.00",
		},
		{
			name:     "tiny remaining floors to zero and rejects",
			limits:   []LimitRequest{{Scope: domain.ScopeEvent, ScopeID: "evt-1", MaxReservedLiability: dp("50.00")}},
			reserved: "49.99",
			stake:    "10", liability: "20",
			// 0.01 / 2 = 0.005 -> 0.00
			want: Reject, wantStake: "0.00",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			store := memory.New()
			exp := exposure.New(store, zaptest.NewLogger(t), nil)
			eng := NewEngine(store, exp, DefaultMaxStakePerBet, zaptest.NewLogger(t), nil)

			for _, l := range tc.limits {
				if _, err := eng.SetLimit(ctx, l); err != nil {
					t.Fatalf("set limit: %v", err)
				}
			}
			if tc.reserved != "" {
				if _, err := exp.Reserve(ctx, homeKey, d(tc.reserved)); err != nil {
					t.Fatalf("reserve: %v", err)
				}
			}

			res, err := eng.Evaluate(ctx, homeKey, d(tc.stake), d(tc.liability))
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if res.Decision != tc.want {
				t.Fatalf("decision = %s (%s), want %s", res.Decision, res.RejectReason, tc.want)
			}
			if got := res.MaxAllowedStake.StringFixed(2); got != tc.wantStake {
				t.Fatalf("max allowed stake = %s, want %s", got, tc.wantStake)
			}
			if res.Decision == Reject && res.RejectReason == "" {
				t.Fatal("reject without reason")
			}
		})
	}
}

func TestEvaluateRejectsNonPositiveStake(t *testing.T) {
	store := memory.New()
	eng := NewEngine(store, exposure.New(store, nil, nil), DefaultMaxStakePerBet, nil, nil)
	if _, err := eng.Evaluate(context.Background(), homeKey, d("0"), d("0")); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestSetLimit(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	eng := NewEngine(store, exposure.New(store, nil, nil), DefaultMaxStakePerBet, zaptest.NewLogger(t), nil)

	first, err := eng.SetLimit(ctx, LimitRequest{Scope: domain.ScopeEvent, ScopeID: "evt-1", MaxStakePerBet: dp("50")})
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	second, err := eng.SetLimit(ctx, LimitRequest{Scope: domain.ScopeEvent, ScopeID: "evt-1", MaxReservedLiability: dp("500.555")})
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("upsert created a new row: %d vs %d", first.ID, second.ID)
	}
	if second.MaxStakePerBet != nil || second.MaxReservedLiability.StringFixed(2) != "500.56" {
		t.Fatalf("unexpected limit %+v", second)
	}

	bad := []LimitRequest{
		{Scope: "REGION", ScopeID: "x"},
		{Scope: domain.ScopeEvent},
		{Scope: domain.ScopeGlobal, MaxStakePerBet: dp("-1")},
	}
	for _, req := range bad {
		if _, err := eng.SetLimit(ctx, req); !errors.Is(err, apperr.ErrInvalidArgument) {
			t.Fatalf("%+v: expected invalid argument, got %v", req, err)
		}
	}
}
