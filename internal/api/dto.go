package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/radieske/sportsbook-core/internal/betting"
	"github.com/radieske/sportsbook-core/internal/domain"
	"github.com/radieske/sportsbook-core/internal/shared/money"
)

// Valores monetários saem com 2 casas e odds com 3, sempre como string.

type PlaceBetResponse struct {
	BetID           *string `json:"betId"`
	Status          *string `json:"status"`
	AcceptedStake   string  `json:"acceptedStake"`
	PotentialPayout string  `json:"potentialPayout"`
	Decision        string  `json:"decision"`
	RejectReason    string  `json:"rejectReason,omitempty"`
}

func toPlaceBetResponse(r betting.PlaceBetResult) PlaceBetResponse {
	out := PlaceBetResponse{
		AcceptedStake:   money.Format(r.AcceptedStake),
		PotentialPayout: money.Format(r.PotentialPayout),
		Decision:        string(r.Decision),
		RejectReason:    r.RejectReason,
	}
	if r.BetID != "" {
		id, st := r.BetID, string(r.Status)
		out.BetID, out.Status = &id, &st
	}
	return out
}

type BetResponse struct {
	BetID             string     `json:"betId"`
	CustomerID        string     `json:"customerId"`
	EventID           string     `json:"eventId"`
	MarketType        string     `json:"marketType"`
	Selection         string     `json:"selection"`
	Odds              string     `json:"odds"`
	Stake             string     `json:"stake"`
	PotentialPayout   string     `json:"potentialPayout"`
	Status            string     `json:"status"`
	PlacedAt          time.Time  `json:"placedAt"`
	SettledAt         *time.Time `json:"settledAt,omitempty"`
	SettlementBatchID string     `json:"settlementBatchId,omitempty"`
}

func toBetResponse(b domain.Bet) BetResponse {
	return BetResponse{
		BetID:             b.ID,
		CustomerID:        b.CustomerID,
		EventID:           b.EventID,
		MarketType:        b.MarketType,
		Selection:         b.Selection,
		Odds:              money.FormatOdds(b.Odds),
		Stake:             money.Format(b.Stake),
		PotentialPayout:   money.Format(b.PotentialPayout),
		Status:            string(b.Status),
		PlacedAt:          b.PlacedAt,
		SettledAt:         b.SettledAt,
		SettlementBatchID: b.SettlementBatchID,
	}
}

type BalanceResponse struct {
	CustomerID string `json:"customerId"`
	Balance    string `json:"balance"`
	Currency   string `json:"currency"`
}

type LedgerEntryResponse struct {
	ID            int64     `json:"id"`
	Type          string    `json:"type"`
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency"`
	ReferenceType string    `json:"referenceType"`
	ReferenceID   string    `json:"referenceId"`
	CreatedAt     time.Time `json:"createdAt"`
}

func toLedgerEntry(e domain.LedgerEntry) LedgerEntryResponse {
	return LedgerEntryResponse{
		ID:            e.ID,
		Type:          string(e.Type),
		Amount:        money.Format(e.Amount),
		Currency:      e.Currency,
		ReferenceType: string(e.ReferenceType),
		ReferenceID:   e.ReferenceID,
		CreatedAt:     e.CreatedAt,
	}
}

type LedgerPageResponse struct {
	CustomerID string                `json:"customerId"`
	Page       int                   `json:"page"`
	Size       int                   `json:"size"`
	Entries    []LedgerEntryResponse `json:"entries"`
}

type DepositRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	ExternalRef string          `json:"externalRef"`
}

type DepositResponse struct {
	Entry   LedgerEntryResponse `json:"entry"`
	Balance string              `json:"balance"`
}

type LimitRequest struct {
	Scope                string           `json:"scope"`
	ScopeID              string           `json:"scopeId"`
	MaxReservedLiability *decimal.Decimal `json:"maxReservedLiability"`
	MaxStakePerBet       *decimal.Decimal `json:"maxStakePerBet"`
}

type LimitResponse struct {
	ID                   int64     `json:"id"`
	Scope                string    `json:"scope"`
	ScopeID              string    `json:"scopeId"`
	MaxReservedLiability *string   `json:"maxReservedLiability"`
	MaxStakePerBet       *string   `json:"maxStakePerBet"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

func optMoney(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := money.Format(*d)
	return &s
}

func toLimitResponse(l domain.Limit) LimitResponse {
	return LimitResponse{
		ID:                   l.ID,
		Scope:                string(l.Scope),
		ScopeID:              l.ScopeID,
		MaxReservedLiability: optMoney(l.MaxReservedLiability),
		MaxStakePerBet:       optMoney(l.MaxStakePerBet),
		UpdatedAt:            l.UpdatedAt,
	}
}

type ExposureResponse struct {
	EventID           string    `json:"eventId"`
	MarketType        string    `json:"marketType"`
	Selection         string    `json:"selection"`
	ReservedLiability string    `json:"reservedLiability"`
	Version           int64     `json:"version"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

func toExposureResponse(e domain.Exposure) ExposureResponse {
	return ExposureResponse{
		EventID:           e.Key.EventID,
		MarketType:        e.Key.MarketType,
		Selection:         e.Key.Selection,
		ReservedLiability: money.Format(e.ReservedLiability),
		Version:           e.Version,
		UpdatedAt:         e.UpdatedAt,
	}
}

// PostResultRequest: winningSelection null ou ausente anula o evento.
type PostResultRequest struct {
	WinningSelection *string `json:"winningSelection"`
}
