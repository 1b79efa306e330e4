// Package domain define as entidades persistidas pelo núcleo de apostas.
package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type BetStatus string

const (
	BetPlaced      BetStatus = "PLACED"
	BetSettledWon  BetStatus = "SETTLED_WON"
	BetSettledLost BetStatus = "SETTLED_LOST"
	BetSettledVoid BetStatus = "SETTLED_VOID"
)

// Terminal reporta se o status é um estado final de liquidação.
func (s BetStatus) Terminal() bool {
	return s == BetSettledWon || s == BetSettledLost || s == BetSettledVoid
}

// Mercados e seleções conhecidos. Outros valores são aceitos como texto livre.
const (
	MarketMatchWinner = "MATCH_WINNER"

	SelectionHome = "HOME"
	SelectionDraw = "DRAW"
	SelectionAway = "AWAY"
)

// Bet é a aposta persistida. Criada pelo orquestrador, alterada só pela liquidação.
type Bet struct {
	ID                string
	CustomerID        string
	EventID           string
	MarketType        string
	Selection         string
	Odds              decimal.Decimal
	Stake             decimal.Decimal
	PotentialPayout   decimal.Decimal
	Status            BetStatus
	PlacedAt          time.Time
	SettledAt         *time.Time
	SettlementBatchID string
}

// Liability é o passivo reservado pela aposta: payout - stake.
func (b Bet) Liability() decimal.Decimal { return b.PotentialPayout.Sub(b.Stake) }

// ExposureKey identifica uma seleção de um mercado de um evento.
type ExposureKey struct {
	EventID    string
	MarketType string
	Selection  string
}

// ScopeID é o identificador usado nos limites de escopo EVENT_MARKET_SELECTION.
func (k ExposureKey) ScopeID() string {
	return strings.Join([]string{k.EventID, k.MarketType, k.Selection}, "|")
}

func (k ExposureKey) String() string { return k.ScopeID() }

// Exposure guarda o passivo reservado por seleção. Version cresce a cada update.
type Exposure struct {
	Key               ExposureKey
	ReservedLiability decimal.Decimal
	Version           int64
	UpdatedAt         time.Time
}

type LedgerEntryType string

const (
	EntryDebit  LedgerEntryType = "DEBIT"
	EntryCredit LedgerEntryType = "CREDIT"
	EntryRefund LedgerEntryType = "REFUND"
)

type ReferenceType string

const (
	RefBetStake  ReferenceType = "BET_STAKE"
	RefBetPayout ReferenceType = "BET_PAYOUT"
	RefBetRefund ReferenceType = "BET_REFUND"
	RefDeposit   ReferenceType = "DEPOSIT"
)

// LedgerEntry é imutável. Amount é sempre positivo; o tipo define o sinal.
type LedgerEntry struct {
	ID            int64
	CustomerID    string
	Type          LedgerEntryType
	Amount        decimal.Decimal
	Currency      string
	ReferenceType ReferenceType
	ReferenceID   string
	CreatedAt     time.Time
}

// Signed devolve o efeito da entrada no saldo.
func (e LedgerEntry) Signed() decimal.Decimal {
	if e.Type == EntryDebit {
		return e.Amount.Neg()
	}
	return e.Amount
}

type LimitScope string

const (
	ScopeGlobal               LimitScope = "GLOBAL"
	ScopeEvent                LimitScope = "EVENT"
	ScopeEventMarketSelection LimitScope = "EVENT_MARKET_SELECTION"
)

func (s LimitScope) Valid() bool {
	switch s {
	case ScopeGlobal, ScopeEvent, ScopeEventMarketSelection:
		return true
	}
	return false
}

// Limit configura teto de passivo e/ou de stake por aposta para um escopo.
// Campos nil significam "sem limite neste escopo".
type Limit struct {
	ID                   int64
	Scope                LimitScope
	ScopeID              string
	MaxReservedLiability *decimal.Decimal
	MaxStakePerBet       *decimal.Decimal
	UpdatedAt            time.Time
}

// EventResult é o marcador idempotente de que o evento foi apurado.
// WinningSelection vazio significa evento anulado (void).
type EventResult struct {
	EventID           string
	WinningSelection  string
	SettlementBatchID string
	ResultedAt        time.Time
}

func (r EventResult) Void() bool { return r.WinningSelection == "" }

type IdempotencyScope string

const (
	ScopeBetPlacement IdempotencyScope = "BET_PLACEMENT"
	ScopeResultIngest IdempotencyScope = "RESULT_INGEST"
)

// IdempotencyRecord é gravado uma única vez por (scope, scopeKey, clientKey).
type IdempotencyRecord struct {
	Scope        IdempotencyScope
	ScopeKey     string
	ClientKey    string
	RequestHash  string
	ResponseJSON []byte
	CreatedAt    time.Time
}
