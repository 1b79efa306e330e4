package events

import "time"

// BetSettled é emitido pela liquidação a cada aposta que sai de PLACED.
type BetSettled struct {
	BetID             string    `json:"betId"`
	CustomerID        string    `json:"customerId"`
	EventID           string    `json:"eventId"`
	Status            string    `json:"status"` // "SETTLED_WON" | "SETTLED_LOST" | "SETTLED_VOID"
	Payout            string    `json:"payout"` // valor creditado (0.00 se perdeu)
	SettlementBatchID string    `json:"settlementBatchId"`
	Ts                time.Time `json:"ts"`
}
