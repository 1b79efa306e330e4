package events

// BetPlaced é publicado após uma aposta ser aceita e persistida.
// Valores monetários vão como string decimal com 2 casas; odds com 3.
type BetPlaced struct {
	BetID           string `json:"bet_id"`
	CustomerID      string `json:"customer_id"`
	EventID         string `json:"event_id"`
	MarketType      string `json:"market_type"`
	Selection       string `json:"selection"`
	Odds            string `json:"odds"`
	Stake           string `json:"stake"`
	PotentialPayout string `json:"potential_payout"`
	Decision        string `json:"decision"` // "ACCEPT" | "ACCEPT_WITH_LIMIT"
	TsUnixMs        int64  `json:"ts_unix_ms"`
}
