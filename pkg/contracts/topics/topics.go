package topics

const (
	// Bets
	BetPlaced  = "bet_placed"
	BetSettled = "bet_settled"

	// Resultados
	ResultPosted = "result_posted"

	// DLQs
	ResultPostedDLQ = "result_posted_dlq"
)
