package events

// ResultPosted chega no tópico "result_posted" vindo do feed de resultados.
// WinningSelection vazio anula o evento.
type ResultPosted struct {
	EventID          string `json:"eventId"`
	WinningSelection string `json:"winningSelection,omitempty"`
	IdempotencyKey   string `json:"idempotencyKey"`
}
