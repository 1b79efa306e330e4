package settlement

import (
	"context"

	"github.com/radieske/sportsbook-core/internal/shared/kafka"
	"github.com/radieske/sportsbook-core/pkg/contracts/events"
)

// KafkaPublisher publica bet_settled com chave = betId.
type KafkaPublisher struct {
	writer kafka.MessageWriter
}

func NewKafkaPublisher(w kafka.MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

func (p *KafkaPublisher) PublishBetSettled(ctx context.Context, e events.BetSettled) error {
	return kafka.WriteJSON(ctx, p.writer, e.BetID, e)
}
