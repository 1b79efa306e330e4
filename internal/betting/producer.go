package betting

import (
	"context"
	"time"

	"github.com/radieske/sportsbook-core/internal/shared/kafka"
	"github.com/radieske/sportsbook-core/pkg/contracts/events"
)

// KafkaPublisher publica bet_placed com a chave = betId.
type KafkaPublisher struct {
	writer kafka.MessageWriter
}

func NewKafkaPublisher(w kafka.MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

func (p *KafkaPublisher) PublishBetPlaced(ctx context.Context, e events.BetPlaced) error {
	e.TsUnixMs = time.Now().UnixMilli()
	return kafka.WriteJSON(ctx, p.writer, e.BetID, e)
}
