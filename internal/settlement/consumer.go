package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/sportsbook-core/internal/shared/apperr"
	"github.com/radieske/sportsbook-core/internal/shared/kafka"
	"github.com/radieske/sportsbook-core/internal/shared/logger"
	"github.com/radieske/sportsbook-core/internal/shared/metrics"
	"github.com/radieske/sportsbook-core/pkg/contracts/events"
)

// ResultPoster é o lado do Engine usado pelo consumer.
type ResultPoster interface {
	PostResult(ctx context.Context, eventID, winningSelection, clientKey string) (PostResultResponse, error)
}

// Consumer lê result_posted e aplica cada resultado via PostResult.
// O offset só é confirmado depois que a mensagem foi tratada ou enviada à DLQ.
type Consumer struct {
	reader  kafka.MessageReader
	dlq     kafka.MessageWriter
	poster  ResultPoster
	log     *zap.Logger
	metrics *metrics.Metrics

	retries int
	backoff time.Duration
}

type ConsumerOption func(*Consumer)

// WithRetries define quantas novas tentativas um erro transitório recebe antes da DLQ.
func WithRetries(n int, backoff time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if n >= 0 {
			c.retries = n
		}
		c.backoff = backoff
	}
}

// NewConsumer aceita dlq nil: nesse caso mensagens com falha são só logadas.
func NewConsumer(reader kafka.MessageReader, dlq kafka.MessageWriter, poster ResultPoster, log *zap.Logger, m *metrics.Metrics, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		reader:  reader,
		dlq:     dlq,
		poster:  poster,
		log:     logger.OrNop(log),
		metrics: m,
		retries: 3,
		backoff: 300 * time.Millisecond,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run consome até o contexto ser cancelado.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Warn("kafka fetch", zap.Error(err))
			if !sleep(ctx, time.Second) {
				return nil
			}
			continue
		}

		c.Handle(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Error("kafka commit", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

// Handle trata uma mensagem. Nunca devolve erro: o destino final é aplicado,
// descartado (erro do cliente) ou DLQ.
func (c *Consumer) Handle(ctx context.Context, msg kafka.Message) {
	var in events.ResultPosted
	if err := json.Unmarshal(msg.Value, &in); err != nil {
		c.log.Error("unmarshal result_posted", zap.Error(err))
		c.deadLetter(ctx, msg, "decode")
		return
	}
	if strings.TrimSpace(in.EventID) == "" || strings.TrimSpace(in.IdempotencyKey) == "" {
		c.log.Error("result_posted missing eventId or idempotencyKey", zap.ByteString("value", msg.Value))
		c.deadLetter(ctx, msg, "invalid")
		return
	}

	err := c.post(ctx, in)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		// shutdown; a mensagem não é confirmada pelo Run
	case apperr.IsClient(err):
		c.log.Warn("result_posted rejected",
			zap.String("eventId", in.EventID),
			zap.String("idempotencyKey", in.IdempotencyKey),
			zap.Error(err),
		)
		c.metrics.IncResultMessage("rejected")
	default:
		c.log.Error("result_posted failed after retries",
			zap.String("eventId", in.EventID),
			zap.Error(err),
		)
		c.deadLetter(ctx, msg, "failed")
	}
}

func (c *Consumer) post(ctx context.Context, in events.ResultPosted) error {
	var err error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 && !sleep(ctx, time.Duration(attempt)*c.backoff) {
			return ctx.Err()
		}
		var resp PostResultResponse
		resp, err = c.poster.PostResult(ctx, in.EventID, in.WinningSelection, in.IdempotencyKey)
		if err == nil {
			outcome := "applied"
			if resp.AlreadyRecorded {
				outcome = "duplicate"
			}
			c.metrics.IncResultMessage(outcome)
			c.log.Info("result_posted handled",
				zap.String("eventId", in.EventID),
				zap.String("outcome", outcome),
				zap.Int("betsSettled", resp.BetsSettled),
			)
			return nil
		}
		if apperr.IsClient(err) {
			return err
		}
		c.log.Warn("result_posted attempt failed", zap.String("eventId", in.EventID), zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return err
}

func (c *Consumer) deadLetter(ctx context.Context, msg kafka.Message, reason string) {
	c.metrics.IncResultMessage("dlq")
	if c.dlq == nil {
		return
	}
	dl := kafka.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Headers: append(msg.Headers, kafka.Header{Key: "dlq-reason", Value: []byte(reason)},
			kafka.Header{Key: "source", Value: []byte(fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset))}),
		Time: time.Now(),
	}
	if err := c.dlq.WriteMessages(ctx, dl); err != nil {
		c.log.Error("write dlq", zap.String("reason", reason), zap.Error(err))
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
