package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/sportsbook-core/internal/app"
	"github.com/radieske/sportsbook-core/internal/settlement"
	"github.com/radieske/sportsbook-core/internal/shared/config"
	"github.com/radieske/sportsbook-core/internal/shared/kafka"
	"github.com/radieske/sportsbook-core/internal/shared/logger"
	"github.com/radieske/sportsbook-core/internal/shared/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	core, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal("bootstrap", zap.Error(err))
	}
	defer core.Close()

	brokers := cfg.Brokers()
	if len(brokers) == 0 {
		log.Fatal("KAFKA_BROKERS required for settlement-worker")
	}

	// Kafka consumer: result_posted. Producers: bet_settled e DLQ opcional
	reader := kafka.NewReader(brokers, cfg.TopicResultPosted, cfg.ResultConsumerGroupID)
	defer reader.Close()

	settledWriter := kafka.NewWriter(brokers, cfg.TopicBetSettled)
	defer settledWriter.Close()

	var dlq kafka.MessageWriter
	if cfg.TopicResultPostedDLQ != "" {
		dlqWriter := kafka.NewWriter(brokers, cfg.TopicResultPostedDLQ)
		defer dlqWriter.Close()
		dlq = dlqWriter
	}

	engine := settlement.NewEngine(settlement.Deps{
		Store:       core.Store,
		Exposure:    core.Exposure,
		Ledger:      core.Ledger,
		Idempotency: core.Idempotency,
		Publisher:   settlement.NewKafkaPublisher(settledWriter),
		Log:         log,
		Metrics:     core.Metrics,
	})
	consumer := settlement.NewConsumer(reader, dlq, engine, log, core.Metrics)

	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, core.Registry, core.Health)
	log.Info("metrics/health", zap.String("addr", metricsSrv.Addr))

	log.Info("settlement-worker started",
		zap.String("consume", cfg.TopicResultPosted),
		zap.String("publish", cfg.TopicBetSettled),
		zap.Duration("resumeInterval", cfg.SettlementResumeInterval),
	)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := consumer.Run(ctx); err != nil {
			log.Error("consumer stopped", zap.Error(err))
		}
	}()
	go func() {
		defer wg.Done()
		resumeLoop(ctx, log, engine, cfg.SettlementResumeInterval)
	}()

	<-ctx.Done()
	log.Info("shutting down")
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
}

// resumeLoop retoma varreduras interrompidas (crash no meio de um evento).
// Roda uma vez na subida e depois a cada intervalo.
func resumeLoop(ctx context.Context, log *zap.Logger, engine *settlement.Engine, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		n, err := engine.ResumePending(ctx)
		if err != nil && ctx.Err() == nil {
			log.Error("resume pending settlements", zap.Error(err))
		} else if n > 0 {
			log.Info("resumed pending settlements", zap.Int("bets", n))
		}

		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
