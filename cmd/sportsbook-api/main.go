package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/sportsbook-core/internal/api"
	"github.com/radieske/sportsbook-core/internal/app"
	"github.com/radieske/sportsbook-core/internal/betting"
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

	// Kafka producers: bet_placed e bet_settled (resultados lançados pela API admin)
	var (
		placedPub  betting.Publisher
		settledPub settlement.Publisher
	)
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		placedWriter := kafka.NewWriter(brokers, cfg.TopicBetPlaced)
		defer placedWriter.Close()
		settledWriter := kafka.NewWriter(brokers, cfg.TopicBetSettled)
		defer settledWriter.Close()
		placedPub = betting.NewKafkaPublisher(placedWriter)
		settledPub = settlement.NewKafkaPublisher(settledWriter)
	} else {
		log.Warn("KAFKA_BROKERS empty, events will not be published")
	}

	bets := betting.NewService(betting.Deps{
		Store:       core.Store,
		Risk:        core.Risk,
		Exposure:    core.Exposure,
		Ledger:      core.Ledger,
		Idempotency: core.Idempotency,
		Publisher:   placedPub,
		Log:         log,
		Metrics:     core.Metrics,
	})
	settle := settlement.NewEngine(settlement.Deps{
		Store:       core.Store,
		Exposure:    core.Exposure,
		Ledger:      core.Ledger,
		Idempotency: core.Idempotency,
		Publisher:   settledPub,
		Log:         log,
		Metrics:     core.Metrics,
	})

	handler := (&api.API{
		Bets:       bets,
		Settlement: settle,
		Ledger:     core.Ledger,
		Exposure:   core.Exposure,
		Risk:       core.Risk,
		Customers:  core.Store,
		Log:        log,
	}).Router()

	apiSrv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, core.Registry, core.Health)
	log.Info("metrics/health", zap.String("addr", metricsSrv.Addr))

	go func() {
		log.Info("sportsbook-api listening", zap.String("addr", apiSrv.Addr), zap.String("store", cfg.Store))
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("api", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = apiSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
}
