package main

import (
	"context"
	"net/http"
	"time"

	"github.com/carelink/apptpipeline/libs/config"
	"github.com/carelink/apptpipeline/libs/consumer"
	"github.com/carelink/apptpipeline/libs/db"
	"github.com/carelink/apptpipeline/libs/httpx"
	"github.com/carelink/apptpipeline/libs/kafkax"
	otelx "github.com/carelink/apptpipeline/libs/otel"
	"github.com/carelink/apptpipeline/libs/runtime"
	"github.com/carelink/apptpipeline/libs/topology"
	"github.com/carelink/apptpipeline/services/history-service/internal/handlers"
	"github.com/carelink/apptpipeline/services/history-service/internal/projector"
	"github.com/carelink/apptpipeline/services/history-service/internal/storage"
	"github.com/carelink/apptpipeline/services/history-service/migrations"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Config struct {
	config.Service
	DB           db.Config
	KafkaBrokers string `env:"KAFKA_BROKERS" env-default:"kafka:9092"`
	Topology     topology.Config
	Consumer     consumer.Settings
	Otel         otelx.Config
}

func main() {
	var cfg Config
	if err := config.Load(&cfg); err != nil {
		panic(err)
	}
	if err := cfg.Resolve("history-service", "8082"); err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(cfg.Name)

	ctx, stop := runtime.SignalContext()
	defer stop()

	cfg.Otel.ServiceName = cfg.Name
	otelShutdown, err := otelx.Setup(ctx, cfg.Otel)
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	pool, err := db.Setup(ctx, cfg.DB, migrations.FS)
	if err != nil {
		logger.Error("db setup failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	brokers := kafkax.SplitBrokers(cfg.KafkaBrokers)
	if err := topology.Declare(ctx, brokers, cfg.Topology); err != nil {
		logger.Error("topology declare failed", "err", err)
		panic(err)
	}

	repo := storage.NewHistoryRepository(pool)
	proj := projector.New(repo, logger)
	consumers, err := consumer.ForQueues(logger, brokers, cfg.Name, cfg.Topology, cfg.Consumer, proj.Handle)
	if err != nil {
		panic(err)
	}
	consumersDone := make(chan struct{})
	go func() {
		consumers.Run(ctx)
		close(consumersDone)
	}()

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers, cfg.Topology.Topics()...)},
	)
	mux.Handle("/api/", handlers.NewHistoryHandler(repo, logger).Routes())

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "history")
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if err := runtime.Serve(ctx, srv, logger, 10*time.Second); err != nil {
		logger.Error("http server error", "err", err)
	}
	stop()
	select {
	case <-consumersDone:
		logger.Info("consumers stopped")
	case <-time.After(10 * time.Second):
		logger.Warn("consumers did not stop in time")
	}
}
