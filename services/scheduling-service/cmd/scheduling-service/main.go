package main

import (
	"context"
	"net/http"
	"time"

	"github.com/carelink/apptpipeline/libs/config"
	"github.com/carelink/apptpipeline/libs/db"
	"github.com/carelink/apptpipeline/libs/httpx"
	"github.com/carelink/apptpipeline/libs/kafkax"
	otelx "github.com/carelink/apptpipeline/libs/otel"
	"github.com/carelink/apptpipeline/libs/runtime"
	"github.com/carelink/apptpipeline/libs/topology"
	"github.com/carelink/apptpipeline/services/scheduling-service/internal/appointments"
	"github.com/carelink/apptpipeline/services/scheduling-service/internal/handlers"
	"github.com/carelink/apptpipeline/services/scheduling-service/internal/outbox"
	"github.com/carelink/apptpipeline/services/scheduling-service/internal/publisher"
	"github.com/carelink/apptpipeline/services/scheduling-service/internal/storage"
	"github.com/carelink/apptpipeline/services/scheduling-service/migrations"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Config struct {
	config.Service
	DB           db.Config
	KafkaBrokers string `env:"KAFKA_BROKERS" env-default:"kafka:9092"`
	Topology     topology.Config
	Relay        outbox.RelayConfig
	Otel         otelx.Config
}

func main() {
	var cfg Config
	if err := config.Load(&cfg); err != nil {
		panic(err)
	}
	if err := cfg.Resolve("scheduling-service", "8081"); err != nil {
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
	declareErr := topology.Declare(ctx, brokers, cfg.Topology)
	if declareErr != nil {
		logger.Error("topology declare failed, relay will retry", "err", declareErr)
	}

	repo := storage.NewAppointmentRepository(pool)
	outboxRepo := outbox.NewRepository()
	pub := publisher.New(outboxRepo, cfg.Topology)
	svc := appointments.NewService(repo, pub, logger)

	writer := kafkax.NewWriter(brokers)
	defer writer.Close()
	relay := outbox.NewRelay(pool, outboxRepo, writer, cfg.Topology, logger, cfg.Relay)
	if declareErr != nil {
		relay.RetryDeclare(func(ctx context.Context) error {
			return topology.Declare(ctx, brokers, cfg.Topology)
		})
	}
	go relay.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers, cfg.Topology.Topics()...)},
	)
	mux.Handle("/api/", handlers.NewAppointmentHandler(svc, logger).Routes())

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithBodyLimit(1<<20),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "scheduling")
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if err := runtime.Serve(ctx, srv, logger, 10*time.Second); err != nil {
		logger.Error("http server error", "err", err)
	}
}
