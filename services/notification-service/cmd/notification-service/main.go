package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/carelink/apptpipeline/libs/config"
	"github.com/carelink/apptpipeline/libs/consumer"
	"github.com/carelink/apptpipeline/libs/httpx"
	"github.com/carelink/apptpipeline/libs/kafkax"
	otelx "github.com/carelink/apptpipeline/libs/otel"
	"github.com/carelink/apptpipeline/libs/runtime"
	"github.com/carelink/apptpipeline/libs/topology"
	"github.com/carelink/apptpipeline/services/notification-service/internal/dedupe"
	"github.com/carelink/apptpipeline/services/notification-service/internal/email"
	"github.com/carelink/apptpipeline/services/notification-service/internal/notifier"
	"github.com/carelink/apptpipeline/services/notification-service/internal/templates"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Config struct {
	config.Service
	KafkaBrokers  string        `env:"KAFKA_BROKERS" env-default:"kafka:9092"`
	Enabled       bool          `env:"NOTIFICATION_ENABLED" env-default:"true"`
	Sender        string        `env:"NOTIFICATION_SENDER" env-default:"log"`
	Timezone      string        `env:"NOTIFICATION_TIMEZONE" env-default:"UTC"`
	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	DedupeTTL     time.Duration `env:"NOTIFICATION_DEDUPE_TTL" env-default:"168h"`
	SMTP          email.SMTPConfig
	Topology      topology.Config
	Consumer      consumer.Settings
	Otel          otelx.Config
}

func main() {
	var cfg Config
	if err := config.Load(&cfg); err != nil {
		panic(err)
	}
	if err := cfg.Resolve("notification-service", "8083"); err != nil {
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

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Error("invalid NOTIFICATION_TIMEZONE", "timezone", cfg.Timezone, "err", err)
		panic(err)
	}

	var sender email.Sender
	switch strings.ToLower(strings.TrimSpace(cfg.Sender)) {
	case "smtp":
		sender = email.NewSMTPSender(cfg.SMTP, logger)
	default:
		sender = email.NewLogSender(logger)
	}

	brokers := kafkax.SplitBrokers(cfg.KafkaBrokers)
	checks := []runtime.ReadyCheck{
		{Name: "kafka", Check: kafkax.ReadyCheck(brokers, cfg.Topology.Topics()...)},
	}

	var guard dedupe.Guard
	if strings.TrimSpace(cfg.RedisAddr) != "" {
		rdb, err := dedupe.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			logger.Error("redis connection failed", "err", err)
			panic(err)
		}
		defer rdb.Close()
		guard = dedupe.NewRedisGuard(rdb, cfg.DedupeTTL)
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: dedupe.ReadyCheck(rdb)})
	}

	if !cfg.Enabled {
		logger.Info("notifications disabled; events will be acknowledged without sending")
	}
	n := notifier.New(cfg.Enabled, templates.NewRenderer(loc), sender, guard, logger)

	if err := topology.Declare(ctx, brokers, cfg.Topology); err != nil {
		logger.Error("topology declare failed", "err", err)
		panic(err)
	}
	consumers, err := consumer.ForQueues(logger, brokers, cfg.Name, cfg.Topology, cfg.Consumer, n.Handle)
	if err != nil {
		panic(err)
	}
	consumersDone := make(chan struct{})
	go func() {
		consumers.Run(ctx)
		close(consumersDone)
	}()

	mux := runtime.NewBaseMuxWithReady(checks...)
	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "notification")
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
