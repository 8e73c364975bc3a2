// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/unclebandit/crces-dispatch/internal/channel"
	"github.com/unclebandit/crces-dispatch/internal/config"
	"github.com/unclebandit/crces-dispatch/internal/controller"
	"github.com/unclebandit/crces-dispatch/internal/db"
	"github.com/unclebandit/crces-dispatch/internal/events"
	"github.com/unclebandit/crces-dispatch/internal/handler"
	"github.com/unclebandit/crces-dispatch/internal/logger"
	"github.com/unclebandit/crces-dispatch/internal/render"
	"github.com/unclebandit/crces-dispatch/internal/repository"
	"github.com/unclebandit/crces-dispatch/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fatalLog := logger.New("production")
		fatalLog.Fatal().Err(err).Msg("invalid configuration")
	}
	log := logger.New(cfg.AppEnv).With().Str("service", "crces-api").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database unavailable")
	}
	defer conn.Close()
	if err := db.Migrate(ctx, conn); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}

	campaignRepo := &repository.CampaignRepository{DB: conn}
	templateRepo := &repository.TemplateRepository{DB: conn}
	contactRepo := &repository.ContactRepository{DB: conn}
	jobRepo := &repository.JobRepository{DB: conn}
	ledgerRepo := &repository.LedgerRepository{DB: conn}
	auditRepo := &repository.AuditRepository{DB: conn}

	bus := events.NewBus(log)
	auditService := &service.AuditService{Repo: auditRepo, Events: bus, Log: log}
	auditService.Subscribe(bus)

	// workers bind their wake-up queue to the same exchange
	if cfg.AMQPURL != "" {
		fwd, err := events.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Fatal().Err(err).Msg("RabbitMQ unavailable")
		}
		defer fwd.Close()
		bus.SubscribeAsync("amqp", "*", fwd.Handle)
		log.Info().Str("exchange", cfg.AMQPExchange).Msg("forwarding events to RabbitMQ")
	} else {
		log.Warn().Msg("AMQP_URL not set, workers rely on polling")
	}

	campaignService := &service.CampaignService{
		CampaignRepo: campaignRepo,
		TemplateRepo: templateRepo,
		ContactRepo:  contactRepo,
		Jobs:         jobRepo,
		Ledger:       ledgerRepo,
		Events:       bus,
		Log:          log.With().Str("component", "campaigns").Logger(),
	}
	senders, err := channel.FromConfig(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("channel senders")
	}
	templateService := &service.TemplateService{
		TemplateRepo: templateRepo,
		Renderer:     render.New(),
		Senders:      senders,
		Events:       bus,
		Log:          log.With().Str("component", "templates").Logger(),
	}

	router := handler.NewRouter(handler.RouterDeps{
		Auth:      &controller.Auth{Secret: []byte(cfg.JWTSecret)},
		Campaigns: campaignService,
		Templates: templateService,
		Audit:     auditService,
		DB:        conn,
		Log:       log,

		ReceiptSecret: cfg.ReceiptSecret,
	})
	if cfg.ReceiptSecret == "" {
		log.Warn().Msg("RECEIPT_WEBHOOK_SECRET not set, delivery receipt webhook disabled")
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("server running")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	bus.Wait()
}
