package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/crces-dispatch/internal/channel"
	"github.com/unclebandit/crces-dispatch/internal/config"
	"github.com/unclebandit/crces-dispatch/internal/db"
	"github.com/unclebandit/crces-dispatch/internal/events"
	"github.com/unclebandit/crces-dispatch/internal/limiter"
	"github.com/unclebandit/crces-dispatch/internal/logger"
	"github.com/unclebandit/crces-dispatch/internal/model"
	"github.com/unclebandit/crces-dispatch/internal/repository"
	"github.com/unclebandit/crces-dispatch/internal/service"
	"github.com/unclebandit/crces-dispatch/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fatalLog := logger.New("production")
		fatalLog.Fatal().Err(err).Msg("invalid configuration")
	}
	log := logger.New(cfg.AppEnv).With().Str("service", "crces-worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database unavailable")
	}
	defer conn.Close()

	// Repositories
	campaignRepo := &repository.CampaignRepository{DB: conn}
	jobRepo := &repository.JobRepository{DB: conn}
	ledgerRepo := &repository.LedgerRepository{DB: conn}

	bus := events.NewBus(log)
	audit := &service.AuditService{Repo: &repository.AuditRepository{DB: conn}, Events: bus, Log: log}
	audit.Subscribe(bus)
	if cfg.AMQPURL != "" {
		fwd, err := events.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Fatal().Err(err).Msg("RabbitMQ unavailable")
		}
		defer fwd.Close()
		bus.SubscribeAsync("amqp", "*", fwd.Handle)
	}

	campaigns := &service.CampaignService{
		CampaignRepo: campaignRepo,
		TemplateRepo: &repository.TemplateRepository{DB: conn},
		ContactRepo:  &repository.ContactRepository{DB: conn},
		Jobs:         jobRepo,
		Ledger:       ledgerRepo,
		Events:       bus,
		Log:          log.With().Str("component", "campaigns").Logger(),
	}

	senders, err := channel.FromConfig(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("channel senders")
	}
	poolCfg := poolConfig(cfg)
	lim, err := buildLimiter(ctx, cfg, poolCfg.Concurrency, log)
	if err != nil {
		log.Fatal().Err(err).Msg("concurrency limiter")
	}

	pool := worker.NewPool(poolCfg, jobRepo, campaignRepo, campaigns, ledgerRepo, senders, lim, log)
	pool.Events = bus

	if err := campaigns.ReconcileRunning(ctx); err != nil {
		log.Error().Err(err).Msg("start-up reconciliation failed")
	}

	pool.Start(ctx)
	if cfg.AMQPURL != "" {
		go consumeWake(ctx, cfg, log, pool.Wake)
	}

	log.Info().Strs("channels", channelNames(senders)).Msg("worker running, waiting for jobs...")
	<-ctx.Done()
	pool.Stop()
	bus.Wait()
	log.Info().Interface("stats", pool.Stats()).Msg("worker stopped")
}

func poolConfig(cfg *config.Config) worker.Config {
	pc := worker.DefaultConfig()
	pc.Concurrency = map[model.Channel]int{
		model.ChannelEmail:    cfg.EmailConcurrency,
		model.ChannelWhatsApp: cfg.WhatsAppConcurrency,
	}
	pc.LeaseTimeout = cfg.LeaseTimeout
	pc.PollInterval = cfg.PollInterval
	pc.MaxAttempts = cfg.MaxAttempts
	pc.BackoffBase = cfg.BackoffBase
	return pc
}

// buildLimiter shares the channel caps across workers through Redis when
// REDIS_URL is set.
func buildLimiter(ctx context.Context, cfg *config.Config, caps map[model.Channel]int, log zerolog.Logger) (limiter.Limiter, error) {
	if cfg.RedisURL == "" {
		log.Info().Msg("REDIS_URL not set, channel caps are per process")
		return limiter.NewLocal(caps), nil
	}
	return limiter.NewRedisFromURL(ctx, cfg.RedisURL, caps)
}

// consumeWake keeps the wake-up consumer connected until ctx is done.
func consumeWake(ctx context.Context, cfg *config.Config, log zerolog.Logger, wake func()) {
	for {
		err := events.ConsumeWake(ctx, cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPWakeQueue, log, func(ev events.Event) {
			log.Debug().Str("campaign_id", ev.ResourceID).Msg("campaign started, waking workers")
			wake()
		})
		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Msg("wake consumer disconnected, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func channelNames(r *channel.Registry) []string {
	var out []string
	for _, ch := range r.Channels() {
		out = append(out, string(ch))
	}
	return out
}
