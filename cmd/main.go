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

	"converta/internal/config"
	"converta/internal/entities"
	"converta/internal/infrastructure"
	"converta/internal/interfaces"
	api "converta/internal/interfaces/http"
	"converta/internal/repository"
	"converta/internal/usecases"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const usage = "usage: converta [serve|worker|migrate]"

func main() {
	cmd := "serve"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := infrastructure.NewLogger(cfg.Log.Level, cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "serve":
		err = serve(ctx, cfg, log)
	case "worker":
		err = worker(ctx, cfg, log)
	case "migrate":
		err = migrate(ctx, cfg, log)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Error().Err(err).Str("command", cmd).Msg("exiting")
		os.Exit(1)
	}
}

func connectDB(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*infrastructure.PostgresClient, error) {
	pg, err := infrastructure.NewPostgresClient(ctx, cfg.Database.URL, cfg.Database.MaxConns, log)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := pg.Migrate(ctx); err != nil {
		pg.Close()
		return nil, fmt.Errorf("migrating: %w", err)
	}
	return pg, nil
}

func migrate(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	pg, err := connectDB(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer pg.Close()
	log.Info().Msg("schema up to date")
	return nil
}

// worker consumes conversation events from RabbitMQ and runs lead capture
func worker(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	if cfg.AMQP.URL == "" {
		return errors.New("worker needs AMQP_URL")
	}
	pg, err := connectDB(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer pg.Close()

	capture := usecases.NewLeadCaptureService(repository.NewLeadRepository(pg.Pool), repository.NewStageRepository(pg.Pool), log)
	consumer, err := infrastructure.NewAMQPConsumer(cfg.AMQP.URL, cfg.AMQP.Queue, cfg.AMQP.Workers, log)
	if err != nil {
		return err
	}
	defer consumer.Close()

	if err := consumer.Run(ctx, capture.HandleEvent); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func serve(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	pg, err := connectDB(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer pg.Close()

	// Repositories
	userRepo := repository.NewUserRepository(pg.Pool)
	agentRepo := repository.NewAgentRepository(pg.Pool)
	channelRepo := repository.NewChannelRepository(pg.Pool)
	convRepo := repository.NewConversationRepository(pg.Pool)
	leadRepo := repository.NewLeadRepository(pg.Pool)
	stageRepo := repository.NewStageRepository(pg.Pool)
	usageRepo := repository.NewUsageRepository(pg.Pool)

	capture := usecases.NewLeadCaptureService(leadRepo, stageRepo, log)

	// Conversation events go to RabbitMQ when configured, in-process otherwise
	var events interfaces.EventPublisher
	if cfg.AMQP.URL != "" {
		publisher, err := infrastructure.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Queue)
		if err != nil {
			return err
		}
		defer publisher.Close()
		events = publisher
		log.Info().Str("queue", cfg.AMQP.Queue).Msg("publishing conversation events to amqp")
	} else {
		inline := infrastructure.NewInlineDispatcher(capture.HandleEvent, log)
		defer inline.Wait()
		events = inline
	}

	var locker interfaces.SessionLocker = infrastructure.NewMemoryLocker()
	if cfg.Redis.URL != "" {
		client, err := infrastructure.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer client.Close()
		locker = infrastructure.NewRedisLocker(client, cfg.Redis.LockTTL.Duration, log)
		log.Info().Msg("using redis session locks")
	}

	completer := infrastructure.NewCompletionClient(cfg.Completion.BaseURL, cfg.Completion.Timeout.Duration, cfg.Completion.RetryBaseDelay.Duration, log)
	relay := usecases.NewRelayService(convRepo, userRepo, usageRepo, completer, locker, events, usecases.RelaySettings{
		Model:         cfg.Completion.Model,
		MaxTokens:     cfg.Completion.MaxTokens,
		Temperature:   cfg.Completion.Temperature,
		HistoryWindow: cfg.Completion.HistoryWindow,
		NoAgentReply:  cfg.Relay.NoAgentReply,
		ConfigReply:   cfg.Relay.ConfigReply,
		ApologyReply:  cfg.Relay.ApologyReply,
		QuotaReply:    cfg.Relay.QuotaReply,
	}, log)

	limiter := infrastructure.NewMessageRateLimiter(cfg.Relay.InboundPerMinute, cfg.Relay.InboundBurst)
	go limiter.RunJanitor(ctx, time.Minute)
	inbound := usecases.NewInboundService(relay, infrastructure.NewInboundDeduper(cfg.Relay.DedupeTTL.Duration), limiter, log)
	defer inbound.Wait()

	// Channels
	resolver := usecases.NewAgentResolver(agentRepo)
	inbound.Register(entities.ProviderWidget, usecases.NewWidgetChannel(resolver))

	var gateway *infrastructure.EvolutionClient
	if cfg.Evolution.Enabled() {
		gateway = infrastructure.NewEvolutionClient(cfg.Evolution.BaseURL, cfg.Evolution.APIKey)
		inbound.Register(entities.ProviderEvolution, usecases.NewMessengerChannel(entities.ProviderEvolution, resolver, gateway))
		log.Info().Str("url", cfg.Evolution.BaseURL).Msg("evolution gateway enabled")
	}
	if cfg.Venom.Enabled() {
		venom := infrastructure.NewVenomClient(cfg.Venom.BaseURL, cfg.Venom.APIKey)
		inbound.Register(entities.ProviderVenom, usecases.NewMessengerChannel(entities.ProviderVenom, resolver, venom))
		log.Info().Str("url", cfg.Venom.BaseURL).Msg("venom gateway enabled")
	}
	if cfg.Meta.PageAccessToken != "" {
		meta := infrastructure.NewMetaClient(cfg.Meta.GraphURL, cfg.Meta.PageAccessToken)
		inbound.Register(entities.ProviderMeta, usecases.NewMessengerChannel(entities.ProviderMeta, resolver, meta))
	}

	var waManager *infrastructure.WhatsAppManager
	if cfg.WhatsApp.Enabled {
		waManager, err = infrastructure.NewWhatsAppManager(cfg.WhatsApp.DevicesDir, log)
		if err != nil {
			return err
		}
		waManager.OnMessage = inbound.InboundHandler()
		inbound.Register(entities.ProviderWhatsmeow, usecases.NewMessengerChannel(entities.ProviderWhatsmeow, resolver, waManager))
		defer waManager.DisconnectAll()
		restored := waManager.RestoreSessions(ctx)
		log.Info().Int("sessions", restored).Msg("whatsapp sessions restored")
	}

	tgManager := infrastructure.NewTelegramBotManager(log)
	tgManager.OnMessage = inbound.InboundHandler()
	inbound.Register(entities.ProviderTelegram, usecases.NewMessengerChannel(entities.ProviderTelegram, resolver, tgManager))
	defer tgManager.DisconnectAll()
	restoreTelegram(ctx, userRepo, tgManager, log)

	// Usecases
	authUsecase := usecases.NewAuthUsecase(userRepo, stageRepo, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL.Duration, log)
	if err := authUsecase.EnsureAdmin(ctx, cfg.Auth.AdminUsername, cfg.Auth.AdminPassword); err != nil {
		log.Warn().Err(err).Msg("failed to ensure admin user")
	}

	// nil interfaces mark disabled transports
	var (
		sessions    interface{ Status(userID int) string }
		states      interface{ ConnectionState(ctx context.Context, instance string) (string, error) }
		waConnected usecases.ConnectedUsers
	)
	if waManager != nil {
		sessions = waManager
		waConnected = waManager.ConnectedUsers
	}
	if gateway != nil {
		states = gateway
	}

	deps := api.Deps{
		Auth:            authUsecase,
		Dashboard:       usecases.NewDashboardUsecase(agentRepo, channelRepo, convRepo, userRepo, usageRepo, leadRepo, capture),
		Leads:           usecases.NewLeadUsecase(leadRepo, stageRepo),
		Admin:           usecases.NewAdminUsecase(userRepo, waConnected, tgManager.ConnectedUsers),
		Inbound:         inbound,
		Connection:      usecases.NewConnectionUsecase(sessions, states, channelRepo, cfg.WhatsApp.PollInterval.Duration, cfg.WhatsApp.PollTimeout.Duration),
		Users:           userRepo,
		WhatsApp:        waManager,
		Telegram:        tgManager,
		Middleware:      api.NewMiddleware(cfg.Auth.JWTSecret, cfg.HTTP.AllowOrigin),
		MetaVerifyToken: cfg.Meta.VerifyToken,
		MaxBodyBytes:    cfg.HTTP.MaxBodyBytes,
		Log:             log,
	}

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	api.SetupRoutes(r, deps)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	return nil
}

// restoreTelegram restarts the bots of every user with a stored token
func restoreTelegram(ctx context.Context, users *repository.UserRepository, tg *infrastructure.TelegramBotManager, log zerolog.Logger) {
	withToken, err := users.ListWithTelegramToken(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("listing telegram tokens")
		return
	}
	tokens := make(map[int]string, len(withToken))
	for _, u := range withToken {
		tokens[u.ID] = u.TelegramToken
	}
	if started := tg.RestoreAll(tokens); started > 0 {
		log.Info().Int("bots", started).Msg("telegram bots restored")
	}
}
