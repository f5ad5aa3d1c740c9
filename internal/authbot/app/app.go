package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aussiebroadwan/authbot/internal/authbot/conversation"
	"github.com/aussiebroadwan/authbot/internal/authbot/gateway"
	httpapi "github.com/aussiebroadwan/authbot/internal/authbot/http"
	"github.com/aussiebroadwan/authbot/internal/authbot/service"
	"github.com/aussiebroadwan/authbot/internal/authbot/store"
	"github.com/aussiebroadwan/authbot/internal/authbot/store/drivers/postgres"
	"github.com/aussiebroadwan/authbot/internal/authbot/store/drivers/sqlite"
	"github.com/aussiebroadwan/authbot/internal/authbot/transport/telegram"
	"github.com/aussiebroadwan/authbot/pkg/slogx"
	"github.com/redis/go-redis/v9"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application wires the verification bot together: storage, conversation
// machine, dispatcher, chat transport and the ops HTTP server.
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	db            store.Store
	redis         *redis.Client // nil when conversations are kept in memory
	conversations conversation.Store
	sender        gateway.Sender

	// Services
	records  *service.Records
	issuer   *service.Issuer
	verifier *service.Verifier

	machine    *conversation.Machine
	dispatcher *conversation.Dispatcher
	transport  *telegram.Transport

	// HTTP server
	server *http.Server
	router *httpapi.Router
}

// New creates a new Application instance with all dependencies initialized
func New(cfg Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "authbot",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	if err := app.initDatabase(); err != nil {
		return nil, err
	}
	if err := app.initConversations(); err != nil {
		app.closeBackends()
		return nil, err
	}

	app.initGateway()
	app.initServices()

	if err := app.initTransport(); err != nil {
		app.closeBackends()
		return nil, err
	}

	app.initMachine()
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until SIGINT or SIGTERM.
func (app *Application) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return app.RunContext(ctx)
}

// RunContext starts the application and blocks until ctx is cancelled or a
// component fails, then shuts everything down.
func (app *Application) RunContext(ctx context.Context) error {
	// Handlers get their own context so a shutdown signal lets queued events
	// finish instead of failing them halfway.
	app.dispatcher.Start(context.Background())

	app.logger.Info("authbot starting",
		"port", app.cfg.Port,
		"version", BuildVersion,
		"bot", app.transport.Username(),
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	pollCtx, cancelPoll := context.WithCancel(ctx)
	defer cancelPoll()
	pollDone := make(chan error, 1)
	go func() {
		pollDone <- app.transport.Run(pollCtx, app.dispatcher)
	}()

	var runErr error
	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("server failed: %w", err)
		}
	case err := <-pollDone:
		pollDone <- err
		if err != nil {
			runErr = fmt.Errorf("update polling failed: %w", err)
		}
	case <-ctx.Done():
		app.logger.Info("shutdown requested")
	}

	// Stop taking updates before draining the dispatcher.
	cancelPoll()
	<-pollDone

	if err := app.Shutdown(); err != nil {
		return errors.Join(runErr, fmt.Errorf("graceful shutdown failed: %w", err))
	}
	return runErr
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down authbot...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	// Handle whatever is still queued.
	app.dispatcher.Stop()

	err := app.closeBackends()
	app.logger.Info("authbot stopped")
	return err
}

func (app *Application) closeBackends() error {
	var errs []error
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Error("error closing redis", "error", err)
			errs = append(errs, err)
		}
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("error closing database", "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// initDatabase opens the configured driver and applies migrations
func (app *Application) initDatabase() error {
	var (
		db  store.Store
		err error
	)
	switch app.cfg.DatabaseDriver {
	case "postgres":
		db, err = postgres.NewStore(app.cfg.DatabaseURL)
	default:
		dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", app.cfg.DatabaseFile)
		db, err = sqlite.NewStore(dsn)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully", "driver", app.cfg.DatabaseDriver)
	return nil
}

// initConversations picks Redis when configured so several instances can
// share conversation state; otherwise state lives in process memory.
func (app *Application) initConversations() error {
	if app.cfg.RedisURL == "" {
		app.conversations = conversation.NewMemoryStore(app.cfg.ConversationTTL)
		app.logger.Info("conversation store: memory")
		return nil
	}

	opts, err := redis.ParseURL(app.cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	app.redis = client
	app.conversations = conversation.NewRedisStore(client, "", app.cfg.ConversationTTL)
	app.logger.Info("conversation store: redis", "addr", opts.Addr)
	return nil
}

func (app *Application) initGateway() {
	if app.cfg.Gateway == "safir" {
		app.sender = gateway.NewSafirSender(gateway.SafirConfig{
			BaseURL:      app.cfg.SafirBaseURL,
			ClientID:     app.cfg.SafirClientID,
			ClientSecret: app.cfg.SafirClientSecret,
			Timeout:      app.cfg.SafirTimeout,
		})
		return
	}

	app.logger.Warn("otp gateway is in dry-run mode; codes are only logged")
	app.sender = &gateway.LogSender{Logger: app.logger}
}

// initServices initializes the record store, issuer and verifier
func (app *Application) initServices() {
	app.records = &service.Records{Store: app.db}
	app.issuer = &service.Issuer{
		Records:       app.records,
		Sender:        app.sender,
		CodeLength:    app.cfg.OTPLength,
		TTL:           app.cfg.OTPExpiry,
		MaxRequests:   app.cfg.OTPMaxRequests,
		RequestWindow: app.cfg.OTPRequestWindow,
	}
	app.verifier = &service.Verifier{
		Records:     app.records,
		CodeLength:  app.cfg.OTPLength,
		MaxAttempts: app.cfg.MaxVerificationAttempts,
		BanDuration: app.cfg.BanDuration,
	}
}

func (app *Application) initTransport() error {
	t, err := telegram.New(telegram.Config{
		Token:       app.cfg.BotToken,
		APIEndpoint: app.cfg.BotAPIEndpoint,
		PollTimeout: app.cfg.BotPollTimeout,
		Debug:       app.cfg.BotDebug,
	}, app.logger)
	if err != nil {
		return err
	}
	app.transport = t
	return nil
}

func (app *Application) initMachine() {
	app.machine = &conversation.Machine{
		Records:       app.records,
		Issuer:        app.issuer,
		Verifier:      app.verifier,
		Conversations: app.conversations,
		Replies:       app.transport,
		Limiter: conversation.NewLimiter(conversation.LimitConfig{
			Events: app.cfg.UserEventLimit,
			Window: app.cfg.UserEventWindow,
			Burst:  app.cfg.UserEventBurst,
		}),
		CountryCode: app.cfg.CountryCode,
	}
	app.dispatcher = conversation.NewDispatcher(app.machine, app.logger, app.cfg.Workers, app.cfg.QueueSize)
}

// initHTTP initializes the ops router and server
func (app *Application) initHTTP() {
	checks := map[string]httpapi.CheckFunc{
		"database": app.db.Ping,
	}
	if app.redis != nil {
		checks["redis"] = func(ctx context.Context) error { return app.redis.Ping(ctx).Err() }
	}

	router := httpapi.NewRouter(BuildVersion, checks, app.logger)
	router.ApplyRoutes()
	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
