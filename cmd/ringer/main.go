package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Lif-Platforms/New-Ringer-Server/internal/api"
	"github.com/Lif-Platforms/New-Ringer-Server/internal/apierrors"
	"github.com/Lif-Platforms/New-Ringer-Server/internal/authclient"
	"github.com/Lif-Platforms/New-Ringer-Server/internal/config"
	"github.com/Lif-Platforms/New-Ringer-Server/internal/conversation"
	"github.com/Lif-Platforms/New-Ringer-Server/internal/destruct"
	"github.com/Lif-Platforms/New-Ringer-Server/internal/friendrequest"
	"github.com/Lif-Platforms/New-Ringer-Server/internal/gif"
	"github.com/Lif-Platforms/New-Ringer-Server/internal/httputil"
	"github.com/Lif-Platforms/New-Ringer-Server/internal/liveupdates"
	"github.com/Lif-Platforms/New-Ringer-Server/internal/message"
	"github.com/Lif-Platforms/New-Ringer-Server/internal/postgres"
	"github.com/Lif-Platforms/New-Ringer-Server/internal/push"
	"github.com/Lif-Platforms/New-Ringer-Server/internal/pushtoken"
	"github.com/Lif-Platforms/New-Ringer-Server/internal/registry"
	"github.com/Lif-Platforms/New-Ringer-Server/internal/user"
	"github.com/Lif-Platforms/New-Ringer-Server/internal/valkey"
)

// Build metadata injected via ldflags at compile time.
var (
	version = "dev"
	commit  = "unknown"
)

// server holds the shared dependencies used by route handlers.
type server struct {
	cfg            *config.Config
	db             *pgxpool.Pool
	rdb            *redis.Client
	verifier       *authclient.Verifier
	registry       *registry.Registry
	userRepo       user.Repository
	requestRepo    friendrequest.Repository
	convRepo       conversation.Repository
	messageRepo    message.Repository
	tokenRepo      pushtoken.Repository
	pushDispatcher *push.Dispatcher
	gifClient      *gif.Client
	hub            *liveupdates.Hub
}

func main() {
	// A local .env is a development convenience; absence is normal in deployment.
	_ = godotenv.Load()

	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if !cfg.IsProduction() {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			With().Timestamp().Logger()
	}

	api.Version = version
	log.Info().
		Str("version", version).
		Str("commit", commit).
		Str("env", cfg.RunEnvironment).
		Msg("Starting Ringer Server")

	ctx := context.Background()

	// Connect PostgreSQL
	db, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConn, cfg.DatabaseMinConn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()
	log.Info().Msg("PostgreSQL connected")

	// Run migrations
	if err := postgres.Migrate(cfg.DatabaseURL, log.Logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info().Msg("Database migrations complete")

	// Connect Valkey (GIF search cache)
	rdb, err := valkey.Connect(ctx, cfg.ValkeyURL, cfg.ValkeyDialTimeout)
	if err != nil {
		return fmt.Errorf("connect valkey: %w", err)
	}
	defer func() { _ = rdb.Close() }()
	log.Info().Msg("Valkey connected")

	// Repositories
	userRepo := user.NewPGRepository(db, log.Logger)
	requestRepo := friendrequest.NewPGRepository(db, log.Logger)
	convRepo := conversation.NewPGRepository(db, log.Logger)
	messageRepo := message.NewPGRepository(db, log.Logger)
	tokenRepo := pushtoken.NewPGRepository(db, log.Logger)

	// External collaborators
	verifier := authclient.NewVerifier(cfg.AuthServerURL, cfg.AuthTimeout)
	pushDispatcher := push.NewDispatcher(tokenRepo, cfg.PushGatewayURL, cfg.PushTimeout,
		cfg.PushQueueSize, cfg.PushMaxRetries, log.Logger)
	gifClient := gif.NewClient(cfg.GifProviderURL, cfg.GifAPIKey, cfg.GifTimeout, rdb, cfg.GifCacheTTL, log.Logger)

	// Session registry and live updates engine
	reg := registry.New()
	hub := liveupdates.NewHub(reg, verifier, userRepo, convRepo, messageRepo, pushDispatcher, cfg, log.Logger)

	// Background workers share a cancellable context.
	subCtx, subCancel := context.WithCancel(ctx)
	defer subCancel()

	go runWithBackoff(subCtx, "push-dispatcher", pushDispatcher.Run)

	scheduler := destruct.NewScheduler(messageRepo, convRepo, reg, cfg.DestructInterval, log.Logger)
	go runWithBackoff(subCtx, "destruct-scheduler", scheduler.Run)

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName: "Ringer",
		// ErrorHandler catches errors returned by handlers that are not already mapped to structured API responses
		// (e.g. Fiber's built-in 404/405).
		ErrorHandler: func(c fiber.Ctx, err error) error {
			status := fiber.StatusInternalServerError
			message := "An internal error occurred"
			apiCode := apierrors.InternalError
			if e, ok := errors.AsType[*fiber.Error](err); ok {
				status = e.Code
				message = e.Message
				apiCode = fiberStatusToAPICode(e.Code)
			} else {
				log.Error().Err(err).
					Str("method", c.Method()).
					Str("path", c.Path()).
					Msg("Unhandled error")
			}
			return c.Status(status).JSON(httputil.ErrorResponse{
				Error: httputil.ErrorBody{
					Code:    apiCode,
					Message: message,
				},
			})
		},
	})

	// Global middleware
	app.Use(requestid.New())
	if cfg.LogRootProbes {
		app.Use(httputil.RequestLogger(log.Logger))
	} else {
		app.Use(httputil.RequestLogger(log.Logger, "/"))
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:  strings.Split(cfg.CORSAllowOrigins, ","),
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "username", "token"},
		ExposeHeaders: []string{"X-Request-ID"},
	}))
	app.Use(limiter.New(limiter.Config{
		Max:        cfg.RateLimitAPIRequests,
		Expiration: time.Duration(cfg.RateLimitAPIWindowSeconds) * time.Second,
	}))

	// Register routes
	srv := &server{
		cfg:            cfg,
		db:             db,
		rdb:            rdb,
		verifier:       verifier,
		registry:       reg,
		userRepo:       userRepo,
		requestRepo:    requestRepo,
		convRepo:       convRepo,
		messageRepo:    messageRepo,
		tokenRepo:      tokenRepo,
		pushDispatcher: pushDispatcher,
		gifClient:      gifClient,
		hub:            hub,
	}
	srv.registerRoutes(app)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("Shutting down server")
		hub.Shutdown()
		subCancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	log.Info().Str("addr", addr).Msg("Server listening")

	if err := app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

func (s *server) registerRoutes(app *fiber.App) {
	requireAuth := api.RequireAuth(s.verifier, log.Logger)

	root := api.NewRootHandler()
	app.Get("/", root.Probe)

	friendsHandler := api.NewFriendsHandler(s.userRepo, s.registry, log.Logger)
	app.Get("/friends/v1/get_friends", requireAuth, friendsHandler.GetFriends)

	requestsHandler := api.NewRequestsHandler(s.requestRepo, s.userRepo, s.registry, s.pushDispatcher, log.Logger)
	requestsGroup := app.Group("/friend_requests", requireAuth)
	requestsGroup.Get("/v1/get_requests", requestsHandler.GetRequests)
	requestsGroup.Get("/v1/outgoing_requests", requestsHandler.OutgoingRequests)
	requestsGroup.Post("/v1/add_friend", requestsHandler.AddFriend)
	requestsGroup.Post("/v1/accept_request", requestsHandler.AcceptRequest)
	requestsGroup.Post("/v1/deny_request", requestsHandler.DenyRequest)

	messagesHandler := api.NewMessagesHandler(s.convRepo, s.messageRepo, log.Logger)
	app.Get("/messages/v1/load/:conversationID", requireAuth, messagesHandler.LoadMessages)

	conversationsHandler := api.NewConversationsHandler(s.convRepo, s.registry, log.Logger)
	app.Delete("/conversations/v1/remove/:conversationID", requireAuth, conversationsHandler.RemoveConversation)

	notificationsHandler := api.NewNotificationsHandler(s.tokenRepo, log.Logger)
	app.Post("/notifications/v1/register", requireAuth, notificationsHandler.Register)
	// Unregister is deliberately unauthenticated: the token itself is the capability.
	app.Post("/notifications/v1/unregister", notificationsHandler.Unregister)

	gifsHandler := api.NewGifsHandler(s.gifClient, log.Logger)
	app.Get("/gifs/v1/search", gifsHandler.Search)

	userHandler := api.NewUserHandler(s.userRepo, log.Logger)
	app.Get("/user/v1/search", requireAuth, userHandler.Search)

	// Live updates WebSocket endpoint. Authentication happens inside the Hub so failures close with the live
	// protocol's close codes rather than an HTTP status.
	liveHandler := api.NewLiveUpdatesHandler(s.hub)
	app.Get("/v1/live-updates", liveHandler.Upgrade)

	// Catch-all handler returns 404 for any request that does not match a defined route. Fiber v3 treats app.Use()
	// middleware as route matches, so without this terminal handler the router considers unmatched requests
	// "handled" and returns the default 200 status with an empty body.
	app.Use(func(_ fiber.Ctx) error {
		return fiber.ErrNotFound
	})
}

// runWithBackoff runs fn in a loop, restarting with exponential backoff when it returns a non-nil, non-cancelled error.
// If fn returns nil or context.Canceled the goroutine exits. The delay starts at 1 second and doubles on each
// consecutive failure up to a 2-minute cap.
func runWithBackoff(ctx context.Context, name string, fn func(context.Context) error) {
	const (
		initialDelay = time.Second
		maxDelay     = 2 * time.Minute
	)
	delay := initialDelay
	for {
		if err := fn(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error().Err(err).Str("service", name).Dur("retry_in", delay).
				Msg("Background service stopped, restarting after delay")
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay = min(delay*2, maxDelay)
			continue
		}
		return
	}
}

// fiberStatusToAPICode maps an HTTP status code from Fiber's built-in errors (404, 405, etc.) to the closest API
// error code.
func fiberStatusToAPICode(status int) apierrors.Code {
	switch status {
	case fiber.StatusNotFound:
		return apierrors.NotFound
	case fiber.StatusTooManyRequests:
		return apierrors.RateLimited
	case fiber.StatusServiceUnavailable:
		return apierrors.ServiceUnavailable
	default:
		if status >= 400 && status < 500 {
			return apierrors.ValidationError
		}
		return apierrors.InternalError
	}
}
