package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"quiz-room-service/internal/app"
	"quiz-room-service/internal/broadcast"
	"quiz-room-service/internal/config"
	"quiz-room-service/internal/domain"
	"quiz-room-service/internal/infra/memory"
	"quiz-room-service/internal/infra/postgres"
	infraredis "quiz-room-service/internal/infra/redis"
	"quiz-room-service/internal/logging"
	"quiz-room-service/internal/metrics"
	transport "quiz-room-service/internal/transport/http"
	"quiz-room-service/internal/validation"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz room server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := logging.New(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	defer logger.Sync()

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	metrics.Register(prometheus.DefaultRegisterer)

	var (
		pool     *pgxpool.Pool
		archiver app.Archiver
	)
	if cfg.Postgres.URL != "" {
		db, err := openBun(cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := migrateDB(ctx, db, logger); err != nil {
			return err
		}
		archiver = postgres.NewExportArchive(db)

		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}
	roomTTL := config.TTLDuration(cfg.Rooms.TTL, 4*time.Hour)

	loader := memory.ChainLoader{memory.NewStaticQuizLoader(sampleQuizzes())}
	if cfg.Quiz.Dir != "" {
		loader = append(loader, memory.NewDirQuizLoader(cfg.Quiz.Dir))
	}
	if pool != nil {
		loader = append(loader, postgres.NewQuizLoader(pool))
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var quizRepo app.QuizRepository
	if redisClient != nil {
		quizRepo = infraredis.NewQuizRepository(redisClient, loader, quizTTL)
	} else {
		quizRepo = memory.NewQuizRepository(loader, quizTTL)
	}

	var store app.SessionRepository
	if redisClient != nil {
		store = infraredis.NewSessionStore(redisClient, config.TTLDuration(cfg.Redis.TTL, roomTTL))
	} else {
		store = memory.NewSessionStore()
	}

	var embedder validation.Embedder
	if cfg.Validation.EmbeddingURL != "" {
		embedder = validation.NewCachingEmbedder(
			validation.NewHTTPEmbedder(
				cfg.Validation.EmbeddingURL,
				cfg.Validation.EmbeddingModel,
				config.TTLDuration(cfg.Validation.EmbeddingTimeout, 5*time.Second),
			),
			config.TTLDuration(cfg.Validation.EmbeddingCacheTTL, time.Hour),
		)
	}
	validator := validation.New(validation.Options{
		ShortAnswerMode:   domain.ValidationMode(cfg.Validation.ShortAnswerMode),
		FuzzyThreshold:    cfg.Validation.FuzzyThreshold,
		SemanticThreshold: cfg.Validation.SemanticThreshold,
	}, embedder, logger)

	hub := broadcast.NewHub(logger, cfg.WS.BufferSize)
	coordinator := app.NewCoordinator(store, validator, hub, app.Options{
		Quizzes:      quizRepo,
		Archiver:     archiver,
		Logger:       logger,
		RoomTTL:      roomTTL,
		MaxTimeLimit: config.TTLDuration(cfg.Rooms.MaxTimeLimit, app.DefaultMaxTimeLimit),
	})
	defer coordinator.Close()

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go coordinator.RunSweeper(sweepCtx, config.TTLDuration(cfg.Rooms.SweepInterval, time.Minute))

	router := transport.NewRouter(
		transport.NewRESTHandler(coordinator, logger),
		transport.NewWSHandler(coordinator, hub, logger, transport.WSOptions{
			MessagesPerSecond: cfg.WS.MessagesPerSecond,
			Burst:             cfg.WS.Burst,
		}),
	)

	// No WriteTimeout: it would cut long-lived websocket connections.
	server := &http.Server{
		Addr:              ":" + finalPort,
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("starting quiz room service", zap.String("port", finalPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to start server", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutting down server")
	case <-ctx.Done():
		logger.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleQuizzes is a built-in demo quiz; configure quiz.dir or Postgres for real content.
func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"demo": {
			ID:    "demo",
			Title: "Warm-up",
			Questions: []domain.Question{
				{
					ID:        "q1",
					Type:      domain.QuestionMultipleChoice,
					Prompt:    "What is 2 + 2?",
					Options:   []string{"3", "4", "5"},
					Answers:   []string{"4"},
					TimeLimit: 20,
					Points:    1000,
				},
				{
					ID:        "q2",
					Type:      domain.QuestionShortAnswer,
					Prompt:    "What is the capital of France?",
					Answers:   []string{"Paris"},
					TimeLimit: 30,
					Points:    1000,
				},
			},
		},
	}
}
