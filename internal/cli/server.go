package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"quiz-session-service/internal/app"
	"quiz-session-service/internal/clock"
	"quiz-session-service/internal/config"
	"quiz-session-service/internal/domain"
	"quiz-session-service/internal/infra/memory"
	pginfra "quiz-session-service/internal/infra/postgres"
	redisinfra "quiz-session-service/internal/infra/redis"
	"quiz-session-service/internal/scoring"
	transport "quiz-session-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz session server",
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
	logger := newLogger(cfg)

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, logger); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	stores, err := buildStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stores.close()

	authority := clock.NewAuthority()
	service := app.NewSessionService(app.SessionServiceConfig{
		Sessions:         stores.sessions,
		Snapshots:        stores.snapshots,
		Quizzes:          stores.quizzes,
		Clock:            authority,
		Strategy:         scoringStrategy(cfg),
		Logger:           logger,
		DefaultCountdown: config.TTLDuration(cfg.Session.Countdown, 10*time.Second),
	})

	sweepInterval := config.TTLDuration(cfg.Session.SweepInterval, 5*time.Second)
	sweeper := app.NewSweeper(service.Orchestrator(), authority, sweepInterval, logger)
	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	go sweeper.Run(sweepCtx)

	wsHandler := transport.NewWSHandler(service, logger)
	sessionHandler := transport.NewSessionHandler(service, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	sessionHandler.Register(mux)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info().Str("port", finalPort).Msg("starting quiz session service")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info().Msg("shutting down server...")
	case <-ctx.Done():
		logger.Info().Msg("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

type stores struct {
	sessions  app.SessionStore
	snapshots app.SnapshotStore
	quizzes   app.QuizRepository

	pool        *pgxpool.Pool
	redisClient *goredis.Client
}

func (s *stores) close() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.redisClient != nil {
		_ = s.redisClient.Close()
	}
}

// buildStores wires the ephemeral and durable adapters from config,
// falling back to in-memory implementations when redis/postgres are not
// configured (single-process demo mode).
func buildStores(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*stores, error) {
	s := &stores{}

	if cfg.Redis.Addr != "" {
		s.redisClient = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := s.redisClient.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
	}

	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		s.pool = pool
	}

	var loader memory.QuizLoader = memory.NewStaticQuizLoader(sampleQuizzes())
	if s.pool != nil {
		loader = pginfra.NewQuizLoader(s.pool)
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	if s.redisClient != nil {
		s.quizzes = redisinfra.NewQuizRepository(s.redisClient, loader, quizTTL)
	} else {
		s.quizzes = memory.NewQuizRepository(loader, quizTTL)
	}

	redisTTL := config.TTLDuration(cfg.Redis.TTL, 2*time.Hour)
	if s.redisClient != nil {
		s.sessions = redisinfra.NewSessionStore(s.redisClient, redisTTL)
	} else {
		logger.Warn().Msg("redis not configured; session state is in-memory only")
		s.sessions = memory.NewSessionStore()
	}

	if s.pool != nil {
		s.snapshots = pginfra.NewSnapshotStore(s.pool)
	} else {
		logger.Warn().Msg("postgres not configured; finished sessions are not durable")
		s.snapshots = memory.NewSnapshotStore()
	}

	return s, nil
}

func scoringStrategy(cfg config.Config) scoring.Strategy {
	if cfg.Session.Scoring == "speed_bonus" {
		bonus := cfg.Session.SpeedBonusPoints
		if bonus <= 0 {
			bonus = 50
		}
		return scoring.SpeedBonus{Bonus: bonus}
	}
	return scoring.Flat{}
}

func newLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil || cfg.Log.Level == "" {
		level = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}

// sampleQuizzes provides minimal quiz data for running without Postgres.
func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID: "quiz-1",
			Questions: []domain.Question{
				{
					ID:     "q1",
					Prompt: "What is 2 + 2?",
					Options: []domain.Option{
						{ID: "o1", Text: "3", Correct: false},
						{ID: "o2", Text: "4", Correct: true},
						{ID: "o3", Text: "5", Correct: false},
					},
					Points: 1,
				},
			},
		},
	}
}
