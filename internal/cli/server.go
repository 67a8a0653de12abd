package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quiz-tournament-service/internal/app"
	"quiz-tournament-service/internal/config"
	"quiz-tournament-service/internal/domain"
	"quiz-tournament-service/internal/infra/memory"
	pginfra "quiz-tournament-service/internal/infra/postgres"
	redisinfra "quiz-tournament-service/internal/infra/redis"
	"quiz-tournament-service/internal/realtime"
	transport "quiz-tournament-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz tournament server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
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

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 10*time.Minute)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
	}

	var store app.Store
	if pool != nil {
		store = pginfra.NewStore(pool)
	} else {
		memStore := memory.NewStore()
		seedDemoTournament(memStore)
		store = memStore
	}
	if redisClient != nil {
		store = redisinfra.NewStore(store, redisClient, redisTTL)
	}

	questionTTL := config.TTLDuration(cfg.Quiz.QuestionTTL, 10*time.Minute)
	var bank app.QuestionBank
	switch {
	case redisClient != nil && pool != nil:
		bank = redisinfra.NewQuestionBank(redisClient, pginfra.NewQuestionLoader(pool), questionTTL)
	case pool != nil:
		bank = memory.NewQuestionBank(pginfra.NewQuestionLoader(pool), questionTTL)
	default:
		bank = memory.NewQuestionBank(memory.NewStaticQuestionLoader(sampleQuestions()), questionTTL)
	}

	clock := clockwork.NewRealClock()
	registry := realtime.NewRegistry(clock, logger)
	settlementDelay := config.TTLDuration(cfg.Quiz.SettlementDelay, app.DefaultSettlementDelay)
	settler := app.NewSettler(store, registry, clock, logger, settlementDelay, cfg.Quiz.LeaderboardSize)
	engine := app.NewEngine(store, bank, registry, settler, clock, logger)
	if cfg.Quiz.TimeUpdateInterval > 0 {
		engine.SetTimeUpdateInterval(cfg.Quiz.TimeUpdateInterval)
	}
	wsHandler := transport.NewWSHandler(registry, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info().Str("port", finalPort).Msg("starting quiz tournament service")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("failed to start server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info().Msg("shutting down server")
	case <-ctx.Done():
		logger.Info().Msg("context canceled, shutting down server")
	}

	settler.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// seedDemoTournament provides a free-entry tournament for running without a
// database; swap in Postgres for production.
func seedDemoTournament(store *memory.Store) {
	store.SeedTournament(domain.Tournament{
		ID:                 "demo-1",
		Name:               "General Knowledge Demo",
		Category:           "general",
		EntryFee:           0,
		QuestionCount:      3,
		PerQuestionSeconds: 10,
		TotalSeconds:       60,
	})
}

func sampleQuestions() map[string][]domain.Question {
	return map[string][]domain.Question{
		"general": {
			{
				ID:           "q1",
				Category:     "general",
				Text:         "What is the capital of India?",
				Options:      []string{"Mumbai", "New Delhi", "Kolkata", "Chennai"},
				CorrectIndex: 1,
				Explanation:  "New Delhi is the capital of India.",
				Difficulty:   "easy",
			},
			{
				ID:           "q2",
				Category:     "general",
				Text:         "What is the chemical symbol for water?",
				Options:      []string{"H2O", "CO2", "NaCl", "O2"},
				CorrectIndex: 0,
				Explanation:  "H2O is the chemical formula for water.",
				Difficulty:   "easy",
			},
			{
				ID:           "q3",
				Category:     "general",
				Text:         "In which year did India gain independence?",
				Options:      []string{"1945", "1947", "1950", "1952"},
				CorrectIndex: 1,
				Explanation:  "India gained independence on August 15, 1947.",
				Difficulty:   "medium",
			},
		},
	}
}
