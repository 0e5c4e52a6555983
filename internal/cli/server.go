package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quizcha-live-service/internal/app"
	"quizcha-live-service/internal/config"
	"quizcha-live-service/internal/domain"
	"quizcha-live-service/internal/infra/memory"
	pgstore "quizcha-live-service/internal/infra/postgres"
	redisinfra "quizcha-live-service/internal/infra/redis"
	transport "quizcha-live-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the coordinator.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the live quiz coordinator",
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

	var quizStore app.QuizStore
	var userStore app.UserStore
	var configStore app.ConfigStore
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		store := pgstore.NewStore(pool)
		quizStore, userStore, configStore = store, store, store
	} else {
		store := memory.NewStore(sampleQuizzes(), sampleUsers())
		quizStore, userStore, configStore = store, store, store
	}

	var presence app.Presence = app.NoopPresence{}
	if redisClient != nil {
		quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
		quizStore = redisinfra.NewQuizCache(redisClient, quizStore, quizTTL)
		presence = redisinfra.NewPresence(redisClient, config.TTLDuration(cfg.Redis.TTL, 10*time.Minute))
	}

	scoring := domain.DefaultSystemConfig()
	if loaded, ok, err := configStore.LatestConfig(ctx); err != nil {
		log.Printf("load system config: %v (using defaults)", err)
	} else if ok {
		scoring = loaded
		log.Printf("system config loaded: %+v", scoring)
	}

	session := app.NewLiveSession(quizStore, userStore, presence, scoring)
	interval := config.TTLDuration(cfg.Scheduler.Interval, app.DefaultPollInterval)
	scheduler := app.NewScheduler(session, quizStore, interval)

	schedulerCtx, stopScheduler := context.WithCancel(ctx)
	defer stopScheduler()
	go scheduler.Run(schedulerCtx)

	wsHandler := transport.NewWSHandler(session)
	restHandler := transport.NewRESTHandler(quizStore, userStore)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	restHandler.Register(mux)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting live quiz coordinator on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleQuizzes seeds the in-memory store for running without Postgres. The
// quiz is scheduled for "now", so the first scheduler poll claims it.
func sampleQuizzes() map[string]domain.Quiz {
	now := time.Now()
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:                   "quiz-1",
			Title:                "General knowledge warm-up",
			TimeLimitPerQuestion: 15,
			Date:                 now.Format(domain.DateLayout),
			Time:                 now.Format(domain.TimeLayout),
			CurrentQuestionIndex: -1,
			Questions: []domain.Question{
				{
					ID:            "q1",
					Text:          "What is 2 + 2?",
					Options:       []string{"3", "4", "5"},
					CorrectAnswer: "4",
				},
				{
					ID:            "q2",
					Text:          "Which planet is known as the Red Planet?",
					Options:       []string{"Venus", "Mars", "Jupiter"},
					CorrectAnswer: "Mars",
				},
			},
		},
	}
}

func sampleUsers() map[string]domain.User {
	return map[string]domain.User{
		"u1": {ID: "u1", Username: "alice", Points: 100},
		"u2": {ID: "u2", Username: "bob", Points: 100},
	}
}
