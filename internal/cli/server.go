package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quizroom-service/internal/app"
	"quizroom-service/internal/config"
	"quizroom-service/internal/infra/memory"
	infrapg "quizroom-service/internal/infra/postgres"
	infraredis "quizroom-service/internal/infra/redis"
	transport "quizroom-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
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
		if !os.IsNotExist(err) {
			return err
		}
		log.Printf("config %s not found, running with in-memory stores", configPath)
		cfg = config.Config{}
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

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	stores := buildStores(cfg, redisClient, pool)

	registry := app.NewRegistry()
	gateway := app.NewGateway(registry)
	rooms := app.NewRoomStateStore(app.TimerScheduler{}, time.Now)
	coordinator := app.NewCoordinator(rooms, registry, gateway, stores,
		app.WithGraceDelay(config.Duration(cfg.Quiz.GraceDelay, app.DefaultGraceDelay)))

	wsHandler := transport.NewWSHandler(coordinator)
	apiHandler := transport.NewAPIHandler(coordinator, registry, stores)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	apiHandler.Register(mux)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting quiz room service on :%s", finalPort)
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

// buildStores wires the durable collaborators: Postgres when configured,
// in-memory otherwise, with Redis layered in for question caching and
// leaderboard counters when available.
func buildStores(cfg config.Config, redisClient *redis.Client, pool *pgxpool.Pool) app.Stores {
	memStore := memory.NewStore()
	stores := app.Stores{
		Rooms:       memStore,
		Questions:   memStore,
		Sessions:    memStore,
		Results:     memStore,
		Leaderboard: memStore,
	}

	if pool != nil {
		pgStore := infrapg.NewStore(pool)
		stores.Rooms = pgStore
		stores.Questions = pgStore
		stores.Sessions = pgStore
		stores.Results = pgStore
		stores.Leaderboard = pgStore
	}

	if redisClient != nil {
		questionTTL := config.Duration(cfg.Redis.QuestionTTL, 10*time.Minute)
		stores.Questions = infraredis.NewQuestionCache(redisClient, stores.Questions, questionTTL)

		leaderboardTTL := config.Duration(cfg.Redis.LeaderboardTTL, 48*time.Hour)
		stores.Leaderboard = infraredis.NewLeaderboard(redisClient, leaderboardTTL)
	}
	return stores
}
