package integration

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
	"quizroom-service/internal/infra/postgres"
	"quizroom-service/internal/infra/postgres/migrations"
	infraredis "quizroom-service/internal/infra/redis"
	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
)

// recordingConn collects events delivered to one participant.
type recordingConn struct {
	mu     sync.Mutex
	events []domain.Event
}

func (c *recordingConn) Send(event domain.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *recordingConn) ofType(eventType string) []domain.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.Event
	for _, event := range c.events {
		if event.EventType() == eventType {
			out = append(out, event)
		}
	}
	return out
}

func TestQuizLifecycleEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	runMigrations(t, ctx, pgURL)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	store := postgres.NewStore(pool)
	questions := infraredis.NewQuestionCache(redisClient, store, 5*time.Minute)
	leaderboard := infraredis.NewLeaderboard(redisClient, 48*time.Hour)

	registry := app.NewRegistry()
	rooms := app.NewRoomStateStore(app.TimerScheduler{}, time.Now)
	coordinator := app.NewCoordinator(rooms, registry, app.NewGateway(registry), app.Stores{
		Rooms:       store,
		Questions:   questions,
		Sessions:    store,
		Results:     store,
		Leaderboard: leaderboard,
	}, app.WithGraceDelay(100*time.Millisecond))

	room, err := store.CreateRoom(ctx, domain.Room{
		Code: "INT001", Name: "Integration", OwnerID: "host",
		QuestionCount: 10, TimePerQuestion: 30, Active: true,
	})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	for i, q := range []domain.Question{
		{Prompt: "What is 2 + 2?", Options: []string{"3", "4", "5"}, Answer: "4"},
		{Prompt: "Capital of France?", Options: []string{"Paris", "Rome"}, Answer: "Paris"},
	} {
		q.RoomID = room.ID
		q.Order = i + 1
		if _, err := questions.AddQuestion(ctx, q); err != nil {
			t.Fatalf("add question: %v", err)
		}
	}

	host := &recordingConn{}
	alice := &recordingConn{}
	bob := &recordingConn{}
	coordinator.JoinRoom(host, room.ID, "host", "Host", "")
	coordinator.JoinRoom(alice, room.ID, "u1", "Alice", "")
	coordinator.JoinRoom(bob, room.ID, "u2", "Bob", "")

	session, err := coordinator.StartQuiz(ctx, room.ID, "host", "", 30)
	if err != nil {
		t.Fatalf("start quiz: %v", err)
	}
	if len(alice.ofType("quizStarted")) != 1 {
		t.Fatalf("expected quizStarted broadcast")
	}

	started := alice.ofType("quizStarted")[0].(domain.QuizStarted)
	firstID := started.Question.ID
	if err := coordinator.SubmitAnswer(ctx, bob, room.ID, session.ID, firstID, "u2", "4", 21); err != nil {
		t.Fatalf("submit bob: %v", err)
	}
	if err := coordinator.SubmitAnswer(ctx, alice, room.ID, session.ID, firstID, "u1", "3", 15); err != nil {
		t.Fatalf("submit alice: %v", err)
	}

	if err := coordinator.NextQuestion(ctx, room.ID, "host"); err != nil {
		t.Fatalf("next: %v", err)
	}
	changed := alice.ofType("questionChanged")
	if len(changed) != 1 {
		t.Fatalf("expected questionChanged")
	}
	secondID := changed[0].(domain.QuestionChanged).Question.ID
	if err := coordinator.SubmitAnswer(ctx, alice, room.ID, session.ID, secondID, "u1", "Paris", 10); err != nil {
		t.Fatalf("submit alice q2: %v", err)
	}

	if err := coordinator.EndQuiz(ctx, room.ID, "host"); err != nil {
		t.Fatalf("end: %v", err)
	}

	ended := bob.ofType("quizEnded")
	if len(ended) != 1 {
		t.Fatalf("expected quizEnded broadcast")
	}
	final := ended[0].(domain.QuizEnded)
	// Bob: 100 + 21*50/30 = 135. Alice: 0 + 100 + 10*50/30 = 116.
	if len(final.Leaderboard) != 2 {
		t.Fatalf("expected 2 entries, got %+v", final.Leaderboard)
	}
	if final.Leaderboard[0].UserID != "u2" || final.Leaderboard[0].Score != 135 {
		t.Fatalf("expected Bob leading with 135, got %+v", final.Leaderboard[0])
	}
	if final.Leaderboard[1].UserID != "u1" || final.Leaderboard[1].Score != 116 {
		t.Fatalf("expected Alice with 116, got %+v", final.Leaderboard[1])
	}
	if stats := final.UserStats["u1"]; stats.Correct != 1 || stats.Total != 2 || stats.Accuracy != 50 {
		t.Fatalf("unexpected stats for Alice: %+v", stats)
	}

	// Durable results survive the broadcast.
	results, err := store.SessionResults(ctx, session.ID)
	if err != nil || len(results) != 2 {
		t.Fatalf("session results: %+v err=%v", results, err)
	}

	// Redis leaderboard counters track the same awards.
	date := time.Now().UTC().Format("2006-01-02")
	rows, err := leaderboard.TopDaily(ctx, room.ID, date, 10)
	if err != nil {
		t.Fatalf("top daily: %v", err)
	}
	if len(rows) != 2 || rows[0].UserID != "u2" || rows[0].Score != 135 || rows[1].Score != 116 {
		t.Fatalf("unexpected redis leaderboard: %+v", rows)
	}

	// The session is closed durably.
	if _, err := store.FindActiveSession(ctx, room.ID); err == nil {
		t.Fatalf("expected no active session after end")
	}
}

func runMigrations(t *testing.T, ctx context.Context, dsn string) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, migrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
