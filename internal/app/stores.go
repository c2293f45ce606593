package app

import (
	"context"
	"time"

	"quizroom-service/internal/domain"
)

// RoomStore exposes room CRUD from the durable store. The coordinator only
// reads rooms; writes happen through the HTTP layer.
type RoomStore interface {
	CreateRoom(ctx context.Context, room domain.Room) (domain.Room, error)
	FindRoom(ctx context.Context, roomID string) (domain.Room, error)
	FindRoomByCode(ctx context.Context, code string) (domain.Room, error)
	ListRoomsByOwner(ctx context.Context, ownerID string) ([]domain.Room, error)
	UpdateRoomSettings(ctx context.Context, roomID string, questionCount, timePerQuestion int) error
}

// QuestionStore loads and mutates a room's question set.
type QuestionStore interface {
	AddQuestion(ctx context.Context, q domain.Question) (domain.Question, error)
	// FindQuestionsByRoom returns the room's questions ordered by display order.
	FindQuestionsByRoom(ctx context.Context, roomID string) ([]domain.Question, error)
	DeleteQuestion(ctx context.Context, roomID, questionID string) error
}

// SessionStore persists quiz sessions. StartSession enforces the
// single-active-session invariant: it deactivates every other session for the
// room before activating sessionID (or creating a fresh session when
// sessionID is empty).
type SessionStore interface {
	StartSession(ctx context.Context, roomID, sessionID string) (domain.QuizSession, error)
	FindActiveSession(ctx context.Context, roomID string) (domain.QuizSession, error)
	// JoinSession adds userID to the room's latest session, creating a
	// waiting session when none exists. maxParticipants of zero means
	// unlimited.
	JoinSession(ctx context.Context, roomID, userID string, maxParticipants int) (domain.QuizSession, error)
	SetCurrentIndex(ctx context.Context, sessionID string, index int) error
	EndSession(ctx context.Context, sessionID string, endedAt time.Time) error
}

// ResultStore upserts per-user quiz results. UpsertResult increments the
// user's score and extends the answer map, returning the new total score.
type ResultStore interface {
	UpsertResult(ctx context.Context, sessionID, userID string, delta domain.ResultDelta) (int, error)
	SessionResults(ctx context.Context, sessionID string) ([]domain.QuizResult, error)
}

// LeaderboardStore maintains daily and all-time score counters per room.
// Dates are formatted YYYY-MM-DD; keying daily scores by date makes the
// scheduled daily reset a no-op here.
type LeaderboardStore interface {
	IncrScore(ctx context.Context, roomID, userID, date string, points int) error
	TopDaily(ctx context.Context, roomID, date string, limit int) ([]domain.LeaderboardRow, error)
	TopAllTime(ctx context.Context, roomID string, limit int) ([]domain.LeaderboardRow, error)
	TopGlobalDaily(ctx context.Context, date string, limit int) ([]domain.LeaderboardRow, error)
}

// Stores bundles the durable collaborators the coordinator depends on.
type Stores struct {
	Rooms       RoomStore
	Questions   QuestionStore
	Sessions    SessionStore
	Results     ResultStore
	Leaderboard LeaderboardStore
}
