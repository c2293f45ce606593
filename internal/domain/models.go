package domain

import "time"

// Room is the durable quiz configuration owned by a host. The coordinator
// treats it as read-only input; CRUD happens over the HTTP layer.
type Room struct {
	ID              string    `json:"id"`
	Code            string    `json:"code"`
	Name            string    `json:"name"`
	OwnerID         string    `json:"ownerId"`
	QuestionCount   int       `json:"questionCount"`
	TimePerQuestion int       `json:"timePerQuestion"`
	MaxParticipants int       `json:"maxParticipants"`
	Active          bool      `json:"isActive"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Question is a multiple-choice question with 2-4 options. Answer must be
// one of Options. The list served to a running session is frozen at start.
type Question struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"roomId"`
	Prompt    string    `json:"text"`
	Options   []string  `json:"options"`
	Answer    string    `json:"answer,omitempty"`
	Order     int       `json:"order"`
	CreatedAt time.Time `json:"createdAt"`
}

// HasOption reports whether opt is one of the question's options.
func (q Question) HasOption(opt string) bool {
	for _, o := range q.Options {
		if o == opt {
			return true
		}
	}
	return false
}

// QuizSession is one run of a room's quiz. At most one session per room is
// active at a time; the durable copy is authoritative, the in-memory room
// state is a working copy.
type QuizSession struct {
	ID           string     `json:"id"`
	RoomID       string     `json:"roomId"`
	Participants []string   `json:"participants"`
	CurrentIndex int        `json:"currentIndex"`
	Active       bool       `json:"isActive"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	EndedAt      *time.Time `json:"endedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// AnswerDetail records a single submitted answer inside a QuizResult.
type AnswerDetail struct {
	SelectedOption string    `json:"selectedOption"`
	TimeLeft       int       `json:"timeLeft"`
	Correct        bool      `json:"isCorrect"`
	Points         int       `json:"pointsAwarded"`
	AnsweredAt     time.Time `json:"timestamp"`
}

// ResultDelta is the per-answer increment applied to a QuizResult.
type ResultDelta struct {
	QuestionID string
	Detail     AnswerDetail
}

// QuizResult accumulates one participant's answers within a session.
// One row per (session, user) pair, upsert semantics.
type QuizResult struct {
	ID        string                  `json:"id"`
	SessionID string                  `json:"sessionId"`
	UserID    string                  `json:"userId"`
	Score     int                     `json:"score"`
	Answers   map[string]AnswerDetail `json:"answers"`
	CreatedAt time.Time               `json:"createdAt"`
	UpdatedAt time.Time               `json:"updatedAt"`
}

// Participant is a roster entry for a connected user.
type Participant struct {
	UserID      string `json:"id"`
	DisplayName string `json:"name"`
	Email       string `json:"email,omitempty"`
}

// LeaderboardEntry is one ranked row of a final session leaderboard.
type LeaderboardEntry struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Score  int    `json:"score"`
	Rank   int    `json:"rank"`
}

// UserStats summarizes a participant's session performance.
type UserStats struct {
	Score    int     `json:"score"`
	Correct  int     `json:"correct"`
	Total    int     `json:"total"`
	Accuracy float64 `json:"accuracy"`
}

// LeaderboardRow is a persisted per-room score counter entry.
type LeaderboardRow struct {
	UserID string `json:"userId"`
	Score  int    `json:"score"`
}
