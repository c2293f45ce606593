package domain

// Event is a server-emitted quiz event. Each concrete event carries its own
// wire type tag so emit and receive sides agree on the envelope shape.
type Event interface {
	EventType() string
}

// QuestionView is a question as shown to participants. It never carries the
// correct answer.
type QuestionView struct {
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	Options []string `json:"options"`
	Index   int      `json:"index"`
	Total   int      `json:"total"`
}

// ViewOf strips the answer off a question for broadcasting.
func ViewOf(q Question, index, total int) QuestionView {
	return QuestionView{
		ID:      q.ID,
		Text:    q.Prompt,
		Options: q.Options,
		Index:   index,
		Total:   total,
	}
}

// QuizStarted announces a new active session and its first question.
type QuizStarted struct {
	SessionID       string       `json:"sessionId"`
	Question        QuestionView `json:"question"`
	TimePerQuestion int          `json:"timePerQuestion"`
}

func (QuizStarted) EventType() string { return "quizStarted" }

// QuestionChanged announces the next question of a running session.
type QuestionChanged struct {
	Question        QuestionView `json:"question"`
	TimePerQuestion int          `json:"timePerQuestion"`
}

func (QuestionChanged) EventType() string { return "questionChanged" }

// TimeUp reveals the correct answer when a question's timer elapses.
type TimeUp struct {
	QuestionIndex int    `json:"questionIndex"`
	CorrectAnswer string `json:"correctAnswer"`
}

func (TimeUp) EventType() string { return "timeUp" }

// QuizEnded carries the final leaderboard and per-user stats.
type QuizEnded struct {
	Leaderboard []LeaderboardEntry   `json:"leaderboard"`
	UserStats   map[string]UserStats `json:"userStats"`
}

func (QuizEnded) EventType() string { return "quizEnded" }

// ParticipantsUpdated carries the current roster after a join or leave.
type ParticipantsUpdated struct {
	Participants []Participant `json:"participants"`
}

func (ParticipantsUpdated) EventType() string { return "updateParticipants" }

// AnswerAck privately acknowledges a submission to the submitter. Accepted
// is false when the answer was rejected (duplicate, stale, invalid).
type AnswerAck struct {
	QuestionID     string `json:"questionId"`
	SelectedOption string `json:"selectedOption"`
	TimeLeft       int    `json:"timeLeft"`
	Accepted       bool   `json:"accepted"`
	Correct        bool   `json:"isCorrect"`
	Points         int    `json:"points"`
}

func (AnswerAck) EventType() string { return "answerSubmitted" }

// UserAnswered notifies the room that someone answered. It intentionally
// carries no correctness information.
type UserAnswered struct {
	QuestionID string `json:"questionId"`
	UserID     string `json:"userId"`
	TimeLeft   int    `json:"timeLeft"`
}

func (UserAnswered) EventType() string { return "userAnswered" }

// ErrorEvent is sent privately to the connection that caused a failure.
type ErrorEvent struct {
	Message string `json:"message"`
}

func (ErrorEvent) EventType() string { return "error" }
