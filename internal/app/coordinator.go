package app

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"quizroom-service/internal/domain"
	"quizroom-service/internal/scoring"
)

// DefaultGraceDelay is how long the correct answer stays on screen after a
// question's timer elapses before the quiz auto-advances.
const DefaultGraceDelay = 3 * time.Second

// Coordinator orchestrates the quiz lifecycle per room: start, advance,
// timer-driven auto-advance, answer recording, and final leaderboard
// broadcast. All transitions for one room are serialized through a per-room
// lock, and broadcasts happen only after the dependent durable writes commit.
type Coordinator struct {
	rooms      *RoomStateStore
	registry   *Registry
	gateway    *Gateway
	stores     Stores
	clock      func() time.Time
	graceDelay time.Duration

	mu        sync.Mutex
	roomLocks map[string]*sync.Mutex
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithClock injects a deterministic clock for tests.
func WithClock(clock func() time.Time) CoordinatorOption {
	return func(c *Coordinator) { c.clock = clock }
}

// WithGraceDelay overrides the post-question grace window.
func WithGraceDelay(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) { c.graceDelay = d }
}

func NewCoordinator(rooms *RoomStateStore, registry *Registry, gateway *Gateway, stores Stores, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		rooms:      rooms,
		registry:   registry,
		gateway:    gateway,
		stores:     stores,
		clock:      time.Now,
		graceDelay: DefaultGraceDelay,
		roomLocks:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// lockRoom serializes coordinator transitions per room so no two handlers
// for the same room run concurrently.
func (c *Coordinator) lockRoom(roomID string) func() {
	c.mu.Lock()
	m, ok := c.roomLocks[roomID]
	if !ok {
		m = &sync.Mutex{}
		c.roomLocks[roomID] = m
	}
	c.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// JoinRoom registers a connection in a room and rebroadcasts the roster.
func (c *Coordinator) JoinRoom(conn Conn, roomID, userID, displayName, email string) {
	defer c.lockRoom(roomID)()

	c.registry.Register(conn, roomID, userID, displayName, email)
	c.rooms.GetOrCreate(roomID)
	c.gateway.Broadcast(roomID, domain.ParticipantsUpdated{Participants: c.registry.Roster(roomID)})
}

// Leave removes a connection. Disconnects never touch quiz progress; only
// the roster changes.
func (c *Coordinator) Leave(conn Conn) {
	roomID, ok := c.registry.Unregister(conn)
	if !ok {
		return
	}
	defer c.lockRoom(roomID)()
	c.gateway.Broadcast(roomID, domain.ParticipantsUpdated{Participants: c.registry.Roster(roomID)})
}

// StartQuiz begins a run for the room. Host-only. It deactivates any other
// active session for the room, freezes the question list, activates the room
// state, broadcasts the first question, and arms the question timer. When
// sessionID is empty a fresh session is created.
func (c *Coordinator) StartQuiz(ctx context.Context, roomID, hostID, sessionID string, timePerQuestion int) (domain.QuizSession, error) {
	defer c.lockRoom(roomID)()

	room, err := c.stores.Rooms.FindRoom(ctx, roomID)
	if err != nil {
		return domain.QuizSession{}, err
	}
	if room.OwnerID != hostID {
		return domain.QuizSession{}, domain.ErrNotHost
	}

	questions, err := c.stores.Questions.FindQuestionsByRoom(ctx, roomID)
	if err != nil {
		return domain.QuizSession{}, err
	}
	if room.QuestionCount > 0 && len(questions) > room.QuestionCount {
		questions = questions[:room.QuestionCount]
	}
	if len(questions) == 0 {
		return domain.QuizSession{}, domain.ErrNoQuestions
	}

	if timePerQuestion <= 0 {
		timePerQuestion = room.TimePerQuestion
	}
	if timePerQuestion <= 0 {
		timePerQuestion = DefaultTimePerQuestion
	}

	session, err := c.stores.Sessions.StartSession(ctx, roomID, sessionID)
	if err != nil {
		return domain.QuizSession{}, err
	}

	snap := c.rooms.Activate(roomID, session.ID, hostID, timePerQuestion, questions)
	c.gateway.Broadcast(roomID, domain.QuizStarted{
		SessionID:       session.ID,
		Question:        domain.ViewOf(questions[0], 0, len(questions)),
		TimePerQuestion: timePerQuestion,
	})
	c.armQuestionTimer(roomID, snap.Epoch, timePerQuestion)
	return session, nil
}

// SubmitAnswer scores and records a participant's answer. Duplicate
// submissions for the same question are ignored (first wins); answers for a
// non-current question are rejected with a private ack and no state change.
// The private ack is only sent after the result write commits.
func (c *Coordinator) SubmitAnswer(ctx context.Context, conn Conn, roomID, sessionID, questionID, userID, selected string, timeLeft int) error {
	defer c.lockRoom(roomID)()

	reject := func(err error) error {
		c.gateway.Notify(conn, domain.AnswerAck{
			QuestionID:     questionID,
			SelectedOption: selected,
			TimeLeft:       timeLeft,
			Accepted:       false,
		})
		return err
	}

	snap, ok := c.rooms.Snapshot(roomID)
	if !ok || !snap.Active {
		return reject(domain.ErrSessionNotActive)
	}
	if snap.InGrace {
		return reject(domain.ErrQuestionNotCurrent)
	}
	if sessionID != "" && sessionID != snap.SessionID {
		return reject(domain.ErrSessionNotFound)
	}
	question, ok := snap.CurrentQuestion()
	if !ok || question.ID != questionID {
		return reject(domain.ErrQuestionNotCurrent)
	}
	if selected != "" && !question.HasOption(selected) {
		return reject(domain.ErrInvalidOption)
	}
	if !c.rooms.MarkAnswered(roomID, snap.CurrentIndex, userID) {
		return reject(domain.ErrAlreadyAnswered)
	}

	outcome := scoring.Score(question.Answer, selected, timeLeft, snap.TimePerQuestion)
	delta := domain.ResultDelta{
		QuestionID: question.ID,
		Detail: domain.AnswerDetail{
			SelectedOption: selected,
			TimeLeft:       timeLeft,
			Correct:        outcome.Correct,
			Points:         outcome.Points,
			AnsweredAt:     c.clock(),
		},
	}
	if _, err := c.stores.Results.UpsertResult(ctx, snap.SessionID, userID, delta); err != nil {
		// Revert so the user may retry; nothing was broadcast.
		c.rooms.UnmarkAnswered(roomID, snap.CurrentIndex, userID)
		c.gateway.Notify(conn, domain.ErrorEvent{Message: "failed to record answer"})
		return err
	}
	if outcome.Points > 0 {
		date := c.clock().UTC().Format("2006-01-02")
		if err := c.stores.Leaderboard.IncrScore(ctx, roomID, userID, date, outcome.Points); err != nil {
			// The result row is the source of truth; the aggregate counter
			// can be rebuilt from it.
			log.Printf("leaderboard increment failed for room %s user %s: %v", roomID, userID, err)
		}
	}

	c.gateway.Notify(conn, domain.AnswerAck{
		QuestionID:     question.ID,
		SelectedOption: selected,
		TimeLeft:       timeLeft,
		Accepted:       true,
		Correct:        outcome.Correct,
		Points:         outcome.Points,
	})
	c.gateway.Broadcast(roomID, domain.UserAnswered{
		QuestionID: question.ID,
		UserID:     userID,
		TimeLeft:   timeLeft,
	})
	return nil
}

// NextQuestion advances the room to its next question. Host-only.
func (c *Coordinator) NextQuestion(ctx context.Context, roomID, actorID string) error {
	defer c.lockRoom(roomID)()

	snap, ok := c.rooms.Snapshot(roomID)
	if !ok || !snap.Active {
		return domain.ErrSessionNotActive
	}
	if actorID != snap.HostID {
		return domain.ErrNotHost
	}
	return c.advanceLocked(ctx, roomID)
}

// EndQuiz finishes the room's run: cancels timers, persists the session end,
// and broadcasts the final leaderboard. Host-only.
func (c *Coordinator) EndQuiz(ctx context.Context, roomID, actorID string) error {
	defer c.lockRoom(roomID)()

	snap, ok := c.rooms.Snapshot(roomID)
	if !ok || !snap.Active {
		return domain.ErrSessionNotActive
	}
	if actorID != snap.HostID {
		return domain.ErrNotHost
	}
	return c.endLocked(ctx, roomID, snap)
}

// armQuestionTimer schedules the time's-up transition for the current
// question, replacing any pending timer for the room.
func (c *Coordinator) armQuestionTimer(roomID string, epoch uint64, timePerQuestion int) {
	d := time.Duration(timePerQuestion) * time.Second
	c.rooms.ScheduleTimer(roomID, d, func() {
		c.timeUp(roomID, epoch)
	})
}

// timeUp fires when the question timer elapses: reveal the correct answer,
// then auto-advance after the grace window unless the quiz ended meanwhile.
func (c *Coordinator) timeUp(roomID string, epoch uint64) {
	defer c.lockRoom(roomID)()

	snap, ok := c.rooms.BeginGrace(roomID, epoch)
	if !ok {
		// Stale timer; the room moved on.
		return
	}
	question, ok := snap.CurrentQuestion()
	if !ok {
		return
	}
	c.gateway.Broadcast(roomID, domain.TimeUp{
		QuestionIndex: snap.CurrentIndex,
		CorrectAnswer: question.Answer,
	})
	graceEpoch := snap.Epoch
	c.rooms.ScheduleTimer(roomID, c.graceDelay, func() {
		c.autoAdvance(roomID, graceEpoch)
	})
}

// autoAdvance performs the grace-window auto-advance. It re-reads current
// state and no-ops when the captured epoch is stale (e.g. the host ended the
// quiz during the grace window).
func (c *Coordinator) autoAdvance(roomID string, epoch uint64) {
	defer c.lockRoom(roomID)()

	snap, ok := c.rooms.Snapshot(roomID)
	if !ok || !snap.Active || snap.Epoch != epoch {
		return
	}
	if err := c.advanceLocked(context.Background(), roomID); err != nil {
		log.Printf("auto-advance failed for room %s: %v", roomID, err)
	}
}

// advanceLocked moves to the next question or ends the quiz when exhausted.
// Callers must hold the room lock.
func (c *Coordinator) advanceLocked(ctx context.Context, roomID string) error {
	snap, ok := c.rooms.Snapshot(roomID)
	if !ok || !snap.Active {
		return domain.ErrSessionNotActive
	}
	if snap.CurrentIndex+1 >= len(snap.Questions) {
		return c.endLocked(ctx, roomID, snap)
	}

	next, ok := c.rooms.Advance(roomID)
	if !ok {
		return domain.ErrSessionNotActive
	}
	// The cache advances immediately; the durable copy catches up
	// asynchronously and is reconciled at quiz end.
	go func(sessionID string, index int) {
		if err := c.stores.Sessions.SetCurrentIndex(context.Background(), sessionID, index); err != nil {
			log.Printf("persist question index failed for session %s: %v", sessionID, err)
		}
	}(next.SessionID, next.CurrentIndex)

	c.gateway.Broadcast(roomID, domain.QuestionChanged{
		Question:        domain.ViewOf(next.Questions[next.CurrentIndex], next.CurrentIndex, len(next.Questions)),
		TimePerQuestion: next.TimePerQuestion,
	})
	c.armQuestionTimer(roomID, next.Epoch, next.TimePerQuestion)
	return nil
}

// endLocked finishes the session. The durable end write and the final result
// query both complete before anything is broadcast; on failure the room state
// is left unchanged. Callers must hold the room lock.
func (c *Coordinator) endLocked(ctx context.Context, roomID string, snap RoomSnapshot) error {
	results, err := c.stores.Results.SessionResults(ctx, snap.SessionID)
	if err != nil {
		return err
	}
	if err := c.stores.Sessions.EndSession(ctx, snap.SessionID, c.clock()); err != nil {
		return err
	}

	c.rooms.Deactivate(roomID)

	leaderboard, stats := c.finalStandings(roomID, results)
	c.gateway.Broadcast(roomID, domain.QuizEnded{
		Leaderboard: leaderboard,
		UserStats:   stats,
	})
	return nil
}

// finalStandings ranks session results by score descending. Ties break by
// who reached their score earlier, then by display name.
func (c *Coordinator) finalStandings(roomID string, results []domain.QuizResult) ([]domain.LeaderboardEntry, map[string]domain.UserStats) {
	names := make(map[string]string)
	for _, p := range c.registry.Roster(roomID) {
		names[p.UserID] = p.DisplayName
	}
	displayName := func(userID string) string {
		if name, ok := names[userID]; ok && name != "" {
			return name
		}
		return userID
	}

	sorted := make([]domain.QuizResult, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		if !sorted[i].UpdatedAt.Equal(sorted[j].UpdatedAt) {
			return sorted[i].UpdatedAt.Before(sorted[j].UpdatedAt)
		}
		return displayName(sorted[i].UserID) < displayName(sorted[j].UserID)
	})

	leaderboard := make([]domain.LeaderboardEntry, 0, len(sorted))
	stats := make(map[string]domain.UserStats, len(sorted))
	for i, result := range sorted {
		leaderboard = append(leaderboard, domain.LeaderboardEntry{
			UserID: result.UserID,
			Name:   displayName(result.UserID),
			Score:  result.Score,
			Rank:   i + 1,
		})

		correct := 0
		for _, detail := range result.Answers {
			if detail.Correct {
				correct++
			}
		}
		total := len(result.Answers)
		accuracy := 0.0
		if total > 0 {
			accuracy = float64(correct) / float64(total) * 100
		}
		stats[result.UserID] = domain.UserStats{
			Score:    result.Score,
			Correct:  correct,
			Total:    total,
			Accuracy: accuracy,
		}
	}
	return leaderboard, stats
}
