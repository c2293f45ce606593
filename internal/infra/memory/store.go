package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"quizroom-service/internal/domain"
	"github.com/google/uuid"
)

// Store is an in-memory implementation of every durable-store interface the
// service consumes. It backs tests and the no-config demo mode.
type Store struct {
	mu          sync.RWMutex
	clock       func() time.Time
	rooms       map[string]domain.Room
	questions   map[string]domain.Question
	sessions    map[string]domain.QuizSession
	results     map[string]map[string]*domain.QuizResult
	leaderboard map[string]map[string]int
}

func NewStore() *Store {
	return &Store{
		clock:       time.Now,
		rooms:       make(map[string]domain.Room),
		questions:   make(map[string]domain.Question),
		sessions:    make(map[string]domain.QuizSession),
		results:     make(map[string]map[string]*domain.QuizResult),
		leaderboard: make(map[string]map[string]int),
	}
}

// NewStoreWithClock allows deterministic timestamps in tests.
func NewStoreWithClock(clock func() time.Time) *Store {
	s := NewStore()
	s.clock = clock
	return s
}

func (s *Store) CreateRoom(_ context.Context, room domain.Room) (domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	if room.ID == "" {
		room.ID = uuid.NewString()
	}
	room.CreatedAt = now
	room.UpdatedAt = now
	s.rooms[room.ID] = room
	return room, nil
}

func (s *Store) FindRoom(_ context.Context, roomID string) (domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	return room, nil
}

func (s *Store) FindRoomByCode(_ context.Context, code string) (domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, room := range s.rooms {
		if room.Code == code {
			return room, nil
		}
	}
	return domain.Room{}, domain.ErrRoomNotFound
}

func (s *Store) ListRoomsByOwner(_ context.Context, ownerID string) ([]domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rooms := make([]domain.Room, 0)
	for _, room := range s.rooms {
		if room.OwnerID == ownerID {
			rooms = append(rooms, room)
		}
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].CreatedAt.Before(rooms[j].CreatedAt) })
	return rooms, nil
}

func (s *Store) UpdateRoomSettings(_ context.Context, roomID string, questionCount, timePerQuestion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return domain.ErrRoomNotFound
	}
	room.QuestionCount = questionCount
	room.TimePerQuestion = timePerQuestion
	room.UpdatedAt = s.clock()
	s.rooms[roomID] = room
	return nil
}

func (s *Store) AddQuestion(_ context.Context, q domain.Question) (domain.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	q.CreatedAt = s.clock()
	s.questions[q.ID] = q
	return q, nil
}

func (s *Store) FindQuestionsByRoom(_ context.Context, roomID string) ([]domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	questions := make([]domain.Question, 0)
	for _, q := range s.questions {
		if q.RoomID == roomID {
			questions = append(questions, q)
		}
	}
	sort.Slice(questions, func(i, j int) bool {
		if questions[i].Order != questions[j].Order {
			return questions[i].Order < questions[j].Order
		}
		return questions[i].CreatedAt.Before(questions[j].CreatedAt)
	})
	return questions, nil
}

func (s *Store) DeleteQuestion(_ context.Context, roomID, questionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.questions[questionID]
	if !ok || q.RoomID != roomID {
		return domain.ErrQuestionNotFound
	}
	delete(s.questions, questionID)
	return nil
}

func (s *Store) StartSession(_ context.Context, roomID, sessionID string) (domain.QuizSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	for id, session := range s.sessions {
		if session.RoomID == roomID && session.Active {
			session.Active = false
			s.sessions[id] = session
		}
	}

	if sessionID != "" {
		if session, ok := s.sessions[sessionID]; ok && session.RoomID == roomID {
			session.Active = true
			session.CurrentIndex = 0
			session.StartedAt = &now
			session.EndedAt = nil
			s.sessions[sessionID] = session
			return session, nil
		}
	}

	session := domain.QuizSession{
		ID:           uuid.NewString(),
		RoomID:       roomID,
		Participants: []string{},
		Active:       true,
		StartedAt:    &now,
		CreatedAt:    now,
	}
	s.sessions[session.ID] = session
	return session, nil
}

func (s *Store) FindActiveSession(_ context.Context, roomID string) (domain.QuizSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, session := range s.sessions {
		if session.RoomID == roomID && session.Active {
			return session, nil
		}
	}
	return domain.QuizSession{}, domain.ErrSessionNotFound
}

func (s *Store) JoinSession(_ context.Context, roomID, userID string, maxParticipants int) (domain.QuizSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *domain.QuizSession
	for id := range s.sessions {
		session := s.sessions[id]
		if session.RoomID != roomID {
			continue
		}
		if latest == nil || session.CreatedAt.After(latest.CreatedAt) {
			latest = &session
		}
	}
	if latest == nil {
		session := domain.QuizSession{
			ID:           uuid.NewString(),
			RoomID:       roomID,
			Participants: []string{userID},
			CreatedAt:    s.clock(),
		}
		s.sessions[session.ID] = session
		return session, nil
	}

	for _, p := range latest.Participants {
		if p == userID {
			return *latest, nil
		}
	}
	if maxParticipants > 0 && len(latest.Participants) >= maxParticipants {
		return domain.QuizSession{}, domain.ErrRoomFull
	}
	latest.Participants = append(latest.Participants, userID)
	s.sessions[latest.ID] = *latest
	return *latest, nil
}

func (s *Store) SetCurrentIndex(_ context.Context, sessionID string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	session.CurrentIndex = index
	s.sessions[sessionID] = session
	return nil
}

func (s *Store) EndSession(_ context.Context, sessionID string, endedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	session.Active = false
	session.EndedAt = &endedAt
	s.sessions[sessionID] = session
	return nil
}

func (s *Store) UpsertResult(_ context.Context, sessionID, userID string, delta domain.ResultDelta) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	users, ok := s.results[sessionID]
	if !ok {
		users = make(map[string]*domain.QuizResult)
		s.results[sessionID] = users
	}
	result, ok := users[userID]
	if !ok {
		result = &domain.QuizResult{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			UserID:    userID,
			Answers:   make(map[string]domain.AnswerDetail),
			CreatedAt: now,
		}
		users[userID] = result
	}
	// First submission wins; a replayed delta for the same question does not
	// double-count.
	if _, answered := result.Answers[delta.QuestionID]; answered {
		return result.Score, nil
	}
	result.Answers[delta.QuestionID] = delta.Detail
	result.Score += delta.Detail.Points
	result.UpdatedAt = now
	return result.Score, nil
}

func (s *Store) SessionResults(_ context.Context, sessionID string) ([]domain.QuizResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]domain.QuizResult, 0, len(s.results[sessionID]))
	for _, result := range s.results[sessionID] {
		copied := *result
		copied.Answers = make(map[string]domain.AnswerDetail, len(result.Answers))
		for k, v := range result.Answers {
			copied.Answers[k] = v
		}
		results = append(results, copied)
	}
	return results, nil
}

func (s *Store) IncrScore(_ context.Context, roomID, userID, date string, points int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range []string{roomID + "|" + date, roomID + "|all", "global|" + date} {
		scores, ok := s.leaderboard[key]
		if !ok {
			scores = make(map[string]int)
			s.leaderboard[key] = scores
		}
		scores[userID] += points
	}
	return nil
}

func (s *Store) TopDaily(_ context.Context, roomID, date string, limit int) ([]domain.LeaderboardRow, error) {
	return s.top(roomID+"|"+date, limit), nil
}

func (s *Store) TopAllTime(_ context.Context, roomID string, limit int) ([]domain.LeaderboardRow, error) {
	return s.top(roomID+"|all", limit), nil
}

func (s *Store) TopGlobalDaily(_ context.Context, date string, limit int) ([]domain.LeaderboardRow, error) {
	return s.top("global|"+date, limit), nil
}

func (s *Store) top(key string, limit int) []domain.LeaderboardRow {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]domain.LeaderboardRow, 0, len(s.leaderboard[key]))
	for userID, score := range s.leaderboard[key] {
		rows = append(rows, domain.LeaderboardRow{UserID: userID, Score: score})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Score != rows[j].Score {
			return rows[i].Score > rows[j].Score
		}
		return rows[i].UserID < rows[j].UserID
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}
