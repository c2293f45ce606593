package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"quizroom-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// Store is the Postgres-backed implementation of the durable store
// interfaces. Question options, session participants, and result answer maps
// are stored as JSONB.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) CreateRoom(ctx context.Context, room domain.Room) (domain.Room, error) {
	if room.ID == "" {
		room.ID = uuid.NewString()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO rooms (id, code, name, owner_id, question_count, time_per_question, max_participants, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		room.ID, room.Code, room.Name, room.OwnerID, room.QuestionCount, room.TimePerQuestion, room.MaxParticipants, room.Active,
	).Scan(&room.CreatedAt, &room.UpdatedAt)
	if err != nil {
		return domain.Room{}, fmt.Errorf("create room: %w", err)
	}
	return room, nil
}

func (s *Store) FindRoom(ctx context.Context, roomID string) (domain.Room, error) {
	return s.scanRoom(s.pool.QueryRow(ctx, `
		SELECT id, code, name, owner_id, question_count, time_per_question, max_participants, is_active, created_at, updated_at
		FROM rooms WHERE id = $1`, roomID))
}

func (s *Store) FindRoomByCode(ctx context.Context, code string) (domain.Room, error) {
	return s.scanRoom(s.pool.QueryRow(ctx, `
		SELECT id, code, name, owner_id, question_count, time_per_question, max_participants, is_active, created_at, updated_at
		FROM rooms WHERE code = $1`, code))
}

func (s *Store) scanRoom(row pgx.Row) (domain.Room, error) {
	var room domain.Room
	err := row.Scan(&room.ID, &room.Code, &room.Name, &room.OwnerID, &room.QuestionCount,
		&room.TimePerQuestion, &room.MaxParticipants, &room.Active, &room.CreatedAt, &room.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	if err != nil {
		return domain.Room{}, fmt.Errorf("load room: %w", err)
	}
	return room, nil
}

func (s *Store) ListRoomsByOwner(ctx context.Context, ownerID string) ([]domain.Room, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, code, name, owner_id, question_count, time_per_question, max_participants, is_active, created_at, updated_at
		FROM rooms WHERE owner_id = $1 ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	var rooms []domain.Room
	for rows.Next() {
		room, err := s.scanRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

func (s *Store) UpdateRoomSettings(ctx context.Context, roomID string, questionCount, timePerQuestion int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE rooms SET question_count = $2, time_per_question = $3, updated_at = now()
		WHERE id = $1`, roomID, questionCount, timePerQuestion)
	if err != nil {
		return fmt.Errorf("update room settings: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRoomNotFound
	}
	return nil
}

func (s *Store) AddQuestion(ctx context.Context, q domain.Question) (domain.Question, error) {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	options, err := json.Marshal(q.Options)
	if err != nil {
		return domain.Question{}, fmt.Errorf("encode options: %w", err)
	}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO questions (id, room_id, prompt, options, answer, display_order)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		q.ID, q.RoomID, q.Prompt, options, q.Answer, q.Order,
	).Scan(&q.CreatedAt)
	if err != nil {
		return domain.Question{}, fmt.Errorf("add question: %w", err)
	}
	return q, nil
}

func (s *Store) FindQuestionsByRoom(ctx context.Context, roomID string) ([]domain.Question, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, room_id, prompt, options, answer, display_order, created_at
		FROM questions WHERE room_id = $1 ORDER BY display_order, created_at`, roomID)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()

	var questions []domain.Question
	for rows.Next() {
		var q domain.Question
		var options []byte
		if err := rows.Scan(&q.ID, &q.RoomID, &q.Prompt, &options, &q.Answer, &q.Order, &q.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		if err := json.Unmarshal(options, &q.Options); err != nil {
			return nil, fmt.Errorf("decode options: %w", err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

func (s *Store) DeleteQuestion(ctx context.Context, roomID, questionID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM questions WHERE id = $1 AND room_id = $2`, questionID, roomID)
	if err != nil {
		return fmt.Errorf("delete question: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrQuestionNotFound
	}
	return nil
}

func (s *Store) StartSession(ctx context.Context, roomID, sessionID string) (domain.QuizSession, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.QuizSession{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE quiz_sessions SET is_active = false WHERE room_id = $1 AND is_active`, roomID); err != nil {
		return domain.QuizSession{}, fmt.Errorf("deactivate sessions: %w", err)
	}

	var session domain.QuizSession
	if sessionID != "" {
		session, err = scanSession(tx.QueryRow(ctx, `
			UPDATE quiz_sessions
			SET is_active = true, current_index = 0, started_at = now(), ended_at = NULL
			WHERE id = $1 AND room_id = $2
			RETURNING id, room_id, participants, current_index, is_active, started_at, ended_at, created_at`,
			sessionID, roomID))
		if err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
			return domain.QuizSession{}, err
		}
	}
	if session.ID == "" {
		session, err = scanSession(tx.QueryRow(ctx, `
			INSERT INTO quiz_sessions (id, room_id, participants, current_index, is_active, started_at)
			VALUES ($1, $2, '[]'::jsonb, 0, true, now())
			RETURNING id, room_id, participants, current_index, is_active, started_at, ended_at, created_at`,
			uuid.NewString(), roomID))
		if err != nil {
			return domain.QuizSession{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.QuizSession{}, fmt.Errorf("commit: %w", err)
	}
	return session, nil
}

func (s *Store) FindActiveSession(ctx context.Context, roomID string) (domain.QuizSession, error) {
	return scanSession(s.pool.QueryRow(ctx, `
		SELECT id, room_id, participants, current_index, is_active, started_at, ended_at, created_at
		FROM quiz_sessions WHERE room_id = $1 AND is_active
		ORDER BY created_at DESC LIMIT 1`, roomID))
}

func (s *Store) JoinSession(ctx context.Context, roomID, userID string, maxParticipants int) (domain.QuizSession, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.QuizSession{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	session, err := scanSession(tx.QueryRow(ctx, `
		SELECT id, room_id, participants, current_index, is_active, started_at, ended_at, created_at
		FROM quiz_sessions WHERE room_id = $1
		ORDER BY created_at DESC LIMIT 1
		FOR UPDATE`, roomID))
	if errors.Is(err, domain.ErrSessionNotFound) {
		participants, _ := json.Marshal([]string{userID})
		session, err = scanSession(tx.QueryRow(ctx, `
			INSERT INTO quiz_sessions (id, room_id, participants, current_index, is_active)
			VALUES ($1, $2, $3, 0, false)
			RETURNING id, room_id, participants, current_index, is_active, started_at, ended_at, created_at`,
			uuid.NewString(), roomID, participants))
		if err != nil {
			return domain.QuizSession{}, err
		}
		return session, tx.Commit(ctx)
	}
	if err != nil {
		return domain.QuizSession{}, err
	}

	for _, p := range session.Participants {
		if p == userID {
			return session, tx.Commit(ctx)
		}
	}
	if maxParticipants > 0 && len(session.Participants) >= maxParticipants {
		return domain.QuizSession{}, domain.ErrRoomFull
	}

	session.Participants = append(session.Participants, userID)
	participants, _ := json.Marshal(session.Participants)
	if _, err := tx.Exec(ctx, `
		UPDATE quiz_sessions SET participants = $2 WHERE id = $1`, session.ID, participants); err != nil {
		return domain.QuizSession{}, fmt.Errorf("join session: %w", err)
	}
	return session, tx.Commit(ctx)
}

func (s *Store) SetCurrentIndex(ctx context.Context, sessionID string, index int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE quiz_sessions SET current_index = $2 WHERE id = $1`, sessionID, index)
	if err != nil {
		return fmt.Errorf("set current index: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (s *Store) EndSession(ctx context.Context, sessionID string, endedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE quiz_sessions SET is_active = false, ended_at = $2 WHERE id = $1`, sessionID, endedAt)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func scanSession(row pgx.Row) (domain.QuizSession, error) {
	var session domain.QuizSession
	var participants []byte
	err := row.Scan(&session.ID, &session.RoomID, &participants, &session.CurrentIndex,
		&session.Active, &session.StartedAt, &session.EndedAt, &session.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.QuizSession{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.QuizSession{}, fmt.Errorf("scan session: %w", err)
	}
	if err := json.Unmarshal(participants, &session.Participants); err != nil {
		return domain.QuizSession{}, fmt.Errorf("decode participants: %w", err)
	}
	return session, nil
}

// UpsertResult records one answer for a (session, user) pair. First
// submission per question wins: replaying a delta for a question already in
// the answer map changes nothing. Returns the user's new total score.
func (s *Store) UpsertResult(ctx context.Context, sessionID, userID string, delta domain.ResultDelta) (int, error) {
	detail, err := json.Marshal(delta.Detail)
	if err != nil {
		return 0, fmt.Errorf("encode answer: %w", err)
	}

	var score int
	err = s.pool.QueryRow(ctx, `
		INSERT INTO quiz_results (id, session_id, user_id, score, answers)
		VALUES ($1, $2, $3, $4, jsonb_build_object($5::text, $6::jsonb))
		ON CONFLICT (session_id, user_id) DO UPDATE SET
			score = quiz_results.score
				+ CASE WHEN quiz_results.answers ? $5 THEN 0 ELSE EXCLUDED.score END,
			answers = CASE WHEN quiz_results.answers ? $5
				THEN quiz_results.answers
				ELSE quiz_results.answers || jsonb_build_object($5::text, $6::jsonb) END,
			updated_at = CASE WHEN quiz_results.answers ? $5
				THEN quiz_results.updated_at ELSE now() END
		RETURNING score`,
		uuid.NewString(), sessionID, userID, delta.Detail.Points, delta.QuestionID, detail,
	).Scan(&score)
	if err != nil {
		return 0, fmt.Errorf("upsert result: %w", err)
	}
	return score, nil
}

func (s *Store) SessionResults(ctx context.Context, sessionID string) ([]domain.QuizResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, user_id, score, answers, created_at, updated_at
		FROM quiz_results WHERE session_id = $1`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load results: %w", err)
	}
	defer rows.Close()

	var results []domain.QuizResult
	for rows.Next() {
		var result domain.QuizResult
		var answers []byte
		if err := rows.Scan(&result.ID, &result.SessionID, &result.UserID, &result.Score,
			&answers, &result.CreatedAt, &result.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if err := json.Unmarshal(answers, &result.Answers); err != nil {
			return nil, fmt.Errorf("decode answers: %w", err)
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

func (s *Store) IncrScore(ctx context.Context, roomID, userID, date string, points int) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO room_leaderboard (room_id, user_id, date, daily_score, all_time_score)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (room_id, user_id, date) DO UPDATE SET
			daily_score = room_leaderboard.daily_score + EXCLUDED.daily_score,
			all_time_score = room_leaderboard.all_time_score + EXCLUDED.all_time_score`,
		roomID, userID, date, points)
	if err != nil {
		return fmt.Errorf("increment leaderboard: %w", err)
	}
	return nil
}

func (s *Store) TopDaily(ctx context.Context, roomID, date string, limit int) ([]domain.LeaderboardRow, error) {
	return s.topRows(ctx, `
		SELECT user_id, daily_score FROM room_leaderboard
		WHERE room_id = $1 AND date = $2
		ORDER BY daily_score DESC, user_id LIMIT $3`, roomID, date, normalizeLimit(limit))
}

func (s *Store) TopAllTime(ctx context.Context, roomID string, limit int) ([]domain.LeaderboardRow, error) {
	return s.topRows(ctx, `
		SELECT user_id, SUM(daily_score)::int AS total FROM room_leaderboard
		WHERE room_id = $1
		GROUP BY user_id ORDER BY total DESC, user_id LIMIT $2`, roomID, normalizeLimit(limit))
}

func (s *Store) TopGlobalDaily(ctx context.Context, date string, limit int) ([]domain.LeaderboardRow, error) {
	return s.topRows(ctx, `
		SELECT user_id, SUM(daily_score)::int AS total FROM room_leaderboard
		WHERE date = $1
		GROUP BY user_id ORDER BY total DESC, user_id LIMIT $2`, date, normalizeLimit(limit))
}

func (s *Store) topRows(ctx context.Context, query string, args ...interface{}) ([]domain.LeaderboardRow, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load leaderboard: %w", err)
	}
	defer rows.Close()

	var out []domain.LeaderboardRow
	for rows.Next() {
		var row domain.LeaderboardRow
		if err := rows.Scan(&row.UserID, &row.Score); err != nil {
			return nil, fmt.Errorf("scan leaderboard: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	return limit
}
