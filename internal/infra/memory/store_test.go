package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"quizroom-service/internal/domain"
)

func testClock() func() time.Time {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		now = now.Add(time.Second)
		return now
	}
}

func TestRoomLookup(t *testing.T) {
	store := NewStoreWithClock(testClock())
	ctx := context.Background()

	room, err := store.CreateRoom(ctx, domain.Room{Code: "XYZ789", Name: "Team Quiz", OwnerID: "host"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if room.ID == "" {
		t.Fatalf("expected a generated id")
	}

	byID, err := store.FindRoom(ctx, room.ID)
	if err != nil || byID.Name != "Team Quiz" {
		t.Fatalf("find by id: %+v err=%v", byID, err)
	}
	byCode, err := store.FindRoomByCode(ctx, "XYZ789")
	if err != nil || byCode.ID != room.ID {
		t.Fatalf("find by code: %+v err=%v", byCode, err)
	}
	if _, err := store.FindRoom(ctx, "missing"); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestQuestionsOrderedAndRoomScoped(t *testing.T) {
	store := NewStoreWithClock(testClock())
	ctx := context.Background()

	for _, q := range []domain.Question{
		{RoomID: "r1", Prompt: "second", Order: 2},
		{RoomID: "r1", Prompt: "first", Order: 1},
		{RoomID: "r2", Prompt: "other room", Order: 1},
	} {
		if _, err := store.AddQuestion(ctx, q); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	questions, err := store.FindQuestionsByRoom(ctx, "r1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(questions) != 2 || questions[0].Prompt != "first" || questions[1].Prompt != "second" {
		t.Fatalf("expected display order, got %+v", questions)
	}

	if err := store.DeleteQuestion(ctx, "r2", questions[0].ID); !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("delete must be room scoped, got %v", err)
	}
	if err := store.DeleteQuestion(ctx, "r1", questions[0].ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	questions, _ = store.FindQuestionsByRoom(ctx, "r1")
	if len(questions) != 1 {
		t.Fatalf("expected one question left, got %+v", questions)
	}
}

func TestStartSessionKeepsOneActive(t *testing.T) {
	store := NewStoreWithClock(testClock())
	ctx := context.Background()

	first, err := store.StartSession(ctx, "r1", "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	second, err := store.StartSession(ctx, "r1", "")
	if err != nil {
		t.Fatalf("restart: %v", err)
	}

	active, err := store.FindActiveSession(ctx, "r1")
	if err != nil {
		t.Fatalf("find active: %v", err)
	}
	if active.ID != second.ID {
		t.Fatalf("expected the newest session active, got %s", active.ID)
	}

	// Reactivating a known session resumes it from the top.
	if err := store.SetCurrentIndex(ctx, first.ID, 3); err != nil {
		t.Fatalf("set index: %v", err)
	}
	resumed, err := store.StartSession(ctx, "r1", first.ID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.ID != first.ID || resumed.CurrentIndex != 0 || !resumed.Active {
		t.Fatalf("unexpected resumed session: %+v", resumed)
	}

	if err := store.EndSession(ctx, first.ID, time.Now()); err != nil {
		t.Fatalf("end: %v", err)
	}
	if _, err := store.FindActiveSession(ctx, "r1"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected no active session, got %v", err)
	}
}

func TestJoinSessionEnforcesCapacity(t *testing.T) {
	store := NewStoreWithClock(testClock())
	ctx := context.Background()

	if _, err := store.JoinSession(ctx, "r1", "u1", 2); err != nil {
		t.Fatalf("join u1: %v", err)
	}
	if _, err := store.JoinSession(ctx, "r1", "u2", 2); err != nil {
		t.Fatalf("join u2: %v", err)
	}
	// Rejoining is idempotent and does not consume a slot.
	session, err := store.JoinSession(ctx, "r1", "u1", 2)
	if err != nil || len(session.Participants) != 2 {
		t.Fatalf("rejoin: %+v err=%v", session, err)
	}
	if _, err := store.JoinSession(ctx, "r1", "u3", 2); !errors.Is(err, domain.ErrRoomFull) {
		t.Fatalf("expected ErrRoomFull, got %v", err)
	}
}

func TestUpsertResultFirstSubmissionWins(t *testing.T) {
	store := NewStoreWithClock(testClock())
	ctx := context.Background()

	delta := domain.ResultDelta{
		QuestionID: "q1",
		Detail:     domain.AnswerDetail{SelectedOption: "a", Correct: true, Points: 135, TimeLeft: 7},
	}
	total, err := store.UpsertResult(ctx, "s1", "u1", delta)
	if err != nil || total != 135 {
		t.Fatalf("first upsert: total=%d err=%v", total, err)
	}

	// Replaying the same question must not double-count.
	delta.Detail.Points = 150
	total, err = store.UpsertResult(ctx, "s1", "u1", delta)
	if err != nil || total != 135 {
		t.Fatalf("replay changed score: total=%d err=%v", total, err)
	}

	total, err = store.UpsertResult(ctx, "s1", "u1", domain.ResultDelta{
		QuestionID: "q2",
		Detail:     domain.AnswerDetail{SelectedOption: "b", Points: 0},
	})
	if err != nil || total != 135 {
		t.Fatalf("incorrect answer must add zero: total=%d err=%v", total, err)
	}

	results, err := store.SessionResults(ctx, "s1")
	if err != nil || len(results) != 1 {
		t.Fatalf("results: %+v err=%v", results, err)
	}
	if len(results[0].Answers) != 2 || results[0].Answers["q1"].Points != 135 {
		t.Fatalf("unexpected answer map: %+v", results[0].Answers)
	}
}

func TestLeaderboardCountersAndScopes(t *testing.T) {
	store := NewStoreWithClock(testClock())
	ctx := context.Background()

	day1, day2 := "2025-06-01", "2025-06-02"
	if err := store.IncrScore(ctx, "r1", "u1", day1, 100); err != nil {
		t.Fatalf("incr: %v", err)
	}
	if err := store.IncrScore(ctx, "r1", "u2", day1, 150); err != nil {
		t.Fatalf("incr: %v", err)
	}
	if err := store.IncrScore(ctx, "r1", "u1", day2, 50); err != nil {
		t.Fatalf("incr: %v", err)
	}

	daily, err := store.TopDaily(ctx, "r1", day1, 10)
	if err != nil || len(daily) != 2 {
		t.Fatalf("daily: %+v err=%v", daily, err)
	}
	if daily[0].UserID != "u2" || daily[0].Score != 150 {
		t.Fatalf("expected u2 on top for day1, got %+v", daily)
	}

	// Day two starts from zero for everyone.
	daily2, _ := store.TopDaily(ctx, "r1", day2, 10)
	if len(daily2) != 1 || daily2[0].UserID != "u1" || daily2[0].Score != 50 {
		t.Fatalf("expected only u1 on day2, got %+v", daily2)
	}

	allTime, _ := store.TopAllTime(ctx, "r1", 10)
	if len(allTime) != 2 || allTime[0].Score != 150 || allTime[1].Score != 150 {
		t.Fatalf("expected u1 and u2 tied at 150 all-time, got %+v", allTime)
	}

	global, _ := store.TopGlobalDaily(ctx, day1, 1)
	if len(global) != 1 || global[0].UserID != "u2" {
		t.Fatalf("expected limit applied to global board, got %+v", global)
	}
}
