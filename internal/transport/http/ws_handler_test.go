package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
	"quizroom-service/internal/infra/memory"
	"github.com/gorilla/websocket"
)

type wsEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func newWSServer(t *testing.T, grace time.Duration) (*httptest.Server, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	registry := app.NewRegistry()
	rooms := app.NewRoomStateStore(app.TimerScheduler{}, time.Now)
	coordinator := app.NewCoordinator(rooms, registry, app.NewGateway(registry), app.Stores{
		Rooms:       store,
		Questions:   store,
		Sessions:    store,
		Results:     store,
		Leaderboard: store,
	}, app.WithGraceDelay(grace))

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", NewWSHandler(coordinator).ServeWS)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, store
}

func seedWSRoom(t *testing.T, store *memory.Store) domain.Room {
	t.Helper()
	ctx := context.Background()
	room, err := store.CreateRoom(ctx, domain.Room{
		ID: "room-1", Code: "ABC123", Name: "Trivia", OwnerID: "host",
		QuestionCount: 10, TimePerQuestion: 30, Active: true,
	})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	for i, q := range []domain.Question{
		{ID: "q1", Prompt: "2+2?", Options: []string{"3", "4"}, Answer: "4"},
		{ID: "q2", Prompt: "Capital of France?", Options: []string{"Paris", "Rome"}, Answer: "Paris"},
	} {
		q.RoomID = room.ID
		q.Order = i + 1
		if _, err := store.AddQuestion(ctx, q); err != nil {
			t.Fatalf("add question: %v", err)
		}
	}
	return room
}

func dialWS(t *testing.T, server *httptest.Server, userID, name string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?roomId=room-1&userId=" + userID + "&name=" + name
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial as %s: %v", userID, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readUntil reads frames until one of the wanted type arrives, skipping
// roster updates and other interleaved broadcasts.
func readUntil(t *testing.T, conn *websocket.Conn, wantType string) wsEnvelope {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	_ = conn.SetReadDeadline(deadline)
	for time.Now().Before(deadline) {
		var envelope wsEnvelope
		if err := conn.ReadJSON(&envelope); err != nil {
			t.Fatalf("read while waiting for %q: %v", wantType, err)
		}
		if envelope.Type == wantType {
			return envelope
		}
	}
	t.Fatalf("no %q frame arrived", wantType)
	return wsEnvelope{}
}

func sendWS(t *testing.T, conn *websocket.Conn, msgType string, payload interface{}) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if err := conn.WriteJSON(wsEnvelope{Type: msgType, Payload: raw}); err != nil {
		t.Fatalf("write %s: %v", msgType, err)
	}
}

func TestServeWSRequiresIdentity(t *testing.T) {
	server, _ := newWSServer(t, 50*time.Millisecond)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?roomId=room-1"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("expected handshake rejection")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %+v", resp)
	}
}

func TestWSJoinBroadcastsRoster(t *testing.T) {
	server, store := newWSServer(t, 50*time.Millisecond)
	seedWSRoom(t, store)

	host := dialWS(t, server, "host", "Host")
	readUntil(t, host, "updateParticipants")

	dialWS(t, server, "p1", "Alice")

	var payload struct {
		Participants []domain.Participant `json:"participants"`
	}
	for len(payload.Participants) < 2 {
		envelope := readUntil(t, host, "updateParticipants")
		if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
			t.Fatalf("decode roster: %v", err)
		}
	}
	if payload.Participants[0].UserID != "host" || payload.Participants[1].UserID != "p1" {
		t.Fatalf("unexpected roster: %+v", payload.Participants)
	}
}

func TestWSQuizRoundTrip(t *testing.T) {
	server, store := newWSServer(t, 50*time.Millisecond)
	seedWSRoom(t, store)

	host := dialWS(t, server, "host", "Host")
	player := dialWS(t, server, "p1", "Alice")

	sendWS(t, host, "startQuiz", startQuizPayload{RoomID: "room-1", TimePerQuestion: 10})

	started := readUntil(t, player, "quizStarted")
	var startPayload struct {
		SessionID string              `json:"sessionId"`
		Question  domain.QuestionView `json:"question"`
	}
	if err := json.Unmarshal(started.Payload, &startPayload); err != nil {
		t.Fatalf("decode quizStarted: %v", err)
	}
	if startPayload.Question.ID != "q1" || len(startPayload.Question.Options) != 2 {
		t.Fatalf("unexpected first question: %+v", startPayload.Question)
	}

	sendWS(t, player, "submitAnswer", submitAnswerPayload{
		RoomID: "room-1", QuestionID: "q1", SelectedOption: "4", TimeLeft: 7,
	})

	ack := readUntil(t, player, "answerSubmitted")
	var ackPayload domain.AnswerAck
	if err := json.Unmarshal(ack.Payload, &ackPayload); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if !ackPayload.Accepted || !ackPayload.Correct || ackPayload.Points != 135 {
		t.Fatalf("unexpected ack: %+v", ackPayload)
	}

	answered := readUntil(t, host, "userAnswered")
	var answeredPayload domain.UserAnswered
	if err := json.Unmarshal(answered.Payload, &answeredPayload); err != nil {
		t.Fatalf("decode userAnswered: %v", err)
	}
	if answeredPayload.UserID != "p1" || answeredPayload.QuestionID != "q1" {
		t.Fatalf("unexpected userAnswered: %+v", answeredPayload)
	}

	// Host-driven advance, then end: events reach every participant.
	sendWS(t, host, "nextQuestion", roomActionPayload{RoomID: "room-1"})
	changed := readUntil(t, player, "questionChanged")
	var changedPayload struct {
		Question domain.QuestionView `json:"question"`
	}
	if err := json.Unmarshal(changed.Payload, &changedPayload); err != nil {
		t.Fatalf("decode questionChanged: %v", err)
	}
	if changedPayload.Question.ID != "q2" {
		t.Fatalf("expected q2, got %+v", changedPayload.Question)
	}

	sendWS(t, host, "endQuiz", roomActionPayload{RoomID: "room-1"})
	ended := readUntil(t, player, "quizEnded")
	var endedPayload domain.QuizEnded
	if err := json.Unmarshal(ended.Payload, &endedPayload); err != nil {
		t.Fatalf("decode quizEnded: %v", err)
	}
	if len(endedPayload.Leaderboard) != 1 || endedPayload.Leaderboard[0].Score != 135 {
		t.Fatalf("unexpected leaderboard: %+v", endedPayload.Leaderboard)
	}
}

func TestWSTimerDrivenAdvance(t *testing.T) {
	server, store := newWSServer(t, 50*time.Millisecond)
	seedWSRoom(t, store)

	host := dialWS(t, server, "host", "Host")
	sendWS(t, host, "startQuiz", startQuizPayload{RoomID: "room-1", TimePerQuestion: 1})
	readUntil(t, host, "quizStarted")

	reveal := readUntil(t, host, "timeUp")
	var revealPayload domain.TimeUp
	if err := json.Unmarshal(reveal.Payload, &revealPayload); err != nil {
		t.Fatalf("decode timeUp: %v", err)
	}
	if revealPayload.CorrectAnswer != "4" {
		t.Fatalf("unexpected reveal: %+v", revealPayload)
	}

	readUntil(t, host, "questionChanged")
	readUntil(t, host, "timeUp")
	readUntil(t, host, "quizEnded")
}

func TestWSNonHostStartGetsError(t *testing.T) {
	server, store := newWSServer(t, 50*time.Millisecond)
	seedWSRoom(t, store)

	player := dialWS(t, server, "p1", "Alice")
	sendWS(t, player, "startQuiz", startQuizPayload{RoomID: "room-1"})

	envelope := readUntil(t, player, "error")
	var payload domain.ErrorEvent
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if payload.Message == "" {
		t.Fatalf("expected an error message")
	}
}
