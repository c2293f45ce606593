package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
	"github.com/teris-io/shortid"
)

// APIHandler serves the room/question CRUD and state-query endpoints. These
// are request/response plumbing around the coordinator: they mutate the
// durable store and call into the core only for session lifecycle
// transitions and state reads.
type APIHandler struct {
	coordinator *app.Coordinator
	registry    *app.Registry
	stores      app.Stores
	clock       func() time.Time
}

func NewAPIHandler(coordinator *app.Coordinator, registry *app.Registry, stores app.Stores) *APIHandler {
	return &APIHandler{
		coordinator: coordinator,
		registry:    registry,
		stores:      stores,
		clock:       time.Now,
	}
}

// Register mounts all REST routes on mux.
func (h *APIHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/rooms", h.createRoom)
	mux.HandleFunc("GET /api/rooms", h.listRooms)
	mux.HandleFunc("GET /api/rooms/{id}", h.getRoom)
	mux.HandleFunc("GET /api/rooms/code/{code}", h.getRoomByCode)
	mux.HandleFunc("POST /api/rooms/{id}/settings", h.updateSettings)
	mux.HandleFunc("POST /api/rooms/{id}/start", h.startQuiz)
	mux.HandleFunc("POST /api/rooms/{id}/next", h.nextQuestion)
	mux.HandleFunc("POST /api/rooms/{id}/end", h.endQuiz)
	mux.HandleFunc("POST /api/rooms/{id}/questions", h.addQuestion)
	mux.HandleFunc("GET /api/rooms/{id}/questions", h.listQuestions)
	mux.HandleFunc("DELETE /api/rooms/{id}/questions/{questionId}", h.deleteQuestion)
	mux.HandleFunc("POST /api/rooms/{id}/join", h.joinSession)
	mux.HandleFunc("GET /api/rooms/{id}/participants", h.participants)
	mux.HandleFunc("GET /api/rooms/{id}/leaderboard", h.roomLeaderboard)
	mux.HandleFunc("GET /api/leaderboard", h.globalLeaderboard)
}

type createRoomRequest struct {
	OwnerID         string `json:"ownerId"`
	Name            string `json:"name"`
	QuestionCount   int    `json:"questionCount"`
	TimePerQuestion int    `json:"timePerQuestion"`
	MaxParticipants int    `json:"maxParticipants"`
}

func (h *APIHandler) createRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OwnerID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "ownerId and name are required")
		return
	}
	if req.QuestionCount <= 0 {
		req.QuestionCount = 5
	}
	if req.TimePerQuestion <= 0 {
		req.TimePerQuestion = app.DefaultTimePerQuestion
	}

	code, err := shortid.Generate()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not generate room code")
		return
	}
	room, err := h.stores.Rooms.CreateRoom(r.Context(), domain.Room{
		Code:            strings.ToUpper(code),
		Name:            req.Name,
		OwnerID:         req.OwnerID,
		QuestionCount:   req.QuestionCount,
		TimePerQuestion: req.TimePerQuestion,
		MaxParticipants: req.MaxParticipants,
		Active:          true,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (h *APIHandler) listRooms(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("ownerId")
	if ownerID == "" {
		writeError(w, http.StatusBadRequest, "ownerId is required")
		return
	}
	rooms, err := h.stores.Rooms.ListRoomsByOwner(r.Context(), ownerID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rooms": rooms})
}

func (h *APIHandler) getRoom(w http.ResponseWriter, r *http.Request) {
	room, err := h.stores.Rooms.FindRoom(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (h *APIHandler) getRoomByCode(w http.ResponseWriter, r *http.Request) {
	room, err := h.stores.Rooms.FindRoomByCode(r.Context(), r.PathValue("code"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

type updateSettingsRequest struct {
	UserID          string `json:"userId"`
	QuestionCount   int    `json:"questionCount"`
	TimePerQuestion int    `json:"timePerQuestion"`
}

func (h *APIHandler) updateSettings(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	var req updateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !h.requireOwner(w, r, roomID, req.UserID) {
		return
	}
	if err := h.stores.Rooms.UpdateRoomSettings(r.Context(), roomID, req.QuestionCount, req.TimePerQuestion); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "settings updated"})
}

type startQuizRequest struct {
	UserID          string `json:"userId"`
	SessionID       string `json:"sessionId"`
	TimePerQuestion int    `json:"timePerQuestion"`
}

func (h *APIHandler) startQuiz(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	var req startQuizRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	session, err := h.coordinator.StartQuiz(r.Context(), roomID, req.UserID, req.SessionID, req.TimePerQuestion)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"session": session})
}

type roomActionRequest struct {
	UserID string `json:"userId"`
}

func (h *APIHandler) nextQuestion(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	var req roomActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	if err := h.coordinator.NextQuestion(r.Context(), roomID, req.UserID); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "advanced"})
}

func (h *APIHandler) endQuiz(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	var req roomActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	if err := h.coordinator.EndQuiz(r.Context(), roomID, req.UserID); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "quiz ended"})
}

type addQuestionRequest struct {
	UserID  string   `json:"userId"`
	Text    string   `json:"text"`
	Options []string `json:"options"`
	Answer  string   `json:"answer"`
	Order   int      `json:"order"`
}

func (h *APIHandler) addQuestion(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	var req addQuestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !h.requireOwner(w, r, roomID, req.UserID) {
		return
	}
	if req.Text == "" || len(req.Options) < 2 || len(req.Options) > 4 {
		writeError(w, http.StatusBadRequest, "question needs text and 2-4 options")
		return
	}
	q := domain.Question{
		RoomID:  roomID,
		Prompt:  req.Text,
		Options: req.Options,
		Answer:  req.Answer,
		Order:   req.Order,
	}
	if !q.HasOption(req.Answer) {
		writeError(w, http.StatusBadRequest, "answer must be one of the options")
		return
	}
	added, err := h.stores.Questions.AddQuestion(r.Context(), q)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, added)
}

func (h *APIHandler) listQuestions(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	room, err := h.stores.Rooms.FindRoom(r.Context(), roomID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	questions, err := h.stores.Questions.FindQuestionsByRoom(r.Context(), roomID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	// Only the host sees correct answers.
	if r.URL.Query().Get("userId") != room.OwnerID {
		for i := range questions {
			questions[i].Answer = ""
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"questions": questions})
}

func (h *APIHandler) deleteQuestion(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	if !h.requireOwner(w, r, roomID, r.URL.Query().Get("userId")) {
		return
	}
	if err := h.stores.Questions.DeleteQuestion(r.Context(), roomID, r.PathValue("questionId")); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "question deleted"})
}

func (h *APIHandler) joinSession(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	var req roomActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	room, err := h.stores.Rooms.FindRoom(r.Context(), roomID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if !room.Active {
		writeError(w, http.StatusBadRequest, "room is not active")
		return
	}
	session, err := h.stores.Sessions.JoinSession(r.Context(), roomID, req.UserID, room.MaxParticipants)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessionId":        session.ID,
		"participantCount": len(session.Participants),
	})
}

// participants lets reconnecting clients re-fetch current room state instead
// of relying on event replay.
func (h *APIHandler) participants(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	roster := h.registry.Roster(roomID)

	response := map[string]interface{}{
		"participants": roster,
		"count":        len(roster),
	}
	if session, err := h.stores.Sessions.FindActiveSession(r.Context(), roomID); err == nil {
		response["sessionId"] = session.ID
		response["currentIndex"] = session.CurrentIndex
	}
	writeJSON(w, http.StatusOK, response)
}

func (h *APIHandler) roomLeaderboard(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	limit := queryInt(r, "limit", 20)

	var rows []domain.LeaderboardRow
	var err error
	switch r.URL.Query().Get("scope") {
	case "alltime":
		rows, err = h.stores.Leaderboard.TopAllTime(r.Context(), roomID, limit)
	default:
		rows, err = h.stores.Leaderboard.TopDaily(r.Context(), roomID, h.dateParam(r), limit)
	}
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"leaderboard": rows})
}

func (h *APIHandler) globalLeaderboard(w http.ResponseWriter, r *http.Request) {
	rows, err := h.stores.Leaderboard.TopGlobalDaily(r.Context(), h.dateParam(r), queryInt(r, "limit", 20))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"leaderboard": rows})
}

func (h *APIHandler) dateParam(r *http.Request) string {
	if date := r.URL.Query().Get("date"); date != "" {
		return date
	}
	return h.clock().UTC().Format("2006-01-02")
}

func (h *APIHandler) requireOwner(w http.ResponseWriter, r *http.Request, roomID, userID string) bool {
	room, err := h.stores.Rooms.FindRoom(r.Context(), roomID)
	if err != nil {
		writeStoreError(w, err)
		return false
	}
	if userID == "" || room.OwnerID != userID {
		writeError(w, http.StatusForbidden, "only the room host may do this")
		return false
	}
	return true
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	if n, err := strconv.Atoi(raw); err == nil && n > 0 {
		return n
	}
	return fallback
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrRoomNotFound),
		errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrQuestionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrNotHost):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrNoQuestions),
		errors.Is(err, domain.ErrRoomFull),
		errors.Is(err, domain.ErrSessionNotActive),
		errors.Is(err, domain.ErrInvalidOption):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
