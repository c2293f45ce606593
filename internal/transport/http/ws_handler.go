package http

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
	"github.com/gorilla/websocket"
)

// WSHandler upgrades HTTP requests to websockets and routes client events
// into the session coordinator.
type WSHandler struct {
	coordinator *app.Coordinator
	upgrader    websocket.Upgrader
}

func NewWSHandler(coordinator *app.Coordinator) *WSHandler {
	return &WSHandler{
		coordinator: coordinator,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage struct {
	Type    string       `json:"type"`
	Payload domain.Event `json:"payload"`
}

type joinRoomPayload struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	Email    string `json:"email"`
}

type startQuizPayload struct {
	RoomID          string `json:"roomId"`
	SessionID       string `json:"sessionId"`
	TimePerQuestion int    `json:"timePerQuestion"`
}

type submitAnswerPayload struct {
	RoomID         string `json:"roomId"`
	SessionID      string `json:"sessionId"`
	QuestionID     string `json:"questionId"`
	SelectedOption string `json:"selectedOption"`
	TimeLeft       int    `json:"timeLeft"`
}

type roomActionPayload struct {
	RoomID string `json:"roomId"`
}

// wsClient adapts a gorilla connection to app.Conn. Sends are buffered and
// never block the coordinator; when the buffer is full the oldest pending
// event is dropped since reconnecting clients re-fetch state over HTTP.
type wsClient struct {
	conn   *websocket.Conn
	send   chan domain.Event
	closed chan struct{}
	once   sync.Once
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{
		conn:   conn,
		send:   make(chan domain.Event, 32),
		closed: make(chan struct{}),
	}
}

func (c *wsClient) Send(event domain.Event) {
	select {
	case <-c.closed:
		return
	default:
	}
	select {
	case c.send <- event:
	default:
		select {
		case <-c.send:
		default:
		}
		select {
		case c.send <- event:
		default:
		}
	}
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.closed) })
}

func (c *wsClient) writeLoop() {
	for {
		select {
		case event := <-c.send:
			if err := c.conn.WriteJSON(outboundMessage{Type: event.EventType(), Payload: event}); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		case <-c.closed:
			return
		}
	}
}

// ServeWS wires one websocket connection into the quiz room lifecycle.
// Identity comes from the connection query string and is trusted as-is.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("roomId")
	userID := r.URL.Query().Get("userId")
	displayName := r.URL.Query().Get("name")
	email := r.URL.Query().Get("email")
	if roomID == "" || userID == "" || displayName == "" {
		http.Error(w, "missing roomId, userId, or name", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	client := newWSClient(conn)
	go client.writeLoop()
	defer client.close()

	h.coordinator.JoinRoom(client, roomID, userID, displayName, email)
	defer h.coordinator.Leave(client)

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			return
		}
		h.dispatch(r, client, userID, inbound)
	}
}

func (h *WSHandler) dispatch(r *http.Request, client *wsClient, userID string, inbound inboundMessage) {
	ctx := r.Context()

	fail := func(err error) {
		if err != nil {
			client.Send(domain.ErrorEvent{Message: err.Error()})
		}
	}

	switch inbound.Type {
	case "joinRoom":
		var payload joinRoomPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil || payload.RoomID == "" {
			client.Send(domain.ErrorEvent{Message: "invalid joinRoom payload"})
			return
		}
		joinAs := payload.UserID
		if joinAs == "" {
			joinAs = userID
		}
		h.coordinator.JoinRoom(client, payload.RoomID, joinAs, payload.UserName, payload.Email)

	case "startQuiz":
		var payload startQuizPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil || payload.RoomID == "" {
			client.Send(domain.ErrorEvent{Message: "invalid startQuiz payload"})
			return
		}
		_, err := h.coordinator.StartQuiz(ctx, payload.RoomID, userID, payload.SessionID, payload.TimePerQuestion)
		fail(err)

	case "submitAnswer":
		var payload submitAnswerPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil || payload.RoomID == "" {
			client.Send(domain.ErrorEvent{Message: "invalid submitAnswer payload"})
			return
		}
		// Rejections surface through the private ack, not the error event.
		if err := h.coordinator.SubmitAnswer(ctx, client, payload.RoomID, payload.SessionID,
			payload.QuestionID, userID, payload.SelectedOption, payload.TimeLeft); err != nil {
			log.Printf("answer rejected for user %s: %v", userID, err)
		}

	case "nextQuestion":
		var payload roomActionPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil || payload.RoomID == "" {
			client.Send(domain.ErrorEvent{Message: "invalid nextQuestion payload"})
			return
		}
		fail(h.coordinator.NextQuestion(ctx, payload.RoomID, userID))

	case "endQuiz":
		var payload roomActionPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil || payload.RoomID == "" {
			client.Send(domain.ErrorEvent{Message: "invalid endQuiz payload"})
			return
		}
		fail(h.coordinator.EndQuiz(ctx, payload.RoomID, userID))

	default:
		client.Send(domain.ErrorEvent{Message: "unsupported message type"})
	}
}
