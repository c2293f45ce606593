package app

import "quizroom-service/internal/domain"

// Gateway fans coordinator events out to a room's connections. Delivery is
// best-effort with no queuing for offline clients; reconnecting clients
// re-fetch current state over HTTP instead of replaying missed events.
type Gateway struct {
	registry *Registry
}

func NewGateway(registry *Registry) *Gateway {
	return &Gateway{registry: registry}
}

// Broadcast delivers the event to every connection currently registered in
// the room.
func (g *Gateway) Broadcast(roomID string, event domain.Event) {
	for _, conn := range g.registry.RoomConns(roomID) {
		conn.Send(event)
	}
}

// Notify delivers the event to exactly one connection.
func (g *Gateway) Notify(conn Conn, event domain.Event) {
	if conn == nil {
		return
	}
	conn.Send(event)
}
