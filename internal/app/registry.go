package app

import (
	"sync"

	"quizroom-service/internal/domain"
)

// Conn is a transport connection capable of receiving events. Delivery is
// best-effort; implementations must not block the caller.
type Conn interface {
	Send(event domain.Event)
}

type connInfo struct {
	roomID      string
	userID      string
	displayName string
	email       string
}

// Registry tracks live connections and maps each to a room and identity.
// Rooms are created lazily; operations on unknown rooms are no-ops.
type Registry struct {
	mu    sync.RWMutex
	conns map[Conn]connInfo
	// rooms preserves insertion order of connections per room.
	rooms map[string][]Conn
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[Conn]connInfo),
		rooms: make(map[string][]Conn),
	}
}

// Register adds conn to a room's roster. Registering an already-registered
// connection moves it to the new room (and refreshes identity) rather than
// duplicating it.
func (r *Registry) Register(conn Conn, roomID, userID, displayName, email string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.conns[conn]; ok {
		if prev.roomID == roomID {
			r.conns[conn] = connInfo{roomID: roomID, userID: userID, displayName: displayName, email: email}
			return
		}
		r.removeLocked(conn, prev.roomID)
	}
	r.conns[conn] = connInfo{roomID: roomID, userID: userID, displayName: displayName, email: email}
	r.rooms[roomID] = append(r.rooms[roomID], conn)
}

// Unregister removes conn from whatever room it belonged to and reports the
// room it left.
func (r *Registry) Unregister(conn Conn) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.conns[conn]
	if !ok {
		return "", false
	}
	delete(r.conns, conn)
	r.removeLocked(conn, info.roomID)
	return info.roomID, true
}

func (r *Registry) removeLocked(conn Conn, roomID string) {
	conns := r.rooms[roomID]
	for i, c := range conns {
		if c == conn {
			r.rooms[roomID] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if len(r.rooms[roomID]) == 0 {
		delete(r.rooms, roomID)
	}
}

// RoomConns returns the room's live connections in insertion order.
func (r *Registry) RoomConns(roomID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]Conn, len(r.rooms[roomID]))
	copy(conns, r.rooms[roomID])
	return conns
}

// Roster returns the distinct user identities connected to a room in
// insertion order. A user holding several connections appears once.
func (r *Registry) Roster(roomID string) []domain.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	roster := make([]domain.Participant, 0, len(r.rooms[roomID]))
	for _, conn := range r.rooms[roomID] {
		info := r.conns[conn]
		if _, ok := seen[info.userID]; ok {
			continue
		}
		seen[info.userID] = struct{}{}
		roster = append(roster, domain.Participant{
			UserID:      info.userID,
			DisplayName: info.displayName,
			Email:       info.email,
		})
	}
	return roster
}

// Identity reports the identity bound to a connection.
func (r *Registry) Identity(conn Conn) (roomID, userID, displayName string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, found := r.conns[conn]
	if !found {
		return "", "", "", false
	}
	return info.roomID, info.userID, info.displayName, true
}
