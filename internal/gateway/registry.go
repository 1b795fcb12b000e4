package gateway

import "github.com/google/uuid"

// Registry tracks room membership for one instance. Rooms exist implicitly:
// they appear on the first join and vanish with the last leave.
//
// Registry is not safe for concurrent use; it is owned by the hub goroutine
// and exercised directly in tests.
type Registry struct {
	rooms   map[string]map[uuid.UUID]struct{}
	members map[uuid.UUID]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		rooms:   make(map[string]map[uuid.UUID]struct{}),
		members: make(map[uuid.UUID]map[string]struct{}),
	}
}

// Join adds a connection to a room, creating the room if needed.
func (r *Registry) Join(room string, id uuid.UUID) {
	if r.rooms[room] == nil {
		r.rooms[room] = make(map[uuid.UUID]struct{})
	}
	r.rooms[room][id] = struct{}{}

	if r.members[id] == nil {
		r.members[id] = make(map[string]struct{})
	}
	r.members[id][room] = struct{}{}
}

// Leave removes a connection from a room. Idempotent: leaving a room that
// was never joined is a no-op.
func (r *Registry) Leave(room string, id uuid.UUID) {
	if conns, ok := r.rooms[room]; ok {
		delete(conns, id)
		if len(conns) == 0 {
			delete(r.rooms, room)
		}
	}
	if rooms, ok := r.members[id]; ok {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(r.members, id)
		}
	}
}

// LeaveAll removes a connection from every room it joined and returns the
// rooms it left.
func (r *Registry) LeaveAll(id uuid.UUID) []string {
	rooms := make([]string, 0, len(r.members[id]))
	for room := range r.members[id] {
		rooms = append(rooms, room)
	}
	for _, room := range rooms {
		r.Leave(room, id)
	}
	return rooms
}

// Members returns the connections currently in a room.
func (r *Registry) Members(room string) []uuid.UUID {
	conns := r.rooms[room]
	out := make([]uuid.UUID, 0, len(conns))
	for id := range conns {
		out = append(out, id)
	}
	return out
}

// Rooms returns the rooms a connection has joined.
func (r *Registry) Rooms(id uuid.UUID) []string {
	out := make([]string, 0, len(r.members[id]))
	for room := range r.members[id] {
		out = append(out, room)
	}
	return out
}

// RoomCount returns the number of rooms with at least one member.
func (r *Registry) RoomCount() int {
	return len(r.rooms)
}
