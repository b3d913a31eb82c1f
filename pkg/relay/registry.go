package relay

import "sync"

// Registry maps rooms to their member sessions. All methods are safe
// for concurrent use; MembersOf returns a snapshot taken under the
// lock, so a reader never observes a partially updated member set.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]map[string]struct{}
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]map[string]struct{}),
	}
}

// Join adds sessionID to roomID, creating the room on first join.
// Joining a room the session is already in is a no-op.
func (r *Registry) Join(roomID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[roomID] = members
	}
	members[sessionID] = struct{}{}
}

// Leave removes sessionID from roomID and reports whether the session
// was a member. The room entry is deleted when its last member leaves;
// a later join recreates it, so deallocation is never observable.
func (r *Registry) Leave(roomID, sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	if _, ok := members[sessionID]; !ok {
		return false
	}
	delete(members, sessionID)
	if len(members) == 0 {
		delete(r.rooms, roomID)
	}
	return true
}

// MembersOf returns the session ids currently in roomID. The returned
// slice is a copy; callers may retain it freely.
func (r *Registry) MembersOf(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	return out
}

// Size returns the number of members in roomID.
func (r *Registry) Size(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomID])
}

// Rooms returns the number of live rooms.
func (r *Registry) Rooms() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
