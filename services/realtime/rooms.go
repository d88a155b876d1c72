package realtime

import (
	"sort"
	"sync"
)

// Rooms tracks which sessions are in which signaling room.
// Every method is atomic with respect to the others.
type Rooms struct {
	mu       sync.Mutex
	members  map[string]map[string]struct{} // {room: {session}}
	sessions map[string]map[string]struct{} // {session: {room}}
}

func NewRooms() *Rooms {
	return &Rooms{
		members:  make(map[string]map[string]struct{}),
		sessions: make(map[string]map[string]struct{}),
	}
}

// Join adds session to room and returns the other members at the time of joining.
func (r *Rooms) Join(room, session string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	others := sortedKeys(r.members[room], session)

	if r.members[room] == nil {
		r.members[room] = make(map[string]struct{})
	}
	r.members[room][session] = struct{}{}
	if r.sessions[session] == nil {
		r.sessions[session] = make(map[string]struct{})
	}
	r.sessions[session][room] = struct{}{}
	return others
}

// LeaveAll removes session from every room it joined and returns, per room, the members left behind.
func (r *Rooms) LeaveAll(session string) map[string][]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	left := make(map[string][]string, len(r.sessions[session]))
	for room := range r.sessions[session] {
		delete(r.members[room], session)
		left[room] = sortedKeys(r.members[room], "")
		if len(r.members[room]) == 0 {
			delete(r.members, room)
		}
	}
	delete(r.sessions, session)
	return left
}

// Members returns the sessions currently in room.
func (r *Rooms) Members(room string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedKeys(r.members[room], "")
}

func sortedKeys(set map[string]struct{}, exclude string) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		if k != exclude {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
