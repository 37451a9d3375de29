package chat

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"time"
)

// RoomRegistry holds the static room metadata and the current membership of
// every room. Member details are resolved against the Presence registry on
// each query.
type RoomRegistry struct {
	mu       sync.RWMutex
	order    []string
	rooms    map[string]Room
	members  map[string]map[string]Membership
	presence *Presence
}

// NewRoomRegistry creates a registry for the given rooms, kept in the given
// order for listings. Duplicate ids are a configuration bug and panic.
func NewRoomRegistry(presence *Presence, rooms ...Room) *RoomRegistry {
	r := &RoomRegistry{
		order:    make([]string, 0, len(rooms)),
		rooms:    make(map[string]Room, len(rooms)),
		members:  make(map[string]map[string]Membership, len(rooms)),
		presence: presence,
	}
	for _, room := range rooms {
		if _, dup := r.rooms[room.ID]; dup {
			panic(fmt.Sprintf("chat: duplicate room id %q", room.ID))
		}
		r.order = append(r.order, room.ID)
		r.rooms[room.ID] = room
		r.members[room.ID] = make(map[string]Membership)
	}
	return r
}

// Exists reports whether roomID is configured.
func (r *RoomRegistry) Exists(roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[roomID]
	return ok
}

// IDs returns the configured room ids in configuration order.
func (r *RoomRegistry) IDs() []string {
	return slices.Clone(r.order)
}

// Join adds or overwrites the membership entry of username in roomID.
// Re-joining resets the join time.
func (r *RoomRegistry) Join(roomID, username string, joinedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.members[roomID]
	if !ok {
		return fmt.Errorf("join %q: %w", roomID, ErrRoomNotFound)
	}
	set[username] = Membership{JoinedAt: joinedAt, Role: DefaultRole}
	return nil
}

// Leave removes the membership entry if present.
func (r *RoomRegistry) Leave(roomID, username string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if set, ok := r.members[roomID]; ok {
		delete(set, username)
	}
}

// IsMember reports whether username is in roomID.
func (r *RoomRegistry) IsMember(roomID, username string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.members[roomID][username]
	return ok
}

// RoomsOf returns the rooms username belongs to, in configuration order.
func (r *RoomRegistry) RoomsOf(username string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for _, id := range r.order {
		if _, ok := r.members[id][username]; ok {
			out = append(out, id)
		}
	}
	return out
}

// Members returns the membership snapshot of roomID: online members first,
// then by username ascending.
func (r *RoomRegistry) Members(roomID string) ([]Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.members[roomID]
	if !ok {
		return nil, fmt.Errorf("members %q: %w", roomID, ErrRoomNotFound)
	}

	members := make([]Member, 0, len(set))
	for username, entry := range set {
		u, known := r.presence.Lookup(username)
		if !known {
			continue
		}
		members = append(members, Member{
			Username: username,
			Avatar:   u.Avatar,
			Online:   u.Online,
			Status:   u.Status,
			JoinedAt: entry.JoinedAt,
			Role:     entry.Role,
		})
	}
	sortMembers(members)
	return members, nil
}

// List returns a summary of every room with its member and online counts.
func (r *RoomRegistry) List() []RoomSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]RoomSummary, 0, len(r.order))
	for _, id := range r.order {
		room := r.rooms[id]
		set := r.members[id]
		online := 0
		for username := range set {
			if r.presence.IsOnline(username) {
				online++
			}
		}
		out = append(out, RoomSummary{
			ID:          room.ID,
			DisplayName: room.Name,
			Description: room.Description,
			Icon:        room.Icon,
			MemberCount: len(set),
			OnlineCount: online,
			CreatedAt:   room.CreatedAt.Format(time.DateOnly),
		})
	}
	return out
}

func sortMembers(members []Member) {
	slices.SortStableFunc(members, func(a, b Member) int {
		if a.Online != b.Online {
			if a.Online {
				return -1
			}
			return 1
		}
		return cmp.Compare(a.Username, b.Username)
	})
}
