package chat

import (
	"fmt"
	"sync"
)

// Presence tracks registered users, their online flag and the id of their
// current connection.
type Presence struct {
	mu    sync.RWMutex
	users map[string]*User
}

// NewPresence creates a registry holding the given users, all offline.
func NewPresence(users ...User) *Presence {
	p := &Presence{users: make(map[string]*User, len(users))}
	for _, u := range users {
		_ = p.Register(u)
	}
	return p
}

// Register adds a user created by the registration collaborator. Blank
// avatar and status get defaults. Registering an existing username is
// rejected.
func (p *Presence) Register(u User) error {
	if u.Username == "" {
		return fmt.Errorf("register: %w", ErrUnknownUser)
	}
	if u.Avatar == "" {
		u.Avatar = defaultAvatar
	}
	if u.Status == "" {
		u.Status = defaultStatus
	}
	u.Online = false
	u.ConnID = ""

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.users[u.Username]; exists {
		return fmt.Errorf("register %q: user already exists", u.Username)
	}
	p.users[u.Username] = &u
	return nil
}

// SetOnline marks the user online with connID as the current connection.
// Calling it again overwrites the connection id. It reports false for
// unknown users.
func (p *Presence) SetOnline(username, connID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	u, ok := p.users[username]
	if !ok {
		return false
	}
	u.Online = true
	u.ConnID = connID
	return true
}

// SetOffline marks the user offline and clears the connection id.
func (p *Presence) SetOffline(username string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if u, ok := p.users[username]; ok {
		u.Online = false
		u.ConnID = ""
	}
}

// IsOnline reports whether the user is online.
func (p *Presence) IsOnline(username string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	u, ok := p.users[username]
	return ok && u.Online
}

// CurrentConn returns the id of the user's current connection.
func (p *Presence) CurrentConn(username string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	u, ok := p.users[username]
	if !ok || !u.Online {
		return "", false
	}
	return u.ConnID, true
}

// SetStatus replaces the free-text status line.
func (p *Presence) SetStatus(username, status string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	u, ok := p.users[username]
	if !ok {
		return false
	}
	u.Status = status
	return true
}

// Lookup returns a copy of the user record.
func (p *Presence) Lookup(username string) (User, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	u, ok := p.users[username]
	if !ok {
		return User{}, false
	}
	return *u, true
}
