package issuer

import (
	"crypto/subtle"
	"sync"
)

// User is an account known to the issuer
type User struct {
	ID       string `yaml:"id" validate:"required"`
	Username string `yaml:"username" validate:"required"`
	Password string `yaml:"password" validate:"required"`
	// Scope is the space-separated scope granted to the user's access
	// tokens, role markers included.
	Scope string `yaml:"scope"`
}

// Directory is an in-memory user directory
type Directory struct {
	mu     sync.RWMutex
	byName map[string]User
	byID   map[string]User
}

// NewDirectory creates a directory holding users
func NewDirectory(users ...User) *Directory {
	d := &Directory{
		byName: make(map[string]User, len(users)),
		byID:   make(map[string]User, len(users)),
	}
	for _, u := range users {
		d.Put(u)
	}
	return d
}

// Put adds or replaces a user
func (d *Directory) Put(u User) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if old, ok := d.byID[u.ID]; ok {
		delete(d.byName, old.Username)
	}
	d.byName[u.Username] = u
	d.byID[u.ID] = u
}

// Remove deletes the user with the given id
func (d *Directory) Remove(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if u, ok := d.byID[id]; ok {
		delete(d.byName, u.Username)
		delete(d.byID, id)
	}
}

// Authenticate checks a username and password
func (d *Directory) Authenticate(username, password string) (User, error) {
	d.mu.RLock()
	u, ok := d.byName[username]
	d.mu.RUnlock()

	if !ok || subtle.ConstantTimeCompare([]byte(u.Password), []byte(password)) != 1 {
		return User{}, ErrInvalidCredentials
	}
	return u, nil
}

// Lookup returns the user with the given id
func (d *Directory) Lookup(id string) (User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	u, ok := d.byID[id]
	if !ok {
		return User{}, ErrUnknownUser
	}
	return u, nil
}
