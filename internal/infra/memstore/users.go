package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"clinic-booking/internal/domain/apperr"
	"clinic-booking/internal/domain/users"
)

// Users is a read-mostly user directory seeded from a JSON file or by tests.
type Users struct {
	mu   sync.RWMutex
	byID map[uint]users.User
}

func NewUsers(seed ...users.User) *Users {
	d := &Users{byID: make(map[uint]users.User)}
	for _, u := range seed {
		d.Put(u)
	}
	return d
}

// LoadUsers reads a JSON array of users, e.g.
// [{"id":1,"email":"doc@clinic.test","role":"doctor","tenantId":"clinic_a"}].
func LoadUsers(path string) (*Users, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read users seed: %w", err)
	}
	var seed []users.User
	if err := json.Unmarshal(raw, &seed); err != nil {
		return nil, fmt.Errorf("parse users seed %s: %w", path, err)
	}
	for i := range seed {
		if seed[i].ID == 0 {
			return nil, fmt.Errorf("users seed %s: entry %d has no id", path, i)
		}
		seed[i].IsActive = true
	}
	return NewUsers(seed...), nil
}

func (d *Users) Put(u users.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if u.Role == "" {
		u.Role = users.RolePatient
	}
	d.byID[u.ID] = u
}

func (d *Users) FindByID(_ context.Context, id uint) (users.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.byID[id]
	if !ok {
		return users.User{}, fmt.Errorf("%w: user %d", apperr.ErrNotFound, id)
	}
	return u, nil
}

func (d *Users) FindByEmail(_ context.Context, email string) (users.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, u := range d.byID {
		if strings.ToLower(u.Email) == email {
			return u, nil
		}
	}
	return users.User{}, fmt.Errorf("%w: user %q", apperr.ErrNotFound, email)
}
