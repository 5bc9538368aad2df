// Package testutil provides in-memory fakes of the credential store and the
// event publisher for package tests.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/iliyamo/personal-health-manager/internal/model"
	"github.com/iliyamo/personal-health-manager/internal/queue"
	"github.com/iliyamo/personal-health-manager/internal/repository"
)

// MemStore is an in-memory credential store mirroring the conditional
// updates of the MySQL repositories.  Fail, when set, is returned by every
// call.
type MemStore struct {
	mu     sync.Mutex
	byID   map[string]*model.User
	nextID int
	Fail   error
}

func NewMemStore() *MemStore { return &MemStore{byID: map[string]*model.User{}} }

func (m *MemStore) Create(_ context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	for _, existing := range m.byID {
		if existing.Email == u.Email {
			return repository.ErrEmailExists
		}
	}
	m.nextID++
	u.ID = fmt.Sprintf("u-%d", m.nextID)
	u.CreatedAt = time.Now().UTC()
	u.UpdatedAt = u.CreatedAt
	cp := *u
	m.byID[u.ID] = &cp
	return nil
}

func (m *MemStore) FindByEmail(_ context.Context, email string) (model.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return model.User{}, false, m.Fail
	}
	for _, u := range m.byID {
		if u.Email == email {
			return *u, true, nil
		}
	}
	return model.User{}, false, nil
}

func (m *MemStore) FindByID(_ context.Context, id string) (model.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return model.User{}, false, m.Fail
	}
	u, ok := m.byID[id]
	if !ok {
		return model.User{}, false, nil
	}
	return *u, true, nil
}

func (m *MemStore) UpdatePassword(_ context.Context, id, hash string) error {
	return m.update(id, func(u *model.User) { u.PasswordHash = hash })
}

func (m *MemStore) StartSession(_ context.Context, id, refreshHash string, at time.Time) error {
	return m.update(id, func(u *model.User) {
		u.RefreshTokenHash = &refreshHash
		u.LastLogin = &at
	})
}

func (m *MemStore) RotateRefresh(_ context.Context, id, oldHash, newHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	u, ok := m.byID[id]
	if !ok || !u.IsActive || u.RefreshTokenHash == nil || *u.RefreshTokenHash != oldHash {
		return repository.ErrStaleToken
	}
	u.RefreshTokenHash = &newHash
	return nil
}

func (m *MemStore) ClearRefresh(_ context.Context, id string) error {
	return m.update(id, func(u *model.User) { u.RefreshTokenHash = nil })
}

func (m *MemStore) StoreReset(_ context.Context, id, tokenHash string, expires time.Time) error {
	return m.update(id, func(u *model.User) {
		u.PasswordResetToken = &tokenHash
		u.PasswordResetExpires = &expires
	})
}

func (m *MemStore) ConsumeReset(_ context.Context, email, tokenHash, newHash string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	for _, u := range m.byID {
		if u.Email != email {
			continue
		}
		if u.PasswordResetToken == nil || *u.PasswordResetToken != tokenHash ||
			u.PasswordResetExpires == nil || !u.PasswordResetExpires.After(now) {
			return repository.ErrStaleToken
		}
		u.PasswordHash = newHash
		u.PasswordResetToken = nil
		u.PasswordResetExpires = nil
		return nil
	}
	return repository.ErrStaleToken
}

func (m *MemStore) update(id string, fn func(*model.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	if u, ok := m.byID[id]; ok {
		fn(u)
	}
	return nil
}

// SetActive flips the is_active flag of user id.
func (m *MemStore) SetActive(id string, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[id].IsActive = active
}

// Get returns a copy of user id; it panics when the user does not exist.
func (m *MemStore) Get(id string) model.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.byID[id]
}

// Publisher records published events.  Fail, when set, is returned by
// Publish after recording.
type Publisher struct {
	mu     sync.Mutex
	events []queue.AuthEvent
	Fail   error
}

func (p *Publisher) Publish(_ context.Context, ev queue.AuthEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.Fail
}

// Types lists the event types in publish order.
func (p *Publisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

// Events returns a copy of the recorded events.
func (p *Publisher) Events() []queue.AuthEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]queue.AuthEvent(nil), p.events...)
}

// LastResetToken returns the raw token of the latest reset request for email.
func (p *Publisher) LastResetToken(email string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.events) - 1; i >= 0; i-- {
		if ev := p.events[i]; ev.Type == queue.EventPasswordResetRequested && ev.Email == email {
			return ev.ResetToken, true
		}
	}
	return "", false
}
