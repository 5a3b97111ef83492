// Package memory holds mutex-guarded in-process backends used by tests and
// by the gateway when session.store is "memory".
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/NordCoder/Studymate/internal/domain"
	"github.com/NordCoder/Studymate/internal/domain/user"
)

var _ user.Repo = (*UserRepo)(nil)

type UserRepo struct {
	mu      sync.RWMutex
	byID    map[string]*user.User
	byEmail map[string]string
	now     func() time.Time
}

func NewUserRepo(now func() time.Time) *UserRepo {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &UserRepo{
		byID:    make(map[string]*user.User),
		byEmail: make(map[string]string),
		now:     now,
	}
}

func (r *UserRepo) Create(_ context.Context, u *user.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byEmail[u.Email]; ok {
		return domain.ErrConflict
	}
	if _, ok := r.byID[u.ID]; ok {
		return domain.ErrConflict
	}
	u.CreatedAt = r.now()
	cp := *u
	r.byID[u.ID] = &cp
	r.byEmail[u.Email] = u.ID
	return nil
}

func (r *UserRepo) GetByID(_ context.Context, id string) (*user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*user.User, error) {
	r.mu.RLock()
	id, ok := r.byEmail[email]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *UserRepo) TouchLastLogin(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	u.LastLoginAt = &at
	return nil
}

// Delete removes a user; the gateway never deletes accounts, tests do.
func (r *UserRepo) Delete(_ context.Context, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if u, ok := r.byID[id]; ok {
		delete(r.byEmail, u.Email)
		delete(r.byID, id)
	}
}
