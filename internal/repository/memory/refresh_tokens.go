package memory

import (
	"context"
	"sync"
	"time"

	"github.com/NordCoder/Studymate/internal/domain"
	"github.com/NordCoder/Studymate/internal/domain/auth"
)

var _ auth.RefreshTokenRepo = (*RefreshTokenRepo)(nil)

type RefreshTokenRepo struct {
	mu     sync.Mutex
	nextID int64
	byHash map[string]*auth.RefreshToken
	now    func() time.Time
}

func NewRefreshTokenRepo(now func() time.Time) *RefreshTokenRepo {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &RefreshTokenRepo{byHash: make(map[string]*auth.RefreshToken), now: now}
}

func (r *RefreshTokenRepo) Put(_ context.Context, t *auth.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	t.ID = r.nextID
	cp := *t
	r.byHash[t.TokenHash] = &cp
	return nil
}

func (r *RefreshTokenRepo) FindValid(_ context.Context, tokenHash string) (*auth.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.valid(tokenHash)
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *RefreshTokenRepo) Consume(_ context.Context, tokenHash string) (*auth.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.valid(tokenHash)
	if !ok {
		return nil, domain.ErrNotFound
	}
	delete(r.byHash, tokenHash)
	return t, nil
}

func (r *RefreshTokenRepo) DeleteExpired(context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var n int64
	for h, t := range r.byHash {
		if !t.ExpiresAt.After(now) {
			delete(r.byHash, h)
			n++
		}
	}
	return n, nil
}

func (r *RefreshTokenRepo) DeleteAllForUser(_ context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for h, t := range r.byHash {
		if t.UserID == userID {
			delete(r.byHash, h)
			n++
		}
	}
	return n, nil
}

// Len counts stored records, expired ones included.
func (r *RefreshTokenRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byHash)
}

func (r *RefreshTokenRepo) valid(tokenHash string) (*auth.RefreshToken, bool) {
	t, ok := r.byHash[tokenHash]
	if !ok || !t.ExpiresAt.After(r.now()) {
		return nil, false
	}
	return t, true
}
