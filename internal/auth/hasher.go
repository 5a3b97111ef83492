package auth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

const (
	PasswordCost   = 12
	MinPasswordLen = 6
	// bcrypt ignores everything past 72 bytes.
	MaxPasswordLen = 72
)

type HasherConfig struct {
	Cost          int
	MaxConcurrent int64
}

// Hasher computes password and refresh-token digests. bcrypt work is bounded
// by a semaphore so a burst of logins cannot occupy every CPU.
type Hasher struct {
	cost int
	sem  *semaphore.Weighted

	dummyOnce sync.Once
	dummy     string
}

func NewHasher(cfg HasherConfig) *Hasher {
	if cfg.Cost == 0 {
		cfg.Cost = PasswordCost
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = int64(runtime.NumCPU())
	}
	return &Hasher{cost: cfg.Cost, sem: semaphore.NewWeighted(cfg.MaxConcurrent)}
}

func (h *Hasher) HashPassword(ctx context.Context, plaintext string) (string, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("acquire hasher slot: %w", err)
	}
	defer h.sem.Release(1)

	b, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

// VerifyPassword reports whether plaintext matches hash. A malformed hash or a
// cancelled ctx yields false.
func (h *Hasher) VerifyPassword(ctx context.Context, plaintext, hash string) bool {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return false
	}
	defer h.sem.Release(1)

	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// DummyHash is a valid hash of a random password, compared against when the
// account does not exist so both failure paths cost one bcrypt comparison.
func (h *Hasher) DummyHash() string {
	h.dummyOnce.Do(func() {
		raw, err := RandomString(24)
		if err != nil {
			raw = "studymate-dummy-password"
		}
		b, err := bcrypt.GenerateFromPassword([]byte(raw), h.cost)
		if err == nil {
			h.dummy = string(b)
		}
	})
	return h.dummy
}

// HashToken is the lookup key for a refresh secret: SHA-256, base64url.
func HashToken(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
