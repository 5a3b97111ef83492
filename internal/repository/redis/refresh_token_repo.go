package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/NordCoder/Studymate/internal/domain"
	"github.com/NordCoder/Studymate/internal/domain/auth"
	goredis "github.com/redis/go-redis/v9"
)

var _ auth.RefreshTokenRepo = (*RefreshTokenRepo)(nil)

// RefreshTokenRepo keeps one key per token hash with a native TTL plus a set
// of hashes per user for logout.
type RefreshTokenRepo struct {
	rdb    goredis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRefreshTokenRepo(rdb goredis.UniversalClient, prefix string, now func() time.Time) *RefreshTokenRepo {
	if prefix == "" {
		prefix = "studymate"
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &RefreshTokenRepo{rdb: rdb, prefix: prefix, now: now}
}

type record struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (r *RefreshTokenRepo) tokenKey(hash string) string { return r.prefix + ":rt:" + hash }
func (r *RefreshTokenRepo) userKey(userID string) string {
	return r.prefix + ":rt:user:" + userID
}
func (r *RefreshTokenRepo) seqKey() string { return r.prefix + ":rt:seq" }

func (r *RefreshTokenRepo) Put(ctx context.Context, t *auth.RefreshToken) error {
	ttl := t.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return nil
	}
	id, err := r.rdb.Incr(ctx, r.seqKey()).Result()
	if err != nil {
		return classify("put refresh", err)
	}
	t.ID = id

	data, err := json.Marshal(record{ID: id, UserID: t.UserID, IssuedAt: t.IssuedAt, ExpiresAt: t.ExpiresAt})
	if err != nil {
		return fmt.Errorf("marshal refresh record: %w", err)
	}

	_, err = r.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Set(ctx, r.tokenKey(t.TokenHash), data, ttl)
		p.SAdd(ctx, r.userKey(t.UserID), t.TokenHash)
		p.Expire(ctx, r.userKey(t.UserID), ttl)
		return nil
	})
	return classify("put refresh", err)
}

func (r *RefreshTokenRepo) FindValid(ctx context.Context, tokenHash string) (*auth.RefreshToken, error) {
	data, err := r.rdb.Get(ctx, r.tokenKey(tokenHash)).Bytes()
	if err != nil {
		return nil, classify("find valid refresh", err)
	}
	return r.decode(tokenHash, data)
}

// Consume relies on GETDEL being atomic: only one caller receives the value.
func (r *RefreshTokenRepo) Consume(ctx context.Context, tokenHash string) (*auth.RefreshToken, error) {
	data, err := r.rdb.GetDel(ctx, r.tokenKey(tokenHash)).Bytes()
	if err != nil {
		return nil, classify("consume refresh", err)
	}
	t, err := r.decode(tokenHash, data)
	if err != nil {
		return nil, err
	}
	if err := r.rdb.SRem(ctx, r.userKey(t.UserID), tokenHash).Err(); err != nil {
		return nil, classify("consume refresh", err)
	}
	return t, nil
}

// DeleteExpired prunes per-user sets of hashes whose keys already expired;
// the token keys themselves are expired by redis.
func (r *RefreshTokenRepo) DeleteExpired(ctx context.Context) (int64, error) {
	var pruned int64
	iter := r.rdb.Scan(ctx, 0, r.userKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		setKey := iter.Val()
		hashes, err := r.rdb.SMembers(ctx, setKey).Result()
		if err != nil {
			return pruned, classify("delete expired refresh", err)
		}
		for _, h := range hashes {
			n, err := r.rdb.Exists(ctx, r.tokenKey(h)).Result()
			if err != nil {
				return pruned, classify("delete expired refresh", err)
			}
			if n == 0 {
				if err := r.rdb.SRem(ctx, setKey, h).Err(); err != nil {
					return pruned, classify("delete expired refresh", err)
				}
				pruned++
			}
		}
	}
	if err := iter.Err(); err != nil {
		return pruned, classify("delete expired refresh", err)
	}
	return pruned, nil
}

// deleteUserTokens drops the user set and every token key it lists in one
// atomic step; a racing Put ends up either deleted or in a fresh set.
var deleteUserTokens = goredis.NewScript(`
local hashes = redis.call('SMEMBERS', KEYS[1])
local n = 0
for _, h in ipairs(hashes) do
	n = n + redis.call('DEL', ARGV[1] .. h)
end
redis.call('DEL', KEYS[1])
return n
`)

func (r *RefreshTokenRepo) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	n, err := deleteUserTokens.Run(ctx, r.rdb, []string{r.userKey(userID)}, r.tokenKey("")).Int64()
	if err != nil {
		return 0, classify("delete user refresh", err)
	}
	return n, nil
}

func (r *RefreshTokenRepo) decode(tokenHash string, data []byte) (*auth.RefreshToken, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode refresh record: %w", err)
	}
	if !rec.ExpiresAt.After(r.now()) {
		return nil, domain.ErrNotFound
	}
	return &auth.RefreshToken{
		ID:        rec.ID,
		UserID:    rec.UserID,
		TokenHash: tokenHash,
		IssuedAt:  rec.IssuedAt,
		ExpiresAt: rec.ExpiresAt,
	}, nil
}
