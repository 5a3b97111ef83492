package postgres

import (
	"context"
	"time"

	"github.com/NordCoder/Studymate/internal/domain/user"
	"github.com/jackc/pgx/v5"
)

var _ user.Repo = (*UserRepo)(nil)

type UserRepo struct {
	db *DB
}

func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

const (
	qUserInsert = `
INSERT INTO users (id, email, name, role, avatar, password_hash)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING created_at;`

	qUserByID = `
SELECT id::text, email, name, role, avatar, password_hash, created_at, last_login_at
FROM users
WHERE id = $1;`

	qUserByEmail = `
SELECT id::text, email, name, role, avatar, password_hash, created_at, last_login_at
FROM users
WHERE email = $1;`

	qUserTouchLogin = `
UPDATE users
SET last_login_at = $2
WHERE id = $1;`
)

func (r *UserRepo) Create(ctx context.Context, u *user.User) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	err := r.db.execQueryer(ctx).
		QueryRow(ctx, qUserInsert, u.ID, u.Email, u.Name, string(u.Role), u.Avatar, u.PasswordHash).
		Scan(&u.CreatedAt)
	return classify("user insert", err)
}

func (r *UserRepo) GetByID(ctx context.Context, id string) (*user.User, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var u user.User
	if err := scanUser(r.db.execQueryer(ctx).QueryRow(ctx, qUserByID, id), &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*user.User, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var u user.User
	if err := scanUser(r.db.execQueryer(ctx).QueryRow(ctx, qUserByEmail, email), &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepo) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	tag, err := r.db.execQueryer(ctx).Exec(ctx, qUserTouchLogin, id, at)
	if err != nil {
		return classify("user touch login", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanUser(row pgx.Row, out *user.User) error {
	var role string
	if err := row.Scan(&out.ID, &out.Email, &out.Name, &role, &out.Avatar, &out.PasswordHash, &out.CreatedAt, &out.LastLoginAt); err != nil {
		return classify("scan user", err)
	}
	out.Role = user.Role(role)
	return nil
}
