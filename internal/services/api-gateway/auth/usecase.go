package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	authn "github.com/NordCoder/Studymate/internal/auth"
	"github.com/NordCoder/Studymate/internal/domain"
	domainauth "github.com/NordCoder/Studymate/internal/domain/auth"
	"github.com/NordCoder/Studymate/internal/domain/user"
	"github.com/NordCoder/Studymate/internal/obs"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// Rotation decides what happens to a refresh record once it is redeemed.
type Rotation string

const (
	// RotationConsume deletes the record atomically on redemption; of two
	// concurrent refreshes with the same secret exactly one succeeds.
	RotationConsume Rotation = "consume"
	// RotationKeep leaves the record in place until it expires, so the same
	// secret can be redeemed repeatedly.
	RotationKeep Rotation = "keep"
)

func (r Rotation) Valid() bool { return r == RotationConsume || r == RotationKeep }

const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour

	restoreTimeout = 2 * time.Second
)

type Config struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Rotation   Rotation
	Now        func() time.Time
}

type Deps struct {
	Users  user.Repo
	Tokens domainauth.RefreshTokenRepo
	Tx     domainauth.Transactor
	Events domainauth.EventSink
	Hasher *authn.Hasher
	Codec  *authn.Codec
	Log    *zap.Logger
}

// Session is what a successful sign-up, sign-in or refresh returns.
type Session struct {
	User             user.Profile `json:"user"`
	AccessToken      string       `json:"accessToken"`
	RefreshToken     string       `json:"refreshToken"`
	ExpiresIn        int64        `json:"expiresIn"`
	RefreshExpiresIn int64        `json:"refreshExpiresIn"`
}

// Manager holds no session state of its own; every record lives in the
// stores, so one Manager serves any number of concurrent requests.
type Manager struct {
	users  user.Repo
	tokens domainauth.RefreshTokenRepo
	tx     domainauth.Transactor
	events domainauth.EventSink
	hasher *authn.Hasher
	codec  *authn.Codec
	log    *zap.Logger
	cfg    Config

	tokensInTx bool
}

func NewManager(d Deps, cfg Config) (*Manager, error) {
	if d.Users == nil || d.Tokens == nil || d.Hasher == nil || d.Codec == nil {
		return nil, errors.New("auth manager: users, tokens, hasher and codec are required")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if cfg.Rotation == "" {
		cfg.Rotation = RotationConsume
	}
	if !cfg.Rotation.Valid() {
		return nil, fmt.Errorf("auth manager: unknown rotation %q", cfg.Rotation)
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	inTx := false
	if tb, ok := d.Tokens.(domainauth.TxBound); ok && d.Tx != nil {
		inTx = tb.JoinsTx()
	}
	if d.Tx == nil {
		d.Tx = noTx{}
	}
	if d.Events == nil {
		d.Events = noEvents{}
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return &Manager{
		users: d.Users, tokens: d.Tokens, tx: d.Tx, events: d.Events,
		hasher: d.Hasher, codec: d.Codec, log: d.Log, cfg: cfg,
		tokensInTx: inTx,
	}, nil
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func validPassword(p string) bool {
	return len(p) >= authn.MinPasswordLen && len(p) <= authn.MaxPasswordLen
}

// Register creates a student account and signs it in.
func (m *Manager) Register(ctx context.Context, email, password, name string) (sess *Session, err error) {
	ctx, done := m.begin(ctx, "register")
	defer func() { err = done(err) }()

	email = normalizeEmail(email)
	if _, perr := mail.ParseAddress(email); perr != nil || strings.ContainsAny(email, " <>") {
		return nil, ErrInvalidEmail
	}
	if !validPassword(password) {
		return nil, ErrWeakPassword
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = email[:strings.IndexByte(email, '@')]
	}

	hash, err := m.hasher.HashPassword(ctx, password)
	if err != nil {
		return nil, err
	}

	u := &user.User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		Role:         user.RoleStudent,
		PasswordHash: hash,
	}
	err = m.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := m.users.Create(ctx, u); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				return ErrEmailExists
			}
			return err
		}
		sess, err = m.issue(ctx, u, domainauth.EventLogin)
		return err
	})
	if err != nil {
		return nil, err
	}
	m.log.Info("auth.register", zap.String("user_id", u.ID))
	return sess, nil
}

// Login answers ErrInvalidCredentials for an unknown email and for a wrong
// password alike, after one bcrypt comparison in both cases.
func (m *Manager) Login(ctx context.Context, email, password string) (sess *Session, err error) {
	ctx, done := m.begin(ctx, "login")
	defer func() { err = done(err) }()

	email = normalizeEmail(email)
	if email == "" || password == "" || len(password) > authn.MaxPasswordLen {
		return nil, ErrInvalidCredentials
	}

	u, err := m.users.GetByEmail(ctx, email)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		m.hasher.VerifyPassword(ctx, password, m.hasher.DummyHash())
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrInvalidCredentials
	case err != nil:
		return nil, err
	}
	if !m.hasher.VerifyPassword(ctx, password, u.PasswordHash) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrInvalidCredentials
	}

	err = m.tx.WithTx(ctx, func(ctx context.Context) error {
		sess, err = m.issue(ctx, u, domainauth.EventLogin)
		return err
	})
	if err != nil {
		return nil, err
	}

	m.purgeExpired(ctx)
	return sess, nil
}

// Refresh redeems a refresh secret for a new access and refresh pair. The
// secret must verify as a signed refresh token and match a live record.
func (m *Manager) Refresh(ctx context.Context, refreshSecret string) (sess *Session, err error) {
	ctx, done := m.begin(ctx, "refresh")
	defer func() { err = done(err) }()

	if verr := m.codec.VerifyRefreshSecret(refreshSecret); verr != nil {
		return nil, tokenErr(verr)
	}
	hash := authn.HashToken(refreshSecret)

	var consumed *domainauth.RefreshToken
	err = m.tx.WithTx(ctx, func(ctx context.Context) error {
		rec, err := m.redeem(ctx, hash)
		if errors.Is(err, domain.ErrNotFound) {
			return ErrTokenInvalid
		}
		if err != nil {
			return err
		}
		if m.cfg.Rotation == RotationConsume {
			consumed = rec
		}

		u, err := m.users.GetByID(ctx, rec.UserID)
		if errors.Is(err, domain.ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		sess, err = m.issue(ctx, u, domainauth.EventRefresh)
		return err
	})
	if err != nil {
		if consumed != nil && !m.tokensInTx && !errors.Is(err, ErrNotFound) {
			m.restore(ctx, consumed)
		}
		return nil, err
	}
	return sess, nil
}

// restore puts back a record consumed by a refresh that failed later, so the
// client can retry with the same secret. Stores that join m.tx get this from
// the rollback.
func (m *Manager) restore(ctx context.Context, rec *domainauth.RefreshToken) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), restoreTimeout)
	defer cancel()

	if err := m.tokens.Put(ctx, rec); err != nil {
		obs.WithTrace(ctx, m.log).Warn("restore refresh record", zap.String("user_id", rec.UserID), zap.Error(err))
		return
	}
	mRestored.Inc()
}

func (m *Manager) redeem(ctx context.Context, hash string) (*domainauth.RefreshToken, error) {
	if m.cfg.Rotation == RotationKeep {
		return m.tokens.FindValid(ctx, hash)
	}
	return m.tokens.Consume(ctx, hash)
}

// Logout deletes every refresh record of the caller. Access tokens already
// handed out stay valid until they expire; there is no denylist.
func (m *Manager) Logout(ctx context.Context, accessToken string) (err error) {
	ctx, done := m.begin(ctx, "logout")
	defer func() { err = done(err) }()

	id, verr := m.codec.VerifyAccessToken(accessToken)
	if verr != nil {
		return tokenErr(verr)
	}

	var deleted int64
	err = m.tx.WithTx(ctx, func(ctx context.Context) error {
		n, err := m.tokens.DeleteAllForUser(ctx, id.UserID)
		if err != nil {
			return err
		}
		deleted = n
		return m.events.Record(ctx, domainauth.SessionEvent{
			Kind: domainauth.EventLogout, UserID: id.UserID, At: m.cfg.Now(),
		})
	})
	if err != nil {
		return err
	}
	obs.WithTrace(ctx, m.log).Info("auth.logout", zap.String("user_id", id.UserID), zap.Int64("sessions", deleted))
	return nil
}

// Authenticate verifies an Authorization header value. It never touches a
// store.
func (m *Manager) Authenticate(bearerHeader string) (domainauth.Identity, error) {
	token, ok := parseBearer(bearerHeader)
	if !ok {
		mOps.WithLabelValues("authenticate", "token_invalid").Inc()
		return domainauth.Identity{}, ErrTokenInvalid
	}
	id, err := m.codec.VerifyAccessToken(token)
	if err != nil {
		err = tokenErr(err)
		mOps.WithLabelValues("authenticate", resultLabel(err)).Inc()
		return domainauth.Identity{}, err
	}
	mOps.WithLabelValues("authenticate", "ok").Inc()
	return id, nil
}

// Profile returns the public profile of an authenticated caller.
func (m *Manager) Profile(ctx context.Context, userID string) (p user.Profile, err error) {
	ctx, done := m.begin(ctx, "profile")
	defer func() { err = done(err) }()

	u, err := m.users.GetByID(ctx, userID)
	if err != nil {
		return user.Profile{}, err
	}
	return u.Profile(), nil
}

// issue mints a token pair for u and persists the refresh record together
// with the session event. It must run inside m.tx.
func (m *Manager) issue(ctx context.Context, u *user.User, kind domainauth.EventKind) (*Session, error) {
	now := m.cfg.Now()

	access, accessExp, err := m.codec.IssueAccessToken(u.ID, u.Role, m.cfg.AccessTTL)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := m.codec.IssueRefreshSecret(m.cfg.RefreshTTL)
	if err != nil {
		return nil, err
	}

	if kind == domainauth.EventLogin {
		if err := m.users.TouchLastLogin(ctx, u.ID, now); err != nil {
			return nil, err
		}
		u.LastLoginAt = &now
	}

	rec := &domainauth.RefreshToken{
		UserID:    u.ID,
		TokenHash: authn.HashToken(refresh),
		IssuedAt:  now,
		ExpiresAt: refreshExp,
	}
	if err := m.tokens.Put(ctx, rec); err != nil {
		return nil, err
	}
	if err := m.events.Record(ctx, domainauth.SessionEvent{Kind: kind, UserID: u.ID, At: now}); err != nil {
		return nil, err
	}

	return &Session{
		User:             u.Profile(),
		AccessToken:      access,
		RefreshToken:     refresh,
		ExpiresIn:        secondsUntil(now, accessExp),
		RefreshExpiresIn: secondsUntil(now, refreshExp),
	}, nil
}

func (m *Manager) purgeExpired(ctx context.Context) {
	n, err := m.tokens.DeleteExpired(ctx)
	if err != nil {
		obs.WithTrace(ctx, m.log).Warn("purge expired refresh tokens", zap.Error(err))
		return
	}
	mPurged.Add(float64(n))
}

// begin opens a span and returns the closure that classifies the operation's
// error, records metrics and logs infrastructure failures.
func (m *Manager) begin(ctx context.Context, op string) (context.Context, func(error) error) {
	start := time.Now()
	ctx, span := otel.Tracer("auth.manager").Start(ctx, "auth."+op)
	return ctx, func(err error) error {
		defer span.End()
		out := classify(op, err)

		mOpDur.WithLabelValues(op).Observe(time.Since(start).Seconds())
		mOps.WithLabelValues(op, resultLabel(out)).Inc()
		span.SetAttributes(attribute.String("auth.result", resultLabel(out)))

		switch {
		case errors.Is(out, ErrStoreUnavailable):
			span.SetStatus(codes.Error, "store unavailable")
			obs.WithTrace(ctx, m.log).Warn("auth."+op+" store unavailable", zap.Error(err))
		case errors.Is(out, ErrInternal):
			span.RecordError(err)
			span.SetStatus(codes.Error, "internal")
			obs.WithTrace(ctx, m.log).Error("auth."+op+" failed", zap.Error(err))
		}
		return out
	}
}

func secondsUntil(now, exp time.Time) int64 {
	d := exp.Sub(now)
	if d < 0 {
		return 0
	}
	return int64(d.Round(time.Second) / time.Second)
}

// parseBearer accepts "Bearer <token>" with a case-insensitive scheme.
func parseBearer(h string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(h), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", false
	}
	return token, true
}

type noTx struct{}

func (noTx) WithTx(ctx context.Context, fn func(context.Context) error) error { return fn(ctx) }

type noEvents struct{}

func (noEvents) Record(context.Context, domainauth.SessionEvent) error { return nil }
