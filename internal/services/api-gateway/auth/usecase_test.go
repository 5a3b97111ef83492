package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	authn "github.com/NordCoder/Studymate/internal/auth"
	"github.com/NordCoder/Studymate/internal/domain"
	domainauth "github.com/NordCoder/Studymate/internal/domain/auth"
	"github.com/NordCoder/Studymate/internal/domain/user"
	"github.com/NordCoder/Studymate/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingSink struct {
	mu     sync.Mutex
	events []domainauth.SessionEvent
}

func (s *recordingSink) Record(_ context.Context, ev domainauth.SessionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) kinds() []domainauth.EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domainauth.EventKind, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Kind)
	}
	return out
}

type testEnv struct {
	m      *Manager
	clock  *fakeClock
	users  *memory.UserRepo
	tokens *memory.RefreshTokenRepo
	events *recordingSink
	codec  *authn.Codec
}

type envOption func(*Deps)

func newTestEnv(t *testing.T, rotation Rotation, opts ...envOption) *testEnv {
	t.Helper()
	clock := newClock()
	codec, err := authn.NewCodec(authn.CodecConfig{Secret: []byte(testSecret), Issuer: "studymate-test", Now: clock.Now})
	require.NoError(t, err)

	e := &testEnv{
		clock:  clock,
		users:  memory.NewUserRepo(clock.Now),
		tokens: memory.NewRefreshTokenRepo(clock.Now),
		events: &recordingSink{},
		codec:  codec,
	}
	deps := Deps{
		Users:  e.users,
		Tokens: e.tokens,
		Tx:     memory.Transactor{},
		Events: e.events,
		Hasher: authn.NewHasher(authn.HasherConfig{Cost: bcrypt.MinCost}),
		Codec:  codec,
	}
	for _, o := range opts {
		o(&deps)
	}
	e.m, err = NewManager(deps, Config{Rotation: rotation, Now: clock.Now})
	require.NoError(t, err)
	return e
}

func (e *testEnv) register(t *testing.T, email, password string) *Session {
	t.Helper()
	s, err := e.m.Register(context.Background(), email, password, "")
	require.NoError(t, err)
	return s
}

func TestManager_LoginThenAuthenticateResolvesSameUser(t *testing.T) {
	e := newTestEnv(t, RotationConsume)
	reg := e.register(t, "ann@example.com", "hunter22")

	s, err := e.m.Login(context.Background(), "ann@example.com", "hunter22")
	require.NoError(t, err)

	id, err := e.m.Authenticate("Bearer " + s.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, id.UserID)
	assert.Equal(t, s.User.ID, id.UserID)
	assert.Equal(t, user.RoleStudent, id.Role)
	assert.EqualValues(t, 15*60, s.ExpiresIn)
	assert.EqualValues(t, 7*24*60*60, s.RefreshExpiresIn)
	require.NotNil(t, s.User.LastLoginAt)
	assert.True(t, e.clock.Now().Equal(*s.User.LastLoginAt))
}

func TestManager_LoginAntiEnumeration(t *testing.T) {
	e := newTestEnv(t, RotationConsume)
	e.register(t, "ann@example.com", "hunter22")

	_, wrongPass := e.m.Login(context.Background(), "ann@example.com", "hunter23")
	_, unknown := e.m.Login(context.Background(), "bob@example.com", "hunter22")
	_, empty := e.m.Login(context.Background(), "", "")

	for _, err := range []error{wrongPass, unknown, empty} {
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}
	assert.Equal(t, wrongPass.Error(), unknown.Error())
	assert.Equal(t, wrongPass.Error(), empty.Error())
}

func TestManager_EmailIsCaseInsensitive(t *testing.T) {
	e := newTestEnv(t, RotationConsume)
	reg := e.register(t, "  Ann@Example.COM ", "hunter22")
	assert.Equal(t, "ann@example.com", reg.User.Email)

	s, err := e.m.Login(context.Background(), "ANN@example.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, s.User.ID)

	_, err = e.m.Register(context.Background(), "ann@EXAMPLE.com", "another1", "")
	require.ErrorIs(t, err, ErrEmailExists)
}

func TestManager_RegisterValidation(t *testing.T) {
	e := newTestEnv(t, RotationConsume)

	cases := []struct {
		name     string
		email    string
		password string
		want     error
	}{
		{"short password", "a@x.com", "12345", ErrWeakPassword},
		{"long password", "a@x.com", string(make([]byte, authn.MaxPasswordLen+1)), ErrWeakPassword},
		{"no at sign", "ax.com", "secret1", ErrInvalidEmail},
		{"empty email", "", "secret1", ErrInvalidEmail},
		{"display name form", "Ann <a@x.com>", "secret1", ErrInvalidEmail},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.m.Register(context.Background(), tc.email, tc.password, "")
			require.ErrorIs(t, err, tc.want)
		})
	}

	s, err := e.m.Register(context.Background(), "a@x.com", "secret1", "  Ann  ")
	require.NoError(t, err)
	assert.Equal(t, "Ann", s.User.Name)

	s, err = e.m.Register(context.Background(), "bob@x.com", "secret1", "")
	require.NoError(t, err)
	assert.Equal(t, "bob", s.User.Name)
}

func TestManager_AuthenticateRejectsExpiredToken(t *testing.T) {
	e := newTestEnv(t, RotationConsume)

	tok, _, err := e.codec.IssueAccessToken("5b1d7a52-1f0e-4a53-9c55-5d0d7f8a2a10", user.RoleStudent, -time.Second)
	require.NoError(t, err)

	_, err = e.m.Authenticate("Bearer " + tok)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestManager_AuthenticateHeaderParsing(t *testing.T) {
	e := newTestEnv(t, RotationConsume)
	s := e.register(t, "ann@example.com", "hunter22")

	cases := []struct {
		header string
		ok     bool
	}{
		{"Bearer " + s.AccessToken, true},
		{"bearer " + s.AccessToken, true},
		{"BEARER   " + s.AccessToken + " ", true},
		{"", false},
		{"Bearer", false},
		{"Bearer ", false},
		{s.AccessToken, false},
		{"Basic " + s.AccessToken, false},
		{"Bearer " + s.AccessToken + " extra", false},
		{"Bearer " + s.RefreshToken, false},
		{"Bearer not.a.jwt", false},
	}
	for i, tc := range cases {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			id, err := e.m.Authenticate(tc.header)
			if tc.ok {
				require.NoError(t, err)
				assert.Equal(t, s.User.ID, id.UserID)
				return
			}
			require.ErrorIs(t, err, ErrTokenInvalid)
			assert.Empty(t, id.UserID)
		})
	}
}

func TestManager_RefreshRejectsUnknownAndExpiredSecrets(t *testing.T) {
	e := newTestEnv(t, RotationConsume)
	s := e.register(t, "ann@example.com", "hunter22")

	neverStored, _, err := e.codec.IssueRefreshSecret(time.Hour)
	require.NoError(t, err)
	_, err = e.m.Refresh(context.Background(), neverStored)
	require.ErrorIs(t, err, ErrTokenInvalid)

	_, err = e.m.Refresh(context.Background(), "garbage")
	require.ErrorIs(t, err, ErrTokenInvalid)

	_, err = e.m.Refresh(context.Background(), s.AccessToken)
	require.ErrorIs(t, err, ErrTokenInvalid)

	e.clock.Advance(7*24*time.Hour + time.Second)
	_, err = e.m.Refresh(context.Background(), s.RefreshToken)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestManager_RefreshIssuesNewPair(t *testing.T) {
	e := newTestEnv(t, RotationConsume)
	s := e.register(t, "ann@example.com", "hunter22")

	next, err := e.m.Refresh(context.Background(), s.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, s.AccessToken, next.AccessToken)
	assert.NotEqual(t, s.RefreshToken, next.RefreshToken)
	assert.Equal(t, s.User.ID, next.User.ID)

	id, err := e.m.Authenticate("Bearer " + next.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, s.User.ID, id.UserID)

	_, err = e.m.Refresh(context.Background(), s.RefreshToken)
	require.ErrorIs(t, err, ErrTokenInvalid, "consumed secret must not be redeemable twice")

	_, err = e.m.Refresh(context.Background(), next.RefreshToken)
	require.NoError(t, err)
}

func TestManager_KeepRotationAllowsReplay(t *testing.T) {
	e := newTestEnv(t, RotationKeep)
	s := e.register(t, "ann@example.com", "hunter22")

	_, err := e.m.Refresh(context.Background(), s.RefreshToken)
	require.NoError(t, err)
	_, err = e.m.Refresh(context.Background(), s.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, 3, e.tokens.Len())
}

func TestManager_LogoutRevokesRefreshButNotAccess(t *testing.T) {
	for _, rot := range []Rotation{RotationConsume, RotationKeep} {
		t.Run(string(rot), func(t *testing.T) {
			e := newTestEnv(t, rot)
			e.register(t, "ann@example.com", "hunter22")
			s1, err := e.m.Login(context.Background(), "ann@example.com", "hunter22")
			require.NoError(t, err)
			s2, err := e.m.Login(context.Background(), "ann@example.com", "hunter22")
			require.NoError(t, err)

			require.NoError(t, e.m.Logout(context.Background(), s1.AccessToken))

			_, err = e.m.Refresh(context.Background(), s1.RefreshToken)
			require.ErrorIs(t, err, ErrTokenInvalid)
			_, err = e.m.Refresh(context.Background(), s2.RefreshToken)
			require.ErrorIs(t, err, ErrTokenInvalid, "logout ends every session of the user")

			id, err := e.m.Authenticate("Bearer " + s1.AccessToken)
			require.NoError(t, err, "issued access tokens stay valid until expiry")
			assert.Equal(t, s1.User.ID, id.UserID)
		})
	}
}

func TestManager_LogoutRequiresAccessToken(t *testing.T) {
	e := newTestEnv(t, RotationConsume)
	s := e.register(t, "ann@example.com", "hunter22")

	require.ErrorIs(t, e.m.Logout(context.Background(), s.RefreshToken), ErrTokenInvalid)
	require.ErrorIs(t, e.m.Logout(context.Background(), ""), ErrTokenInvalid)

	e.clock.Advance(16 * time.Minute)
	require.ErrorIs(t, e.m.Logout(context.Background(), s.AccessToken), ErrTokenExpired)

	_, err := e.m.Refresh(context.Background(), s.RefreshToken)
	require.NoError(t, err, "failed logout must not revoke anything")
}

func TestManager_ScenarioRefreshOutlivesAccess(t *testing.T) {
	e := newTestEnv(t, RotationConsume)
	e.register(t, "a@x.com", "secret1")

	s, err := e.m.Login(context.Background(), "a@x.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, user.RoleStudent, s.User.Role)
	assert.NotEmpty(t, s.RefreshToken)

	e.clock.Advance(DefaultAccessTTL + time.Second)

	_, err = e.m.Authenticate("Bearer " + s.AccessToken)
	require.ErrorIs(t, err, ErrTokenExpired)

	next, err := e.m.Refresh(context.Background(), s.RefreshToken)
	require.NoError(t, err)

	id, err := e.m.Authenticate("Bearer " + next.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, s.User.ID, id.UserID)
}

func TestManager_ConcurrentRefresh(t *testing.T) {
	cases := []struct {
		rotation Rotation
		wantOK   int
	}{
		{RotationConsume, 1},
		{RotationKeep, 2},
	}
	for _, tc := range cases {
		t.Run(string(tc.rotation), func(t *testing.T) {
			e := newTestEnv(t, tc.rotation)
			s := e.register(t, "ann@example.com", "hunter22")

			var wg sync.WaitGroup
			errs := make([]error, 2)
			start := make(chan struct{})
			for i := range errs {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					<-start
					_, errs[i] = e.m.Refresh(context.Background(), s.RefreshToken)
				}(i)
			}
			close(start)
			wg.Wait()

			ok := 0
			for _, err := range errs {
				if err == nil {
					ok++
					continue
				}
				require.ErrorIs(t, err, ErrTokenInvalid)
			}
			assert.Equal(t, tc.wantOK, ok)
		})
	}
}

func TestManager_RefreshForDeletedUser(t *testing.T) {
	e := newTestEnv(t, RotationConsume)
	s := e.register(t, "ann@example.com", "hunter22")

	e.users.Delete(context.Background(), s.User.ID)

	_, err := e.m.Refresh(context.Background(), s.RefreshToken)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = e.m.Profile(context.Background(), s.User.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestManager_LoginPurgesExpiredRecords(t *testing.T) {
	e := newTestEnv(t, RotationConsume)
	e.register(t, "ann@example.com", "hunter22")

	now := e.clock.Now()
	require.NoError(t, e.tokens.Put(context.Background(), &domainauth.RefreshToken{
		UserID: "gone", TokenHash: "stale", IssuedAt: now.Add(-8 * 24 * time.Hour), ExpiresAt: now.Add(-time.Hour),
	}))
	require.Equal(t, 2, e.tokens.Len())

	_, err := e.m.Login(context.Background(), "ann@example.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, 2, e.tokens.Len())
}

func TestManager_RecordsSessionEvents(t *testing.T) {
	e := newTestEnv(t, RotationConsume)
	s := e.register(t, "ann@example.com", "hunter22")

	next, err := e.m.Refresh(context.Background(), s.RefreshToken)
	require.NoError(t, err)
	require.NoError(t, e.m.Logout(context.Background(), next.AccessToken))

	assert.Equal(t, []domainauth.EventKind{
		domainauth.EventLogin, domainauth.EventRefresh, domainauth.EventLogout,
	}, e.events.kinds())
}

type failingTokens struct {
	*memory.RefreshTokenRepo
	err error
}

func (f failingTokens) Put(context.Context, *domainauth.RefreshToken) error { return f.err }
func (f failingTokens) Consume(context.Context, string) (*domainauth.RefreshToken, error) {
	return nil, f.err
}
func (f failingTokens) FindValid(context.Context, string) (*domainauth.RefreshToken, error) {
	return nil, f.err
}
func (f failingTokens) DeleteAllForUser(context.Context, string) (int64, error) { return 0, f.err }

// flakyTokens fails the next failPuts calls to Put, then behaves.
type flakyTokens struct {
	*memory.RefreshTokenRepo
	mu       sync.Mutex
	failPuts int
	err      error
}

func (f *flakyTokens) Put(ctx context.Context, t *domainauth.RefreshToken) error {
	f.mu.Lock()
	if f.failPuts > 0 {
		f.failPuts--
		f.mu.Unlock()
		return f.err
	}
	f.mu.Unlock()
	return f.RefreshTokenRepo.Put(ctx, t)
}

// txTokens claims its writes roll back with the transaction.
type txTokens struct{ *flakyTokens }

func (txTokens) JoinsTx() bool { return true }

type failOnceSink struct {
	recordingSink
	failed bool
}

func (s *failOnceSink) Record(ctx context.Context, ev domainauth.SessionEvent) error {
	if !s.failed && ev.Kind == domainauth.EventRefresh {
		s.failed = true
		return fmt.Errorf("outbox insert: %w", domain.ErrUnavailable)
	}
	return s.recordingSink.Record(ctx, ev)
}

func TestManager_FailedRefreshCanBeRetried(t *testing.T) {
	down := fmt.Errorf("put refresh: %w", domain.ErrUnavailable)

	t.Run("put fails after consume", func(t *testing.T) {
		flaky := &flakyTokens{err: down}
		e := newTestEnv(t, RotationConsume, func(d *Deps) {
			flaky.RefreshTokenRepo = d.Tokens.(*memory.RefreshTokenRepo)
			d.Tokens = flaky
		})
		s := e.register(t, "ann@example.com", "hunter22")

		flaky.mu.Lock()
		flaky.failPuts = 1
		flaky.mu.Unlock()

		_, err := e.m.Refresh(context.Background(), s.RefreshToken)
		require.ErrorIs(t, err, ErrStoreUnavailable)

		next, err := e.m.Refresh(context.Background(), s.RefreshToken)
		require.NoError(t, err)
		assert.NotEqual(t, s.RefreshToken, next.RefreshToken)

		_, err = e.m.Refresh(context.Background(), s.RefreshToken)
		require.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("event fails after consume", func(t *testing.T) {
		sink := &failOnceSink{}
		e := newTestEnv(t, RotationConsume, func(d *Deps) { d.Events = sink })
		s := e.register(t, "ann@example.com", "hunter22")

		_, err := e.m.Refresh(context.Background(), s.RefreshToken)
		require.ErrorIs(t, err, ErrStoreUnavailable)

		_, err = e.m.Refresh(context.Background(), s.RefreshToken)
		require.NoError(t, err)
	})

	t.Run("transactional store is left to the rollback", func(t *testing.T) {
		flaky := &flakyTokens{err: down}
		e := newTestEnv(t, RotationConsume, func(d *Deps) {
			flaky.RefreshTokenRepo = d.Tokens.(*memory.RefreshTokenRepo)
			d.Tokens = txTokens{flaky}
		})
		s := e.register(t, "ann@example.com", "hunter22")
		before := e.tokens.Len()

		flaky.mu.Lock()
		flaky.failPuts = 1
		flaky.mu.Unlock()

		_, err := e.m.Refresh(context.Background(), s.RefreshToken)
		require.ErrorIs(t, err, ErrStoreUnavailable)
		assert.Equal(t, before-1, e.tokens.Len())
	})
}

func TestManager_LoginCancelledLooksTheSameForAnyEmail(t *testing.T) {
	e := newTestEnv(t, RotationConsume)
	e.register(t, "ann@example.com", "hunter22")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, known := e.m.Login(ctx, "ann@example.com", "wrong-pass")
	_, unknown := e.m.Login(ctx, "nobody@example.com", "wrong-pass")
	require.Error(t, known)
	require.Error(t, unknown)
	assert.Equal(t, known.Error(), unknown.Error())
	assert.NotErrorIs(t, unknown, ErrInvalidCredentials)
}

type failingUsers struct {
	*memory.UserRepo
	err error
}

func (f failingUsers) GetByEmail(context.Context, string) (*user.User, error) { return nil, f.err }

func TestManager_StoreUnavailableIsNotAnAuthFailure(t *testing.T) {
	down := fmt.Errorf("put refresh: %w: %w", domain.ErrUnavailable, context.DeadlineExceeded)

	e := newTestEnv(t, RotationConsume)
	s := e.register(t, "ann@example.com", "hunter22")

	broken, err := NewManager(Deps{
		Users:  e.users,
		Tokens: failingTokens{RefreshTokenRepo: e.tokens, err: down},
		Hasher: authn.NewHasher(authn.HasherConfig{Cost: bcrypt.MinCost}),
		Codec:  e.codec,
	}, Config{Now: e.clock.Now})
	require.NoError(t, err)

	_, err = broken.Login(context.Background(), "ann@example.com", "hunter22")
	require.ErrorIs(t, err, ErrStoreUnavailable)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)

	_, err = broken.Refresh(context.Background(), s.RefreshToken)
	require.ErrorIs(t, err, ErrStoreUnavailable)
	assert.NotErrorIs(t, err, ErrTokenInvalid)

	require.ErrorIs(t, broken.Logout(context.Background(), s.AccessToken), ErrStoreUnavailable)

	noUsers, err := NewManager(Deps{
		Users:  failingUsers{UserRepo: e.users, err: down},
		Tokens: e.tokens,
		Hasher: authn.NewHasher(authn.HasherConfig{Cost: bcrypt.MinCost}),
		Codec:  e.codec,
	}, Config{Now: e.clock.Now})
	require.NoError(t, err)

	_, err = noUsers.Login(context.Background(), "ann@example.com", "hunter22")
	require.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestManager_InfrastructureErrorsDoNotLeak(t *testing.T) {
	e := newTestEnv(t, RotationConsume, func(d *Deps) {
		d.Tokens = failingTokens{RefreshTokenRepo: memory.NewRefreshTokenRepo(nil), err: errors.New("relation refresh_tokens: password=hunter2")}
	})

	_, err := e.m.Register(context.Background(), "ann@example.com", "hunter22", "")
	require.ErrorIs(t, err, ErrInternal)
	assert.NotContains(t, err.Error(), "hunter2")
	assert.NotContains(t, err.Error(), "relation")
}

func TestNewManager_Validation(t *testing.T) {
	e := newTestEnv(t, RotationConsume)

	_, err := NewManager(Deps{}, Config{})
	require.Error(t, err)

	_, err = NewManager(Deps{
		Users: e.users, Tokens: e.tokens,
		Hasher: authn.NewHasher(authn.HasherConfig{Cost: bcrypt.MinCost}), Codec: e.codec,
	}, Config{Rotation: "sometimes"})
	require.Error(t, err)
}
