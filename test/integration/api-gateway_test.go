//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sessionResp struct {
	User struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Role  string `json:"role"`
	} `json:"user"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

type sessionEvent struct {
	Kind   string `json:"kind"`
	UserID string `json:"user_id"`
}

func decodeSession(t *testing.T, b []byte) sessionResp {
	t.Helper()
	var s sessionResp
	require.NoError(t, json.Unmarshal(b, &s), string(b))
	return s
}

func TestSessionLifecycle(t *testing.T) {
	cfg := LoadCfg()
	WaitHealthz(t, cfg.AGBaseURL+"/healthz", 30*time.Second)
	db := DBOpen(t, cfg.DBDSN)

	email := "it-" + RandHex(4) + "@example.com"
	pass := "supersecret"

	su := decodeSession(t, HTTPDoJSON(t, http.MethodPost, cfg.AGBaseURL+"/v1/auth/sign-up", "",
		map[string]string{"email": email, "password": pass, "name": "IT"}, http.StatusOK))
	assert.Equal(t, email, su.User.Email)
	assert.Equal(t, "student", su.User.Role)

	si := decodeSession(t, HTTPDoJSON(t, http.MethodPost, cfg.AGBaseURL+"/v1/auth/sign-in", "",
		map[string]string{"email": strings.ToUpper(email), "password": pass}, http.StatusOK))
	require.NotEmpty(t, si.AccessToken)
	require.NotEmpty(t, si.RefreshToken)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	t.Run("only digests are stored", func(t *testing.T) {
		var pwHash string
		require.NoError(t, db.QueryRowContext(ctx, `select password_hash from users where id = $1`, su.User.ID).Scan(&pwHash))
		assert.NotEqual(t, pass, pwHash)
		assert.True(t, strings.HasPrefix(pwHash, "$2"))

		rows, err := db.QueryContext(ctx, `select token_hash from refresh_tokens where user_id = $1`, su.User.ID)
		require.NoError(t, err)
		defer rows.Close()
		n := 0
		for rows.Next() {
			var h string
			require.NoError(t, rows.Scan(&h))
			assert.NotEqual(t, si.RefreshToken, h)
			assert.NotContains(t, si.RefreshToken, h)
			n++
		}
		require.NoError(t, rows.Err())
		assert.Equal(t, 2, n)
	})

	HTTPDoJSON(t, http.MethodGet, cfg.AGBaseURL+"/v1/auth/me", si.AccessToken, nil, http.StatusOK)

	rf := decodeSession(t, HTTPDoJSON(t, http.MethodPost, cfg.AGBaseURL+"/v1/auth/refresh", "",
		map[string]string{"refreshToken": si.RefreshToken}, http.StatusOK))
	assert.NotEqual(t, si.RefreshToken, rf.RefreshToken)

	HTTPDoJSON(t, http.MethodPost, cfg.AGBaseURL+"/v1/auth/logout", rf.AccessToken, nil, http.StatusOK)

	var left int
	require.NoError(t, db.QueryRowContext(ctx, `select count(*) from refresh_tokens where user_id = $1`, su.User.ID).Scan(&left))
	assert.Zero(t, left)

	HTTPDoJSON(t, http.MethodPost, cfg.AGBaseURL+"/v1/auth/refresh", "",
		map[string]string{"refreshToken": rf.RefreshToken}, http.StatusUnauthorized)

	t.Run("logout event reaches kafka", func(t *testing.T) {
		ev, ok := ReadJSONUntil(t, cfg.KafkaBootstrap, cfg.SessionsTopic, 30*time.Second,
			func(key []byte, ev sessionEvent) bool {
				return string(key) == su.User.ID && ev.Kind == "session.logout"
			})
		if !ok {
			t.Skip("no session-worker relaying the outbox")
		}
		assert.Equal(t, su.User.ID, ev.UserID)
	})
}

func TestSignIn_NoEnumeration(t *testing.T) {
	cfg := LoadCfg()
	WaitHealthz(t, cfg.AGBaseURL+"/healthz", 30*time.Second)

	email := "it-" + RandHex(4) + "@example.com"
	HTTPDoJSON(t, http.MethodPost, cfg.AGBaseURL+"/v1/auth/sign-up", "",
		map[string]string{"email": email, "password": "supersecret"}, http.StatusOK)

	wrongPass := HTTPDoJSON(t, http.MethodPost, cfg.AGBaseURL+"/v1/auth/sign-in", "",
		map[string]string{"email": email, "password": "not-it-at-all"}, http.StatusUnauthorized)
	noUser := HTTPDoJSON(t, http.MethodPost, cfg.AGBaseURL+"/v1/auth/sign-in", "",
		map[string]string{"email": "nobody-" + email, "password": "supersecret"}, http.StatusUnauthorized)
	assert.JSONEq(t, string(wrongPass), string(noUser))
}
