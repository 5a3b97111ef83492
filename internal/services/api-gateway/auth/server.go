package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/NordCoder/Studymate/internal/domain/user"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 16

// SessionManager is what the HTTP transport needs from Manager.
type SessionManager interface {
	Authenticator
	Register(ctx context.Context, email, password, name string) (*Session, error)
	Login(ctx context.Context, email, password string) (*Session, error)
	Refresh(ctx context.Context, refreshSecret string) (*Session, error)
	Logout(ctx context.Context, accessToken string) error
	Profile(ctx context.Context, userID string) (user.Profile, error)
}

type Server struct {
	log        *zap.Logger
	m          SessionManager
	retryAfter int
}

type Opts struct {
	Logger *zap.Logger
	// RetryAfter is sent with 503 answers, in seconds.
	RetryAfter int
}

func NewServer(m SessionManager, o Opts) *Server {
	log := o.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if o.RetryAfter <= 0 {
		o.RetryAfter = 1
	}
	return &Server{log: log, m: m, retryAfter: o.RetryAfter}
}

// Register mounts the auth routes on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/auth/sign-up", s.SignUp)
	mux.HandleFunc("POST /v1/auth/sign-in", s.SignIn)
	mux.HandleFunc("POST /v1/auth/refresh", s.Refresh)
	mux.HandleFunc("POST /v1/auth/logout", s.Logout)
	mux.Handle("GET /v1/auth/me", Middleware(s.m)(http.HandlerFunc(s.Me)))
}

type signUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *Server) SignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if !s.decode(w, r, &req) {
		return
	}
	sess, err := s.m.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.log.Info("auth.signup", zap.String("email", sess.User.Email))
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if !s.decode(w, r, &req) {
		return
	}
	sess, err := s.m.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.log.Info("auth.signin", zap.String("email", sess.User.Email))
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !s.decode(w, r, &req) {
		return
	}
	sess, err := s.m.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) Logout(w http.ResponseWriter, r *http.Request) {
	token, ok := parseBearer(r.Header.Get("Authorization"))
	if !ok {
		s.fail(w, ErrTokenInvalid)
		return
	}
	if err := s.m.Logout(r.Context(), token); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromCtx(r.Context())
	if !ok {
		s.fail(w, ErrTokenInvalid)
		return
	}
	p, err := s.m.Profile(r.Context(), id.UserID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Message: "malformed request body"})
		return false
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Message: "malformed request body"})
		return false
	}
	return true
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrStoreUnavailable) {
		w.Header().Set("Retry-After", strconv.Itoa(s.retryAfter))
	}
	writeError(w, err)
}

// writeError maps a Manager failure to a status. Both authentication
// failures share one message so responses reveal nothing about which check
// failed.
func writeError(w http.ResponseWriter, err error) {
	status, body := http.StatusInternalServerError, errorResponse{Error: "internal", Message: "internal error"}
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		status, body = http.StatusUnauthorized, errorResponse{Error: "unauthorized", Message: ErrInvalidCredentials.Error()}
	case errors.Is(err, ErrTokenExpired):
		status, body = http.StatusUnauthorized, errorResponse{Error: "token_expired", Message: "invalid or expired token"}
	case errors.Is(err, ErrTokenInvalid):
		status, body = http.StatusUnauthorized, errorResponse{Error: "unauthorized", Message: "invalid or expired token"}
	case errors.Is(err, ErrStoreUnavailable):
		status, body = http.StatusServiceUnavailable, errorResponse{Error: "unavailable", Message: "temporarily unavailable, retry later"}
	case errors.Is(err, ErrNotFound):
		status, body = http.StatusNotFound, errorResponse{Error: "not_found", Message: "user not found"}
	case errors.Is(err, ErrEmailExists):
		status, body = http.StatusConflict, errorResponse{Error: "email_exists", Message: ErrEmailExists.Error()}
	case errors.Is(err, ErrWeakPassword), errors.Is(err, ErrInvalidEmail):
		status, body = http.StatusBadRequest, errorResponse{Error: "bad_request", Message: rootMessage(err)}
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="studymate"`)
	}
	writeJSON(w, status, body)
}

func rootMessage(err error) string {
	if errors.Is(err, ErrWeakPassword) {
		return ErrWeakPassword.Error()
	}
	return ErrInvalidEmail.Error()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

var _ SessionManager = (*Manager)(nil)
