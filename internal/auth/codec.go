package auth

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	domainauth "github.com/NordCoder/Studymate/internal/domain/auth"
	"github.com/NordCoder/Studymate/internal/domain/user"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	ClaimsVersion = 1

	refreshNonceBytes = 32
	maxTokenLen       = 4096
	minSecretLen      = 32
)

type TokenType string

const (
	TypeAccess  TokenType = "access"
	TypeRefresh TokenType = "refresh"
)

var (
	ErrTokenInvalid = errors.New("token invalid")
	ErrTokenExpired = errors.New("token expired")
	ErrWeakSecret   = fmt.Errorf("signing secret must be at least %d bytes", minSecretLen)
)

// Claims is the versioned payload of both token kinds. Access tokens carry a
// subject and role; refresh tokens carry only a random nonce in jti.
type Claims struct {
	jwt.RegisteredClaims
	Role user.Role `json:"role,omitempty"`
	Type TokenType `json:"typ"`
	Ver  int       `json:"ver"`
}

// Validate is invoked by the jwt validator after the registered claims.
func (c Claims) Validate() error {
	if c.Ver != ClaimsVersion {
		return fmt.Errorf("unsupported claims version %d", c.Ver)
	}
	if c.ID == "" {
		return errors.New("missing jti")
	}
	if c.IssuedAt == nil {
		return errors.New("missing iat")
	}
	switch c.Type {
	case TypeAccess:
		if _, err := uuid.Parse(c.Subject); err != nil {
			return fmt.Errorf("bad subject: %w", err)
		}
		if !c.Role.Valid() {
			return fmt.Errorf("unknown role %q", c.Role)
		}
	case TypeRefresh:
		if c.Subject != "" || c.Role != "" {
			return errors.New("refresh token must not carry identity")
		}
	default:
		return fmt.Errorf("unknown token type %q", c.Type)
	}
	return nil
}

type CodecConfig struct {
	Secret []byte
	Issuer string
	Now    func() time.Time
}

// Codec signs and verifies tokens with HMAC-SHA256. The key is fixed at
// construction; verification never touches storage.
type Codec struct {
	secret []byte
	issuer string
	now    func() time.Time
	parser *jwt.Parser
}

func NewCodec(cfg CodecConfig) (*Codec, error) {
	if len(cfg.Secret) < minSecretLen {
		return nil, ErrWeakSecret
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "studymate"
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)

	return &Codec{
		secret: secret,
		issuer: cfg.Issuer,
		now:    cfg.Now,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithTimeFunc(cfg.Now),
		),
	}, nil
}

func (c *Codec) IssueAccessToken(userID string, role user.Role, expiresIn time.Duration) (string, time.Time, error) {
	now := c.now()
	exp := now.Add(expiresIn).Truncate(jwt.TimePrecision)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   userID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Role: role,
		Type: TypeAccess,
		Ver:  ClaimsVersion,
	}
	signed, err := c.sign(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// IssueRefreshSecret returns a bearer capability: a signed envelope around a
// 256-bit random nonce, unrelated to the owner's identity.
func (c *Codec) IssueRefreshSecret(expiresIn time.Duration) (string, time.Time, error) {
	nonce, err := RandomString(refreshNonceBytes)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("refresh nonce: %w", err)
	}
	now := c.now()
	exp := now.Add(expiresIn).Truncate(jwt.TimePrecision)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			ID:        nonce,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Type: TypeRefresh,
		Ver:  ClaimsVersion,
	}
	signed, err := c.sign(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func (c *Codec) VerifyAccessToken(raw string) (domainauth.Identity, error) {
	claims, err := c.verify(raw, TypeAccess)
	if err != nil {
		return domainauth.Identity{}, err
	}
	return domainauth.Identity{UserID: claims.Subject, Role: claims.Role}, nil
}

func (c *Codec) VerifyRefreshSecret(raw string) error {
	_, err := c.verify(raw, TypeRefresh)
	return err
}

func (c *Codec) sign(claims Claims) (string, error) {
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", claims.Type, err)
	}
	return s, nil
}

func (c *Codec) key(*jwt.Token) (any, error) { return c.secret, nil }

// verify reports ErrTokenExpired only for a token that is otherwise genuine
// and well-formed; everything else is ErrTokenInvalid.
func (c *Codec) verify(raw string, want TokenType) (*Claims, error) {
	if raw == "" || len(raw) > maxTokenLen {
		return nil, ErrTokenInvalid
	}

	claims := &Claims{}
	expired := false
	_, err := c.parser.ParseWithClaims(raw, claims, c.key)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired) && !errors.Is(err, jwt.ErrTokenSignatureInvalid):
		expired = true
	default:
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	if err := c.decodeStrict(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if expired {
		if err := c.checkUnexpired(claims); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
		}
	}
	if claims.Type != want {
		return nil, fmt.Errorf("%w: want %s token, got %q", ErrTokenInvalid, want, claims.Type)
	}
	if err := claims.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if expired {
		return nil, ErrTokenExpired
	}
	return claims, nil
}

// checkUnexpired repeats the registered-claim checks for a token jwt already
// rejected as expired, since jwt reports every failed claim at once.
func (c *Codec) checkUnexpired(claims *Claims) error {
	now := c.now()
	if claims.Issuer != c.issuer {
		return fmt.Errorf("unexpected issuer %q", claims.Issuer)
	}
	if claims.IssuedAt == nil || claims.IssuedAt.After(now) {
		return errors.New("issued in the future")
	}
	if claims.NotBefore != nil && claims.NotBefore.After(now) {
		return errors.New("not valid yet")
	}
	return nil
}

// decodeStrict rejects payloads carrying fields outside Claims.
func (c *Codec) decodeStrict(raw string) error {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return errors.New("token is not three segments")
	}
	payload, err := c.parser.DecodeSegment(parts[1])
	if err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	var strict Claims
	if err := dec.Decode(&strict); err != nil {
		return fmt.Errorf("payload: %w", err)
	}
	return nil
}
