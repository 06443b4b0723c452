package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Kind distinguishes access tokens from refresh tokens. It travels in the
// token_type claim.
type Kind string

const (
	// KindAccess marks short-lived tokens presented on protected routes.
	KindAccess Kind = "access"
	// KindRefresh marks long-lived tokens exchanged for a new pair.
	KindRefresh Kind = "refresh"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return k == KindAccess || k == KindRefresh
}

// Config defines the signing material and validation knobs of a Manager.
type Config struct {
	// Secret is the HMAC-SHA256 key. It is required and read-only after NewManager.
	Secret []byte
	// Issuer, when set, is written to iss and required on verification.
	Issuer string
	// Leeway widens the expiry check. Zero means exp <= now is expired.
	Leeway time.Duration
	// Now overrides the clock; nil uses time.Now.
	Now func() time.Time
}

// Manager issues and verifies HS256 tokens. It performs no I/O and is safe
// for concurrent use.
type Manager struct {
	secret []byte
	issuer string
	leeway time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

// Claims is the verified payload of a token.
//
// Subject carries the identity email and ExpiresAt the expiry in seconds since
// the epoch. ID (jti) is random per token so two tokens minted for the same
// subject in the same second still differ.
type Claims struct {
	Kind Kind `json:"token_type"`
	jwt.RegisteredClaims
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("hs256 requires a signing secret")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}

	m := &Manager{
		secret: append([]byte(nil), cfg.Secret...),
		issuer: cfg.Issuer,
		leeway: cfg.Leeway,
		now:    cfg.Now,
	}
	if m.now == nil {
		m.now = time.Now
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(m.now),
	}
	if m.leeway > 0 {
		options = append(options, jwt.WithLeeway(m.leeway))
	}
	if m.issuer != "" {
		options = append(options, jwt.WithIssuer(m.issuer))
	}
	m.parser = jwt.NewParser(options...)

	return m, nil
}

// Issue signs a token for subject that expires ttl from now.
//
// A non-positive ttl still yields a token; it is already expired when returned.
func (m *Manager) Issue(subject string, ttl time.Duration, kind Kind) (string, error) {
	if subject == "" {
		return "", errors.New("token subject is empty")
	}
	if !kind.Valid() {
		return "", fmt.Errorf("unknown token kind %q", kind)
	}

	now := m.now()
	claims := Claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
			Issuer:    m.issuer,
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Verify checks the signature and expiry of token and returns its claims.
//
// Every failure is a *TokenError; use errors.Is with ErrMalformed,
// ErrSignatureInvalid or ErrExpired to classify it.
func (m *Manager) Verify(token string) (*Claims, error) {
	parsed, err := m.parser.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, classify(err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, &TokenError{Reason: ReasonMalformed, Err: jwt.ErrTokenInvalidClaims}
	}
	if claims.Subject == "" {
		return nil, &TokenError{Reason: ReasonMalformed, Err: errors.New("missing subject")}
	}
	if !claims.Kind.Valid() {
		return nil, &TokenError{Reason: ReasonMalformed, Err: fmt.Errorf("unknown token kind %q", claims.Kind)}
	}

	return claims, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return &TokenError{Reason: ReasonSignatureInvalid, Err: err}
	case errors.Is(err, jwt.ErrTokenExpired):
		return &TokenError{Reason: ReasonExpired, Err: err}
	default:
		return &TokenError{Reason: ReasonMalformed, Err: err}
	}
}
