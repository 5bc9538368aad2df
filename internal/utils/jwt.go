package utils // package utils provides helpers for token creation, verification and hashing

import (
	"crypto/sha256" // SHA-256 digests for tokens kept in the database
	"encoding/hex"  // hex encoding of digests
	"errors"        // sentinel errors for verification failures
	"time"          // expirations and the injectable clock

	"github.com/golang-jwt/jwt/v5" // JWT library for creating and parsing signed tokens
	"github.com/google/uuid"       // unique token ids (jti)
)

// TokenKind distinguishes what a token may be used for.  A verifier always
// names the kind it expects; tokens of any other kind are rejected.
type TokenKind string

const (
	KindAccess  TokenKind = "access"
	KindRefresh TokenKind = "refresh"
	KindReset   TokenKind = "reset"
)

var (
	// ErrInvalidToken covers bad signatures, malformed tokens, unexpected
	// algorithms and kind mismatches.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when the current time is at or past exp.
	ErrExpiredToken = errors.New("token expired")
)

// Claims is the fixed claim set carried by every token.  Subject holds the
// user ID for access/refresh tokens and the email address for reset tokens.
type Claims struct {
	jwt.RegisteredClaims
	Kind TokenKind `json:"type"`
}

// IssuedToken is a signed token along with the metadata the caller needs
// to persist or report it.
type IssuedToken struct {
	Token     string    // the serialized JWT string
	ID        string    // jti claim
	IssuedAt  time.Time // UTC issue time
	ExpiresAt time.Time // UTC expiration time
}

// TokenConfig carries the signing secret and the lifetime of each kind.
type TokenConfig struct {
	Secret     []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	ResetTTL   time.Duration
}

// TokenIssuer signs and verifies HS256 tokens for a single secret.  It holds
// no mutable state and is safe for concurrent use.
type TokenIssuer struct {
	cfg TokenConfig
	now func() time.Time
}

// NewTokenIssuer builds an issuer from cfg using the wall clock.
func NewTokenIssuer(cfg TokenConfig) *TokenIssuer {
	return &TokenIssuer{cfg: cfg, now: time.Now}
}

// WithClock returns a copy of the issuer that reads time from now.
func (i *TokenIssuer) WithClock(now func() time.Time) *TokenIssuer {
	cp := *i
	cp.now = now
	return &cp
}

// AccessTTL reports the configured access token lifetime.
func (i *TokenIssuer) AccessTTL() time.Duration { return i.cfg.AccessTTL }

// IssueAccess signs a short lived access token for userID.
func (i *TokenIssuer) IssueAccess(userID string) (IssuedToken, error) {
	return i.Issue(KindAccess, userID, i.cfg.AccessTTL)
}

// IssueRefresh signs a refresh token for userID.
func (i *TokenIssuer) IssueRefresh(userID string) (IssuedToken, error) {
	return i.Issue(KindRefresh, userID, i.cfg.RefreshTTL)
}

// IssueReset signs a password reset token bound to email.
func (i *TokenIssuer) IssueReset(email string) (IssuedToken, error) {
	return i.Issue(KindReset, email, i.cfg.ResetTTL)
}

// Issue builds and signs a token of the given kind.  exp = iat + ttl, both
// at second precision.
func (i *TokenIssuer) Issue(kind TokenKind, subject string, ttl time.Duration) (IssuedToken, error) {
	now := i.now().UTC()
	iat := jwt.NewNumericDate(now)
	exp := jwt.NewNumericDate(now.Add(ttl))
	id := uuid.NewString()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  iat,
			ExpiresAt: exp,
			ID:        id,
		},
		Kind: kind,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.cfg.Secret)
	if err != nil {
		return IssuedToken{}, err
	}
	return IssuedToken{Token: signed, ID: id, IssuedAt: iat.Time, ExpiresAt: exp.Time}, nil
}

// Verify parses raw, checks the signature, algorithm and expiry against the
// issuer clock, and requires the embedded kind to equal expected.
func (i *TokenIssuer) Verify(raw string, expected TokenKind) (*Claims, error) {
	claims := &Claims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	tok, err := parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return i.cfg.Secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if !tok.Valid || claims.Kind != expected || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// HashToken returns the SHA-256 hash of a raw token as a hex string.  Only
// digests are stored so a leaked users table cannot be replayed as sessions.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
