package utils

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Unix(1_760_000_000, 0).UTC()

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newTestIssuer(clock *fakeClock) *TokenIssuer {
	return NewTokenIssuer(TokenConfig{
		Secret:     []byte("test-secret"),
		AccessTTL:  30 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
		ResetTTL:   time.Hour,
	}).WithClock(clock.Now)
}

func TestIssueAccess_VerifyUntilExpiry(t *testing.T) {
	clock := &fakeClock{now: t0}
	iss := newTestIssuer(clock)

	tok, err := iss.IssueAccess("user-1")
	require.NoError(t, err)
	assert.Equal(t, t0, tok.IssuedAt)
	assert.Equal(t, t0.Add(30*time.Minute), tok.ExpiresAt)
	assert.NotEmpty(t, tok.ID)

	claims, err := iss.Verify(tok.Token, KindAccess)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, KindAccess, claims.Kind)

	clock.now = t0.Add(30*time.Minute - time.Second)
	_, err = iss.Verify(tok.Token, KindAccess)
	assert.NoError(t, err)

	clock.now = t0.Add(30 * time.Minute)
	_, err = iss.Verify(tok.Token, KindAccess)
	assert.ErrorIs(t, err, ErrExpiredToken)

	clock.now = t0.Add(2 * time.Hour)
	_, err = iss.Verify(tok.Token, KindAccess)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestIssue_ArbitraryTTL(t *testing.T) {
	for _, ttl := range []time.Duration{time.Second, time.Minute, 90 * time.Minute, 48 * time.Hour} {
		clock := &fakeClock{now: t0}
		iss := newTestIssuer(clock)
		tok, err := iss.Issue(KindAccess, "s", ttl)
		require.NoError(t, err)

		_, err = iss.Verify(tok.Token, KindAccess)
		require.NoError(t, err, ttl.String())

		clock.now = t0.Add(ttl)
		_, err = iss.Verify(tok.Token, KindAccess)
		assert.ErrorIs(t, err, ErrExpiredToken, ttl.String())
	}
}

func TestVerify_KindSeparation(t *testing.T) {
	iss := newTestIssuer(&fakeClock{now: t0})

	access, err := iss.IssueAccess("user-1")
	require.NoError(t, err)
	refresh, err := iss.IssueRefresh("user-1")
	require.NoError(t, err)
	reset, err := iss.IssueReset("alice@example.com")
	require.NoError(t, err)

	cases := []struct {
		name  string
		token string
		kind  TokenKind
		ok    bool
	}{
		{"access as access", access.Token, KindAccess, true},
		{"access as refresh", access.Token, KindRefresh, false},
		{"access as reset", access.Token, KindReset, false},
		{"refresh as refresh", refresh.Token, KindRefresh, true},
		{"refresh as access", refresh.Token, KindAccess, false},
		{"refresh as reset", refresh.Token, KindReset, false},
		{"reset as reset", reset.Token, KindReset, true},
		{"reset as access", reset.Token, KindAccess, false},
		{"reset as refresh", reset.Token, KindRefresh, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := iss.Verify(tc.token, tc.kind)
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestIssue_DistinctTokens(t *testing.T) {
	iss := newTestIssuer(&fakeClock{now: t0})
	a, err := iss.IssueAccess("user-1")
	require.NoError(t, err)
	b, err := iss.IssueAccess("user-1")
	require.NoError(t, err)
	r, err := iss.IssueRefresh("user-1")
	require.NoError(t, err)

	assert.NotEqual(t, a.Token, b.Token)
	assert.NotEqual(t, a.Token, r.Token)
}

func TestVerify_WrongSecret(t *testing.T) {
	clock := &fakeClock{now: t0}
	tok, err := newTestIssuer(clock).IssueAccess("user-1")
	require.NoError(t, err)

	other := NewTokenIssuer(TokenConfig{Secret: []byte("other-secret")}).WithClock(clock.Now)
	_, err = other.Verify(tok.Token, KindAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_Malformed(t *testing.T) {
	iss := newTestIssuer(&fakeClock{now: t0})
	for _, raw := range []string{"", "not.a.jwt", "abc", strings.Repeat("a", 300)} {
		_, err := iss.Verify(raw, KindAccess)
		assert.ErrorIs(t, err, ErrInvalidToken, raw)
	}
}

func TestVerify_TamperedPayload(t *testing.T) {
	iss := newTestIssuer(&fakeClock{now: t0})
	tok, err := iss.IssueRefresh("user-1")
	require.NoError(t, err)

	access, err := iss.IssueAccess("user-1")
	require.NoError(t, err)

	// splice the access payload onto the refresh signature
	rp := strings.Split(tok.Token, ".")
	ap := strings.Split(access.Token, ".")
	forged := strings.Join([]string{rp[0], ap[1], rp[2]}, ".")

	_, err = iss.Verify(forged, KindAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_RejectsOtherAlgorithms(t *testing.T) {
	iss := newTestIssuer(&fakeClock{now: t0})
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(t0.Add(time.Hour)),
		},
		Kind: KindAccess,
	}
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = iss.Verify(none, KindAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = iss.Verify(hs512, KindAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_MissingExpiryOrSubject(t *testing.T) {
	iss := newTestIssuer(&fakeClock{now: t0})

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
		Kind:             KindAccess,
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = iss.Verify(noExp, KindAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)

	noSub, err := iss.Issue(KindAccess, "", time.Hour)
	require.NoError(t, err)
	_, err = iss.Verify(noSub.Token, KindAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestHashToken(t *testing.T) {
	a := HashToken("raw-token")
	assert.Len(t, a, 64)
	assert.Equal(t, a, HashToken("raw-token"))
	assert.NotEqual(t, a, HashToken("raw-token2"))
}
