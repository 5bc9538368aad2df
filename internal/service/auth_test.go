package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/personal-health-manager/internal/apperr"
	"github.com/iliyamo/personal-health-manager/internal/queue"
	"github.com/iliyamo/personal-health-manager/internal/testutil"
	"github.com/iliyamo/personal-health-manager/internal/utils"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

type fixture struct {
	svc    *AuthService
	store  *testutil.MemStore
	events *testutil.Publisher
	clock  *clock
	issuer *utils.TokenIssuer
}

func newFixture(t *testing.T, debug bool) *fixture {
	t.Helper()
	c := &clock{t: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
	issuer := utils.NewTokenIssuer(utils.TokenConfig{
		Secret:     []byte("service-test-secret"),
		AccessTTL:  30 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
		ResetTTL:   time.Hour,
	}).WithClock(c.now)
	store := testutil.NewMemStore()
	events := &testutil.Publisher{}
	svc, err := NewAuthService(AuthDeps{
		Users:  store,
		Tokens: store,
		Hasher: utils.NewPasswordHasher(bcrypt.MinCost),
		Issuer: issuer,
		Events: events,
		Log:    zerolog.Nop(),
		Debug:  debug,
		Now:    c.now,
	})
	require.NoError(t, err)
	return &fixture{svc: svc, store: store, events: events, clock: c, issuer: issuer}
}

func (f *fixture) register(t *testing.T, email, password string) string {
	t.Helper()
	u, err := f.svc.Register(context.Background(), RegisterInput{Email: email, Password: password})
	require.NoError(t, err)
	return u.ID
}

func requireKind(t *testing.T, err error, kind apperr.Kind) *apperr.Error {
	t.Helper()
	ae, ok := apperr.As(err)
	require.True(t, ok, "expected *apperr.Error, got %v", err)
	require.Equal(t, kind, ae.Kind, "message: %s", ae.Message)
	return ae
}

func TestRegister(t *testing.T) {
	f := newFixture(t, false)
	first := "Alice"
	u, err := f.svc.Register(context.Background(), RegisterInput{
		Email: "  alice@example.com ", Password: "Secret123!", FirstName: &first,
	})
	require.NoError(t, err)

	assert.Equal(t, "alice@example.com", u.Email)
	assert.True(t, u.IsActive)
	assert.False(t, u.IsVerified)
	assert.NotEqual(t, "Secret123!", u.PasswordHash)
	assert.Equal(t, []string{queue.EventUserRegistered}, f.events.Types())
}

func TestRegister_DuplicateEmailConflict(t *testing.T) {
	f := newFixture(t, false)
	f.register(t, "alice@example.com", "Secret123!")

	_, err := f.svc.Register(context.Background(), RegisterInput{Email: "alice@example.com", Password: "Other123!"})
	ae := requireKind(t, err, apperr.KindConflict)
	assert.Equal(t, MsgEmailTaken, ae.Message)
}

func TestRegister_EmailIsCaseSensitive(t *testing.T) {
	f := newFixture(t, false)
	f.register(t, "alice@example.com", "Secret123!")

	_, err := f.svc.Register(context.Background(), RegisterInput{Email: "Alice@example.com", Password: "Secret123!"})
	assert.NoError(t, err)
}

func TestRegister_StoreFailureIsGenericValidation(t *testing.T) {
	for _, debug := range []bool{false, true} {
		f := newFixture(t, debug)
		f.store.Fail = errors.New("connection refused")

		_, err := f.svc.Register(context.Background(), RegisterInput{Email: "a@b.c", Password: "Secret123!"})
		ae := requireKind(t, err, apperr.KindValidation)
		assert.Equal(t, "Registration failed", ae.Message)
		if debug {
			assert.Equal(t, map[string]string{"cause": "connection refused"}, ae.Details)
		} else {
			assert.Nil(t, ae.Details)
		}
	}
}

func TestLogin_IssuesDistinctTokens(t *testing.T) {
	f := newFixture(t, false)
	id := f.register(t, "alice@example.com", "Secret123!")

	pair, err := f.svc.Login(context.Background(), "alice@example.com", "Secret123!")
	require.NoError(t, err)

	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)
	assert.Equal(t, "bearer", pair.TokenType)
	assert.Equal(t, 1800, pair.ExpiresIn)

	stored := f.store.Get(id)
	require.NotNil(t, stored.LastLogin)
	assert.True(t, f.clock.t.Equal(*stored.LastLogin))
	require.NotNil(t, stored.RefreshTokenHash)
	assert.Equal(t, utils.HashToken(pair.RefreshToken), *stored.RefreshTokenHash)
}

func TestLogin_FailuresAreIndistinguishable(t *testing.T) {
	f := newFixture(t, false)
	f.register(t, "alice@example.com", "Secret123!")
	inactiveID := f.register(t, "bob@example.com", "Secret123!")
	f.store.SetActive(inactiveID, false)

	cases := map[string][2]string{
		"unknown email":  {"nobody@example.com", "Secret123!"},
		"wrong password": {"alice@example.com", "wrong-password"},
		"inactive":       {"bob@example.com", "Secret123!"},
	}
	var messages []string
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Login(context.Background(), c[0], c[1])
			ae := requireKind(t, err, apperr.KindAuthentication)
			messages = append(messages, ae.Message)
			assert.Nil(t, ae.Details)
		})
	}
	require.Len(t, messages, 3)
	assert.Equal(t, messages[0], messages[1])
	assert.Equal(t, messages[1], messages[2])
	assert.Equal(t, MsgInvalidCredentials, messages[0])
}

func TestRefresh_RotatesAndRejectsOldToken(t *testing.T) {
	f := newFixture(t, false)
	f.register(t, "alice@example.com", "Secret123!")
	first, err := f.svc.Login(context.Background(), "alice@example.com", "Secret123!")
	require.NoError(t, err)

	second, err := f.svc.Refresh(context.Background(), first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	_, err = f.svc.Refresh(context.Background(), first.RefreshToken)
	requireKind(t, err, apperr.KindAuthentication)

	_, err = f.svc.Refresh(context.Background(), second.RefreshToken)
	assert.NoError(t, err)
}

func TestRefresh_Rejections(t *testing.T) {
	f := newFixture(t, false)
	id := f.register(t, "alice@example.com", "Secret123!")
	pair, err := f.svc.Login(context.Background(), "alice@example.com", "Secret123!")
	require.NoError(t, err)

	t.Run("access token", func(t *testing.T) {
		_, err := f.svc.Refresh(context.Background(), pair.AccessToken)
		ae := requireKind(t, err, apperr.KindAuthentication)
		assert.Equal(t, MsgInvalidRefresh, ae.Message)
	})
	t.Run("garbage", func(t *testing.T) {
		_, err := f.svc.Refresh(context.Background(), "not.a.token")
		requireKind(t, err, apperr.KindAuthentication)
	})
	t.Run("inactive user", func(t *testing.T) {
		f.store.SetActive(id, false)
		defer f.store.SetActive(id, true)
		_, err := f.svc.Refresh(context.Background(), pair.RefreshToken)
		ae := requireKind(t, err, apperr.KindAuthentication)
		assert.Equal(t, MsgRefreshUser, ae.Message)
	})
	t.Run("expired", func(t *testing.T) {
		f.clock.advance(7*24*time.Hour + time.Second)
		_, err := f.svc.Refresh(context.Background(), pair.RefreshToken)
		requireKind(t, err, apperr.KindAuthentication)
	})
}

func TestLogout_InvalidatesRefreshToken(t *testing.T) {
	f := newFixture(t, false)
	id := f.register(t, "alice@example.com", "Secret123!")
	pair, err := f.svc.Login(context.Background(), "alice@example.com", "Secret123!")
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(context.Background(), f.store.Get(id)))
	assert.Nil(t, f.store.Get(id).RefreshTokenHash)

	_, err = f.svc.Refresh(context.Background(), pair.RefreshToken)
	requireKind(t, err, apperr.KindAuthentication)
}

func TestLogout_StoreError(t *testing.T) {
	f := newFixture(t, false)
	id := f.register(t, "alice@example.com", "Secret123!")
	u := f.store.Get(id)
	f.store.Fail = errors.New("deadlock")

	ae := requireKind(t, f.svc.Logout(context.Background(), u), apperr.KindValidation)
	assert.Equal(t, "Logout failed", ae.Message)
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t, false)
	id := f.register(t, "alice@example.com", "Secret123!")

	err := f.svc.ChangePassword(context.Background(), f.store.Get(id), "wrong", "NewSecret456!")
	ae := requireKind(t, err, apperr.KindAuthentication)
	assert.Equal(t, MsgWrongPassword, ae.Message)

	require.NoError(t, f.svc.ChangePassword(context.Background(), f.store.Get(id), "Secret123!", "NewSecret456!"))

	_, err = f.svc.Login(context.Background(), "alice@example.com", "Secret123!")
	requireKind(t, err, apperr.KindAuthentication)
	_, err = f.svc.Login(context.Background(), "alice@example.com", "NewSecret456!")
	assert.NoError(t, err)
	assert.Contains(t, f.events.Types(), queue.EventPasswordChanged)
}

func TestForgotPassword_SameMessageEitherWay(t *testing.T) {
	f := newFixture(t, false)
	id := f.register(t, "alice@example.com", "Secret123!")

	known, err := f.svc.ForgotPassword(context.Background(), "alice@example.com")
	require.NoError(t, err)
	unknown, err := f.svc.ForgotPassword(context.Background(), "nobody@example.com")
	require.NoError(t, err)
	assert.Equal(t, known, unknown)
	assert.Equal(t, MsgForgotPassword, known)

	u := f.store.Get(id)
	require.NotNil(t, u.PasswordResetToken)
	require.NotNil(t, u.PasswordResetExpires)
	assert.True(t, f.clock.t.Add(time.Hour).Equal(*u.PasswordResetExpires))

	events := f.events.Events()
	require.Len(t, events, 2)
	ev := events[1]
	assert.Equal(t, queue.EventPasswordResetRequested, ev.Type)
	assert.Equal(t, utils.HashToken(ev.ResetToken), *u.PasswordResetToken)
}

func TestForgotPassword_StoreWriteFailureIsSwallowed(t *testing.T) {
	f := newFixture(t, false)
	f.register(t, "alice@example.com", "Secret123!")
	failing := &failingResetStore{MemStore: f.store}
	f.svc.tokens = failing

	msg, err := f.svc.ForgotPassword(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, MsgForgotPassword, msg)
	assert.NotContains(t, f.events.Types(), queue.EventPasswordResetRequested)
}

type failingResetStore struct{ *testutil.MemStore }

func (failingResetStore) StoreReset(context.Context, string, string, time.Time) error {
	return errors.New("write failed")
}

func resetTokenFor(t *testing.T, f *fixture, email string) string {
	t.Helper()
	_, err := f.svc.ForgotPassword(context.Background(), email)
	require.NoError(t, err)
	tok, ok := f.events.LastResetToken(email)
	require.True(t, ok, "no reset token published for %s", email)
	return tok
}

func TestResetPassword_SingleUse(t *testing.T) {
	f := newFixture(t, false)
	id := f.register(t, "alice@example.com", "Secret123!")
	tok := resetTokenFor(t, f, "alice@example.com")

	require.NoError(t, f.svc.ResetPassword(context.Background(), tok, "Brand-new-1"))
	u := f.store.Get(id)
	assert.Nil(t, u.PasswordResetToken)
	assert.Nil(t, u.PasswordResetExpires)

	err := f.svc.ResetPassword(context.Background(), tok, "Another-one-2")
	ae := requireKind(t, err, apperr.KindAuthentication)
	assert.Equal(t, MsgInvalidReset, ae.Message)

	_, err = f.svc.Login(context.Background(), "alice@example.com", "Brand-new-1")
	assert.NoError(t, err)
}

func TestResetPassword_OnlyLatestTokenWorks(t *testing.T) {
	f := newFixture(t, false)
	f.register(t, "alice@example.com", "Secret123!")
	older := resetTokenFor(t, f, "alice@example.com")
	newer := resetTokenFor(t, f, "alice@example.com")

	requireKind(t, f.svc.ResetPassword(context.Background(), older, "Brand-new-1"), apperr.KindAuthentication)
	assert.NoError(t, f.svc.ResetPassword(context.Background(), newer, "Brand-new-1"))
}

func TestResetPassword_Rejections(t *testing.T) {
	f := newFixture(t, false)
	f.register(t, "alice@example.com", "Secret123!")
	pair, err := f.svc.Login(context.Background(), "alice@example.com", "Secret123!")
	require.NoError(t, err)
	tok := resetTokenFor(t, f, "alice@example.com")

	requireKind(t, f.svc.ResetPassword(context.Background(), pair.AccessToken, "Brand-new-1"), apperr.KindAuthentication)

	unsolicited, err := f.issuer.IssueReset("alice@example.com")
	require.NoError(t, err)
	requireKind(t, f.svc.ResetPassword(context.Background(), unsolicited.Token, "Brand-new-1"), apperr.KindAuthentication)

	f.clock.advance(time.Hour)
	requireKind(t, f.svc.ResetPassword(context.Background(), tok, "Brand-new-1"), apperr.KindAuthentication)
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t, false)
	id := f.register(t, "alice@example.com", "Secret123!")
	pair, err := f.svc.Login(context.Background(), "alice@example.com", "Secret123!")
	require.NoError(t, err)

	u, err := f.svc.Authenticate(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, id, u.ID)

	_, err = f.svc.Authenticate(context.Background(), pair.RefreshToken)
	requireKind(t, err, apperr.KindAuthentication)

	ghost, err := f.issuer.IssueAccess("u-does-not-exist")
	require.NoError(t, err)
	_, err = f.svc.Authenticate(context.Background(), ghost.Token)
	requireKind(t, err, apperr.KindAuthentication)

	f.store.SetActive(id, false)
	_, err = f.svc.Authenticate(context.Background(), pair.AccessToken)
	ae := requireKind(t, err, apperr.KindAuthorization)
	assert.Equal(t, MsgInactiveAccount, ae.Message)
	f.store.SetActive(id, true)

	f.clock.advance(30 * time.Minute)
	_, err = f.svc.Authenticate(context.Background(), pair.AccessToken)
	requireKind(t, err, apperr.KindAuthentication)
}

func TestPublishFailureDoesNotFailRequest(t *testing.T) {
	f := newFixture(t, false)
	f.events.Fail = errors.New("broker down")

	_, err := f.svc.Register(context.Background(), RegisterInput{Email: "alice@example.com", Password: "Secret123!"})
	assert.NoError(t, err)
}
