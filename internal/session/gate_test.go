package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/roomcrew/roomnoti/internal/backend"
	"github.com/roomcrew/roomnoti/internal/credential"
	"github.com/roomcrew/roomnoti/internal/model"
)

type fakeAPI struct {
	mu     sync.Mutex
	token  string
	member *model.Member
	err    error
	calls  int
}

func (f *fakeAPI) Me(ctx context.Context) (*model.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	m := *f.member
	return &m, nil
}

func (f *fakeAPI) SetToken(token string) {
	f.mu.Lock()
	f.token = token
	f.mu.Unlock()
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("server-secret"))
	require.NoError(t, err)
	return token
}

func newGate(api *fakeAPI) (*Gate, *credential.Memory) {
	creds := credential.NewMemory()
	return NewGate(creds, api, zap.NewNop()), creds
}

func TestParseClaims(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)

	t.Run("memberId claim", func(t *testing.T) {
		claims, err := ParseClaims(signToken(t, jwt.MapClaims{"memberId": 42, "exp": exp.Unix()}))
		require.NoError(t, err)
		assert.Equal(t, int64(42), claims.MemberID)
		assert.True(t, claims.ExpiresAt.Equal(exp))
	})

	t.Run("numeric sub", func(t *testing.T) {
		claims, err := ParseClaims(signToken(t, jwt.MapClaims{"sub": "17"}))
		require.NoError(t, err)
		assert.Equal(t, int64(17), claims.MemberID)
		assert.True(t, claims.ExpiresAt.IsZero())
		assert.False(t, claims.Expired(time.Now()))
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := ParseClaims("not-a-jwt")
		assert.Error(t, err)
	})
}

func TestCheckWithoutToken(t *testing.T) {
	api := &fakeAPI{member: &model.Member{ID: 1}}
	gate, _ := newGate(api)

	err := gate.Check(context.Background())
	assert.ErrorIs(t, err, ErrNoToken)
	assert.False(t, gate.Authenticated())
	assert.Zero(t, api.calls)
}

func TestLoginAuthenticatesAndPublishes(t *testing.T) {
	api := &fakeAPI{member: &model.Member{ID: 42, Nickname: "escaper"}}
	gate, creds := newGate(api)
	changes, unsubscribe := gate.Subscribe()
	defer unsubscribe()

	token := signToken(t, jwt.MapClaims{"memberId": 42, "exp": time.Now().Add(time.Hour).Unix()})
	require.NoError(t, gate.Login(context.Background(), "Bearer "+token))

	assert.True(t, gate.Authenticated())
	assert.Equal(t, "escaper", gate.Member().Nickname)
	assert.Equal(t, token, api.token)

	stored, err := creds.Get(credential.AccessTokenKey)
	require.NoError(t, err)
	assert.Equal(t, token, stored)

	select {
	case change := <-changes:
		assert.True(t, change.Authenticated)
		assert.Equal(t, int64(42), change.Member.ID)
	default:
		t.Fatal("expected a session change")
	}
}

func TestCheckPublishesOnlyTransitions(t *testing.T) {
	api := &fakeAPI{member: &model.Member{ID: 42}}
	gate, creds := newGate(api)
	require.NoError(t, creds.Set(credential.AccessTokenKey, signToken(t, jwt.MapClaims{"sub": "42"})))

	changes, unsubscribe := gate.Subscribe()
	defer unsubscribe()

	require.NoError(t, gate.Check(context.Background()))
	require.NoError(t, gate.Check(context.Background()))

	assert.Len(t, changes, 1)
}

func TestCheckExpiredTokenIsDeleted(t *testing.T) {
	api := &fakeAPI{member: &model.Member{ID: 42}}
	gate, creds := newGate(api)
	require.NoError(t, creds.Set(credential.AccessTokenKey,
		signToken(t, jwt.MapClaims{"sub": "42", "exp": time.Now().Add(-time.Minute).Unix()})))

	err := gate.Check(context.Background())
	assert.ErrorIs(t, err, ErrExpired)
	assert.False(t, gate.Authenticated())
	assert.Zero(t, api.calls)

	_, err = creds.Get(credential.AccessTokenKey)
	assert.ErrorIs(t, err, credential.ErrNotFound)
}

func TestCheckRejectedTokenIsDeleted(t *testing.T) {
	api := &fakeAPI{err: &backend.AuthError{StatusCode: 401, Message: "expired"}}
	gate, creds := newGate(api)
	require.NoError(t, creds.Set(credential.AccessTokenKey, "opaque-token"))

	err := gate.Check(context.Background())
	assert.True(t, backend.IsAuthError(err))
	assert.False(t, gate.Authenticated())
	assert.Empty(t, api.token)

	_, err = creds.Get(credential.AccessTokenKey)
	assert.ErrorIs(t, err, credential.ErrNotFound)
}

func TestCheckTransportFailureKeepsToken(t *testing.T) {
	api := &fakeAPI{err: errors.New("connection refused")}
	gate, creds := newGate(api)
	require.NoError(t, creds.Set(credential.AccessTokenKey, "opaque-token"))

	err := gate.Check(context.Background())
	require.Error(t, err)
	assert.False(t, gate.Authenticated())

	stored, err := creds.Get(credential.AccessTokenKey)
	require.NoError(t, err)
	assert.Equal(t, "opaque-token", stored)
}

func TestLogout(t *testing.T) {
	api := &fakeAPI{member: &model.Member{ID: 42}}
	gate, creds := newGate(api)
	require.NoError(t, gate.Login(context.Background(), "opaque-token"))

	changes, unsubscribe := gate.Subscribe()
	defer unsubscribe()

	require.NoError(t, gate.Logout())
	assert.False(t, gate.Authenticated())
	assert.Equal(t, model.Member{}, gate.Member())
	assert.Empty(t, api.token)

	_, err := creds.Get(credential.AccessTokenKey)
	assert.ErrorIs(t, err, credential.ErrNotFound)

	change := <-changes
	assert.False(t, change.Authenticated)
}

func TestLoginRejectsEmptyToken(t *testing.T) {
	gate, _ := newGate(&fakeAPI{})
	assert.ErrorIs(t, gate.Login(context.Background(), "  "), ErrNoToken)
}
