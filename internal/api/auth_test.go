package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/pigeon-chat/pigeon/internal/config"
	"github.com/pigeon-chat/pigeon/internal/testutil"
	"github.com/pigeon-chat/pigeon/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teris-io/shortid"
)

func newTestApp(t *testing.T, opts ...func(*PigeonApp)) *PigeonApp {
	cfg := &config.Config{
		ServerAddr:     "localhost:8000",
		ServerName:     "test-node",
		SigningKey:     []byte("test-signing-key"),
		AllowedOrigins: []string{"http://localhost:3000"},
	}

	app := &PigeonApp{
		log:             testutil.TestLogger(t),
		signingKey:      cfg.SigningKey,
		allowedOrigins:  cfg.AllowedOrigins,
		generateShortId: shortid.Generate,
	}

	for _, opt := range opts {
		opt(app)
	}
	return app
}

func TestPasswordHashing(t *testing.T) {
	hash, err := hashPassword("hunter2")
	require.NoError(t, err, "expected hashing to succeed")
	assert.NotEqual(t, "hunter2", hash, "expected the hash to differ from the password")

	assert.True(t, verifyPassword(hash, "hunter2"), "expected the correct password to verify")
	assert.False(t, verifyPassword(hash, "wrong"), "expected a wrong password to fail")
}

func TestJwtRoundTrip(t *testing.T) {
	app := newTestApp(t)

	token, err := app.createJwtForSession(types.User{Id: 42}, time.Hour)
	require.NoError(t, err, "expected token creation to succeed")

	userId, err := app.extractUserIdFromToken(token)
	require.NoError(t, err, "expected token verification to succeed")
	assert.Equal(t, 42, userId, "expected the user id claim to round trip")
}

func TestJwtWrongKey(t *testing.T) {
	app := newTestApp(t)
	other := newTestApp(t)
	other.signingKey = []byte("a-different-key")

	token, err := app.createJwtForSession(types.User{Id: 42}, time.Hour)
	require.NoError(t, err, "expected token creation to succeed")

	_, err = other.extractUserIdFromToken(token)
	assert.Error(t, err, "expected verification with the wrong key to fail")
}

func TestJwtExpired(t *testing.T) {
	app := newTestApp(t)

	token, err := app.createJwtForSession(types.User{Id: 42}, -time.Hour)
	require.NoError(t, err, "expected token creation to succeed")

	_, err = app.extractUserIdFromToken(token)
	assert.Error(t, err, "expected an expired token to fail verification")
}

func TestCreateJwtCookie(t *testing.T) {
	cookie := createJwtCookie("token-value", time.Hour)

	assert.Equal(t, tokenCookieKey, cookie.Name, "expected the cookie name to match")
	assert.Equal(t, "token-value", cookie.Value, "expected the cookie value to match")
	assert.True(t, cookie.HttpOnly, "expected the cookie to be http-only")
	assert.Equal(t, http.SameSiteStrictMode, cookie.SameSite, "expected strict same-site")
	assert.True(t, cookie.Expires.After(time.Now()), "expected a future expiry")
}

func TestUserIdContext(t *testing.T) {
	ctx := WithUserId(context.Background(), 7)

	userId, ok := UserId(ctx)
	assert.True(t, ok, "expected the user id to be present")
	assert.Equal(t, 7, userId, "expected the user id to match")

	_, ok = UserId(context.Background())
	assert.False(t, ok, "expected no user id on a bare context")
}
