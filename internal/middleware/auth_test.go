package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	authUC "github.com/promorang/maturity/usecase/auth"
)

type fakeSessions map[string]bool

func (f fakeSessions) Active(_ context.Context, id string) bool {
	return f[id]
}

func signToken(t *testing.T, secret string, claims authUC.Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func validClaims() authUC.Claims {
	return authUC.Claims{
		UserID:    "user-1",
		SessionID: "sess-1",
		Role:      "member",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func run(handler fasthttp.RequestHandler, authz string, spoofed string) (*fasthttp.RequestCtx, string) {
	var ctx fasthttp.RequestCtx
	if authz != "" {
		ctx.Request.Header.Set("Authorization", authz)
	}
	if spoofed != "" {
		ctx.Request.Header.Set(HeaderUserID, spoofed)
	}
	handler(&ctx)
	return &ctx, string(ctx.Request.Header.Peek(HeaderUserID))
}

func TestJWTAuthAcceptsLiveSession(t *testing.T) {
	called := false
	mw := JWTAuth("secret", fakeSessions{"sess-1": true}, nil)
	h := mw(func(ctx *fasthttp.RequestCtx) { called = true })

	ctx, user := run(h, "Bearer "+signToken(t, "secret", validClaims()), "")

	assert.True(t, called)
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, "user-1", user)
	assert.Equal(t, "sess-1", string(ctx.Request.Header.Peek(HeaderSessionID)))
}

func TestJWTAuthRejectsRevokedSession(t *testing.T) {
	mw := JWTAuth("secret", fakeSessions{}, nil)
	h := mw(func(ctx *fasthttp.RequestCtx) { t.Fatal("handler must not run") })

	ctx, _ := run(h, "Bearer "+signToken(t, "secret", validClaims()), "")
	assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())
}

func TestJWTAuthRejectsBadTokens(t *testing.T) {
	mw := JWTAuth("secret", nil, nil)
	h := mw(func(ctx *fasthttp.RequestCtx) { t.Fatal("handler must not run") })

	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	for name, authz := range map[string]string{
		"missing":      "",
		"wrong secret": "Bearer " + signToken(t, "other", validClaims()),
		"expired":      "Bearer " + signToken(t, "secret", expired),
		"garbage":      "Bearer not-a-token",
	} {
		ctx, _ := run(h, authz, "")
		assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode(), name)
	}
}

func TestJWTAuthStripsSpoofedIdentity(t *testing.T) {
	mw := JWTAuth("secret", nil, nil)
	h := mw(func(ctx *fasthttp.RequestCtx) {})

	ctx, user := run(h, "", "attacker")
	assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())
	assert.Empty(t, user)
}
