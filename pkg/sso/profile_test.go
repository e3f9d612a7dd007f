package sso

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	state, mr := newTestStateStore(t)
	resolver := NewProfileResolver(state)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, state.PutToken(ctx, &AccessToken{
		Token: "fedat_profile",
		Claims: Claims{
			Subject:    "user@acme.example",
			Email:      "user@acme.example",
			Attributes: map[string]string{"displayName": "Test User"},
		},
		Tenant:    "acme",
		Product:   "crm",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Second),
	}))

	t.Run("returns the bound claims", func(t *testing.T) {
		claims, err := resolver.Resolve(ctx, "fedat_profile")
		require.NoError(t, err)
		assert.Equal(t, "user@acme.example", claims.Subject)
		assert.Equal(t, "Test User", claims.Attributes["displayName"])
	})

	t.Run("lookups do not consume the token", func(t *testing.T) {
		_, err := resolver.Resolve(ctx, "fedat_profile")
		require.NoError(t, err)
		_, err = resolver.Resolve(ctx, "fedat_profile")
		assert.NoError(t, err)
	})

	t.Run("unknown token", func(t *testing.T) {
		_, err := resolver.Resolve(ctx, "fedat_unknown")
		assert.True(t, IsKind(err, KindInvalidToken))
	})

	t.Run("expired token", func(t *testing.T) {
		mr.FastForward(2 * time.Second)
		_, err := resolver.Resolve(ctx, "fedat_profile")
		assert.True(t, IsKind(err, KindInvalidToken))
	})
}
