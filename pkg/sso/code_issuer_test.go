package sso

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssue(t *testing.T) {
	state, _ := newTestStateStore(t)
	issuer := NewCodeIssuer(state, 2*time.Minute)
	ctx := context.Background()

	claims := Claims{
		Subject: "user@acme.example",
		Email:   "user@acme.example",
		Attributes: map[string]string{
			"displayName": "Test User",
		},
	}

	code, err := issuer.Issue(ctx, claims, "acme", "crm", "https://app.example.com/callback")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(code.Code, "fedac_"))
	assert.Equal(t, "acme", code.Tenant)
	assert.Equal(t, "https://app.example.com/callback", code.RedirectURI)
	assert.WithinDuration(t, time.Now().Add(2*time.Minute), code.ExpiresAt, 10*time.Second)

	t.Run("claims travel with the code", func(t *testing.T) {
		record, err := state.ConsumeCode(ctx, code.Code)
		require.NoError(t, err)
		assert.Equal(t, claims, record.Claims)
	})

	t.Run("codes are unique", func(t *testing.T) {
		first, err := issuer.Issue(ctx, claims, "acme", "crm", "https://app.example.com/callback")
		require.NoError(t, err)
		second, err := issuer.Issue(ctx, claims, "acme", "crm", "https://app.example.com/callback")
		require.NoError(t, err)
		assert.NotEqual(t, first.Code, second.Code)
	})
}
