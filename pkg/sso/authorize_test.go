package sso

import (
	"bytes"
	"compress/flate"
	"context"
	"encoding/base64"
	"io"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// decodeAuthnRequest inflates the SAMLRequest query parameter of an IdP
// redirect URL and returns its document ID.
func decodeAuthnRequest(t *testing.T, authURL string) string {
	t.Helper()

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)

	raw := parsed.Query().Get("SAMLRequest")
	require.NotEmpty(t, raw)

	deflated, err := base64.StdEncoding.DecodeString(raw)
	require.NoError(t, err)

	inflated, err := io.ReadAll(flate.NewReader(bytes.NewReader(deflated)))
	require.NoError(t, err)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(inflated))
	require.NotNil(t, doc.Root())
	return doc.Root().SelectAttrValue("ID", "")
}

func TestAuthorize(t *testing.T) {
	configs := newTestConfigStore(t)
	state, _ := newTestStateStore(t)
	createTestConfig(t, configs)
	engine := NewAuthorizeEngine(configs, state, 5*time.Minute)
	ctx := context.Background()

	t.Run("returns an IdP redirect and records the pending request", func(t *testing.T) {
		authURL, err := engine.Authorize(ctx, "acme", "crm", "https://app.example.com/callback", "xyzzy")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(authURL, "https://idp.example.com/sso?"))

		parsed, err := url.Parse(authURL)
		require.NoError(t, err)
		assert.Equal(t, "xyzzy", parsed.Query().Get("RelayState"))

		requestID := decodeAuthnRequest(t, authURL)
		require.NotEmpty(t, requestID)

		pending, err := state.GetAuthRequest(ctx, requestID)
		require.NoError(t, err)
		assert.Equal(t, "acme", pending.Tenant)
		assert.Equal(t, "crm", pending.Product)
		assert.Equal(t, "https://app.example.com/callback", pending.RedirectURI)
		assert.Equal(t, "xyzzy", pending.State)
		assert.WithinDuration(t, time.Now().Add(5*time.Minute), pending.ExpiresAt, 10*time.Second)
	})

	t.Run("each attempt gets a distinct correlation id", func(t *testing.T) {
		first, err := engine.Authorize(ctx, "acme", "crm", "https://app.example.com/callback", "")
		require.NoError(t, err)
		second, err := engine.Authorize(ctx, "acme", "crm", "https://app.example.com/callback", "")
		require.NoError(t, err)
		assert.NotEqual(t, decodeAuthnRequest(t, first), decodeAuthnRequest(t, second))
	})

	t.Run("unknown tenant", func(t *testing.T) {
		_, err := engine.Authorize(ctx, "nobody", "crm", "https://app.example.com/callback", "")
		assert.True(t, IsKind(err, KindUnknownTenant))
	})

	t.Run("unregistered redirect", func(t *testing.T) {
		_, err := engine.Authorize(ctx, "acme", "crm", "https://evil.example.com/cb", "")
		assert.True(t, IsKind(err, KindInvalidRedirect))
	})

	t.Run("missing redirect", func(t *testing.T) {
		_, err := engine.Authorize(ctx, "acme", "crm", "", "")
		assert.True(t, IsKind(err, KindInvalidRedirect))
	})
}
