package sso

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// AuthorizeEngine builds IdP-bound authentication requests and records the
// pending state an assertion must later match.
type AuthorizeEngine struct {
	configs    *ConfigStore
	state      StateStore
	pendingTTL time.Duration
}

// NewAuthorizeEngine creates an authorize engine. pendingTTL bounds how
// long the IdP has to deliver a matching assertion.
func NewAuthorizeEngine(configs *ConfigStore, state StateStore, pendingTTL time.Duration) *AuthorizeEngine {
	return &AuthorizeEngine{
		configs:    configs,
		state:      state,
		pendingTTL: pendingTTL,
	}
}

// Authorize validates the request, persists a PendingAuthRequest and
// returns the fully-formed redirect URL to the IdP's SSO endpoint. The
// AuthnRequest document's generated ID doubles as the correlation id the
// IdP echoes back via InResponseTo.
func (e *AuthorizeEngine) Authorize(ctx context.Context, tenant, product, redirectURI, clientState string) (string, error) {
	cfg, err := e.configs.Get(ctx, ConfigKey{Tenant: tenant, Product: product})
	if err != nil {
		if IsKind(err, KindConfigNotFound) {
			return "", Errorf(KindUnknownTenant, "no SAML connection for tenant %q product %q", tenant, product)
		}
		return "", err
	}

	if err := validateRedirectURI(cfg, redirectURI); err != nil {
		return "", err
	}

	sp, err := serviceProvider(cfg)
	if err != nil {
		return "", err
	}

	doc, err := sp.BuildAuthRequestDocument()
	if err != nil {
		return "", fmt.Errorf("failed to build auth request: %w", err)
	}

	requestID := doc.Root().SelectAttrValue("ID", "")
	if requestID == "" {
		return "", fmt.Errorf("auth request document has no ID")
	}

	authURL, err := sp.BuildAuthURLFromDocument(clientState, doc)
	if err != nil {
		return "", fmt.Errorf("failed to build auth URL: %w", err)
	}

	now := time.Now().UTC()
	pending := &PendingAuthRequest{
		ID:          requestID,
		Tenant:      tenant,
		Product:     product,
		RedirectURI: redirectURI,
		State:       clientState,
		CreatedAt:   now,
		ExpiresAt:   now.Add(e.pendingTTL),
	}
	if err := e.state.PutAuthRequest(ctx, pending); err != nil {
		return "", fmt.Errorf("failed to persist pending request: %w", err)
	}

	return authURL, nil
}

// validateRedirectURI enforces the config's redirect allow-list. An empty
// allow-list accepts any absolute http(s) URI.
func validateRedirectURI(cfg *SAMLConfig, redirectURI string) error {
	if redirectURI == "" {
		return Errorf(KindInvalidRedirect, "redirect_uri is required")
	}

	parsed, err := url.Parse(redirectURI)
	if err != nil || !parsed.IsAbs() || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return Errorf(KindInvalidRedirect, "redirect_uri must be an absolute http(s) URI")
	}

	if len(cfg.RedirectURIs) == 0 {
		return nil
	}
	for _, allowed := range cfg.RedirectURIs {
		if redirectURI == allowed {
			return nil
		}
	}
	return Errorf(KindInvalidRedirect, "redirect_uri %q is not registered", redirectURI)
}
