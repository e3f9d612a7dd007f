package sso

import (
	"context"
	"fmt"
	"time"
)

// TokenExchange redeems authorization codes for bearer access tokens.
type TokenExchange struct {
	configs  *ConfigStore
	state    StateStore
	tokenTTL time.Duration
}

// NewTokenExchange creates a token exchange engine
func NewTokenExchange(configs *ConfigStore, state StateStore, tokenTTL time.Duration) *TokenExchange {
	return &TokenExchange{
		configs:  configs,
		state:    state,
		tokenTTL: tokenTTL,
	}
}

// Exchange redeems a code exactly once. The consume is atomic, so N
// concurrent exchanges of the same code produce one token and N-1
// InvalidCode failures. The code is consumed before the redirect and
// client checks run; a failed check burns the code rather than leaving
// it redeemable.
func (e *TokenExchange) Exchange(ctx context.Context, code, redirectURI, clientID, clientSecret string) (*AccessToken, error) {
	record, err := e.state.ConsumeCode(ctx, code)
	if err == ErrStateNotFound {
		return nil, Errorf(KindInvalidCode, "authorization code is invalid or expired")
	} else if err != nil {
		return nil, err
	}

	if record.RedirectURI != redirectURI {
		return nil, Errorf(KindRedirectMismatch, "redirect_uri does not match the value bound at issuance")
	}

	cfg, err := e.configs.VerifyClientCredentials(ctx, clientID, clientSecret)
	if err != nil {
		return nil, err
	}
	if cfg.Tenant != record.Tenant || cfg.Product != record.Product {
		return nil, Errorf(KindInvalidClient, "code was not issued to this client")
	}

	value, err := generateOpaque(tokenPrefix)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	token := &AccessToken{
		Token:     value,
		Claims:    record.Claims,
		Tenant:    record.Tenant,
		Product:   record.Product,
		CreatedAt: now,
		ExpiresAt: now.Add(e.tokenTTL),
	}
	if err := e.state.PutToken(ctx, token); err != nil {
		return nil, fmt.Errorf("failed to persist access token: %w", err)
	}

	return token, nil
}
