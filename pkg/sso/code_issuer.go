package sso

import (
	"context"
	"fmt"
	"time"
)

// CodeIssuer mints single-use authorization codes bound to validated
// identity claims.
type CodeIssuer struct {
	state   StateStore
	codeTTL time.Duration
}

// NewCodeIssuer creates a code issuer. codeTTL should be short; the
// relying application redeems the code within one redirect hop.
func NewCodeIssuer(state StateStore, codeTTL time.Duration) *CodeIssuer {
	return &CodeIssuer{
		state:   state,
		codeTTL: codeTTL,
	}
}

// Issue generates a fresh code and persists the claims it carries. The
// plaintext code value exists only in the returned record.
func (i *CodeIssuer) Issue(ctx context.Context, claims Claims, tenant, product, redirectURI string) (*AuthorizationCode, error) {
	value, err := generateOpaque(codePrefix)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	code := &AuthorizationCode{
		Code:        value,
		Claims:      claims,
		Tenant:      tenant,
		Product:     product,
		RedirectURI: redirectURI,
		CreatedAt:   now,
		ExpiresAt:   now.Add(i.codeTTL),
	}
	if err := i.state.PutCode(ctx, code); err != nil {
		return nil, fmt.Errorf("failed to persist authorization code: %w", err)
	}

	return code, nil
}
