package sso

import "context"

// ProfileResolver maps bearer tokens back to their bound identity claims.
type ProfileResolver struct {
	state StateStore
}

// NewProfileResolver creates a profile resolver
func NewProfileResolver(state StateStore) *ProfileResolver {
	return &ProfileResolver{state: state}
}

// Resolve returns the claims bound to a token. Read-only: a token remains
// usable for repeated profile lookups until it expires.
func (r *ProfileResolver) Resolve(ctx context.Context, token string) (*Claims, error) {
	record, err := r.state.GetToken(ctx, token)
	if err == ErrStateNotFound {
		return nil, Errorf(KindInvalidToken, "token is invalid or expired")
	} else if err != nil {
		return nil, err
	}

	claims := record.Claims
	return &claims, nil
}
