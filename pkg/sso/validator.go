package sso

import (
	"context"
	"encoding/base64"

	"github.com/beevik/etree"
)

// emailAttributeNames are the assertion attributes commonly used by IdPs
// to carry the user's email address, in lookup order.
var emailAttributeNames = []string{
	"email",
	"mail",
	"emailAddress",
	"urn:oid:0.9.2342.19200300.100.1.3",
}

// ValidationResult is the outcome of a successfully validated assertion
type ValidationResult struct {
	Tenant  string
	Product string
	Claims  Claims
	// Request is the consumed PendingAuthRequest; callers carry its
	// redirect URI and state forward to the relying application.
	Request *PendingAuthRequest
}

// AssertionValidator verifies SAML responses against the pending-request
// state and the matching tenant configuration.
type AssertionValidator struct {
	configs *ConfigStore
	state   StateStore
}

// NewAssertionValidator creates an assertion validator
func NewAssertionValidator(configs *ConfigStore, state StateStore) *AssertionValidator {
	return &AssertionValidator{
		configs: configs,
		state:   state,
	}
}

// Validate checks a base64-encoded SAML response end to end: correlation,
// signature, validity window and audience. The pending request is consumed
// only after every check passes, and atomically, so a response can be
// accepted at most once even under concurrent submission.
func (v *AssertionValidator) Validate(ctx context.Context, rawResponse string) (*ValidationResult, error) {
	decoded, err := base64.StdEncoding.DecodeString(rawResponse)
	if err != nil {
		return nil, Errorf(KindInvalidSignature, "malformed SAML response encoding")
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(decoded); err != nil || doc.Root() == nil {
		return nil, Errorf(KindInvalidSignature, "malformed SAML response XML")
	}

	inResponseTo := doc.Root().SelectAttrValue("InResponseTo", "")
	if inResponseTo == "" {
		return nil, Errorf(KindUnknownRequest, "response does not reference a request")
	}

	// Peek first: the request is only consumed once validation passes.
	pending, err := v.state.GetAuthRequest(ctx, inResponseTo)
	if err == ErrStateNotFound {
		return nil, Errorf(KindUnknownRequest, "no pending request matches the response")
	} else if err != nil {
		return nil, err
	}

	cfg, err := v.configs.Get(ctx, ConfigKey{Tenant: pending.Tenant, Product: pending.Product})
	if err != nil {
		if IsKind(err, KindConfigNotFound) {
			return nil, Errorf(KindUnknownTenant, "no SAML connection for tenant %q product %q", pending.Tenant, pending.Product)
		}
		return nil, err
	}

	sp, err := serviceProvider(cfg)
	if err != nil {
		return nil, err
	}

	assertionInfo, err := sp.RetrieveAssertionInfo(rawResponse)
	if err != nil {
		return nil, WrapError(KindInvalidSignature, err, "assertion signature validation failed")
	}

	if assertionInfo.WarningInfo != nil {
		if assertionInfo.WarningInfo.InvalidTime {
			return nil, Errorf(KindExpiredAssertion, "assertion outside its validity window")
		}
		if assertionInfo.WarningInfo.NotInAudience {
			return nil, Errorf(KindAudienceMismatch, "assertion audience does not match %q", cfg.Audience)
		}
	}

	// Commit the single use. Losing this race means another submission
	// of the same response already succeeded.
	consumed, err := v.state.ConsumeAuthRequest(ctx, inResponseTo)
	if err == ErrStateNotFound {
		return nil, Errorf(KindUnknownRequest, "no pending request matches the response")
	} else if err != nil {
		return nil, err
	}

	claims := Claims{
		Subject:    assertionInfo.NameID,
		Attributes: make(map[string]string),
	}
	for name, attr := range assertionInfo.Values {
		if len(attr.Values) > 0 {
			claims.Attributes[name] = attr.Values[0].Value
		}
	}
	for _, name := range emailAttributeNames {
		if email, ok := claims.Attributes[name]; ok && email != "" {
			claims.Email = email
			break
		}
	}

	return &ValidationResult{
		Tenant:  consumed.Tenant,
		Product: consumed.Product,
		Claims:  claims,
		Request: consumed,
	}, nil
}
