package sso

import "time"

// SLOBinding selects how a LogoutRequest is delivered to the IdP
type SLOBinding string

const (
	SLOBindingRedirect SLOBinding = "redirect"
	SLOBindingPost     SLOBinding = "post"
)

// SAMLConfig binds one tenant+product pairing to one IdP
type SAMLConfig struct {
	ID             int64      `json:"id"`
	Tenant         string     `json:"tenant"`
	Product        string     `json:"product"`
	IdPEntityID    string     `json:"idp_entity_id"`
	IdPSSOURL      string     `json:"idp_sso_url"`
	IdPSLOURL      string     `json:"idp_slo_url,omitempty"`
	SLOBinding     SLOBinding `json:"slo_binding,omitempty"`
	IdPCertificate string     `json:"idp_certificate"` // PEM encoded, may contain a chain
	Audience       string     `json:"audience"`
	ACSURL         string     `json:"acs_url"`
	RedirectURIs   []string   `json:"redirect_uris,omitempty"` // empty list permits any absolute URI

	// ClientID is generated at creation and immutable afterwards.
	ClientID string `json:"client_id"`
	// ClientSecret is populated exactly once, in the Create response.
	ClientSecret     string `json:"client_secret,omitempty"`
	ClientSecretHash string `json:"-"` // SHA-256 hex, never serialized

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConfigKey addresses a SAMLConfig by (tenant, product) or by client id
type ConfigKey struct {
	Tenant   string
	Product  string
	ClientID string
}

// ConfigPatch carries partial updates for a SAMLConfig. Nil fields are
// left untouched.
type ConfigPatch struct {
	IdPEntityID    *string     `json:"idp_entity_id,omitempty"`
	IdPSSOURL      *string     `json:"idp_sso_url,omitempty"`
	IdPSLOURL      *string     `json:"idp_slo_url,omitempty"`
	SLOBinding     *SLOBinding `json:"slo_binding,omitempty"`
	IdPCertificate *string     `json:"idp_certificate,omitempty"`
	Audience       *string     `json:"audience,omitempty"`
	ACSURL         *string     `json:"acs_url,omitempty"`
	RedirectURIs   *[]string   `json:"redirect_uris,omitempty"`
}

// Claims is the identity extracted from a validated assertion
type Claims struct {
	Subject    string            `json:"subject"` // SAML NameID
	Email      string            `json:"email,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// PendingAuthRequest is one in-flight SAML authentication attempt.
// Consumed exactly once by a response whose InResponseTo matches ID.
type PendingAuthRequest struct {
	ID          string    `json:"id"`
	Tenant      string    `json:"tenant"`
	Product     string    `json:"product"`
	RedirectURI string    `json:"redirect_uri"`
	State       string    `json:"state"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// AuthorizationCode bridges a validated assertion to the token endpoint.
// Redeemable at most once.
type AuthorizationCode struct {
	Code        string    `json:"-"` // plaintext, never persisted
	Claims      Claims    `json:"claims"`
	Tenant      string    `json:"tenant"`
	Product     string    `json:"product"`
	RedirectURI string    `json:"redirect_uri"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// AccessToken is the bearer credential minted at code exchange. Claims are
// copied from the code so token lifetime is independent of code lifetime.
type AccessToken struct {
	Token     string    `json:"-"` // plaintext, never persisted
	Claims    Claims    `json:"claims"`
	Tenant    string    `json:"tenant"`
	Product   string    `json:"product"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PendingLogoutRequest correlates an SP-initiated logout with the IdP's
// asynchronous LogoutResponse.
type PendingLogoutRequest struct {
	ID          string     `json:"id"`
	Tenant      string     `json:"tenant"`
	Product     string     `json:"product"`
	NameID      string     `json:"name_id"`
	RedirectURL string     `json:"redirect_url"`
	Binding     SLOBinding `json:"binding"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
}
