package sso

import (
	"crypto/x509"
	"encoding/pem"
	"encoding/xml"
	"fmt"
	"net/url"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	saml2 "github.com/russellhaering/gosaml2"
	dsig "github.com/russellhaering/goxmldsig"
)

// parseCertificates decodes every certificate block in a PEM bundle
func parseCertificates(pemData string) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate

	rest := []byte(pemData)
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}

		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate: %w", err)
		}
		certs = append(certs, cert)
	}

	if len(certs) == 0 {
		return nil, fmt.Errorf("no certificates found in PEM data")
	}
	return certs, nil
}

const (
	spCacheSize = 256
	spCacheTTL  = time.Hour
)

// spCache memoizes built service providers so a tenant's PEM chain is not
// re-parsed on every authorize and validate call. Keys carry the config's
// update time, so a PATCH rolls the key and stale entries age out.
var spCache = lru.NewLRU[string, *saml2.SAMLServiceProvider](spCacheSize, nil, spCacheTTL)

func spCacheKey(cfg *SAMLConfig) string {
	return fmt.Sprintf("%d:%d", cfg.ID, cfg.UpdatedAt.UnixNano())
}

// serviceProvider builds the gosaml2 SP for one tenant config. The broker
// acts as a confidential SP that does not sign its AuthnRequests; trust is
// anchored in the IdP's signing certificate(s). Configs without a database
// id are built fresh every time.
func serviceProvider(cfg *SAMLConfig) (*saml2.SAMLServiceProvider, error) {
	key := spCacheKey(cfg)
	if cfg.ID != 0 {
		if sp, ok := spCache.Get(key); ok {
			return sp, nil
		}
	}

	certs, err := parseCertificates(cfg.IdPCertificate)
	if err != nil {
		return nil, fmt.Errorf("invalid IdP certificate for tenant %q: %w", cfg.Tenant, err)
	}

	certStore := dsig.MemoryX509CertificateStore{
		Roots: certs,
	}

	sp := &saml2.SAMLServiceProvider{
		IdentityProviderSSOURL:      cfg.IdPSSOURL,
		IdentityProviderIssuer:      cfg.IdPEntityID,
		ServiceProviderIssuer:       cfg.Audience,
		AssertionConsumerServiceURL: cfg.ACSURL,
		AudienceURI:                 cfg.Audience,
		IDPCertificateStore:         &certStore,
	}
	if cfg.ID != 0 {
		spCache.Add(key, sp)
	}
	return sp, nil
}

// ValidateConfig checks that a SAMLConfig is complete enough to build a
// working service provider.
func ValidateConfig(cfg *SAMLConfig) error {
	if cfg.Tenant == "" {
		return fmt.Errorf("tenant is required")
	}
	if cfg.Product == "" {
		return fmt.Errorf("product is required")
	}
	if cfg.IdPEntityID == "" {
		return fmt.Errorf("idp_entity_id is required")
	}
	if cfg.IdPSSOURL == "" {
		return fmt.Errorf("idp_sso_url is required")
	}
	if _, err := url.ParseRequestURI(cfg.IdPSSOURL); err != nil {
		return fmt.Errorf("invalid idp_sso_url: %w", err)
	}
	if cfg.Audience == "" {
		return fmt.Errorf("audience is required")
	}
	if cfg.ACSURL == "" {
		return fmt.Errorf("acs_url is required")
	}
	if cfg.IdPCertificate == "" {
		return fmt.Errorf("idp_certificate is required")
	}
	if _, err := parseCertificates(cfg.IdPCertificate); err != nil {
		return err
	}
	if cfg.SLOBinding != "" && cfg.SLOBinding != SLOBindingRedirect && cfg.SLOBinding != SLOBindingPost {
		return fmt.Errorf("slo_binding must be %q or %q", SLOBindingRedirect, SLOBindingPost)
	}
	return nil
}

// entityDescriptor is the md:EntityDescriptor published as SP metadata
type entityDescriptor struct {
	XMLName         xml.Name        `xml:"urn:oasis:names:tc:SAML:2.0:metadata EntityDescriptor"`
	EntityID        string          `xml:"entityID,attr"`
	SPSSODescriptor spSSODescriptor `xml:"SPSSODescriptor"`
}

type spSSODescriptor struct {
	ProtocolSupport string                   `xml:"protocolSupportEnumeration,attr"`
	ACS             assertionConsumerService `xml:"AssertionConsumerService"`
}

type assertionConsumerService struct {
	Binding  string `xml:"Binding,attr"`
	Location string `xml:"Location,attr"`
	Index    int    `xml:"index,attr"`
}

// Metadata renders the SP EntityDescriptor for a tenant config
func Metadata(cfg *SAMLConfig) ([]byte, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	descriptor := entityDescriptor{
		EntityID: cfg.Audience,
		SPSSODescriptor: spSSODescriptor{
			ProtocolSupport: "urn:oasis:names:tc:SAML:2.0:protocol",
			ACS: assertionConsumerService{
				Binding:  "urn:oasis:names:tc:SAML:2.0:bindings:HTTP-POST",
				Location: cfg.ACSURL,
				Index:    1,
			},
		},
	}

	metadataXML, err := xml.MarshalIndent(descriptor, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return append([]byte(xml.Header), metadataXML...), nil
}
