package sso

import (
	"bytes"
	"compress/flate"
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"html/template"
	"io"
	"net/url"
	"time"

	"github.com/google/uuid"
)

const statusSuccess = "urn:oasis:names:tc:SAML:2.0:status:Success"

// logoutRequest is the samlp:LogoutRequest sent to the IdP
type logoutRequest struct {
	XMLName      xml.Name     `xml:"urn:oasis:names:tc:SAML:2.0:protocol LogoutRequest"`
	ID           string       `xml:"ID,attr"`
	Version      string       `xml:"Version,attr"`
	IssueInstant string       `xml:"IssueInstant,attr"`
	Destination  string       `xml:"Destination,attr"`
	Issuer       logoutIssuer `xml:"urn:oasis:names:tc:SAML:2.0:assertion Issuer"`
	NameID       logoutNameID `xml:"urn:oasis:names:tc:SAML:2.0:assertion NameID"`
}

type logoutIssuer struct {
	Value string `xml:",chardata"`
}

type logoutNameID struct {
	Format string `xml:"Format,attr,omitempty"`
	Value  string `xml:",chardata"`
}

// logoutResponse matches the IdP's samlp:LogoutResponse regardless of
// namespace prefixing.
type logoutResponse struct {
	XMLName      xml.Name `xml:"LogoutResponse"`
	ID           string   `xml:"ID,attr"`
	InResponseTo string   `xml:"InResponseTo,attr"`
	Status       struct {
		StatusCode struct {
			Value string `xml:"Value,attr"`
		} `xml:"StatusCode"`
	} `xml:"Status"`
}

// LogoutResult carries exactly one populated output, depending on the
// binding the tenant's IdP supports.
type LogoutResult struct {
	LogoutURL  string `json:"logout_url,omitempty"`
	LogoutForm string `json:"logout_form,omitempty"`
}

var logoutFormTemplate = template.Must(template.New("logout_form").Parse(`<html>
<body onload="document.forms[0].submit()">
<form method="post" action="{{.URL}}">
<input type="hidden" name="SAMLRequest" value="{{.SAMLRequest}}"/>
<input type="hidden" name="RelayState" value="{{.RelayState}}"/>
<noscript><input type="submit" value="Continue"/></noscript>
</form>
</body>
</html>`))

// LogoutOrchestrator builds LogoutRequests and correlates the IdP's
// asynchronous LogoutResponses.
type LogoutOrchestrator struct {
	configs   *ConfigStore
	state     StateStore
	logoutTTL time.Duration
}

// NewLogoutOrchestrator creates a logout orchestrator
func NewLogoutOrchestrator(configs *ConfigStore, state StateStore, logoutTTL time.Duration) *LogoutOrchestrator {
	return &LogoutOrchestrator{
		configs:   configs,
		state:     state,
		logoutTTL: logoutTTL,
	}
}

// CreateRequest builds a LogoutRequest for the tenant's IdP and persists
// the correlation record. The binding declared in the config decides
// whether a redirect URL or an auto-submitting form is returned.
func (o *LogoutOrchestrator) CreateRequest(ctx context.Context, nameID, tenant, product, redirectURL string) (*LogoutResult, error) {
	cfg, err := o.configs.Get(ctx, ConfigKey{Tenant: tenant, Product: product})
	if err != nil {
		if IsKind(err, KindConfigNotFound) {
			return nil, Errorf(KindUnknownTenant, "no SAML connection for tenant %q product %q", tenant, product)
		}
		return nil, err
	}
	if cfg.IdPSLOURL == "" {
		return nil, Errorf(KindConfigNotFound, "tenant %q product %q has no SLO endpoint configured", tenant, product)
	}

	requestID := "_" + uuid.NewString()
	request := logoutRequest{
		ID:           requestID,
		Version:      "2.0",
		IssueInstant: time.Now().UTC().Format(time.RFC3339),
		Destination:  cfg.IdPSLOURL,
		Issuer:       logoutIssuer{Value: cfg.Audience},
		NameID: logoutNameID{
			Format: "urn:oasis:names:tc:SAML:2.0:nameid-format:persistent",
			Value:  nameID,
		},
	}

	requestXML, err := xml.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal logout request: %w", err)
	}
	requestXML = append([]byte(xml.Header), requestXML...)

	binding := cfg.SLOBinding
	if binding == "" {
		binding = SLOBindingRedirect
	}

	now := time.Now().UTC()
	pending := &PendingLogoutRequest{
		ID:          requestID,
		Tenant:      tenant,
		Product:     product,
		NameID:      nameID,
		RedirectURL: redirectURL,
		Binding:     binding,
		CreatedAt:   now,
		ExpiresAt:   now.Add(o.logoutTTL),
	}
	if err := o.state.PutLogoutRequest(ctx, pending); err != nil {
		return nil, fmt.Errorf("failed to persist pending logout: %w", err)
	}

	switch binding {
	case SLOBindingPost:
		form, err := buildLogoutForm(cfg.IdPSLOURL, requestXML, requestID)
		if err != nil {
			return nil, err
		}
		return &LogoutResult{LogoutForm: form}, nil
	default:
		logoutURL, err := buildLogoutRedirect(cfg.IdPSLOURL, requestXML, requestID)
		if err != nil {
			return nil, err
		}
		return &LogoutResult{LogoutURL: logoutURL}, nil
	}
}

// HandleResponse correlates a LogoutResponse with its pending request,
// consumes the record and returns the redirect URL chosen at initiation.
func (o *LogoutOrchestrator) HandleResponse(ctx context.Context, rawResponse, relayState string) (string, error) {
	response, err := parseLogoutResponse(rawResponse)
	if err != nil {
		return "", Errorf(KindUnknownLogoutRequest, "malformed logout response")
	}
	if response.InResponseTo == "" {
		return "", Errorf(KindUnknownLogoutRequest, "logout response does not reference a request")
	}

	pending, err := o.state.ConsumeLogoutRequest(ctx, response.InResponseTo)
	if err == ErrStateNotFound {
		return "", Errorf(KindUnknownLogoutRequest, "no pending logout matches the response")
	} else if err != nil {
		return "", err
	}

	if response.Status.StatusCode.Value != statusSuccess {
		return "", Errorf(KindLogoutRejected, "IdP rejected the logout: %s", response.Status.StatusCode.Value)
	}

	return pending.RedirectURL, nil
}

// buildLogoutRedirect encodes the request for the HTTP-Redirect binding:
// DEFLATE, then base64, then the SAMLRequest query parameter.
func buildLogoutRedirect(sloURL string, requestXML []byte, relayState string) (string, error) {
	var deflated bytes.Buffer
	writer, err := flate.NewWriter(&deflated, flate.DefaultCompression)
	if err != nil {
		return "", fmt.Errorf("failed to create deflate writer: %w", err)
	}
	if _, err := writer.Write(requestXML); err != nil {
		return "", fmt.Errorf("failed to deflate logout request: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finish deflate: %w", err)
	}

	parsed, err := url.Parse(sloURL)
	if err != nil {
		return "", fmt.Errorf("invalid SLO URL: %w", err)
	}
	query := parsed.Query()
	query.Set("SAMLRequest", base64.StdEncoding.EncodeToString(deflated.Bytes()))
	query.Set("RelayState", relayState)
	parsed.RawQuery = query.Encode()

	return parsed.String(), nil
}

// buildLogoutForm encodes the request for the HTTP-POST binding as an
// auto-submitting HTML form.
func buildLogoutForm(sloURL string, requestXML []byte, relayState string) (string, error) {
	var rendered bytes.Buffer
	err := logoutFormTemplate.Execute(&rendered, map[string]interface{}{
		"URL":         sloURL,
		"SAMLRequest": base64.StdEncoding.EncodeToString(requestXML),
		"RelayState":  relayState,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render logout form: %w", err)
	}
	return rendered.String(), nil
}

// parseLogoutResponse decodes a base64 response, accepting both plain
// (POST binding) and DEFLATE-compressed (redirect binding) payloads.
func parseLogoutResponse(rawResponse string) (*logoutResponse, error) {
	decoded, err := base64.StdEncoding.DecodeString(rawResponse)
	if err != nil {
		return nil, fmt.Errorf("invalid base64: %w", err)
	}

	var response logoutResponse
	if err := xml.Unmarshal(decoded, &response); err == nil {
		return &response, nil
	}

	inflated, err := io.ReadAll(flate.NewReader(bytes.NewReader(decoded)))
	if err != nil {
		return nil, fmt.Errorf("response is neither XML nor deflated XML: %w", err)
	}
	if err := xml.Unmarshal(inflated, &response); err != nil {
		return nil, fmt.Errorf("invalid logout response XML: %w", err)
	}
	return &response, nil
}
