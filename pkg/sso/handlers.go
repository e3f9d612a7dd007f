package sso

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/federate/pkg/audit"
	"github.com/platinummonkey/federate/pkg/httputil"
	"github.com/platinummonkey/federate/pkg/observability"
)

// Handlers exposes the broker engine over HTTP
type Handlers struct {
	logger    *observability.Logger
	metrics   *observability.Metrics
	audits    audit.Logger
	configs   *ConfigStore
	state     StateStore
	authorize *AuthorizeEngine
	validator *AssertionValidator
	codes     *CodeIssuer
	exchange  *TokenExchange
	profile   *ProfileResolver
	logout    *LogoutOrchestrator
}

// HandlersConfig carries the TTL knobs for the broker's short-lived records
type HandlersConfig struct {
	PendingAuthTTL time.Duration
	CodeTTL        time.Duration
	TokenTTL       time.Duration
	LogoutTTL      time.Duration
}

// NewHandlers wires the engine components over the shared stores
func NewHandlers(configs *ConfigStore, state StateStore, cfg HandlersConfig, logger *observability.Logger, metrics *observability.Metrics) *Handlers {
	return &Handlers{
		logger:    logger,
		metrics:   metrics,
		audits:    audit.NopLogger{},
		configs:   configs,
		state:     state,
		authorize: NewAuthorizeEngine(configs, state, cfg.PendingAuthTTL),
		validator: NewAssertionValidator(configs, state),
		codes:     NewCodeIssuer(state, cfg.CodeTTL),
		exchange:  NewTokenExchange(configs, state, cfg.TokenTTL),
		profile:   NewProfileResolver(state),
		logout:    NewLogoutOrchestrator(configs, state, cfg.LogoutTTL),
	}
}

// RegisterRoutes registers the broker routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	// Config management
	router.HandleFunc("/api/v1/saml/config", h.createConfig).Methods("POST")
	router.HandleFunc("/api/v1/saml/config", h.updateConfig).Methods("PATCH")
	router.HandleFunc("/api/v1/saml/config", h.getConfig).Methods("GET")
	router.HandleFunc("/api/v1/saml/config", h.deleteConfig).Methods("DELETE")
	router.HandleFunc("/api/v1/saml/configs", h.listConfigs).Methods("GET")

	// OAuth2 facade
	router.HandleFunc("/oauth/authorize", h.handleAuthorize).Methods("GET")
	router.HandleFunc("/oauth/saml", h.handleSAMLResponse).Methods("POST")
	router.HandleFunc("/oauth/saml/metadata", h.getMetadata).Methods("GET")
	router.HandleFunc("/oauth/token", h.handleToken).Methods("POST")
	router.HandleFunc("/oauth/userinfo", h.handleUserInfo).Methods("GET")

	// SAML single logout
	router.HandleFunc("/oauth/logout", h.createLogout).Methods("POST")
	router.HandleFunc("/oauth/logout/callback", h.handleLogoutCallback).Methods("POST")
}

// WithAuditLogger routes security-relevant events to the given audit trail
func (h *Handlers) WithAuditLogger(audits audit.Logger) *Handlers {
	h.audits = audits
	return h
}

// record writes an audit event. Auditing never fails the request.
func (h *Handlers) record(r *http.Request, event *audit.Event) {
	event.IPAddress = r.RemoteAddr
	if err := h.audits.Log(r.Context(), event); err != nil {
		h.logger.WithError(err).WithField("event_type", string(event.EventType)).Error("failed to record audit event")
	}
}

// writeEngineError maps engine error kinds onto HTTP statuses. Anything
// without a kind is an internal failure and is logged, not exposed.
func (h *Handlers) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	if kind := KindOf(err); kind != "" {
		status := kind.Status()
		if status == http.StatusUnauthorized {
			h.logger.WithFields(map[string]interface{}{
				"kind":   string(kind),
				"path":   r.URL.Path,
				"remote": r.RemoteAddr,
			}).Warn("rejected request")
		}
		httputil.WriteErrorMessage(w, status, err.Error())
		return
	}
	h.logger.WithError(err).WithField("path", r.URL.Path).Error("request failed")
	httputil.WriteInternalError(w, err)
}

func (h *Handlers) count(operation, status string) {
	if h.metrics != nil {
		h.metrics.BrokerOperationsTotal.WithLabelValues(operation, status).Inc()
	}
}

// createConfig handles POST /api/v1/saml/config
func (h *Handlers) createConfig(w http.ResponseWriter, r *http.Request) {
	var cfg SAMLConfig
	if !httputil.ParseJSONOrError(w, r, &cfg) {
		return
	}

	if err := ValidateConfig(&cfg); err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	created, err := h.configs.Create(r.Context(), &cfg)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	h.logger.WithFields(map[string]interface{}{
		"tenant":    created.Tenant,
		"product":   created.Product,
		"client_id": created.ClientID,
	}).Info("created SAML config")
	h.record(r, &audit.Event{
		EventType: audit.EventTypeConfigCreate,
		Status:    audit.EventStatusSuccess,
		Tenant:    created.Tenant,
		Product:   created.Product,
		ClientID:  created.ClientID,
	})

	// The plaintext client secret is serialized exactly once, here.
	httputil.WriteJSONOrError(w, http.StatusCreated, created, "failed to encode config")
}

// updateConfig handles PATCH /api/v1/saml/config
func (h *Handlers) updateConfig(w http.ResponseWriter, r *http.Request) {
	key := configKeyFromQuery(r)
	var patch ConfigPatch
	if !httputil.ParseJSONOrError(w, r, &patch) {
		return
	}

	updated, err := h.configs.Update(r.Context(), key, patch)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	h.record(r, &audit.Event{
		EventType: audit.EventTypeConfigUpdate,
		Status:    audit.EventStatusSuccess,
		Tenant:    updated.Tenant,
		Product:   updated.Product,
		ClientID:  updated.ClientID,
	})
	httputil.WriteJSONOrError(w, http.StatusOK, updated, "failed to encode config")
}

// getConfig handles GET /api/v1/saml/config
func (h *Handlers) getConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.configs.Get(r.Context(), configKeyFromQuery(r))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	httputil.WriteJSONOrError(w, http.StatusOK, cfg, "failed to encode config")
}

// deleteConfig handles DELETE /api/v1/saml/config. Pending state for the
// tenant dies with the config so orphaned requests cannot complete.
func (h *Handlers) deleteConfig(w http.ResponseWriter, r *http.Request) {
	tenant, product, err := h.configs.Delete(r.Context(), configKeyFromQuery(r))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	if err := h.state.DeleteTenantState(r.Context(), tenant, product); err != nil {
		h.logger.WithError(err).WithFields(map[string]interface{}{
			"tenant":  tenant,
			"product": product,
		}).Error("failed to purge tenant state after config delete")
	}

	h.record(r, &audit.Event{
		EventType: audit.EventTypeConfigDelete,
		Status:    audit.EventStatusSuccess,
		Tenant:    tenant,
		Product:   product,
	})
	httputil.WriteNoContent(w)
}

// listConfigs handles GET /api/v1/saml/configs
func (h *Handlers) listConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := h.configs.List(r.Context())
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	httputil.WriteJSONOrError(w, http.StatusOK, configs, "failed to encode configs")
}

// handleAuthorize handles GET /oauth/authorize
func (h *Handlers) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	tenant := query.Get("tenant")
	product := query.Get("product")
	if !httputil.RequireNonEmpty(w, tenant, "tenant") || !httputil.RequireNonEmpty(w, product, "product") {
		return
	}

	redirectURL, err := h.authorize.Authorize(r.Context(), tenant, product, query.Get("redirect_uri"), query.Get("state"))
	if err != nil {
		h.count("authorize", "error")
		h.writeEngineError(w, r, err)
		return
	}

	h.count("authorize", "success")
	h.record(r, &audit.Event{
		EventType: audit.EventTypeLoginStart,
		Status:    audit.EventStatusSuccess,
		Tenant:    tenant,
		Product:   product,
	})
	httputil.WriteJSONOrError(w, http.StatusOK, map[string]string{
		"redirect_url": redirectURL,
	}, "failed to encode authorize response")
}

// handleSAMLResponse handles POST /oauth/saml, the assertion consumer
// service. A valid assertion becomes an authorization code delivered by
// redirecting the browser back to the relying application.
func (h *Handlers) handleSAMLResponse(w http.ResponseWriter, r *http.Request) {
	rawResponse := r.FormValue("SAMLResponse")
	if !httputil.RequireNonEmpty(w, rawResponse, "SAMLResponse") {
		return
	}

	result, err := h.validator.Validate(r.Context(), rawResponse)
	if err != nil {
		h.count("validate", "error")
		h.record(r, &audit.Event{
			EventType: audit.EventTypeLoginFailed,
			Status:    audit.EventStatusFailure,
			Message:   err.Error(),
		})
		h.writeEngineError(w, r, err)
		return
	}

	code, err := h.codes.Issue(r.Context(), result.Claims, result.Tenant, result.Product, result.Request.RedirectURI)
	if err != nil {
		h.count("validate", "error")
		h.writeEngineError(w, r, err)
		return
	}

	h.count("validate", "success")
	h.logger.WithFields(map[string]interface{}{
		"tenant":  result.Tenant,
		"product": result.Product,
		"subject": result.Claims.Subject,
	}).Info("assertion accepted")
	h.record(r, &audit.Event{
		EventType: audit.EventTypeLoginSuccess,
		Status:    audit.EventStatusSuccess,
		Tenant:    result.Tenant,
		Product:   result.Product,
		Subject:   result.Claims.Subject,
	})

	target, err := url.Parse(result.Request.RedirectURI)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	params := target.Query()
	params.Set("code", code.Code)
	if result.Request.State != "" {
		params.Set("state", result.Request.State)
	}
	target.RawQuery = params.Encode()

	http.Redirect(w, r, target.String(), http.StatusFound)
}

// getMetadata handles GET /oauth/saml/metadata
func (h *Handlers) getMetadata(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.configs.Get(r.Context(), configKeyFromQuery(r))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	metadata, err := Metadata(cfg)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/xml")
	w.Write(metadata)
}

// tokenResponse is the OAuth2 token endpoint payload
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// handleToken handles POST /oauth/token. Client credentials are accepted
// either as form fields or via HTTP basic auth.
func (h *Handlers) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httputil.WriteBadRequest(w, "invalid form body")
		return
	}

	if grantType := r.PostFormValue("grant_type"); grantType != "authorization_code" {
		httputil.WriteBadRequest(w, "unsupported grant_type")
		return
	}

	clientID := r.PostFormValue("client_id")
	clientSecret := r.PostFormValue("client_secret")
	if basicID, basicSecret, ok := r.BasicAuth(); ok {
		clientID, clientSecret = basicID, basicSecret
	}

	token, err := h.exchange.Exchange(r.Context(), r.PostFormValue("code"), r.PostFormValue("redirect_uri"), clientID, clientSecret)
	if err != nil {
		h.count("token", "error")
		h.record(r, &audit.Event{
			EventType: audit.EventTypeTokenDenied,
			Status:    audit.EventStatusFailure,
			ClientID:  clientID,
			Message:   err.Error(),
		})
		h.writeEngineError(w, r, err)
		return
	}

	h.count("token", "success")
	h.record(r, &audit.Event{
		EventType: audit.EventTypeTokenIssued,
		Status:    audit.EventStatusSuccess,
		Tenant:    token.Tenant,
		Product:   token.Product,
		ClientID:  clientID,
		Subject:   token.Claims.Subject,
	})
	httputil.WriteJSONOrError(w, http.StatusOK, tokenResponse{
		AccessToken: token.Token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(time.Until(token.ExpiresAt).Seconds()),
	}, "failed to encode token response")
}

// handleUserInfo handles GET /oauth/userinfo
func (h *Handlers) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		httputil.WriteUnauthorized(w, "missing bearer token")
		return
	}

	claims, err := h.profile.Resolve(r.Context(), token)
	if err != nil {
		h.count("userinfo", "error")
		h.writeEngineError(w, r, err)
		return
	}

	h.count("userinfo", "success")
	httputil.WriteJSONOrError(w, http.StatusOK, claims, "failed to encode claims")
}

// logoutRequestBody is the POST /oauth/logout payload
type logoutRequestBody struct {
	NameID      string `json:"name_id"`
	Tenant      string `json:"tenant"`
	Product     string `json:"product"`
	RedirectURL string `json:"redirect_url"`
}

// createLogout handles POST /oauth/logout
func (h *Handlers) createLogout(w http.ResponseWriter, r *http.Request) {
	var body logoutRequestBody
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}
	if !httputil.RequireNonEmpty(w, body.NameID, "name_id") ||
		!httputil.RequireNonEmpty(w, body.Tenant, "tenant") ||
		!httputil.RequireNonEmpty(w, body.Product, "product") {
		return
	}

	result, err := h.logout.CreateRequest(r.Context(), body.NameID, body.Tenant, body.Product, body.RedirectURL)
	if err != nil {
		h.count("logout", "error")
		h.writeEngineError(w, r, err)
		return
	}

	h.count("logout", "success")
	h.record(r, &audit.Event{
		EventType: audit.EventTypeLogoutCreated,
		Status:    audit.EventStatusSuccess,
		Tenant:    body.Tenant,
		Product:   body.Product,
		Subject:   body.NameID,
	})
	httputil.WriteJSONOrError(w, http.StatusOK, result, "failed to encode logout response")
}

// handleLogoutCallback handles POST /oauth/logout/callback
func (h *Handlers) handleLogoutCallback(w http.ResponseWriter, r *http.Request) {
	rawResponse := r.FormValue("SAMLResponse")
	if !httputil.RequireNonEmpty(w, rawResponse, "SAMLResponse") {
		return
	}

	redirectURL, err := h.logout.HandleResponse(r.Context(), rawResponse, r.FormValue("RelayState"))
	if err != nil {
		h.count("logout", "error")
		h.writeEngineError(w, r, err)
		return
	}

	h.count("logout", "success")
	h.record(r, &audit.Event{
		EventType: audit.EventTypeLogoutDone,
		Status:    audit.EventStatusSuccess,
	})
	if redirectURL == "" {
		httputil.WriteNoContent(w)
		return
	}
	http.Redirect(w, r, redirectURL, http.StatusFound)
}

// configKeyFromQuery reads the config key from query parameters: either
// client_id alone or the (tenant, product) pair.
func configKeyFromQuery(r *http.Request) ConfigKey {
	query := r.URL.Query()
	return ConfigKey{
		Tenant:   query.Get("tenant"),
		Product:  query.Get("product"),
		ClientID: query.Get("client_id"),
	}
}

// bearerToken extracts the access token from the Authorization header or,
// failing that, the access_token query parameter.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("access_token")
}
