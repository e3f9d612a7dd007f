package sso

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/platinummonkey/federate/pkg/observability"
)

func newTestHandlers(t *testing.T) *Handlers {
	t.Helper()
	configs := newTestConfigStore(t)
	state, _ := newTestStateStore(t)
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	return NewHandlers(configs, state, HandlersConfig{
		PendingAuthTTL: 5 * time.Minute,
		CodeTTL:        2 * time.Minute,
		TokenTTL:       time.Hour,
		LogoutTTL:      5 * time.Minute,
	}, logger, nil)
}

func newBrokerServer(t *testing.T) (*Handlers, *httptest.Server, *http.Client) {
	t.Helper()
	handlers := newTestHandlers(t)
	router := mux.NewRouter()
	handlers.RegisterRoutes(router)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	// the broker answers with redirects to external hosts
	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return handlers, server, client
}

func postJSON(t *testing.T, client *http.Client, url string, payload interface{}) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestConfigEndpoints(t *testing.T) {
	_, server, client := newBrokerServer(t)

	cfg := testConfig(t)

	t.Run("create returns the secret exactly once", func(t *testing.T) {
		resp := postJSON(t, client, server.URL+"/api/v1/saml/config", cfg)
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		var created SAMLConfig
		decodeBody(t, resp, &created)
		assert.NotEmpty(t, created.ClientID)
		assert.True(t, strings.HasPrefix(created.ClientSecret, "fedsk_"))

		get, err := client.Get(server.URL + "/api/v1/saml/config?tenant=acme&product=crm")
		require.NoError(t, err)
		defer get.Body.Close()
		require.Equal(t, http.StatusOK, get.StatusCode)

		var fetched SAMLConfig
		decodeBody(t, get, &fetched)
		assert.Equal(t, created.ClientID, fetched.ClientID)
		assert.Empty(t, fetched.ClientSecret)
	})

	t.Run("duplicate connection is a conflict", func(t *testing.T) {
		resp := postJSON(t, client, server.URL+"/api/v1/saml/config", cfg)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("invalid config is rejected", func(t *testing.T) {
		bad := testConfig(t)
		bad.IdPCertificate = ""
		resp := postJSON(t, client, server.URL+"/api/v1/saml/config", bad)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("patch updates in place", func(t *testing.T) {
		sso := "https://idp2.example.com/sso"
		body, err := json.Marshal(ConfigPatch{IdPSSOURL: &sso})
		require.NoError(t, err)

		req, err := http.NewRequest(http.MethodPatch,
			server.URL+"/api/v1/saml/config?tenant=acme&product=crm", bytes.NewReader(body))
		require.NoError(t, err)
		resp, err := client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var updated SAMLConfig
		decodeBody(t, resp, &updated)
		assert.Equal(t, sso, updated.IdPSSOURL)
	})

	t.Run("list strips secrets", func(t *testing.T) {
		resp, err := client.Get(server.URL + "/api/v1/saml/configs")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var configs []*SAMLConfig
		decodeBody(t, resp, &configs)
		require.Len(t, configs, 1)
		assert.Empty(t, configs[0].ClientSecret)
	})

	t.Run("delete then 404", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodDelete,
			server.URL+"/api/v1/saml/config?tenant=acme&product=crm", nil)
		require.NoError(t, err)
		resp, err := client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusNoContent, resp.StatusCode)

		get, err := client.Get(server.URL + "/api/v1/saml/config?tenant=acme&product=crm")
		require.NoError(t, err)
		get.Body.Close()
		assert.Equal(t, http.StatusNotFound, get.StatusCode)
	})
}

func TestAuthorizeEndpoint(t *testing.T) {
	handlers, server, client := newBrokerServer(t)
	createTestConfig(t, handlers.configs)

	t.Run("returns the IdP redirect", func(t *testing.T) {
		resp, err := client.Get(server.URL +
			"/oauth/authorize?tenant=acme&product=crm&redirect_uri=" +
			url.QueryEscape("https://app.example.com/callback") + "&state=xyzzy")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]string
		decodeBody(t, resp, &body)
		assert.True(t, strings.HasPrefix(body["redirect_url"], "https://idp.example.com/sso?"))
	})

	t.Run("missing tenant", func(t *testing.T) {
		resp, err := client.Get(server.URL + "/oauth/authorize?product=crm")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown tenant", func(t *testing.T) {
		resp, err := client.Get(server.URL +
			"/oauth/authorize?tenant=nobody&product=crm&redirect_uri=" +
			url.QueryEscape("https://app.example.com/callback"))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestSAMLResponseEndpoint(t *testing.T) {
	handlers, server, client := newBrokerServer(t)
	createTestConfig(t, handlers.configs)

	t.Run("missing response", func(t *testing.T) {
		resp, err := client.PostForm(server.URL+"/oauth/saml", url.Values{})
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("garbage response", func(t *testing.T) {
		resp, err := client.PostForm(server.URL+"/oauth/saml", url.Values{
			"SAMLResponse": {"%%%not-base64%%%"},
		})
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("unsigned response", func(t *testing.T) {
		require.NoError(t, handlers.state.PutAuthRequest(context.Background(),
			pendingAuthRequest("_e2e-unsigned", time.Minute)))

		resp, err := client.PostForm(server.URL+"/oauth/saml", url.Values{
			"SAMLResponse": {unsignedResponse("_e2e-unsigned")},
		})
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestTokenEndpoint(t *testing.T) {
	handlers, server, client := newBrokerServer(t)
	created := createTestConfig(t, handlers.configs)
	ctx := context.Background()

	issue := func(t *testing.T) *AuthorizationCode {
		t.Helper()
		code, err := handlers.codes.Issue(ctx, Claims{
			Subject: "user@acme.example",
			Email:   "user@acme.example",
		}, "acme", "crm", "https://app.example.com/callback")
		require.NoError(t, err)
		return code
	}

	t.Run("exchanges a code for a bearer token", func(t *testing.T) {
		code := issue(t)

		resp, err := client.PostForm(server.URL+"/oauth/token", url.Values{
			"grant_type":    {"authorization_code"},
			"code":          {code.Code},
			"redirect_uri":  {"https://app.example.com/callback"},
			"client_id":     {created.ClientID},
			"client_secret": {created.ClientSecret},
		})
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var token tokenResponse
		decodeBody(t, resp, &token)
		assert.True(t, strings.HasPrefix(token.AccessToken, "fedat_"))
		assert.Equal(t, "Bearer", token.TokenType)
		assert.Greater(t, token.ExpiresIn, int64(0))

		t.Run("and the token resolves userinfo", func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, server.URL+"/oauth/userinfo", nil)
			require.NoError(t, err)
			req.Header.Set("Authorization", "Bearer "+token.AccessToken)

			info, err := client.Do(req)
			require.NoError(t, err)
			defer info.Body.Close()
			require.Equal(t, http.StatusOK, info.StatusCode)

			var claims Claims
			decodeBody(t, info, &claims)
			assert.Equal(t, "user@acme.example", claims.Subject)
		})
	})

	t.Run("basic auth carries the client credentials", func(t *testing.T) {
		code := issue(t)

		req, err := http.NewRequest(http.MethodPost, server.URL+"/oauth/token",
			strings.NewReader(url.Values{
				"grant_type":   {"authorization_code"},
				"code":         {code.Code},
				"redirect_uri": {"https://app.example.com/callback"},
			}.Encode()))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.SetBasicAuth(created.ClientID, created.ClientSecret)

		resp, err := client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("a stock oauth2 client can redeem a code", func(t *testing.T) {
		code := issue(t)

		conf := &oauth2.Config{
			ClientID:     created.ClientID,
			ClientSecret: created.ClientSecret,
			RedirectURL:  "https://app.example.com/callback",
			Endpoint: oauth2.Endpoint{
				TokenURL:  server.URL + "/oauth/token",
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		}

		token, err := conf.Exchange(context.Background(), code.Code)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(token.AccessToken, "fedat_"))
		assert.Equal(t, "Bearer", token.Type())
		assert.True(t, token.Valid())
	})

	t.Run("unsupported grant type", func(t *testing.T) {
		resp, err := client.PostForm(server.URL+"/oauth/token", url.Values{
			"grant_type": {"client_credentials"},
		})
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("invalid code", func(t *testing.T) {
		resp, err := client.PostForm(server.URL+"/oauth/token", url.Values{
			"grant_type":    {"authorization_code"},
			"code":          {"fedac_bogus"},
			"redirect_uri":  {"https://app.example.com/callback"},
			"client_id":     {created.ClientID},
			"client_secret": {created.ClientSecret},
		})
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("bad client secret", func(t *testing.T) {
		code := issue(t)

		resp, err := client.PostForm(server.URL+"/oauth/token", url.Values{
			"grant_type":    {"authorization_code"},
			"code":          {code.Code},
			"redirect_uri":  {"https://app.example.com/callback"},
			"client_id":     {created.ClientID},
			"client_secret": {"fedsk_wrong"},
		})
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestUserInfoEndpoint(t *testing.T) {
	_, server, client := newBrokerServer(t)

	t.Run("missing token", func(t *testing.T) {
		resp, err := client.Get(server.URL + "/oauth/userinfo")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("unknown token", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, server.URL+"/oauth/userinfo", nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer fedat_unknown")

		resp, err := client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestMetadataEndpoint(t *testing.T) {
	handlers, server, client := newBrokerServer(t)
	createTestConfig(t, handlers.configs)

	t.Run("serves SP metadata", func(t *testing.T) {
		resp, err := client.Get(server.URL + "/oauth/saml/metadata?tenant=acme&product=crm")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "application/xml", resp.Header.Get("Content-Type"))

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "https://broker.example.com/saml")
		assert.Contains(t, string(body), "https://broker.example.com/oauth/saml")
	})

	t.Run("unknown connection", func(t *testing.T) {
		resp, err := client.Get(server.URL + "/oauth/saml/metadata?tenant=nobody&product=crm")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestLogoutEndpoints(t *testing.T) {
	handlers, server, client := newBrokerServer(t)
	createTestConfig(t, handlers.configs)

	t.Run("create returns the SLO redirect", func(t *testing.T) {
		resp := postJSON(t, client, server.URL+"/oauth/logout", logoutRequestBody{
			NameID:      "user@acme.example",
			Tenant:      "acme",
			Product:     "crm",
			RedirectURL: "https://app.example.com/bye",
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var result LogoutResult
		decodeBody(t, resp, &result)
		require.True(t, strings.HasPrefix(result.LogoutURL, "https://idp.example.com/slo?"))

		t.Run("and the callback completes it", func(t *testing.T) {
			requestID := decodeLogoutRequest(t, result.LogoutURL)

			callback, err := client.PostForm(server.URL+"/oauth/logout/callback", url.Values{
				"SAMLResponse": {base64.StdEncoding.EncodeToString(logoutResponseXML(requestID, statusSuccess))},
				"RelayState":   {requestID},
			})
			require.NoError(t, err)
			callback.Body.Close()
			require.Equal(t, http.StatusFound, callback.StatusCode)
			assert.Equal(t, "https://app.example.com/bye", callback.Header.Get("Location"))
		})
	})

	t.Run("missing name_id", func(t *testing.T) {
		resp := postJSON(t, client, server.URL+"/oauth/logout", logoutRequestBody{
			Tenant:  "acme",
			Product: "crm",
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("callback with unknown correlation", func(t *testing.T) {
		resp, err := client.PostForm(server.URL+"/oauth/logout/callback", url.Values{
			"SAMLResponse": {base64.StdEncoding.EncodeToString(logoutResponseXML("_never-issued", statusSuccess))},
		})
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}
