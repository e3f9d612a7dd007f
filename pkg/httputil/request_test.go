package httputil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseJSON(t *testing.T) {
	r := httptest.NewRequest("POST", "/", strings.NewReader(`{"tenant":"acme","product":"crm"}`))

	var body struct {
		Tenant  string `json:"tenant"`
		Product string `json:"product"`
	}
	err := ParseJSON(r, &body)

	assert.NoError(t, err)
	assert.Equal(t, "acme", body.Tenant)
	assert.Equal(t, "crm", body.Product)
}

func TestParseJSON_Invalid(t *testing.T) {
	r := httptest.NewRequest("POST", "/", strings.NewReader(`{not json`))

	var body map[string]string
	err := ParseJSON(r, &body)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JSON")
}

func TestParseJSONOrError(t *testing.T) {
	t.Run("valid body", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest("POST", "/", strings.NewReader(`{"tenant":"acme"}`))

		var body map[string]string
		ok := ParseJSONOrError(w, r, &body)

		assert.True(t, ok)
		assert.Equal(t, "acme", body["tenant"])
	})

	t.Run("invalid body writes 400", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest("POST", "/", strings.NewReader(`{`))

		var body map[string]string
		ok := ParseJSONOrError(w, r, &body)

		assert.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestParseQueryInt(t *testing.T) {
	tests := []struct {
		name       string
		url        string
		defaultVal int
		want       int
		wantErr    bool
	}{
		{"present", "/?limit=25", 10, 25, false},
		{"missing uses default", "/", 10, 10, false},
		{"not a number", "/?limit=lots", 10, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.url, nil)
			got, err := ParseQueryInt(r, "limit", tt.defaultVal)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRequireNonEmpty(t *testing.T) {
	t.Run("non-empty passes", func(t *testing.T) {
		w := httptest.NewRecorder()
		assert.True(t, RequireNonEmpty(w, "acme", "tenant"))
	})

	t.Run("empty writes 400", func(t *testing.T) {
		w := httptest.NewRecorder()
		assert.False(t, RequireNonEmpty(w, "", "tenant"))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "tenant is required")
	})
}
