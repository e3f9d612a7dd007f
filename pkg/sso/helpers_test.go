package sso

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"database/sql"
	"encoding/pem"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

var (
	testCertOnce sync.Once
	testCertData string
	testCertDER  []byte
	testCertKey  *rsa.PrivateKey
)

// testCertPEM returns a self-signed certificate usable as an IdP signing
// cert in configs. Generated once per test binary; the matching private
// key stays available so tests can produce assertions the configs trust.
func testCertPEM(t *testing.T) string {
	t.Helper()

	testCertOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			t.Fatalf("failed to generate key: %v", err)
		}
		template := x509.Certificate{
			SerialNumber: big.NewInt(1),
			Subject:      pkix.Name{CommonName: "idp.example.com"},
			NotBefore:    time.Now().Add(-time.Hour),
			NotAfter:     time.Now().Add(24 * time.Hour),
		}
		der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
		if err != nil {
			t.Fatalf("failed to create certificate: %v", err)
		}
		testCertKey = key
		testCertDER = der
		testCertData = string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
	})
	return testCertData
}

// testKeyStore signs XML with the test IdP key pair
type testKeyStore struct{}

func (testKeyStore) GetKeyPair() (*rsa.PrivateKey, []byte, error) {
	return testCertKey, testCertDER, nil
}

// newTestConfigStore creates a ConfigStore on an in-memory sqlite database
// with a schema equivalent to the postgres one.
func newTestConfigStore(t *testing.T) *ConfigStore {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	// sqlite stand-in for the postgres schema in Migrate
	_, err = db.Exec(`
		CREATE TABLE saml_configs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tenant TEXT NOT NULL,
			product TEXT NOT NULL,
			idp_entity_id TEXT NOT NULL,
			idp_sso_url TEXT NOT NULL,
			idp_slo_url TEXT,
			slo_binding TEXT NOT NULL DEFAULT 'redirect',
			idp_certificate TEXT NOT NULL,
			audience TEXT NOT NULL,
			acs_url TEXT NOT NULL,
			redirect_uris TEXT,
			client_id TEXT NOT NULL UNIQUE,
			client_secret_hash TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			UNIQUE(tenant, product)
		)
	`)
	require.NoError(t, err)

	return NewConfigStore(db)
}

// newTestStateStore creates a RedisStateStore backed by miniredis
func newTestStateStore(t *testing.T) (*RedisStateStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisStateStoreFromClient(client), mr
}

// testConfig returns a valid SAMLConfig for tenant acme, product crm
func testConfig(t *testing.T) *SAMLConfig {
	t.Helper()
	return &SAMLConfig{
		Tenant:         "acme",
		Product:        "crm",
		IdPEntityID:    "https://idp.example.com/metadata",
		IdPSSOURL:      "https://idp.example.com/sso",
		IdPSLOURL:      "https://idp.example.com/slo",
		IdPCertificate: testCertPEM(t),
		Audience:       "https://broker.example.com/saml",
		ACSURL:         "https://broker.example.com/oauth/saml",
		RedirectURIs:   []string{"https://app.example.com/callback"},
	}
}

// createTestConfig persists a testConfig and returns the stored copy with
// its plaintext client secret.
func createTestConfig(t *testing.T, store *ConfigStore) *SAMLConfig {
	t.Helper()
	created, err := store.Create(context.Background(), testConfig(t))
	require.NoError(t, err)
	return created
}
