package sso

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const (
	// clientSecretPrefix identifies broker-issued client secrets
	clientSecretPrefix = "fedsk_"
	// clientSecretLength is the number of random bytes per secret
	clientSecretLength = 32
)

// ConfigStore persists per-tenant SAML connection configuration
type ConfigStore struct {
	db *sql.DB
}

// NewConfigStore creates a config store over an open database handle
func NewConfigStore(db *sql.DB) *ConfigStore {
	return &ConfigStore{db: db}
}

// Migrate creates the saml_configs table if it does not exist
func (s *ConfigStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS saml_configs (
			id BIGSERIAL PRIMARY KEY,
			tenant VARCHAR(255) NOT NULL,
			product VARCHAR(255) NOT NULL,
			idp_entity_id TEXT NOT NULL,
			idp_sso_url TEXT NOT NULL,
			idp_slo_url TEXT,
			slo_binding VARCHAR(16) NOT NULL DEFAULT 'redirect',
			idp_certificate TEXT NOT NULL,
			audience TEXT NOT NULL,
			acs_url TEXT NOT NULL,
			redirect_uris TEXT,
			client_id VARCHAR(64) NOT NULL UNIQUE,
			client_secret_hash VARCHAR(64) NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			UNIQUE(tenant, product)
		);

		CREATE INDEX IF NOT EXISTS idx_saml_configs_client_id ON saml_configs(client_id);
	`)
	if err != nil {
		return fmt.Errorf("failed to migrate saml_configs: %w", err)
	}
	return nil
}

// generateClientSecret creates a fresh secret and its storage hash.
// The plaintext is returned to the caller exactly once.
func generateClientSecret() (secret string, secretHash string, err error) {
	randomBytes := make([]byte, clientSecretLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	secret = clientSecretPrefix + base64.RawURLEncoding.EncodeToString(randomBytes)
	return secret, hashSecret(secret), nil
}

const configColumns = `id, tenant, product, idp_entity_id, idp_sso_url, idp_slo_url, slo_binding,
	idp_certificate, audience, acs_url, redirect_uris, client_id, client_secret_hash,
	created_at, updated_at`

// scanConfig reads one saml_configs row
func scanConfig(row *sql.Row) (*SAMLConfig, error) {
	var (
		cfg              SAMLConfig
		sloURL           sql.NullString
		redirectURIsJSON []byte
	)

	err := row.Scan(
		&cfg.ID, &cfg.Tenant, &cfg.Product, &cfg.IdPEntityID, &cfg.IdPSSOURL,
		&sloURL, &cfg.SLOBinding, &cfg.IdPCertificate, &cfg.Audience, &cfg.ACSURL,
		&redirectURIsJSON, &cfg.ClientID, &cfg.ClientSecretHash,
		&cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		return nil, err
	}

	cfg.IdPSLOURL = sloURL.String
	if len(redirectURIsJSON) > 0 {
		if err := json.Unmarshal(redirectURIsJSON, &cfg.RedirectURIs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal redirect URIs: %w", err)
		}
	}
	return &cfg, nil
}

// Create persists a new config and generates its client credentials.
// The returned config carries the plaintext client secret; it is never
// retrievable again.
func (s *ConfigStore) Create(ctx context.Context, cfg *SAMLConfig) (*SAMLConfig, error) {
	exists, err := s.exists(ctx, cfg.Tenant, cfg.Product)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, Errorf(KindDuplicateConfig, "config for tenant %q product %q already exists", cfg.Tenant, cfg.Product)
	}

	secret, secretHash, err := generateClientSecret()
	if err != nil {
		return nil, err
	}

	created := *cfg
	created.ClientID = uuid.NewString()
	created.ClientSecret = secret
	created.ClientSecretHash = secretHash
	if created.SLOBinding == "" {
		created.SLOBinding = SLOBindingRedirect
	}
	now := time.Now().UTC()
	created.CreatedAt = now
	created.UpdatedAt = now

	var redirectURIsJSON []byte
	if len(created.RedirectURIs) > 0 {
		redirectURIsJSON, err = json.Marshal(created.RedirectURIs)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal redirect URIs: %w", err)
		}
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO saml_configs (
			tenant, product, idp_entity_id, idp_sso_url, idp_slo_url, slo_binding,
			idp_certificate, audience, acs_url, redirect_uris, client_id,
			client_secret_hash, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id
	`, created.Tenant, created.Product, created.IdPEntityID, created.IdPSSOURL,
		nullString(created.IdPSLOURL), created.SLOBinding, created.IdPCertificate,
		created.Audience, created.ACSURL, redirectURIsJSON, created.ClientID,
		created.ClientSecretHash, created.CreatedAt, created.UpdatedAt).Scan(&created.ID)
	if err != nil {
		// The exists check above is not atomic with the insert; the loser
		// of a concurrent create lands here.
		if isUniqueViolation(err) {
			return nil, Errorf(KindDuplicateConfig, "config for tenant %q product %q already exists", created.Tenant, created.Product)
		}
		return nil, fmt.Errorf("failed to insert config: %w", err)
	}

	return &created, nil
}

// Get retrieves a config by (tenant, product) or client id. The client
// secret is never returned.
func (s *ConfigStore) Get(ctx context.Context, key ConfigKey) (*SAMLConfig, error) {
	cfg, err := s.get(ctx, key)
	if err != nil {
		return nil, err
	}
	cfg.ClientSecretHash = ""
	return cfg, nil
}

// get retrieves a config including the secret hash, for internal use
func (s *ConfigStore) get(ctx context.Context, key ConfigKey) (*SAMLConfig, error) {
	var row *sql.Row
	if key.ClientID != "" {
		row = s.db.QueryRowContext(ctx,
			`SELECT `+configColumns+` FROM saml_configs WHERE client_id = $1`, key.ClientID)
	} else {
		row = s.db.QueryRowContext(ctx,
			`SELECT `+configColumns+` FROM saml_configs WHERE tenant = $1 AND product = $2`,
			key.Tenant, key.Product)
	}

	cfg, err := scanConfig(row)
	if err == sql.ErrNoRows {
		return nil, Errorf(KindConfigNotFound, "no config for %s", key.describe())
	} else if err != nil {
		return nil, fmt.Errorf("failed to query config: %w", err)
	}
	return cfg, nil
}

// VerifyClientCredentials checks a client id/secret pair and returns the
// matching config on success.
func (s *ConfigStore) VerifyClientCredentials(ctx context.Context, clientID, clientSecret string) (*SAMLConfig, error) {
	cfg, err := s.get(ctx, ConfigKey{ClientID: clientID})
	if err != nil {
		if IsKind(err, KindConfigNotFound) {
			return nil, Errorf(KindInvalidClient, "unknown client")
		}
		return nil, err
	}

	if subtle.ConstantTimeCompare([]byte(hashSecret(clientSecret)), []byte(cfg.ClientSecretHash)) != 1 {
		return nil, Errorf(KindInvalidClient, "client secret mismatch")
	}

	cfg.ClientSecretHash = ""
	return cfg, nil
}

// Update applies a partial patch. Tenant, product and client credentials
// are immutable.
func (s *ConfigStore) Update(ctx context.Context, key ConfigKey, patch ConfigPatch) (*SAMLConfig, error) {
	cfg, err := s.get(ctx, key)
	if err != nil {
		return nil, err
	}

	if patch.IdPEntityID != nil {
		cfg.IdPEntityID = *patch.IdPEntityID
	}
	if patch.IdPSSOURL != nil {
		cfg.IdPSSOURL = *patch.IdPSSOURL
	}
	if patch.IdPSLOURL != nil {
		cfg.IdPSLOURL = *patch.IdPSLOURL
	}
	if patch.SLOBinding != nil {
		cfg.SLOBinding = *patch.SLOBinding
	}
	if patch.IdPCertificate != nil {
		cfg.IdPCertificate = *patch.IdPCertificate
	}
	if patch.Audience != nil {
		cfg.Audience = *patch.Audience
	}
	if patch.ACSURL != nil {
		cfg.ACSURL = *patch.ACSURL
	}
	if patch.RedirectURIs != nil {
		cfg.RedirectURIs = *patch.RedirectURIs
	}
	cfg.UpdatedAt = time.Now().UTC()

	var redirectURIsJSON []byte
	if len(cfg.RedirectURIs) > 0 {
		redirectURIsJSON, err = json.Marshal(cfg.RedirectURIs)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal redirect URIs: %w", err)
		}
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE saml_configs
		SET idp_entity_id = $1, idp_sso_url = $2, idp_slo_url = $3, slo_binding = $4,
			idp_certificate = $5, audience = $6, acs_url = $7, redirect_uris = $8,
			updated_at = $9
		WHERE id = $10
	`, cfg.IdPEntityID, cfg.IdPSSOURL, nullString(cfg.IdPSLOURL), cfg.SLOBinding,
		cfg.IdPCertificate, cfg.Audience, cfg.ACSURL, redirectURIsJSON,
		cfg.UpdatedAt, cfg.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to update config: %w", err)
	}

	cfg.ClientSecretHash = ""
	return cfg, nil
}

// Delete removes a config and reports the tenant+product it owned so the
// caller can cascade pending-state removal.
func (s *ConfigStore) Delete(ctx context.Context, key ConfigKey) (tenant, product string, err error) {
	cfg, err := s.get(ctx, key)
	if err != nil {
		return "", "", err
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM saml_configs WHERE id = $1`, cfg.ID); err != nil {
		return "", "", fmt.Errorf("failed to delete config: %w", err)
	}
	return cfg.Tenant, cfg.Product, nil
}

// List returns all configs, secrets stripped
func (s *ConfigStore) List(ctx context.Context) ([]*SAMLConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+configColumns+` FROM saml_configs ORDER BY tenant, product`)
	if err != nil {
		return nil, fmt.Errorf("failed to query configs: %w", err)
	}
	defer rows.Close()

	var configs []*SAMLConfig
	for rows.Next() {
		var (
			cfg              SAMLConfig
			sloURL           sql.NullString
			redirectURIsJSON []byte
		)
		err := rows.Scan(
			&cfg.ID, &cfg.Tenant, &cfg.Product, &cfg.IdPEntityID, &cfg.IdPSSOURL,
			&sloURL, &cfg.SLOBinding, &cfg.IdPCertificate, &cfg.Audience, &cfg.ACSURL,
			&redirectURIsJSON, &cfg.ClientID, &cfg.ClientSecretHash,
			&cfg.CreatedAt, &cfg.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan config: %w", err)
		}

		cfg.IdPSLOURL = sloURL.String
		if len(redirectURIsJSON) > 0 {
			if err := json.Unmarshal(redirectURIsJSON, &cfg.RedirectURIs); err != nil {
				return nil, fmt.Errorf("failed to unmarshal redirect URIs: %w", err)
			}
		}
		cfg.ClientSecretHash = ""
		configs = append(configs, &cfg)
	}

	return configs, rows.Err()
}

// exists checks if a (tenant, product) pairing is already configured
func (s *ConfigStore) exists(ctx context.Context, tenant, product string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM saml_configs WHERE tenant = $1 AND product = $2)`,
		tenant, product).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check config existence: %w", err)
	}
	return exists, nil
}

func (k ConfigKey) describe() string {
	if k.ClientID != "" {
		return fmt.Sprintf("client %s", k.ClientID)
	}
	return fmt.Sprintf("tenant %q product %q", k.Tenant, k.Product)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// isUniqueViolation reports whether err is a unique-constraint failure.
// Postgres signals class 23505; the sqlite driver used in tests reports a
// textual error.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
