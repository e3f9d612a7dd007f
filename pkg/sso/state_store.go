package sso

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrStateNotFound is returned by the state store when a record is absent,
// already consumed, or expired. The three cases are intentionally
// indistinguishable.
var ErrStateNotFound = errors.New("state record not found")

// Key namespaces for store-resident records
const (
	keyAuthRequest   = "authreq:"
	keyCode          = "code:"
	keyToken         = "token:"
	keyLogoutRequest = "logoutreq:"
)

// PendingCounts reports the live record population per namespace
type PendingCounts struct {
	AuthRequests   int64
	Codes          int64
	Tokens         int64
	LogoutRequests int64
}

// StateStore owns every time-bound broker record. No in-process cache is
// authoritative; the engine stays stateless between requests.
//
// Consume operations must be atomic: two concurrent consumers of the same
// key must not both succeed.
type StateStore interface {
	PutAuthRequest(ctx context.Context, req *PendingAuthRequest) error
	// GetAuthRequest peeks without consuming; validation happens before
	// the atomic consume commits the single use.
	GetAuthRequest(ctx context.Context, id string) (*PendingAuthRequest, error)
	ConsumeAuthRequest(ctx context.Context, id string) (*PendingAuthRequest, error)

	PutCode(ctx context.Context, code *AuthorizationCode) error
	ConsumeCode(ctx context.Context, code string) (*AuthorizationCode, error)

	PutToken(ctx context.Context, token *AccessToken) error
	GetToken(ctx context.Context, token string) (*AccessToken, error)

	PutLogoutRequest(ctx context.Context, req *PendingLogoutRequest) error
	GetLogoutRequest(ctx context.Context, id string) (*PendingLogoutRequest, error)
	ConsumeLogoutRequest(ctx context.Context, id string) (*PendingLogoutRequest, error)

	// DeleteTenantState removes all pending records for a tenant+product,
	// used when its SAMLConfig is deleted.
	DeleteTenantState(ctx context.Context, tenant, product string) error

	CountPending(ctx context.Context) (PendingCounts, error)
	SweepExpired(ctx context.Context) (int, error)

	Ping(ctx context.Context) error
	Close() error
}

// RedisStateStore implements StateStore on Redis. Expiry is enforced by
// key TTLs; single-use consumption relies on GETDEL.
type RedisStateStore struct {
	client *redis.Client
}

// NewRedisStateStore creates a state store from a Redis URL
func NewRedisStateStore(redisURL string) (*RedisStateStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStateStore{client: client}, nil
}

// NewRedisStateStoreFromClient wraps an existing client (used by tests)
func NewRedisStateStoreFromClient(client *redis.Client) *RedisStateStore {
	return &RedisStateStore{client: client}
}

func (s *RedisStateStore) put(ctx context.Context, key string, record interface{}, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return fmt.Errorf("record already expired")
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	return s.client.Set(ctx, key, data, ttl).Err()
}

func (s *RedisStateStore) consume(ctx context.Context, key string, record interface{}) error {
	data, err := s.client.GetDel(ctx, key).Result()
	if err == redis.Nil {
		return ErrStateNotFound
	} else if err != nil {
		return fmt.Errorf("redis getdel failed: %w", err)
	}

	if err := json.Unmarshal([]byte(data), record); err != nil {
		return fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return nil
}

// PutAuthRequest persists a pending authentication attempt
func (s *RedisStateStore) PutAuthRequest(ctx context.Context, req *PendingAuthRequest) error {
	return s.put(ctx, keyAuthRequest+req.ID, req, req.ExpiresAt)
}

// GetAuthRequest fetches a pending request without consuming it
func (s *RedisStateStore) GetAuthRequest(ctx context.Context, id string) (*PendingAuthRequest, error) {
	data, err := s.client.Get(ctx, keyAuthRequest+id).Result()
	if err == redis.Nil {
		return nil, ErrStateNotFound
	} else if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var req PendingAuthRequest
	if err := json.Unmarshal([]byte(data), &req); err != nil {
		return nil, fmt.Errorf("failed to unmarshal auth request: %w", err)
	}
	if time.Now().After(req.ExpiresAt) {
		return nil, ErrStateNotFound
	}
	return &req, nil
}

// ConsumeAuthRequest atomically fetches and deletes a pending request
func (s *RedisStateStore) ConsumeAuthRequest(ctx context.Context, id string) (*PendingAuthRequest, error) {
	var req PendingAuthRequest
	if err := s.consume(ctx, keyAuthRequest+id, &req); err != nil {
		return nil, err
	}
	if time.Now().After(req.ExpiresAt) {
		return nil, ErrStateNotFound
	}
	return &req, nil
}

// PutCode persists an authorization code keyed by its hash
func (s *RedisStateStore) PutCode(ctx context.Context, code *AuthorizationCode) error {
	return s.put(ctx, keyCode+hashSecret(code.Code), code, code.ExpiresAt)
}

// ConsumeCode atomically redeems an authorization code. A second call for
// the same code observes ErrStateNotFound.
func (s *RedisStateStore) ConsumeCode(ctx context.Context, code string) (*AuthorizationCode, error) {
	var record AuthorizationCode
	if err := s.consume(ctx, keyCode+hashSecret(code), &record); err != nil {
		return nil, err
	}
	if time.Now().After(record.ExpiresAt) {
		return nil, ErrStateNotFound
	}
	record.Code = code
	return &record, nil
}

// PutToken persists an access token keyed by its hash
func (s *RedisStateStore) PutToken(ctx context.Context, token *AccessToken) error {
	return s.put(ctx, keyToken+hashSecret(token.Token), token, token.ExpiresAt)
}

// GetToken resolves a bearer token without consuming it
func (s *RedisStateStore) GetToken(ctx context.Context, token string) (*AccessToken, error) {
	data, err := s.client.Get(ctx, keyToken+hashSecret(token)).Result()
	if err == redis.Nil {
		return nil, ErrStateNotFound
	} else if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var record AccessToken
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}
	if time.Now().After(record.ExpiresAt) {
		return nil, ErrStateNotFound
	}
	record.Token = token
	return &record, nil
}

// PutLogoutRequest persists a pending logout correlation record
func (s *RedisStateStore) PutLogoutRequest(ctx context.Context, req *PendingLogoutRequest) error {
	return s.put(ctx, keyLogoutRequest+req.ID, req, req.ExpiresAt)
}

// GetLogoutRequest fetches a pending logout without consuming it
func (s *RedisStateStore) GetLogoutRequest(ctx context.Context, id string) (*PendingLogoutRequest, error) {
	data, err := s.client.Get(ctx, keyLogoutRequest+id).Result()
	if err == redis.Nil {
		return nil, ErrStateNotFound
	} else if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var req PendingLogoutRequest
	if err := json.Unmarshal([]byte(data), &req); err != nil {
		return nil, fmt.Errorf("failed to unmarshal logout request: %w", err)
	}
	if time.Now().After(req.ExpiresAt) {
		return nil, ErrStateNotFound
	}
	return &req, nil
}

// ConsumeLogoutRequest atomically fetches and deletes a pending logout
func (s *RedisStateStore) ConsumeLogoutRequest(ctx context.Context, id string) (*PendingLogoutRequest, error) {
	var req PendingLogoutRequest
	if err := s.consume(ctx, keyLogoutRequest+id, &req); err != nil {
		return nil, err
	}
	if time.Now().After(req.ExpiresAt) {
		return nil, ErrStateNotFound
	}
	return &req, nil
}

// tenantScoped is the subset of fields needed to match records during a
// tenant cascade delete.
type tenantScoped struct {
	Tenant  string `json:"tenant"`
	Product string `json:"product"`
}

// DeleteTenantState scans pending namespaces and removes records owned by
// the tenant+product. Codes and tokens are left to expire naturally; only
// correlation records can be replayed against a recreated config.
func (s *RedisStateStore) DeleteTenantState(ctx context.Context, tenant, product string) error {
	for _, prefix := range []string{keyAuthRequest, keyLogoutRequest} {
		iter := s.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			key := iter.Val()
			data, err := s.client.Get(ctx, key).Result()
			if err == redis.Nil {
				continue
			} else if err != nil {
				return fmt.Errorf("redis get failed for %s: %w", key, err)
			}

			var scoped tenantScoped
			if err := json.Unmarshal([]byte(data), &scoped); err != nil {
				continue
			}
			if scoped.Tenant == tenant && scoped.Product == product {
				if err := s.client.Del(ctx, key).Err(); err != nil {
					return fmt.Errorf("failed to delete %s: %w", key, err)
				}
			}
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("scan failed for %s: %w", prefix, err)
		}
	}
	return nil
}

// CountPending reports live record counts per namespace
func (s *RedisStateStore) CountPending(ctx context.Context) (PendingCounts, error) {
	var counts PendingCounts
	for prefix, target := range map[string]*int64{
		keyAuthRequest:   &counts.AuthRequests,
		keyCode:          &counts.Codes,
		keyToken:         &counts.Tokens,
		keyLogoutRequest: &counts.LogoutRequests,
	} {
		iter := s.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			*target++
		}
		if err := iter.Err(); err != nil {
			return counts, fmt.Errorf("scan failed for %s: %w", prefix, err)
		}
	}
	return counts, nil
}

// SweepExpired removes records that outlived their embedded expiry but
// lost their key TTL. Redis TTLs are the primary expiry mechanism; this
// sweep only repairs keys persisted without one.
func (s *RedisStateStore) SweepExpired(ctx context.Context) (int, error) {
	removed := 0
	for _, prefix := range []string{keyAuthRequest, keyCode, keyToken, keyLogoutRequest} {
		iter := s.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			key := iter.Val()

			ttl, err := s.client.TTL(ctx, key).Result()
			if err != nil {
				return removed, fmt.Errorf("ttl lookup failed for %s: %w", key, err)
			}
			if ttl > 0 {
				continue // healthy key, Redis will expire it
			}

			data, err := s.client.Get(ctx, key).Result()
			if err == redis.Nil {
				continue
			} else if err != nil {
				return removed, fmt.Errorf("redis get failed for %s: %w", key, err)
			}

			var record struct {
				ExpiresAt time.Time `json:"expires_at"`
			}
			if err := json.Unmarshal([]byte(data), &record); err != nil || time.Now().After(record.ExpiresAt) {
				if err := s.client.Del(ctx, key).Err(); err != nil {
					return removed, fmt.Errorf("failed to delete %s: %w", key, err)
				}
				removed++
			}
		}
		if err := iter.Err(); err != nil {
			return removed, fmt.Errorf("scan failed for %s: %w", prefix, err)
		}
	}
	return removed, nil
}

// Ping checks Redis connectivity
func (s *RedisStateStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Client returns the underlying Redis client for health checks
func (s *RedisStateStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection
func (s *RedisStateStore) Close() error {
	return s.client.Close()
}
