// Package storage opens the broker's backing stores.
//
// PostgreSQL holds the durable per-tenant SAML configs; this package owns the
// connection pool setup and health-checkable handle. The short-lived protocol
// records (pending auth requests, codes, tokens, pending logouts) live in
// Redis and are managed by pkg/sso's state store.
package storage
