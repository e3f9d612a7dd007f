// Package middleware provides HTTP middleware for the broker's public surface.
//
// The rate limiter is Redis-backed so limits hold across replicas; it is
// applied to the credential-bearing endpoints (token exchange and the
// assertion consumer service) where brute forcing is a concern. On Redis
// failure it fails open.
package middleware
