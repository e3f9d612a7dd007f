// Package sso implements the SAML-to-OAuth2 bridge at the heart of the broker.
//
// # Overview
//
// Applications speak plain OAuth2 authorization-code flow to this package;
// enterprise identity providers speak SAML 2.0. Each (tenant, product) pair
// maps to one connection config that carries the IdP metadata and the
// client credentials the application uses.
//
// # Login Flow
//
//  1. GET /oauth/authorize records a pending authorization and returns the
//     IdP redirect URL with a signed-request correlation ID.
//  2. The IdP posts the SAMLResponse to /oauth/saml. The validator checks
//     signature, time window, and audience, consumes the pending record,
//     and redirects back to the application with a one-time code.
//  3. POST /oauth/token exchanges the code for a bearer access token.
//  4. GET /oauth/userinfo returns the profile extracted from the assertion.
//
// # Usage Example
//
// Wire the engines and mount the routes:
//
//	configs := sso.NewConfigStore(db)
//	state := sso.NewRedisStateStore(redisClient)
//	handlers := sso.NewHandlers(configs, state, sso.HandlersConfig{
//		PendingAuthTTL: 5 * time.Minute,
//		CodeTTL:        2 * time.Minute,
//		TokenTTL:       time.Hour,
//		LogoutTTL:      5 * time.Minute,
//	}, logger, metrics)
//	handlers.RegisterRoutes(router)
//
// # State
//
// Durable connection configs live in Postgres via ConfigStore. Pending
// authorizations, codes, tokens, and in-flight logout requests are
// short-lived records in Redis via StateStore; codes and logout requests
// are consumed atomically so replays fail.
//
// # Single Logout
//
// POST /oauth/logout builds a signed-out LogoutRequest for the IdP using
// either the redirect or POST binding. The IdP's LogoutResponse comes back
// on /oauth/logout/callback and is correlated against the stored request.
//
// # Related Packages
//
//   - pkg/audit: records login, token, and config lifecycle outcomes
//   - pkg/storage: Postgres pool the ConfigStore runs on
package sso
