// Package audit records the broker's security-relevant events.
//
// Config lifecycle changes and login/logout outcomes are written to the
// audit_events table in the config database and queryable via
// GET /api/v1/audit/events. Auditing is best effort: a failed write is
// logged but never fails the operation it describes.
package audit
