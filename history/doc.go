// Package history keeps the persistent call log.
//
// Every finished call, whatever its outcome, becomes one Record. The log is
// append-only during a session, capped at the most recent DefaultLimit
// entries, and persisted to a versioned JSON file with the same
// temp-file-and-rename discipline as the peer directory, so a crash
// mid-write never truncates the previous good copy. Logging a call must
// never interfere with handling the next one: persistence failures are
// logged and the in-memory log stays authoritative for the session.
package history
