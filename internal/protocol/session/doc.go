// Package session owns the replication session wire contract.
//
// Ownership boundary:
// - tagged replication messages (handshake, submission, caught-up, error,
//   heartbeat, echo, foreign capsule) and their frame encoding
// - session timeouts, dial backoff and transport security settings
package session
