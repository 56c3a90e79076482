// Package replication is the client half of the transaction replication
// protocol.
//
// A Client owns one transport. Callers register a single Subscriber, which
// performs the catch-up handshake, and then submit transactions one at a
// time; each Submit blocks until the authority echoes the transaction back.
// One receive goroutine reads every message, advances the logical Clock and
// delivers echoed and foreign transactions to the Subscriber in order.
//
// Submissions carry no request id. At most one is in flight, so the next
// echo marker always belongs to it.
package replication
