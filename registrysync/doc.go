// Package registrysync keeps a local snapshot of the token registry in sync
// with the contract.
//
// Every refresh reads the whole ordered record list and replaces the snapshot
// atomically. The engine never patches a snapshot from event data.
//
// Refreshes are triggered by the session (fresh connection or account change),
// by the transaction coordinator after a confirmed write, and on demand.
// Concurrent requests share one read, except that a post-confirmation request
// never shares a read that started before it was made.
//
// Clear drops the snapshot when the session disconnects or moves to the wrong
// network. A read that was in flight at that moment cannot re-install its
// result.
package registrysync
