// Package main (cmd/httpserver) runs the token registry sync server.
//
// The server connects to a wallet provider, keeps a cached snapshot of the
// TopTokens registry in sync with the chain and exposes reads, writes and the
// session over HTTP (see package httpserver).
//
// The wallet provider is chosen from the flags:
//
//   - --mock-wallet: an in-memory wallet and registry, for demos and UI work
//   - --key-hex, --key-file or --vault-key-path: a keyed wallet signing locally
//     and forwarding everything else to --rpc-addr
//   - otherwise the accounts managed by the node at --rpc-addr
//
// Pending transactions survive restarts when --journal points at a bbolt file,
// and every snapshot and transaction outcome is archived to each --archive
// location (file://, s3://, ipfs:// or vault://).
//
// Example usage:
//
//	token-registry-sync --rpc-addr=http://localhost:8545 \
//	    --contract=0x5FbDB2315678afecb367f032d93F642f64180aa3 \
//	    --chain-id=1337 \
//	    --key-file=./wallet.key \
//	    --journal=./state/journal.db \
//	    --archive=file:///var/lib/token-registry/archive
package main
