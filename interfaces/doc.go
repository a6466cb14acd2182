// Package interfaces defines the types shared by every component of the token
// registry sync client, separating them from implementations.
//
// # Wallet boundary
//
// ProviderGateway: the injected wallet provider. A JSON-RPC request method plus
// a feed of chainChanged/accountsChanged notifications.
//
// # Registry data
//
// TokenRecord: one registry entry (address, symbol, wei price, timestamp).
//
// RegistrySnapshot: the locally cached, full ordered view of the registry.
// Replaced wholesale on every refresh.
//
// # Connection state
//
// Session: Disconnected, Connecting, Connected or WrongNetwork plus the active
// account and the chain id last reported by the wallet.
//
// # Errors
//
// All failures resolve to the sentinels in errors.go. On-chain reverts are
// reported as *RevertError, which matches ErrTransactionReverted.
//
// # Archive storage
//
// StorageBackend: content-addressed storage for archived snapshots and
// transaction outcomes (file, S3, IPFS, Vault).
package interfaces
