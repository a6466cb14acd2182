// Package registry provides access to the TopTokens registry contract through
// the user's wallet provider.
//
// ContractClient is the generic layer. It encodes calls against the contract
// ABI, validates arguments before anything leaves the process, and routes
// reads through eth_call and writes through eth_sendTransaction as the
// session's account. It refuses to do either unless the session is Connected.
//
// TokenRegistry is the typed facade over the contract:
//
//   - GetTokens, GetTokenCount and Owner read contract state
//   - SaveTokens, ClearTokens and TransferOwnership build write descriptors
//     for the transaction coordinator
//
// Records read from the chain are re-checked with TokenRecord.Validate before
// they are handed to callers. Writes are checked with ValidateSaveTokens, which
// mirrors the contract's own revert conditions.
//
// MockWallet emulates both the wallet and the deployed contract in memory and
// is used throughout the tests and by the daemon's --mock-wallet mode.
package registry
