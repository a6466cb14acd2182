// Package session implements the wallet connection state machine.
//
//	Disconnected ──Connect──▶ Connecting ──▶ Connected
//	                              │              │  ▲
//	                              ▼              ▼  │
//	                          WrongNetwork ◀─────┘  │
//	                              └──chain back─────┘
//
// ConnectionSession is the single writer of the session. Wallet notifications
// are consumed by Run only, and every notification is re-checked against the
// wallet before the state changes. Observers (the registry sync engine) are
// called synchronously after each transition, in transition order.
//
// Rules beyond the diagram:
//
//   - an empty accountsChanged while Connected or WrongNetwork disconnects
//   - a new account while Connected stays Connected and triggers a refresh
//   - a new account while WrongNetwork is recorded without a transition
//   - returning from WrongNetwork to the required chain asks eth_accounts and
//     lands in Disconnected if the wallet no longer grants access
//   - a repeated chainChanged for the chain already evaluated while
//     WrongNetwork does nothing
package session
