/*
Package httpserver exposes the token registry sync client over HTTP.

The server is a thin layer: every mutating request goes through the
transaction coordinator, reads come from the sync engine's cached snapshot,
and session endpoints drive the wallet connection. See package api for the
endpoint list and wire types.

# Error mapping

statusFor translates the client's sentinel errors:

	ErrInvalidArguments                         400
	ErrProviderRejected, ErrNetworkSwitchRejected 403
	ErrNotConnected, ErrNetworkMismatch         409
	ErrTransactionReverted                      422
	ErrReadFailed, ErrProviderError             502
	ErrWalletNotFound, ErrProviderUnavailable   503
	ErrStillPending                             202

# Health endpoints

  - /livez always answers 200 while the process runs
  - /readyz answers 503 after /drain until /undrain
  - /debug/pprof when EnablePprof is set

Prometheus metrics are served on a separate listener (MetricsAddr).
*/
package httpserver
