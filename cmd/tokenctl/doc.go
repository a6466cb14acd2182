// Package main (cmd/tokenctl) is a command-line client for the token
// registry sync server.
//
//	tokenctl connect
//	tokenctl save --token 0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2:WETH:0.5
//	tokenctl tokens
//	tokenctl tx 3f1c...    # outcome of a transaction submitted with --wait=false
//
// Results are printed as JSON. A reverted transaction prints its outcome and
// exits non-zero with the revert reason.
package main
