/*
Package api holds the wire types of the token registry HTTP surface and the
server configuration shared by the commands.

The server itself lives in httpserver; a typed client for it lives in
api/clients.

# Endpoints

	GET    /api/session                    current wallet session
	POST   /api/session/connect            request account access
	POST   /api/session/switch-network     ask the wallet to switch to the required chain
	GET    /api/tokens                     cached registry snapshot
	POST   /api/tokens/refresh             re-read the registry
	POST   /api/tokens                     saveTokens (?wait=true blocks for the outcome)
	DELETE /api/tokens                     clearTokens
	POST   /api/owner                      transferOwnership
	GET    /api/transactions               transactions not yet reported
	GET    /api/transactions/{id}          transaction state; reports a terminal state once
	GET    /api/public/snapshots/{id}      archived snapshot by content id

Errors are returned as ErrorResponse with a status code derived from the
error kind: 400 invalid arguments, 403 rejected in the wallet, 409 not
connected or wrong network, 422 reverted, 502 read or provider failure,
503 wallet missing or unreachable.
*/
package api
