/*
Package clients provides a Go client for the token registry sync HTTP API.

SyncClient wraps every endpoint served by package httpserver. Non-2xx
responses come back as *StatusError carrying the status code, the server's
message and, for reverted transactions, the revert reason. Writes return the
transaction as soon as it is submitted unless wait is set.

	c := clients.NewSyncClient("http://127.0.0.1:8080")
	if _, err := c.Connect(ctx); err != nil {
		return err
	}
	tx, err := c.SaveTokens(ctx, []api.TokenInput{{
		TokenAddress: weth,
		Symbol:       "WETH",
		PriceEther:   "0.5",
	}}, true)
*/
package clients
