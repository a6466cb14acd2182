package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/ruteri/token-registry-sync/api"
	"github.com/ruteri/token-registry-sync/api/clients"
	"github.com/ruteri/token-registry-sync/cmd/flags"
	"github.com/ruteri/token-registry-sync/interfaces"
	"github.com/urfave/cli/v2"
)

var flagWait = &cli.BoolFlag{
	Name:  "wait",
	Value: true,
	Usage: "wait for the transaction to be confirmed",
}

var flagTimeout = &cli.DurationFlag{
	Name:  "timeout",
	Value: 60 * time.Second,
	Usage: "overall request timeout",
}

var flagToken = &cli.StringSliceFlag{
	Name:  "token",
	Usage: "token to save as ADDRESS:SYMBOL:PRICE_ETHER, repeatable",
}

var flagTokensFile = &cli.StringFlag{
	Name:  "file",
	Usage: "JSON file with a list of {tokenAddress, symbol, price|priceEther}, - for stdin",
}

func main() {
	app := &cli.App{
		Name:  "tokenctl",
		Usage: "Manage the TopTokens registry through a token-registry-sync server",
		Flags: []cli.Flag{flags.ServerAddrFlag, flagTimeout},
		Commands: []*cli.Command{
			{
				Name:  "status",
				Usage: "show the wallet session",
				Action: run(func(ctx context.Context, c *clients.SyncClient, cCtx *cli.Context) (interface{}, error) {
					return c.Session(ctx)
				}),
			},
			{
				Name:  "connect",
				Usage: "request wallet account access",
				Action: run(func(ctx context.Context, c *clients.SyncClient, cCtx *cli.Context) (interface{}, error) {
					return c.Connect(ctx)
				}),
			},
			{
				Name:  "switch-network",
				Usage: "ask the wallet to switch to the registry's chain",
				Action: run(func(ctx context.Context, c *clients.SyncClient, cCtx *cli.Context) (interface{}, error) {
					return c.SwitchNetwork(ctx)
				}),
			},
			{
				Name:  "tokens",
				Usage: "print the cached registry snapshot",
				Flags: []cli.Flag{&cli.StringFlag{Name: "archived", Usage: "content id of an archived snapshot to print instead"}},
				Action: run(func(ctx context.Context, c *clients.SyncClient, cCtx *cli.Context) (interface{}, error) {
					if archived := cCtx.String("archived"); archived != "" {
						id, err := interfaces.NewContentIDFromHex(archived)
						if err != nil {
							return nil, err
						}
						return c.ArchivedSnapshot(ctx, id)
					}
					return c.Tokens(ctx)
				}),
			},
			{
				Name:  "refresh",
				Usage: "re-read the registry from the chain",
				Action: run(func(ctx context.Context, c *clients.SyncClient, cCtx *cli.Context) (interface{}, error) {
					return c.Refresh(ctx)
				}),
			},
			{
				Name:  "save",
				Usage: "replace the registry contents",
				Flags: []cli.Flag{flagToken, flagTokensFile, flagWait},
				Action: run(func(ctx context.Context, c *clients.SyncClient, cCtx *cli.Context) (interface{}, error) {
					tokens, err := collectTokens(cCtx.StringSlice(flagToken.Name), cCtx.String(flagTokensFile.Name), os.Stdin)
					if err != nil {
						return nil, err
					}
					return c.SaveTokens(ctx, tokens, cCtx.Bool(flagWait.Name))
				}),
			},
			{
				Name:  "clear",
				Usage: "remove every registry record",
				Flags: []cli.Flag{flagWait},
				Action: run(func(ctx context.Context, c *clients.SyncClient, cCtx *cli.Context) (interface{}, error) {
					return c.ClearTokens(ctx, cCtx.Bool(flagWait.Name))
				}),
			},
			{
				Name:      "transfer-ownership",
				Usage:     "hand the registry to another account",
				ArgsUsage: "NEW_OWNER",
				Flags:     []cli.Flag{flagWait},
				Action: run(func(ctx context.Context, c *clients.SyncClient, cCtx *cli.Context) (interface{}, error) {
					owner := cCtx.Args().First()
					if !common.IsHexAddress(owner) {
						return nil, fmt.Errorf("invalid owner address %q", owner)
					}
					return c.TransferOwnership(ctx, common.HexToAddress(owner), cCtx.Bool(flagWait.Name))
				}),
			},
			{
				Name:      "tx",
				Usage:     "list pending transactions, or show one by id",
				ArgsUsage: "[ID]",
				Action: run(func(ctx context.Context, c *clients.SyncClient, cCtx *cli.Context) (interface{}, error) {
					if cCtx.NArg() == 0 {
						return c.Transactions(ctx)
					}
					id, err := uuid.Parse(cCtx.Args().First())
					if err != nil {
						return nil, err
					}
					return c.Transaction(ctx, id)
				}),
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

type commandFn func(ctx context.Context, c *clients.SyncClient, cCtx *cli.Context) (interface{}, error)

// run prints the command's result as JSON. A result returned alongside an
// error (a reverted or still pending transaction) is printed before the error.
func run(fn commandFn) cli.ActionFunc {
	return func(cCtx *cli.Context) error {
		ctx, cancel := context.WithTimeout(cCtx.Context, cCtx.Duration(flagTimeout.Name))
		defer cancel()

		c := clients.NewSyncClient(strings.TrimRight(cCtx.String(flags.ServerAddrFlag.Name), "/"))
		result, err := fn(ctx, c, cCtx)
		if result != nil && !isNil(result) {
			if perr := printJSON(os.Stdout, result); perr != nil {
				return perr
			}
		}
		return err
	}
}

func isNil(v interface{}) bool {
	switch r := v.(type) {
	case *api.SessionResponse:
		return r == nil
	case *api.TokensResponse:
		return r == nil
	case *api.TransactionResponse:
		return r == nil
	}
	return false
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// collectTokens builds the saveTokens batch from --token values and --file.
func collectTokens(args []string, file string, stdin io.Reader) ([]api.TokenInput, error) {
	var tokens []api.TokenInput
	for _, arg := range args {
		t, err := parseTokenArg(arg)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}

	if file != "" {
		var r io.Reader = stdin
		if file != "-" {
			f, err := os.Open(file)
			if err != nil {
				return nil, err
			}
			defer f.Close()
			r = f
		}
		var fromFile []api.TokenInput
		if err := json.NewDecoder(r).Decode(&fromFile); err != nil {
			return nil, fmt.Errorf("could not parse tokens file: %w", err)
		}
		tokens = append(tokens, fromFile...)
	}

	if len(tokens) == 0 {
		return nil, fmt.Errorf("no tokens given, use --token or --file")
	}
	return tokens, nil
}

// parseTokenArg parses ADDRESS:SYMBOL:PRICE_ETHER.
func parseTokenArg(arg string) (api.TokenInput, error) {
	parts := strings.SplitN(arg, ":", 3)
	if len(parts) != 3 {
		return api.TokenInput{}, fmt.Errorf("invalid token %q, expected ADDRESS:SYMBOL:PRICE_ETHER", arg)
	}
	if !common.IsHexAddress(parts[0]) {
		return api.TokenInput{}, fmt.Errorf("invalid token address %q", parts[0])
	}
	return api.TokenInput{
		TokenAddress: common.HexToAddress(parts[0]),
		Symbol:       parts[1],
		PriceEther:   parts[2],
	}, nil
}
