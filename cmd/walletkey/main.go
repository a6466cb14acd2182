package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/token-registry-sync/cmd/flags"
	"github.com/urfave/cli/v2"
)

var flagOut = &cli.StringFlag{
	Name:     "out",
	Required: true,
	Usage:    "file to write the hex encoded private key to",
}

func main() {
	app := &cli.App{
		Name:  "walletkey",
		Usage: "Create and inspect keys for the keyed wallet",
		Commands: []*cli.Command{
			{
				Name:  "generate",
				Usage: "generate a new secp256k1 key and write it to --out",
				Flags: []cli.Flag{flagOut},
				Action: func(cCtx *cli.Context) error {
					return generateKey(cCtx.String(flagOut.Name))
				},
			},
			{
				Name:  "address",
				Usage: "print the account address of the configured key",
				Flags: []cli.Flag{
					flags.KeyHexFlag,
					flags.KeyFileFlag,
					flags.VaultAddrFlag,
					flags.VaultTokenFlag,
					flags.VaultMountFlag,
					flags.VaultKeyPathFlag,
				},
				Action: func(cCtx *cli.Context) error {
					key, err := flags.LoadWalletKey(cCtx.Context, cCtx)
					if err != nil {
						return fmt.Errorf("failed to load key: %w", err)
					}
					fmt.Println(crypto.PubkeyToAddress(key.PublicKey).Hex())
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func generateKey(out string) error {
	if _, err := os.Stat(out); err == nil {
		return fmt.Errorf("refusing to overwrite existing key file %s", out)
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(out), 0o700); err != nil {
		return err
	}
	encoded := hexutil.Encode(crypto.FromECDSA(key))
	if err := os.WriteFile(out, []byte(encoded+"\n"), 0o600); err != nil {
		return fmt.Errorf("failed to write key: %w", err)
	}

	fmt.Printf("Wrote key for address %s to %s\n", crypto.PubkeyToAddress(key.PublicKey).Hex(), out)
	return nil
}
