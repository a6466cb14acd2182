package provider

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/hashicorp/vault/api"
)

// ErrKeyNotFound is returned when a key source holds no usable key.
var ErrKeyNotFound = errors.New("wallet key not found")

// LoadKeyHex parses a hex encoded secp256k1 private key, with or without 0x prefix.
func LoadKeyHex(hexKey string) (*ecdsa.PrivateKey, error) {
	clean := strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if clean == "" {
		return nil, ErrKeyNotFound
	}
	key, err := crypto.HexToECDSA(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}

// LoadKeyFile reads a hex encoded private key from a file.
func LoadKeyFile(path string) (*ecdsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	return LoadKeyHex(string(data))
}

// VaultKeyLocation points at a hex private key stored in a KV v2 secret.
type VaultKeyLocation struct {
	Address string
	Token   string
	Mount   string
	Path    string
	// Field within the secret data, "private_key" when empty.
	Field string
}

// LoadKeyFromVault reads the private key from HashiCorp Vault.
func LoadKeyFromVault(ctx context.Context, loc VaultKeyLocation) (*ecdsa.PrivateKey, error) {
	config := api.DefaultConfig()
	if loc.Address != "" {
		config.Address = loc.Address
	}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if loc.Token != "" {
		client.SetToken(loc.Token)
	}

	field := loc.Field
	if field == "" {
		field = "private_key"
	}

	secretPath := fmt.Sprintf("%s/data/%s", strings.Trim(loc.Mount, "/"), strings.Trim(loc.Path, "/"))
	secret, err := client.Logical().ReadWithContext(ctx, secretPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret from Vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, secretPath)
	}

	// KV v2 nests the payload under "data".
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: %s has no data", ErrKeyNotFound, secretPath)
	}
	hexKey, ok := data[field].(string)
	if !ok {
		return nil, fmt.Errorf("%w: field %q missing in %s", ErrKeyNotFound, field, secretPath)
	}
	return LoadKeyHex(hexKey)
}
