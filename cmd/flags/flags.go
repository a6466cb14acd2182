package flags

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"strings"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/ruteri/token-registry-sync/api"
	"github.com/ruteri/token-registry-sync/common"
	"github.com/ruteri/token-registry-sync/interfaces"
	"github.com/ruteri/token-registry-sync/provider"
	"github.com/urfave/cli/v2"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String("log-service")

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger, listenAddr string) *api.HTTPServerConfig {
	metricsAddr := cCtx.String(MetricsAddrFlag.Name)
	enablePprof := cCtx.Bool(PprofFlag.Name)
	drainDuration := time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second

	return &api.HTTPServerConfig{
		ListenAddr:               listenAddr,
		MetricsAddr:              metricsAddr,
		Log:                      logger,
		EnablePprof:              enablePprof,
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             cCtx.Duration(WaitTimeoutFlag.Name) + 10*time.Second,
		WaitTimeout:              cCtx.Duration(WaitTimeoutFlag.Name),
	}
}

// ConfigureClient collects the sync client flags into a validated ClientConfig.
func ConfigureClient(cCtx *cli.Context) (*interfaces.ClientConfig, error) {
	contract := cCtx.String(ContractFlag.Name)
	if !ethcommon.IsHexAddress(contract) {
		return nil, fmt.Errorf("%w: invalid contract address %q", interfaces.ErrInvalidConfig, contract)
	}

	network := interfaces.DefaultLocalNetwork()
	network.ChainID = cCtx.Uint64(ChainIDFlag.Name)
	if name := cCtx.String(ChainNameFlag.Name); name != "" {
		network.ChainName = name
	}
	if rpcURL := cCtx.String(RpcAddrFlag.Name); rpcURL != "" {
		network.RPCURLs = []string{rpcURL}
	}

	cfg := &interfaces.ClientConfig{
		ContractAddress:          ethcommon.HexToAddress(contract),
		Network:                  network,
		MaxRecords:               cCtx.Int(MaxRecordsFlag.Name),
		ConfirmationPollInterval: cCtx.Duration(PollIntervalFlag.Name),
		ReadTimeout:              cCtx.Duration(ReadTimeoutFlag.Name),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadWalletKey reads the signing key from the first configured source:
// --key-hex, --key-file, then Vault.
func LoadWalletKey(ctx context.Context, cCtx *cli.Context) (*ecdsa.PrivateKey, error) {
	switch {
	case cCtx.String(KeyHexFlag.Name) != "":
		return provider.LoadKeyHex(cCtx.String(KeyHexFlag.Name))
	case cCtx.String(KeyFileFlag.Name) != "":
		return provider.LoadKeyFile(cCtx.String(KeyFileFlag.Name))
	case cCtx.String(VaultKeyPathFlag.Name) != "":
		return provider.LoadKeyFromVault(ctx, provider.VaultKeyLocation{
			Address: cCtx.String(VaultAddrFlag.Name),
			Token:   cCtx.String(VaultTokenFlag.Name),
			Mount:   cCtx.String(VaultMountFlag.Name),
			Path:    cCtx.String(VaultKeyPathFlag.Name),
		})
	default:
		return nil, provider.ErrKeyNotFound
	}
}

// ArchiveLocations parses --archive URIs.
func ArchiveLocations(cCtx *cli.Context) ([]interfaces.StorageBackendLocation, error) {
	var locations []interfaces.StorageBackendLocation
	for _, uri := range cCtx.StringSlice(ArchiveFlag.Name) {
		uri = strings.TrimSpace(uri)
		if uri == "" {
			continue
		}
		loc, err := interfaces.NewStorageBackendLocation(uri)
		if err != nil {
			return nil, err
		}
		locations = append(locations, loc)
	}
	return locations, nil
}

var RpcAddrFlag = &cli.StringFlag{
	Name:    "rpc-addr",
	Value:   "http://127.0.0.1:8545",
	Usage:   "address to connect to RPC",
	EnvVars: []string{"RPC_ADDR"},
}

var ContractFlag = &cli.StringFlag{
	Name:     "contract",
	Required: true,
	Usage:    "TopTokens registry contract address",
	EnvVars:  []string{"CONTRACT_ADDRESS"},
}

var ChainIDFlag = &cli.Uint64Flag{
	Name:    "chain-id",
	Value:   1337,
	Usage:   "chain id the registry is deployed on",
	EnvVars: []string{"CHAIN_ID"},
}

var ChainNameFlag = &cli.StringFlag{
	Name:    "chain-name",
	Usage:   "chain name offered to the wallet when it does not know the chain",
	EnvVars: []string{"CHAIN_NAME"},
}

var MaxRecordsFlag = &cli.IntFlag{
	Name:    "max-records",
	Value:   interfaces.DefaultMaxRecords,
	Usage:   "maximum number of records the registry accepts per write",
	EnvVars: []string{"MAX_RECORDS"},
}

var PollIntervalFlag = &cli.DurationFlag{
	Name:    "poll-interval",
	Value:   time.Second,
	Usage:   "how often transaction receipts are polled",
	EnvVars: []string{"POLL_INTERVAL"},
}

var ReadTimeoutFlag = &cli.DurationFlag{
	Name:    "read-timeout",
	Value:   15 * time.Second,
	Usage:   "bound on a single registry read, 0 for none",
	EnvVars: []string{"READ_TIMEOUT"},
}

var WaitTimeoutFlag = &cli.DurationFlag{
	Name:    "wait-timeout",
	Value:   20 * time.Second,
	Usage:   "how long ?wait=true requests wait for a confirmation",
	EnvVars: []string{"WAIT_TIMEOUT"},
}

var KeyHexFlag = &cli.StringFlag{
	Name:    "key-hex",
	Usage:   "hex encoded wallet private key",
	EnvVars: []string{"WALLET_KEY"},
}

var KeyFileFlag = &cli.StringFlag{
	Name:    "key-file",
	Usage:   "file holding the hex encoded wallet private key",
	EnvVars: []string{"WALLET_KEY_FILE"},
}

var VaultAddrFlag = &cli.StringFlag{
	Name:    "vault-addr",
	Usage:   "Vault address to read the wallet key from",
	EnvVars: []string{"VAULT_ADDR"},
}

var VaultTokenFlag = &cli.StringFlag{
	Name:    "vault-token",
	Usage:   "Vault token",
	EnvVars: []string{"VAULT_TOKEN"},
}

var VaultMountFlag = &cli.StringFlag{
	Name:    "vault-mount",
	Value:   "secret",
	Usage:   "Vault KV v2 mount holding the wallet key",
	EnvVars: []string{"VAULT_MOUNT"},
}

var VaultKeyPathFlag = &cli.StringFlag{
	Name:    "vault-key-path",
	Usage:   "secret path of the wallet key within the mount",
	EnvVars: []string{"VAULT_KEY_PATH"},
}

var MockWalletFlag = &cli.BoolFlag{
	Name:    "mock-wallet",
	Value:   false,
	Usage:   "run against an in-memory wallet and registry instead of a node",
	EnvVars: []string{"MOCK_WALLET"},
}

var JournalFlag = &cli.StringFlag{
	Name:    "journal",
	Usage:   "bbolt file recording pending transactions across restarts",
	EnvVars: []string{"JOURNAL_PATH"},
}

var ArchiveFlag = &cli.StringSliceFlag{
	Name:    "archive",
	Usage:   "snapshot archive location URI (file://, s3://, ipfs://, vault://), repeatable",
	EnvVars: []string{"ARCHIVE_URIS"},
}

var ServerAddrFlag = &cli.StringFlag{
	Name:    "server",
	Value:   "http://127.0.0.1:8080",
	Usage:   "token registry sync server address",
	EnvVars: []string{"SYNC_SERVER"},
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "log-service",
		Value: service,
		Usage: "add 'service' tag to logs",
	}
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics",
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}

var ClientFlags = []cli.Flag{
	RpcAddrFlag,
	ContractFlag,
	ChainIDFlag,
	ChainNameFlag,
	MaxRecordsFlag,
	PollIntervalFlag,
	ReadTimeoutFlag,
	KeyHexFlag,
	KeyFileFlag,
	VaultAddrFlag,
	VaultTokenFlag,
	VaultMountFlag,
	VaultKeyPathFlag,
	MockWalletFlag,
	JournalFlag,
	ArchiveFlag,
}
