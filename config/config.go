// Package config loads the relayer's process configuration from a TOML
// file merged with environment variable overrides (spec.md §6,
// SPEC_FULL.md §2.11), grounded on cmd/ranger/config.go's
// tomlSettings decoder (github.com/naoina/toml). Environment variables
// override file values; no CLI flag overrides a configuration value.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"reflect"
	"unicode"

	"github.com/naoina/toml"

	"github.com/tbtc-relay/relayer/internal/chain"
)

// tomlSettings mirrors cmd/ranger/config.go's: TOML keys use the same names as the Go
// struct fields, and an unrecognized field is a load-time error rather than
// being silently ignored.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string { return key },
	FieldToKey:    func(rt reflect.Type, field string) string { return field },
	MissingField: func(rt reflect.Type, field string) error {
		return fmt.Errorf("config: field %q is not defined in %s", field, rt.String())
	},
}

// ChainConfig is one `[[Chains]]` table entry, mirroring chain.Config 1:1
// (SPEC_FULL.md §6).
type ChainConfig struct {
	Chain string

	L1RPC      string
	L2RPC      string
	PrivateKey string

	L1BitcoinDepositorAddress string
	L2BitcoinDepositorAddress string
	TBTCVaultAddress          string

	L2StartBlock uint64

	StatusEndpoint string
}

// ToHandlerConfig converts a ChainConfig into the chain.Config the Handler
// Factory consumes (spec.md §4.5).
func (c ChainConfig) ToHandlerConfig() chain.Config {
	return chain.Config{
		Chain:                     chain.Type(c.Chain),
		L1RPC:                     c.L1RPC,
		L2RPC:                     c.L2RPC,
		PrivateKey:                c.PrivateKey,
		L1BitcoinDepositorAddress: c.L1BitcoinDepositorAddress,
		L2BitcoinDepositorAddress: c.L2BitcoinDepositorAddress,
		TBTCVaultAddress:          c.TBTCVaultAddress,
		L2StartBlock:              c.L2StartBlock,
		StatusEndpoint:            c.StatusEndpoint,
	}
}

// KafkaConfig is the optional event-notifier broker configuration
// (SPEC_FULL.md §4.10). Empty Brokers disables the notifier.
type KafkaConfig struct {
	Brokers     []string
	Partitions  int32
	Replicas    int16
	TopicPrefix string
}

// BackfillConfig is the optional MySQL checkpoint store configuration
// (SPEC_FULL.md §2.15). Empty DSN disables the checkpoint and the backfill
// loop always starts from each chain's L2StartBlock.
type BackfillConfig struct {
	DSN string
}

// Config is the top-level process configuration.
type Config struct {
	DataDir string
	Chains  []ChainConfig

	Kafka    KafkaConfig
	Backfill BackfillConfig
}

// Load reads path as TOML into a Config, then applies the environment
// variable overrides named in spec.md §6: JSON_PATH sets DataDir, and
// L2_START_BLOCK, PRIVATE_KEY, L1_RPC and L2_RPC apply to the first
// configured chain — the common single-chain deployment shape. Additional
// chains in the `[[Chains]]` array beyond the first are only ever configured
// via the file.
func Load(path string) (Config, error) {
	var cfg Config

	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: opening %s: %w", path, err)
	}
	defer f.Close()

	if err := tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(&cfg); err != nil {
		var lineErr *toml.LineError
		if errors.As(err, &lineErr) {
			return Config{}, fmt.Errorf("config: %s: %w", path, err)
		}
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if len(cfg.Chains) == 0 {
		return
	}
	first := &cfg.Chains[0]

	if v := os.Getenv("JSON_PATH"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("L2_START_BLOCK"); v != "" {
		if n, err := parseUint(v); err == nil {
			first.L2StartBlock = n
		}
	}
	if v := os.Getenv("PRIVATE_KEY"); v != "" {
		first.PrivateKey = v
	}
	if v := os.Getenv("L1_RPC"); v != "" {
		first.L1RPC = v
	}
	if v := os.Getenv("L2_RPC"); v != "" {
		first.L2RPC = v
	}
}

func parseUint(s string) (uint64, error) {
	var n uint64
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("config: %q is not a valid unsigned integer", s)
		}
		n = n*10 + uint64(c-'0')
	}
	return n, nil
}

// Validate checks the fields the relayer cannot start without. An unknown
// chain type or a missing required field is fatal at startup, never a
// deferred runtime error (spec.md §7, Configuration errors).
func (c Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("config: DataDir must be set")
	}
	if len(c.Chains) == 0 {
		return errors.New("config: at least one [[Chains]] entry is required")
	}
	for i, ch := range c.Chains {
		switch chain.Type(ch.Chain) {
		case chain.EVM:
			if ch.L1RPC == "" || ch.L2RPC == "" || ch.PrivateKey == "" {
				return fmt.Errorf("config: Chains[%d]: evm requires L1RPC, L2RPC and PrivateKey", i)
			}
			if ch.L1BitcoinDepositorAddress == "" || ch.L2BitcoinDepositorAddress == "" || ch.TBTCVaultAddress == "" {
				return fmt.Errorf("config: Chains[%d]: evm requires L1BitcoinDepositorAddress, L2BitcoinDepositorAddress and TBTCVaultAddress", i)
			}
		case chain.Starknet, chain.Sui, chain.Solana:
			if ch.StatusEndpoint == "" {
				return fmt.Errorf("config: Chains[%d]: %s requires StatusEndpoint", i, ch.Chain)
			}
		default:
			return fmt.Errorf("config: Chains[%d]: unsupported chain type %q", i, ch.Chain)
		}
	}
	return nil
}
