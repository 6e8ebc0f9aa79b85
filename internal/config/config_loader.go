package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Marketen/bunker-oracle/internal/application/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"
)

// Config holds runtime configuration for the bunker-oracle service.
type Config struct {
	BeaconNodeURL    string
	ExecutionNodeURL string
	KeysAPIURL       string

	LidoLocatorAddress   domain.Address
	HashConsensusAddress domain.Address

	PollInterval     time.Duration
	RequestTimeout   time.Duration
	MetricsAddress   string
	KeysAPIRetries   int
	KeysAPIRetryWait time.Duration
}

// Flags returns the daemon flags, each bound to an environment variable.
func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "beacon-node-url", EnvVars: []string{"BEACON_NODE_URL"}, Usage: "consensus layer node HTTP endpoint"},
		&cli.StringFlag{Name: "execution-node-url", EnvVars: []string{"EXECUTION_NODE_URL"}, Usage: "execution layer JSON-RPC endpoint"},
		&cli.StringFlag{Name: "keys-api-url", EnvVars: []string{"KEYS_API_URL"}, Usage: "protocol Keys API endpoint"},
		&cli.StringFlag{Name: "lido-locator-address", EnvVars: []string{"LIDO_LOCATOR_ADDRESS"}, Usage: "locator contract address"},
		&cli.StringFlag{Name: "hash-consensus-address", EnvVars: []string{"HASH_CONSENSUS_ADDRESS"}, Usage: "accounting HashConsensus contract address"},
		&cli.IntFlag{Name: "poll-interval-seconds", EnvVars: []string{"POLL_INTERVAL_SECONDS"}, Value: 60},
		&cli.IntFlag{Name: "request-timeout-seconds", EnvVars: []string{"REQUEST_TIMEOUT_SECONDS"}, Value: 20},
		&cli.StringFlag{Name: "metrics-address", EnvVars: []string{"METRICS_ADDRESS"}, Value: ":9000", Usage: "empty disables the metrics endpoint"},
		&cli.IntFlag{Name: "keys-api-retry-count", EnvVars: []string{"KEYS_API_RETRY_COUNT"}, Value: 10},
		&cli.IntFlag{Name: "keys-api-retry-seconds", EnvVars: []string{"KEYS_API_RETRY_SECONDS"}, Value: 10},
	}
}

// Load reads configuration from flags or their environment variables.
func Load(c *cli.Context) (*Config, error) {
	beaconURL, err := requiredString(c, "beacon-node-url", "BEACON_NODE_URL")
	if err != nil {
		return nil, err
	}
	executionURL, err := requiredString(c, "execution-node-url", "EXECUTION_NODE_URL")
	if err != nil {
		return nil, err
	}
	keysURL, err := requiredString(c, "keys-api-url", "KEYS_API_URL")
	if err != nil {
		return nil, err
	}

	locator, err := requiredAddress(c, "lido-locator-address", "LIDO_LOCATOR_ADDRESS")
	if err != nil {
		return nil, err
	}
	hashConsensus, err := requiredAddress(c, "hash-consensus-address", "HASH_CONSENSUS_ADDRESS")
	if err != nil {
		return nil, err
	}

	pollInterval, err := positiveSeconds(c, "poll-interval-seconds", "POLL_INTERVAL_SECONDS")
	if err != nil {
		return nil, err
	}
	requestTimeout, err := positiveSeconds(c, "request-timeout-seconds", "REQUEST_TIMEOUT_SECONDS")
	if err != nil {
		return nil, err
	}
	retryWait, err := positiveSeconds(c, "keys-api-retry-seconds", "KEYS_API_RETRY_SECONDS")
	if err != nil {
		return nil, err
	}
	retries := c.Int("keys-api-retry-count")
	if retries <= 0 {
		return nil, fmt.Errorf("invalid KEYS_API_RETRY_COUNT: %d", retries)
	}

	return &Config{
		BeaconNodeURL:        beaconURL,
		ExecutionNodeURL:     executionURL,
		KeysAPIURL:           strings.TrimRight(keysURL, "/"),
		LidoLocatorAddress:   locator,
		HashConsensusAddress: hashConsensus,
		PollInterval:         pollInterval,
		RequestTimeout:       requestTimeout,
		MetricsAddress:       strings.TrimSpace(c.String("metrics-address")),
		KeysAPIRetries:       retries,
		KeysAPIRetryWait:     retryWait,
	}, nil
}

func requiredString(c *cli.Context, flag, env string) (string, error) {
	v := strings.TrimSpace(c.String(flag))
	if v == "" {
		return "", fmt.Errorf("%s is required", env)
	}
	return v, nil
}

func requiredAddress(c *cli.Context, flag, env string) (domain.Address, error) {
	v, err := requiredString(c, flag, env)
	if err != nil {
		return domain.Address{}, err
	}
	addr, err := ParseAddress(v)
	if err != nil {
		return domain.Address{}, fmt.Errorf("invalid %s %q: %w", env, v, err)
	}
	return addr, nil
}

func positiveSeconds(c *cli.Context, flag, env string) (time.Duration, error) {
	sec := c.Int(flag)
	if sec <= 0 {
		return 0, fmt.Errorf("invalid %s: %d", env, sec)
	}
	return time.Duration(sec) * time.Second, nil
}

// ParseAddress parses a hex encoded 20-byte address, with or without 0x.
func ParseAddress(s string) (domain.Address, error) {
	if !common.IsHexAddress(s) {
		return domain.Address{}, fmt.Errorf("not a 20-byte hex address")
	}
	return domain.Address(common.HexToAddress(s)), nil
}
