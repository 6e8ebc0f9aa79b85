package config

import (
	"flag"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

const (
	locatorHex       = "0xC1d0b3DE6792Bf6b4b37EccdcC24e45978Cfd2Eb"
	hashConsensusHex = "0xD624B08C83bAECF0807Dd2c6880C3154a5F0B288"
)

func newContext(t *testing.T, args ...string) *cli.Context {
	t.Helper()
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	for _, f := range Flags() {
		require.NoError(t, f.Apply(set))
	}
	require.NoError(t, set.Parse(args))
	return cli.NewContext(cli.NewApp(), set, nil)
}

func requiredArgs() []string {
	return []string{
		"--beacon-node-url", "http://beacon:5052",
		"--execution-node-url", "http://execution:8545",
		"--keys-api-url", "http://keys:3000/",
		"--lido-locator-address", locatorHex,
		"--hash-consensus-address", hashConsensusHex,
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(newContext(t, requiredArgs()...))
	require.NoError(t, err)

	assert.Equal(t, "http://beacon:5052", cfg.BeaconNodeURL)
	assert.Equal(t, "http://keys:3000", cfg.KeysAPIURL)
	assert.Equal(t, 60*time.Second, cfg.PollInterval)
	assert.Equal(t, 20*time.Second, cfg.RequestTimeout)
	assert.Equal(t, ":9000", cfg.MetricsAddress)
	assert.Equal(t, 10, cfg.KeysAPIRetries)
	assert.Equal(t, 10*time.Second, cfg.KeysAPIRetryWait)
	assert.Equal(t, byte(0xC1), cfg.LidoLocatorAddress[0])
	assert.Equal(t, byte(0x88), cfg.HashConsensusAddress[19])
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("BEACON_NODE_URL", "http://env-beacon:5052")
	t.Setenv("EXECUTION_NODE_URL", "http://env-execution:8545")
	t.Setenv("KEYS_API_URL", "http://env-keys:3000")
	t.Setenv("LIDO_LOCATOR_ADDRESS", locatorHex)
	t.Setenv("HASH_CONSENSUS_ADDRESS", hashConsensusHex)
	t.Setenv("POLL_INTERVAL_SECONDS", "12")

	cfg, err := Load(newContext(t))
	require.NoError(t, err)

	assert.Equal(t, "http://env-beacon:5052", cfg.BeaconNodeURL)
	assert.Equal(t, 12*time.Second, cfg.PollInterval)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{
			name: "missing beacon url",
			args: []string{"--execution-node-url", "x"},
			want: "BEACON_NODE_URL is required",
		},
		{
			name: "bad locator",
			args: append(requiredArgs(), "--lido-locator-address", "0x1234"),
			want: "invalid LIDO_LOCATOR_ADDRESS",
		},
		{
			name: "zero poll interval",
			args: append(requiredArgs(), "--poll-interval-seconds", "0"),
			want: "invalid POLL_INTERVAL_SECONDS",
		},
		{
			name: "negative retries",
			args: append(requiredArgs(), "--keys-api-retry-count", "-1"),
			want: "invalid KEYS_API_RETRY_COUNT",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(newContext(t, tt.args...))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseAddress(t *testing.T) {
	addr, err := ParseAddress("0x000000000000000000000000000000000000dEaD")
	require.NoError(t, err)
	assert.Equal(t, byte(0xde), addr[18])
	assert.Equal(t, byte(0xad), addr[19])

	addr, err = ParseAddress("000000000000000000000000000000000000beef")
	require.NoError(t, err)
	assert.Equal(t, byte(0xef), addr[19])

	for _, bad := range []string{"0xzz", "0x1234", "0x000000000000000000000000000000000000dEaD00", ""} {
		_, err = ParseAddress(bad)
		assert.Error(t, err, bad)
	}
}
