package adapters

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Minimal ABIs of the protocol contracts the oracle reads.
const (
	lidoLocatorABIJSON = `[
	{"inputs":[],"name":"lido","outputs":[{"name":"","type":"address"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"accountingOracle","outputs":[{"name":"","type":"address"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"withdrawalVault","outputs":[{"name":"","type":"address"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"oracleDaemonConfig","outputs":[{"name":"","type":"address"}],"stateMutability":"view","type":"function"}
]`

	lidoABIJSON = `[
	{"inputs":[],"name":"totalSupply","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[
		{"name":"_reportTimestamp","type":"uint256"},
		{"name":"_timeElapsed","type":"uint256"},
		{"name":"_clValidators","type":"uint256"},
		{"name":"_clBalance","type":"uint256"},
		{"name":"_withdrawalVaultBalance","type":"uint256"},
		{"name":"_elRewardsVaultBalance","type":"uint256"},
		{"name":"_sharesRequestedToBurn","type":"uint256"},
		{"name":"_withdrawalFinalizationBatches","type":"uint256[]"},
		{"name":"_simulatedShareRate","type":"uint256"}
	],"name":"handleOracleReport","outputs":[{"name":"postRebaseAmounts","type":"uint256[4]"}],"stateMutability":"nonpayable","type":"function"},
	{"anonymous":false,"inputs":[
		{"indexed":true,"name":"reportTimestamp","type":"uint256"},
		{"indexed":false,"name":"preCLBalance","type":"uint256"},
		{"indexed":false,"name":"postCLBalance","type":"uint256"},
		{"indexed":false,"name":"withdrawalsWithdrawn","type":"uint256"},
		{"indexed":false,"name":"executionLayerRewardsWithdrawn","type":"uint256"},
		{"indexed":false,"name":"postBufferedEther","type":"uint256"}
	],"name":"ETHDistributed","type":"event"}
]`

	accountingOracleABIJSON = `[
	{"inputs":[],"name":"getLastProcessingRefSlot","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

	oracleDaemonConfigABIJSON = `[
	{"inputs":[{"name":"_key","type":"string"}],"name":"get","outputs":[{"name":"","type":"bytes"}],"stateMutability":"view","type":"function"}
]`

	hashConsensusABIJSON = `[
	{"inputs":[],"name":"getChainConfig","outputs":[
		{"name":"slotsPerEpoch","type":"uint256"},
		{"name":"secondsPerSlot","type":"uint256"},
		{"name":"genesisTime","type":"uint256"}
	],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"getFrameConfig","outputs":[
		{"name":"initialEpoch","type":"uint256"},
		{"name":"epochsPerFrame","type":"uint256"},
		{"name":"fastLaneLengthSlots","type":"uint256"}
	],"stateMutability":"view","type":"function"}
]`
)

var (
	lidoLocatorABI        = mustParseABI(lidoLocatorABIJSON)
	lidoABI               = mustParseABI(lidoABIJSON)
	accountingOracleABI   = mustParseABI(accountingOracleABIJSON)
	oracleDaemonConfigABI = mustParseABI(oracleDaemonConfigABIJSON)
	hashConsensusABI      = mustParseABI(hashConsensusABIJSON)
)

func mustParseABI(definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic(err)
	}
	return parsed
}
