package adapters

import (
	"context"
	"math/big"

	"github.com/Marketen/bunker-oracle/internal/application/domain"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

// Oracle daemon config keys holding the bunker tunables.
const (
	keyNormalizedClRewardPerEpoch      = "NORMALIZED_CL_REWARD_PER_EPOCH"
	keyNormalizedClRewardMistakeRateBP = "NORMALIZED_CL_REWARD_MISTAKE_RATE_BP"
	keyRebaseCheckNearestEpochDistance = "REBASE_CHECK_NEAREST_EPOCH_DISTANCE"
	keyRebaseCheckDistantEpochDistance = "REBASE_CHECK_DISTANT_EPOCH_DISTANCE"

	basisPoints = 10_000
)

// ethBackend is the subset of ethclient.Client the adapter uses.
type ethBackend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// ExecutionRPCAdapter implements ports.ExecutionAdapter and
// ports.ProtocolConfigAdapter over execution layer JSON-RPC. Contract
// addresses are looked up through the locator at the block being read.
type ExecutionRPCAdapter struct {
	backend       ethBackend
	locator       common.Address
	hashConsensus common.Address
}

// NewExecutionRPCAdapter dials the execution node.
func NewExecutionRPCAdapter(
	ctx context.Context,
	endpoint string,
	locator domain.Address,
	hashConsensus domain.Address,
) (*ExecutionRPCAdapter, error) {
	client, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "dial execution node %s", endpoint)
	}
	return newExecutionRPCAdapter(client, locator, hashConsensus), nil
}

func newExecutionRPCAdapter(backend ethBackend, locator, hashConsensus domain.Address) *ExecutionRPCAdapter {
	return &ExecutionRPCAdapter{
		backend:       backend,
		locator:       common.Address(locator),
		hashConsensus: common.Address(hashConsensus),
	}
}

// GetBalance returns the balance of address in wei.
func (e *ExecutionRPCAdapter) GetBalance(ctx context.Context, address domain.Address, block domain.BlockReference) (*big.Int, error) {
	return e.backend.BalanceAt(ctx, common.Address(address), blockNumber(block.BlockNumber))
}

// GetWithdrawalVault returns the withdrawal vault address.
func (e *ExecutionRPCAdapter) GetWithdrawalVault(ctx context.Context, block domain.BlockReference) (domain.Address, error) {
	addr, err := e.locate(ctx, "withdrawalVault", blockNumber(block.BlockNumber))
	return domain.Address(addr), err
}

// GetTotalSupply returns the total pooled ether in wei.
func (e *ExecutionRPCAdapter) GetTotalSupply(ctx context.Context, block domain.BlockReference) (*big.Int, error) {
	at := blockNumber(block.BlockNumber)
	lido, err := e.locate(ctx, "lido", at)
	if err != nil {
		return nil, err
	}
	out, err := e.call(ctx, lidoABI, lido, common.Address{}, at, "totalSupply")
	if err != nil {
		return nil, err
	}
	return bigOutput(out, 0)
}

// SimulateReport calls handleOracleReport as the accounting oracle without
// committing it. No withdrawal requests are finalized and the share rate
// check is disabled.
func (e *ExecutionRPCAdapter) SimulateReport(
	ctx context.Context,
	inputs domain.ReportInputs,
	block domain.BlockReference,
) (domain.SimulatedRebase, error) {
	at := blockNumber(block.BlockNumber)
	lido, err := e.locate(ctx, "lido", at)
	if err != nil {
		return domain.SimulatedRebase{}, err
	}
	oracle, err := e.locate(ctx, "accountingOracle", at)
	if err != nil {
		return domain.SimulatedRebase{}, err
	}

	out, err := e.call(ctx, lidoABI, lido, oracle, at, "handleOracleReport",
		new(big.Int).SetUint64(inputs.Timestamp),
		new(big.Int).SetUint64(inputs.TimeElapsed),
		new(big.Int).SetUint64(inputs.ClValidators),
		domain.GweiToWeiAmount(inputs.ClBalance),
		orZero(inputs.WithdrawalVaultBalance),
		orZero(inputs.ElRewardsVaultBalance),
		orZero(inputs.SharesRequestedToBurn),
		[]*big.Int{},
		big.NewInt(0),
	)
	if err != nil {
		return domain.SimulatedRebase{}, errors.Wrap(err, "handleOracleReport")
	}
	if len(out) != 1 {
		return domain.SimulatedRebase{}, errors.Errorf("handleOracleReport: unexpected %d outputs", len(out))
	}
	amounts, ok := out[0].([4]*big.Int)
	if !ok {
		return domain.SimulatedRebase{}, errors.Errorf("handleOracleReport: unexpected output type %T", out[0])
	}
	return domain.SimulatedRebase{
		PostTotalPooledEther: amounts[0],
		PostTotalShares:      amounts[1],
		Withdrawals:          amounts[2],
		ElRewards:            amounts[3],
	}, nil
}

// GetETHDistributedEvents returns ETHDistributed events in blocks [from, to].
func (e *ExecutionRPCAdapter) GetETHDistributedEvents(
	ctx context.Context,
	from domain.BlockNumber,
	to domain.BlockNumber,
) ([]domain.ETHDistributedEvent, error) {
	if from > to {
		return nil, nil
	}
	lido, err := e.locate(ctx, "lido", blockNumber(to))
	if err != nil {
		return nil, err
	}

	event := lidoABI.Events["ETHDistributed"]
	logs, err := e.backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: blockNumber(from),
		ToBlock:   blockNumber(to),
		Addresses: []common.Address{lido},
		Topics:    [][]common.Hash{{event.ID}},
	})
	if err != nil {
		return nil, err
	}

	result := make([]domain.ETHDistributedEvent, 0, len(logs))
	for _, l := range logs {
		ev, err := decodeETHDistributed(l)
		if err != nil {
			return nil, err
		}
		result = append(result, ev)
	}
	return result, nil
}

// GetBunkerTunables reads the bunker thresholds from the oracle daemon config.
func (e *ExecutionRPCAdapter) GetBunkerTunables(ctx context.Context, block domain.BlockReference) (domain.BunkerTunables, error) {
	at := blockNumber(block.BlockNumber)
	daemonConfig, err := e.locate(ctx, "oracleDaemonConfig", at)
	if err != nil {
		return domain.BunkerTunables{}, err
	}

	values := make(map[string]uint64, 4)
	for _, key := range []string{
		keyNormalizedClRewardPerEpoch,
		keyNormalizedClRewardMistakeRateBP,
		keyRebaseCheckNearestEpochDistance,
		keyRebaseCheckDistantEpochDistance,
	} {
		out, err := e.call(ctx, oracleDaemonConfigABI, daemonConfig, common.Address{}, at, "get", key)
		if err != nil {
			return domain.BunkerTunables{}, errors.Wrapf(err, "read %s", key)
		}
		raw, ok := out[0].([]byte)
		if !ok {
			return domain.BunkerTunables{}, errors.Errorf("read %s: unexpected output type %T", key, out[0])
		}
		v, err := decodeConfigValue(raw)
		if err != nil {
			return domain.BunkerTunables{}, errors.Wrapf(err, "decode %s", key)
		}
		values[key] = v
	}

	return domain.BunkerTunables{
		NormalizedClRewardPerEpoch:      values[keyNormalizedClRewardPerEpoch],
		NormalizedClRewardMistakeRate:   float64(values[keyNormalizedClRewardMistakeRateBP]) / basisPoints,
		RebaseCheckNearestEpochDistance: values[keyRebaseCheckNearestEpochDistance],
		RebaseCheckDistantEpochDistance: values[keyRebaseCheckDistantEpochDistance],
	}, nil
}

// GetLastReportRefSlot returns the ref slot the accounting oracle last processed.
func (e *ExecutionRPCAdapter) GetLastReportRefSlot(ctx context.Context, block domain.BlockReference) (domain.Slot, error) {
	at := blockNumber(block.BlockNumber)
	oracle, err := e.locate(ctx, "accountingOracle", at)
	if err != nil {
		return 0, err
	}
	out, err := e.call(ctx, accountingOracleABI, oracle, common.Address{}, at, "getLastProcessingRefSlot")
	if err != nil {
		return 0, err
	}
	slot, err := uint64Output(out, 0)
	return domain.Slot(slot), err
}

// GetChainTiming reads the chain config from the hash consensus contract.
func (e *ExecutionRPCAdapter) GetChainTiming(ctx context.Context, block domain.BlockReference) (domain.ChainTiming, error) {
	out, err := e.call(ctx, hashConsensusABI, e.hashConsensus, common.Address{}, blockNumber(block.BlockNumber), "getChainConfig")
	if err != nil {
		return domain.ChainTiming{}, err
	}
	values, err := uint64Outputs(out, 3)
	if err != nil {
		return domain.ChainTiming{}, errors.Wrap(err, "getChainConfig")
	}
	return domain.ChainTiming{
		SlotsPerEpoch:  values[0],
		SecondsPerSlot: values[1],
		GenesisTime:    values[2],
	}, nil
}

// GetFrameSchedule reads the frame config from the hash consensus contract.
func (e *ExecutionRPCAdapter) GetFrameSchedule(ctx context.Context, block domain.BlockReference) (domain.FrameSchedule, error) {
	out, err := e.call(ctx, hashConsensusABI, e.hashConsensus, common.Address{}, blockNumber(block.BlockNumber), "getFrameConfig")
	if err != nil {
		return domain.FrameSchedule{}, err
	}
	values, err := uint64Outputs(out, 3)
	if err != nil {
		return domain.FrameSchedule{}, errors.Wrap(err, "getFrameConfig")
	}
	return domain.FrameSchedule{
		InitialEpoch:   domain.Epoch(values[0]),
		EpochsPerFrame: values[1],
	}, nil
}

func (e *ExecutionRPCAdapter) locate(ctx context.Context, method string, at *big.Int) (common.Address, error) {
	out, err := e.call(ctx, lidoLocatorABI, e.locator, common.Address{}, at, method)
	if err != nil {
		return common.Address{}, errors.Wrapf(err, "locate %s", method)
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, errors.Errorf("locate %s: unexpected output type %T", method, out[0])
	}
	return addr, nil
}

func (e *ExecutionRPCAdapter) call(
	ctx context.Context,
	contract abi.ABI,
	to common.Address,
	from common.Address,
	at *big.Int,
	method string,
	args ...interface{},
) ([]interface{}, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "pack %s", method)
	}
	raw, err := e.backend.CallContract(ctx, ethereum.CallMsg{From: from, To: &to, Data: data}, at)
	if err != nil {
		return nil, errors.Wrapf(err, "call %s on %s", method, to.Hex())
	}
	out, err := contract.Unpack(method, raw)
	if err != nil {
		return nil, errors.Wrapf(err, "unpack %s", method)
	}
	if len(out) == 0 {
		return nil, errors.Errorf("%s returned no outputs", method)
	}
	return out, nil
}

func decodeETHDistributed(l types.Log) (domain.ETHDistributedEvent, error) {
	if len(l.Topics) < 2 {
		return domain.ETHDistributedEvent{}, errors.Errorf("ETHDistributed log in tx %s has %d topics", l.TxHash.Hex(), len(l.Topics))
	}
	values, err := lidoABI.Unpack("ETHDistributed", l.Data)
	if err != nil {
		return domain.ETHDistributedEvent{}, errors.Wrap(err, "unpack ETHDistributed")
	}
	amounts := make([]*big.Int, 0, len(values))
	for i := range values {
		v, err := bigOutput(values, i)
		if err != nil {
			return domain.ETHDistributedEvent{}, err
		}
		amounts = append(amounts, v)
	}
	if len(amounts) != 5 {
		return domain.ETHDistributedEvent{}, errors.Errorf("ETHDistributed has %d data fields", len(amounts))
	}
	return domain.ETHDistributedEvent{
		BlockNumber:                    domain.BlockNumber(l.BlockNumber),
		ReportTimestamp:                l.Topics[1].Big(),
		PreCLBalance:                   amounts[0],
		PostCLBalance:                  amounts[1],
		WithdrawalsWithdrawn:           amounts[2],
		ExecutionLayerRewardsWithdrawn: amounts[3],
		PostBufferedEther:              amounts[4],
	}, nil
}

// decodeConfigValue decodes a daemon config value, stored as an ABI encoded uint256.
func decodeConfigValue(raw []byte) (uint64, error) {
	if len(raw) == 0 || len(raw) > 32 {
		return 0, errors.Errorf("expected up to 32 bytes, got %d", len(raw))
	}
	v := new(uint256.Int).SetBytes(raw)
	if !v.IsUint64() {
		return 0, errors.Errorf("value %s overflows uint64", v.Dec())
	}
	return v.Uint64(), nil
}

func bigOutput(out []interface{}, i int) (*big.Int, error) {
	if i >= len(out) {
		return nil, errors.Errorf("missing output %d", i)
	}
	v, ok := out[i].(*big.Int)
	if !ok {
		return nil, errors.Errorf("output %d: unexpected type %T", i, out[i])
	}
	return v, nil
}

func uint64Output(out []interface{}, i int) (uint64, error) {
	v, err := bigOutput(out, i)
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() {
		return 0, errors.Errorf("output %d: %s overflows uint64", i, v)
	}
	return v.Uint64(), nil
}

func uint64Outputs(out []interface{}, n int) ([]uint64, error) {
	values := make([]uint64, n)
	for i := range values {
		v, err := uint64Output(out, i)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

func blockNumber(n domain.BlockNumber) *big.Int {
	return new(big.Int).SetUint64(uint64(n))
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
