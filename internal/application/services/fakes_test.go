package services

import (
	"context"
	"math/big"
	"time"

	"github.com/pkg/errors"

	"github.com/Marketen/bunker-oracle/internal/application/domain"
)

type fakeBeacon struct {
	finalized    domain.BlockReference
	finalizedErr error
	validators   map[domain.Root][]domain.Validator
	blocks       map[domain.Slot]domain.BlockReference
	validatorErr error

	validatorCalls int
	validatorRoots map[domain.Root]int
}

func (f *fakeBeacon) GetFinalizedBlock(context.Context) (domain.BlockReference, error) {
	return f.finalized, f.finalizedErr
}

func (f *fakeBeacon) GetValidators(_ context.Context, stateRoot domain.Root) ([]domain.Validator, error) {
	f.validatorCalls++
	if f.validatorRoots == nil {
		f.validatorRoots = map[domain.Root]int{}
	}
	f.validatorRoots[stateRoot]++
	if f.validatorErr != nil {
		return nil, f.validatorErr
	}
	validators, ok := f.validators[stateRoot]
	if !ok {
		return nil, errors.Errorf("unknown state root %x", stateRoot[:4])
	}
	return validators, nil
}

func (f *fakeBeacon) ResolveNonMissedSlot(_ context.Context, target, lastFinalized domain.Slot) (domain.BlockReference, error) {
	if target > lastFinalized {
		return domain.BlockReference{}, errors.Errorf("slot %d is after finalized slot %d", target, lastFinalized)
	}
	block, ok := f.blocks[target]
	if !ok {
		return domain.BlockReference{}, domain.ErrNoSlotsAvailable
	}
	return block, nil
}

type fakeExecution struct {
	vault         domain.Address
	vaultBalances map[domain.BlockNumber]*big.Int
	totalSupply   *big.Int
	simulated     domain.SimulatedRebase
	events        []domain.ETHDistributedEvent
	supplyErr     error

	simulatedInputs []domain.ReportInputs
	eventRanges     [][2]domain.BlockNumber
}

func (f *fakeExecution) GetBalance(_ context.Context, address domain.Address, block domain.BlockReference) (*big.Int, error) {
	if address != f.vault {
		return big.NewInt(0), nil
	}
	if b, ok := f.vaultBalances[block.BlockNumber]; ok {
		return b, nil
	}
	return big.NewInt(0), nil
}

func (f *fakeExecution) GetWithdrawalVault(context.Context, domain.BlockReference) (domain.Address, error) {
	return f.vault, nil
}

func (f *fakeExecution) GetTotalSupply(context.Context, domain.BlockReference) (*big.Int, error) {
	return f.totalSupply, f.supplyErr
}

func (f *fakeExecution) SimulateReport(_ context.Context, inputs domain.ReportInputs, _ domain.BlockReference) (domain.SimulatedRebase, error) {
	f.simulatedInputs = append(f.simulatedInputs, inputs)
	return f.simulated, nil
}

func (f *fakeExecution) GetETHDistributedEvents(_ context.Context, from, to domain.BlockNumber) ([]domain.ETHDistributedEvent, error) {
	f.eventRanges = append(f.eventRanges, [2]domain.BlockNumber{from, to})
	var result []domain.ETHDistributedEvent
	for _, e := range f.events {
		if e.BlockNumber >= from && e.BlockNumber <= to {
			result = append(result, e)
		}
	}
	return result, nil
}

type fakeKeys struct {
	keys  []domain.ProtocolKey
	err   error
	calls int
}

func (f *fakeKeys) GetProtocolKeys(context.Context, domain.BlockReference) ([]domain.ProtocolKey, error) {
	f.calls++
	return f.keys, f.err
}

type fakeConfig struct {
	tunables    domain.BunkerTunables
	lastRefSlot domain.Slot
	timing      domain.ChainTiming
	schedule    domain.FrameSchedule
	tunablesErr error
	timingErr   error
}

func (f *fakeConfig) GetBunkerTunables(context.Context, domain.BlockReference) (domain.BunkerTunables, error) {
	return f.tunables, f.tunablesErr
}

func (f *fakeConfig) GetLastReportRefSlot(context.Context, domain.BlockReference) (domain.Slot, error) {
	return f.lastRefSlot, nil
}

func (f *fakeConfig) GetChainTiming(context.Context, domain.BlockReference) (domain.ChainTiming, error) {
	return f.timing, f.timingErr
}

func (f *fakeConfig) GetFrameSchedule(context.Context, domain.BlockReference) (domain.FrameSchedule, error) {
	return f.schedule, nil
}

type fakeObserver struct {
	decisions []bool
	refSlots  []uint64
	failures  int
}

func (f *fakeObserver) ObserveDecision(refSlot uint64, isBunker bool, _ time.Duration) {
	f.refSlots = append(f.refSlots, refSlot)
	f.decisions = append(f.decisions, isBunker)
}

func (f *fakeObserver) ObserveFailure(time.Duration) {
	f.failures++
}

const gweiPerEth = domain.Gwei(1_000_000_000)

func pubKey(i int) domain.BLSPubKey {
	var k domain.BLSPubKey
	k[0] = byte(i)
	k[1] = byte(i >> 8)
	k[47] = 0xff
	return k
}

func root(i byte) domain.Root {
	var r domain.Root
	r[0] = i
	r[31] = 0xee
	return r
}

func wei(gwei domain.Gwei) *big.Int {
	return domain.GweiToWeiAmount(gwei)
}

// testWorld is a small network: ten validators, the first five owned by the
// protocol, with a report at slot 7199 and the current frame's ref slot at
// 14399.
type testWorld struct {
	timing   domain.ChainTiming
	schedule domain.FrameSchedule
	beacon   *fakeBeacon
	exec     *fakeExecution
	keys     *fakeKeys
	config   *fakeConfig

	ref        domain.ReportReference
	lastReport domain.BlockReference
}

const (
	worldValidators  = 10
	worldProtocol    = 5
	worldLastRefSlot = domain.Slot(7199)
	worldRefSlot     = domain.Slot(14399)
	worldFinalized   = domain.Slot(14500)
)

func worldValidatorSet(protocolBalance domain.Gwei) []domain.Validator {
	validators := make([]domain.Validator, 0, worldValidators)
	for i := 0; i < worldValidators; i++ {
		balance := 32 * gweiPerEth
		if i < worldProtocol {
			balance = protocolBalance
		}
		validators = append(validators, domain.Validator{
			Index:             domain.ValidatorIndex(i),
			Balance:           balance,
			EffectiveBalance:  32 * gweiPerEth,
			ActivationEpoch:   0,
			ExitEpoch:         domain.FarFutureEpoch,
			WithdrawableEpoch: domain.FarFutureEpoch,
			PubKey:            pubKey(i),
		})
	}
	return validators
}

func newTestWorld() *testWorld {
	timing := domain.ChainTiming{SlotsPerEpoch: 32, SecondsPerSlot: 12, GenesisTime: 1_606_824_023}

	lastReport := domain.BlockReference{Slot: worldLastRefSlot, Epoch: 224, BlockNumber: 1_000, StateRoot: root(1)}
	refBlock := domain.BlockReference{Slot: worldRefSlot, Epoch: 449, BlockNumber: 2_000, StateRoot: root(2)}
	finalized := domain.BlockReference{Slot: worldFinalized, Epoch: 453, BlockNumber: 2_101, StateRoot: root(3)}

	keys := make([]domain.ProtocolKey, 0, worldProtocol+1)
	for i := 0; i < worldProtocol; i++ {
		keys = append(keys, domain.ProtocolKey{PubKey: pubKey(i), ModuleID: 1, OperatorID: uint64(i), Used: true})
	}
	// Deposited but unused keys never join.
	keys = append(keys, domain.ProtocolKey{PubKey: pubKey(9), ModuleID: 1, OperatorID: 9, Used: false})

	vault := domain.Address{0xb9}
	return &testWorld{
		timing:   timing,
		schedule: domain.FrameSchedule{InitialEpoch: 0, EpochsPerFrame: 225},
		beacon: &fakeBeacon{
			finalized: finalized,
			validators: map[domain.Root][]domain.Validator{
				root(1): worldValidatorSet(32 * gweiPerEth),
				root(2): worldValidatorSet(32*gweiPerEth + gweiPerEth/100),
			},
			blocks: map[domain.Slot]domain.BlockReference{
				worldLastRefSlot: lastReport,
				worldRefSlot:     refBlock,
			},
		},
		exec: &fakeExecution{
			vault:         vault,
			vaultBalances: map[domain.BlockNumber]*big.Int{},
			totalSupply:   wei(1_000 * gweiPerEth),
			simulated:     domain.SimulatedRebase{PostTotalPooledEther: wei(1_005 * gweiPerEth)},
		},
		keys: &fakeKeys{keys: keys},
		config: &fakeConfig{
			tunables: domain.BunkerTunables{
				NormalizedClRewardPerEpoch:    64,
				NormalizedClRewardMistakeRate: 0.1,
			},
			lastRefSlot: worldLastRefSlot,
			timing:      timing,
			schedule:    domain.FrameSchedule{InitialEpoch: 0, EpochsPerFrame: 225},
		},
		ref: domain.ReportReference{
			BlockReference: refBlock,
			RefSlot:        worldRefSlot,
			RefEpoch:       449,
		},
		lastReport: lastReport,
	}
}

func (w *testWorld) service() *BunkerService {
	return NewBunkerService(w.beacon, w.exec, w.keys, w.config)
}

func (w *testWorld) decide(ctx context.Context) (bool, error) {
	return w.service().Decide(ctx, w.ref, w.schedule, w.timing, w.exec.simulated, worldFinalized)
}

// decisionContext loads what Decide would share with the rebase checks.
func (w *testWorld) decisionContext(ctx context.Context) (*DecisionContext, error) {
	snapshot, err := LoadValidatorSetSnapshot(ctx, w.beacon, w.ref.BlockReference, w.keys.keys)
	if err != nil {
		return nil, err
	}
	return &DecisionContext{
		Ref:               w.ref,
		Timing:            w.timing,
		Tunables:          w.config.tunables,
		LastReportRefSlot: w.config.lastRefSlot,
		LastFinalizedSlot: worldFinalized,
		Keys:              w.keys.keys,
		Validators:        snapshot,
	}, nil
}
