package services

import (
	"context"
	"math/big"

	"github.com/pkg/errors"

	"github.com/Marketen/bunker-oracle/internal/application/domain"
	"github.com/Marketen/bunker-oracle/internal/application/ports"
	"github.com/Marketen/bunker-oracle/internal/logger"
)

// BunkerService decides whether the protocol must switch to bunker mode for
// a report frame. It holds no state between decisions, so any committee
// member reaches the same verdict from the same chain state, and concurrent
// decisions need no locking.
type BunkerService struct {
	Beacon    ports.BeaconChainAdapter
	Execution ports.ExecutionAdapter
	Keys      ports.KeysRegistryAdapter
	Config    ports.ProtocolConfigAdapter

	abnormal *AbnormalClRebaseDetector
}

// NewBunkerService constructs a BunkerService with dependencies injected.
func NewBunkerService(
	beacon ports.BeaconChainAdapter,
	execution ports.ExecutionAdapter,
	keys ports.KeysRegistryAdapter,
	config ports.ProtocolConfigAdapter,
) *BunkerService {
	return &BunkerService{
		Beacon:    beacon,
		Execution: execution,
		Keys:      keys,
		Config:    config,
		abnormal:  NewAbnormalClRebaseDetector(beacon, execution),
	}
}

// Decide returns the bunker verdict for the frame reported at ref.
// simulated must come from a report simulation that excludes execution layer
// rewards. Any failed read fails the whole decision.
func (s *BunkerService) Decide(
	ctx context.Context,
	ref domain.ReportReference,
	schedule domain.FrameSchedule,
	timing domain.ChainTiming,
	simulated domain.SimulatedRebase,
	lastFinalizedSlot domain.Slot,
) (bool, error) {
	return s.decide(ctx, ref, schedule, timing, simulated, lastFinalizedSlot, nil)
}

// DecideWithValidators is Decide for callers that already loaded the keys and
// validators at ref.
func (s *BunkerService) DecideWithValidators(
	ctx context.Context,
	ref domain.ReportReference,
	schedule domain.FrameSchedule,
	timing domain.ChainTiming,
	simulated domain.SimulatedRebase,
	lastFinalizedSlot domain.Slot,
	validators RefValidators,
) (bool, error) {
	return s.decide(ctx, ref, schedule, timing, simulated, lastFinalizedSlot, &validators)
}

func (s *BunkerService) decide(
	ctx context.Context,
	ref domain.ReportReference,
	schedule domain.FrameSchedule,
	timing domain.ChainTiming,
	simulated domain.SimulatedRebase,
	lastFinalizedSlot domain.Slot,
	validators *RefValidators,
) (bool, error) {
	tunables, err := s.Config.GetBunkerTunables(ctx, ref.BlockReference)
	if err != nil {
		return false, errors.Wrap(err, "get bunker tunables")
	}

	lastReportRefSlot, err := s.Config.GetLastReportRefSlot(ctx, ref.BlockReference)
	if err != nil {
		return false, errors.Wrap(err, "get last report ref slot")
	}
	if lastReportRefSlot == 0 {
		logger.Info("No report processed yet, bunker mode is not checked")
		return false, nil
	}

	if validators == nil {
		loaded, err := LoadRefValidators(ctx, s.Keys, s.Beacon, ref.BlockReference)
		if err != nil {
			return false, err
		}
		validators = &loaded
	}
	snapshot := validators.Snapshot
	logger.Info("Validators at ref slot %d: all=%d protocol=%d", ref.RefSlot, len(snapshot.All), len(snapshot.Protocol))

	dc := &DecisionContext{
		Ref:               ref,
		Timing:            timing,
		Tunables:          tunables,
		LastReportRefSlot: lastReportRefSlot,
		LastFinalizedSlot: lastFinalizedSlot,
		Keys:              validators.Keys,
		Validators:        snapshot,
	}

	frameClRebase, err := s.FrameClRebase(ctx, ref.BlockReference, simulated)
	if err != nil {
		return false, err
	}

	if frameClRebase < 0 {
		logger.Warn("Bunker ON: CL rebase is negative (%d Gwei)", frameClRebase)
		return true, nil
	}
	if IsHighMidtermSlashingPenalty(ref, schedule, snapshot.All, snapshot.Protocol, frameClRebase) {
		logger.Warn("Bunker ON: high midterm slashing penalty")
		return true, nil
	}
	abnormal, err := s.abnormal.IsAbnormal(ctx, dc, frameClRebase)
	if err != nil {
		return false, err
	}
	if abnormal {
		logger.Warn("Bunker ON: abnormal CL rebase")
		return true, nil
	}

	logger.Info("Bunker OFF")
	return false, nil
}

// FrameClRebase is the simulated post-report pooled ether minus the
// pre-report total supply, in gwei. It may be negative.
func (s *BunkerService) FrameClRebase(
	ctx context.Context,
	block domain.BlockReference,
	simulated domain.SimulatedRebase,
) (domain.Gwei, error) {
	if simulated.PostTotalPooledEther == nil {
		return 0, errors.New("simulated rebase has no post total pooled ether")
	}
	totalSupply, err := s.Execution.GetTotalSupply(ctx, block)
	if err != nil {
		return 0, errors.Wrap(err, "get total supply")
	}
	diff := new(big.Int).Sub(simulated.PostTotalPooledEther, totalSupply)
	rebase := domain.WeiToGwei(diff)
	logger.Info("Simulated CL rebase for frame: %d Gwei", rebase)
	return rebase, nil
}
