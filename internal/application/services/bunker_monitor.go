package services

import (
	"context"
	"math/big"
	"time"

	"github.com/pkg/errors"

	"github.com/Marketen/bunker-oracle/internal/application/domain"
	"github.com/Marketen/bunker-oracle/internal/application/ports"
	"github.com/Marketen/bunker-oracle/internal/logger"
)

// FrameVerdict is the bunker decision for one report frame.
type FrameVerdict struct {
	Ref      domain.ReportReference
	IsBunker bool
}

// BunkerMonitor polls the finalized checkpoint and decides the bunker mode
// once per report frame. A frame whose decision failed is retried on the next
// tick.
type BunkerMonitor struct {
	Bunker       *BunkerService
	Observer     ports.DecisionObserver
	PollInterval time.Duration

	lastFinalizedSlot    domain.Slot
	lastProcessedRefSlot domain.Slot
}

// NewBunkerMonitor constructs a BunkerMonitor with dependencies injected.
func NewBunkerMonitor(
	bunker *BunkerService,
	observer ports.DecisionObserver,
	pollInterval time.Duration,
) *BunkerMonitor {
	return &BunkerMonitor{
		Bunker:       bunker,
		Observer:     observer,
		PollInterval: pollInterval,
	}
}

// Run starts the periodic check loop. If at interval, ticker ticks but check has not
// ended, we won't start a new check, we will just wait for the next tick.
func (m *BunkerMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.checkLatestFrame(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (m *BunkerMonitor) checkLatestFrame(ctx context.Context) {
	finalized, err := m.Bunker.Beacon.GetFinalizedBlock(ctx)
	if err != nil {
		logger.Error("Error fetching finalized block: %v", err)
		return
	}
	if finalized.Slot == m.lastFinalizedSlot {
		logger.Debug("Finalized slot %d unchanged, skipping check.", finalized.Slot)
		return
	}
	logger.Info("New finalized slot %d detected.", finalized.Slot)

	started := time.Now()
	verdict, ok, err := m.ProcessFinalized(ctx, finalized)
	if err != nil {
		// The ref slot stays unprocessed, the next tick retries the whole cycle.
		logger.Error("Bunker decision failed: %v", err)
		if m.Observer != nil {
			m.Observer.ObserveFailure(time.Since(started))
		}
		return
	}
	m.lastFinalizedSlot = finalized.Slot
	if !ok {
		return
	}

	m.lastProcessedRefSlot = verdict.Ref.RefSlot
	logger.Info("Frame with ref slot %d: bunker=%t", verdict.Ref.RefSlot, verdict.IsBunker)
	if m.Observer != nil {
		m.Observer.ObserveDecision(uint64(verdict.Ref.RefSlot), verdict.IsBunker, time.Since(started))
	}
}

// ProcessFinalized decides the bunker mode for the latest frame whose ref slot
// is finalized. It returns false if that frame was already processed.
func (m *BunkerMonitor) ProcessFinalized(ctx context.Context, finalized domain.BlockReference) (FrameVerdict, bool, error) {
	s := m.Bunker

	timing, err := s.Config.GetChainTiming(ctx, finalized)
	if err != nil {
		return FrameVerdict{}, false, errors.Wrap(err, "get chain timing")
	}
	schedule, err := s.Config.GetFrameSchedule(ctx, finalized)
	if err != nil {
		return FrameVerdict{}, false, errors.Wrap(err, "get frame schedule")
	}
	if timing.SlotsPerEpoch == 0 || schedule.EpochsPerFrame == 0 {
		return FrameVerdict{}, false, errors.Wrapf(domain.ErrDataInconsistency,
			"invalid chain config: slots per epoch %d, epochs per frame %d", timing.SlotsPerEpoch, schedule.EpochsPerFrame)
	}

	finalizedEpoch := timing.EpochOfSlot(finalized.Slot)
	if finalizedEpoch < schedule.InitialEpoch {
		logger.Info("Finalized epoch %d is before initial epoch %d, nothing to report", finalizedEpoch, schedule.InitialEpoch)
		return FrameVerdict{}, false, nil
	}
	frame := schedule.FrameIndex(finalizedEpoch)
	if frame == 0 && schedule.InitialEpoch == 0 {
		logger.Info("First frame is not finished yet")
		return FrameVerdict{}, false, nil
	}
	refSlot := schedule.RefSlot(frame, timing)
	if refSlot == m.lastProcessedRefSlot {
		logger.Debug("Frame with ref slot %d already processed", refSlot)
		return FrameVerdict{}, false, nil
	}

	block, err := s.Beacon.ResolveNonMissedSlot(ctx, refSlot, finalized.Slot)
	if err != nil {
		return FrameVerdict{}, false, errors.Wrapf(err, "resolve ref slot %d", refSlot)
	}
	ref := domain.ReportReference{
		BlockReference: block,
		RefSlot:        refSlot,
		RefEpoch:       timing.EpochOfSlot(refSlot),
	}

	validators, err := LoadRefValidators(ctx, s.Keys, s.Beacon, ref.BlockReference)
	if err != nil {
		return FrameVerdict{}, false, err
	}
	inputs, err := m.BuildReportInputs(ctx, ref, schedule, timing, validators.Snapshot)
	if err != nil {
		return FrameVerdict{}, false, err
	}
	simulated, err := s.Execution.SimulateReport(ctx, inputs, ref.BlockReference)
	if err != nil {
		return FrameVerdict{}, false, errors.Wrap(err, "simulate report")
	}

	isBunker, err := s.DecideWithValidators(ctx, ref, schedule, timing, simulated, finalized.Slot, validators)
	if err != nil {
		return FrameVerdict{}, false, err
	}
	return FrameVerdict{Ref: ref, IsBunker: isBunker}, true, nil
}

// BuildReportInputs assembles the report the accounting contract is asked to
// simulate from the validator set at ref. Execution layer rewards and burnt
// shares are left out so the simulated rebase reflects the consensus layer
// alone.
func (m *BunkerMonitor) BuildReportInputs(
	ctx context.Context,
	ref domain.ReportReference,
	schedule domain.FrameSchedule,
	timing domain.ChainTiming,
	snapshot ValidatorSetSnapshot,
) (domain.ReportInputs, error) {
	s := m.Bunker

	lastReportRefSlot, err := s.Config.GetLastReportRefSlot(ctx, ref.BlockReference)
	if err != nil {
		return domain.ReportInputs{}, errors.Wrap(err, "get last report ref slot")
	}
	vault, err := s.Execution.GetWithdrawalVault(ctx, ref.BlockReference)
	if err != nil {
		return domain.ReportInputs{}, errors.Wrap(err, "get withdrawal vault")
	}
	vaultBalance, err := s.Execution.GetBalance(ctx, vault, ref.BlockReference)
	if err != nil {
		return domain.ReportInputs{}, errors.Wrap(err, "get withdrawal vault balance")
	}

	timeElapsed := schedule.EpochsPerFrame * timing.SlotsPerEpoch * timing.SecondsPerSlot
	if lastReportRefSlot != 0 && lastReportRefSlot < ref.RefSlot {
		timeElapsed = uint64(ref.RefSlot-lastReportRefSlot) * timing.SecondsPerSlot
	}

	return domain.ReportInputs{
		Timestamp:              timing.SlotTimestamp(ref.RefSlot),
		TimeElapsed:            timeElapsed,
		ClValidators:           uint64(len(snapshot.Protocol)),
		ClBalance:              RealBalanceSum(snapshot.Protocol),
		WithdrawalVaultBalance: vaultBalance,
		ElRewardsVaultBalance:  big.NewInt(0),
		SharesRequestedToBurn:  big.NewInt(0),
	}, nil
}
