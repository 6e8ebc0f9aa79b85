package services

import (
	"context"
	"math"

	"github.com/pkg/errors"

	"github.com/Marketen/bunker-oracle/internal/application/domain"
	"github.com/Marketen/bunker-oracle/internal/application/ports"
	"github.com/Marketen/bunker-oracle/internal/logger"
)

// DecisionContext holds what one bunker decision reads once and shares
// between checks. It is never reused for another decision.
type DecisionContext struct {
	Ref               domain.ReportReference
	Timing            domain.ChainTiming
	Tunables          domain.BunkerTunables
	LastReportRefSlot domain.Slot
	LastFinalizedSlot domain.Slot
	Keys              []domain.ProtocolKey
	Validators        ValidatorSetSnapshot
}

// AbnormalClRebaseDetector compares the observed CL rebase against the
// statistically expected one and double-checks shortfalls against two
// historical checkpoints.
type AbnormalClRebaseDetector struct {
	Beacon    ports.BeaconChainAdapter
	Execution ports.ExecutionAdapter
}

// NewAbnormalClRebaseDetector constructs the detector with dependencies injected.
func NewAbnormalClRebaseDetector(
	beacon ports.BeaconChainAdapter,
	execution ports.ExecutionAdapter,
) *AbnormalClRebaseDetector {
	return &AbnormalClRebaseDetector{
		Beacon:    beacon,
		Execution: execution,
	}
}

// IsAbnormal reports whether frameClRebase is abnormally low.
func (d *AbnormalClRebaseDetector) IsAbnormal(ctx context.Context, dc *DecisionContext, frameClRebase domain.Gwei) (bool, error) {
	logger.Info("Checking abnormal CL rebase")

	normal, err := d.ExpectedClRebase(ctx, dc)
	if err != nil {
		return false, err
	}
	if frameClRebase >= normal {
		return false, nil
	}
	logger.Info("CL rebase %d Gwei is below normal %d Gwei", frameClRebase, normal)

	if dc.Tunables.RebaseCheckNearestEpochDistance == 0 && dc.Tunables.RebaseCheckDistantEpochDistance == 0 {
		logger.Info("Specific CL rebase checks are disabled, CL rebase is abnormal")
		return true, nil
	}

	return d.isNegativeSpecificClRebase(ctx, dc)
}

// ExpectedClRebase returns the normal CL rebase for protocol validators
// since the last report.
func (d *AbnormalClRebaseDetector) ExpectedClRebase(ctx context.Context, dc *DecisionContext) (domain.Gwei, error) {
	lastReport, err := d.Beacon.ResolveNonMissedSlot(ctx, dc.LastReportRefSlot, dc.LastFinalizedSlot)
	if err != nil {
		return 0, errors.Wrapf(err, "resolve last report slot %d", dc.LastReportRefSlot)
	}
	lastReportRefEpoch := dc.Timing.EpochOfSlot(dc.LastReportRefSlot)

	last, err := LoadValidatorSetSnapshot(ctx, d.Beacon, lastReport, dc.Keys)
	if err != nil {
		return 0, err
	}

	refEpoch := dc.Ref.RefEpoch
	meanAll := (ActiveEffectiveBalanceSum(dc.Validators.All, refEpoch) +
		ActiveEffectiveBalanceSum(last.All, lastReportRefEpoch)) / 2
	meanProtocol := (ActiveEffectiveBalanceSum(dc.Validators.Protocol, refEpoch) +
		ActiveEffectiveBalanceSum(last.Protocol, lastReportRefEpoch)) / 2
	epochsPassed := domain.SubEpochs(refEpoch, lastReportRefEpoch)

	normal := NormalClRebase(dc.Tunables, meanAll, meanProtocol, uint64(epochsPassed))
	logger.Info("Normal CL rebase: %d Gwei over %d epochs", normal, epochsPassed)
	return normal, nil
}

// NormalClRebase is
// reward_per_epoch * mean_protocol_balance * epochs / sqrt(mean_total_balance) * (1 - mistake_rate),
// rounded down.
func NormalClRebase(
	tunables domain.BunkerTunables,
	meanAllEffectiveBalance domain.Gwei,
	meanProtocolEffectiveBalance domain.Gwei,
	epochsPassed uint64,
) domain.Gwei {
	if meanAllEffectiveBalance <= 0 {
		return 0
	}
	normal := float64(tunables.NormalizedClRewardPerEpoch) *
		float64(meanProtocolEffectiveBalance) *
		float64(epochsPassed) /
		math.Sqrt(float64(meanAllEffectiveBalance)) *
		(1 - tunables.NormalizedClRewardMistakeRate)
	return domain.Gwei(math.Floor(normal))
}

func (d *AbnormalClRebaseDetector) isNegativeSpecificClRebase(ctx context.Context, dc *DecisionContext) (bool, error) {
	logger.Info("Calculating nearest and distant CL rebase")

	nearestSlot, distantSlot, err := specificCheckSlots(dc)
	if err != nil {
		return false, err
	}

	nearest, err := d.Beacon.ResolveNonMissedSlot(ctx, nearestSlot, dc.LastFinalizedSlot)
	if err != nil {
		return false, errors.Wrapf(err, "resolve nearest slot %d", nearestSlot)
	}
	distant, err := d.Beacon.ResolveNonMissedSlot(ctx, distantSlot, dc.LastFinalizedSlot)
	if err != nil {
		return false, errors.Wrapf(err, "resolve distant slot %d", distantSlot)
	}

	if nearest.BlockNumber == distant.BlockNumber {
		logger.Info("Nearest and distant blocks are the same, specific CL rebase is calculated once")
		rebase, err := d.RebaseBetween(ctx, dc, nearest)
		if err != nil {
			return false, err
		}
		logger.Info("Specific CL rebase: %d Gwei", rebase)
		return rebase < 0, nil
	}

	nearestRebase, err := d.RebaseBetween(ctx, dc, nearest)
	if err != nil {
		return false, err
	}
	distantRebase, err := d.RebaseBetween(ctx, dc, distant)
	if err != nil {
		return false, err
	}
	logger.Info("Specific CL rebase: nearest=%d Gwei distant=%d Gwei", nearestRebase, distantRebase)
	return nearestRebase < 0 || distantRebase < 0, nil
}

// specificCheckSlots derives the nearest and distant checkpoints from the slot
// of the resolved reference block and checks that
// last_report_ref_slot <= distant <= nearest.
func specificCheckSlots(dc *DecisionContext) (domain.Slot, domain.Slot, error) {
	refSlot := uint64(dc.Ref.Slot)
	nearestBack := dc.Tunables.RebaseCheckNearestEpochDistance * dc.Timing.SlotsPerEpoch
	distantBack := dc.Tunables.RebaseCheckDistantEpochDistance * dc.Timing.SlotsPerEpoch

	if nearestBack > distantBack {
		return 0, 0, errors.Wrapf(domain.ErrConfigurationRange,
			"nearest slot %d should not be before distant slot %d",
			int64(refSlot)-int64(nearestBack), int64(refSlot)-int64(distantBack))
	}
	if distantBack > refSlot || refSlot-distantBack < uint64(dc.LastReportRefSlot) {
		return 0, 0, errors.Wrapf(domain.ErrConfigurationRange,
			"distant slot %d should not be before last report ref slot %d",
			int64(refSlot)-int64(distantBack), dc.LastReportRefSlot)
	}
	return domain.Slot(refSlot - nearestBack), domain.Slot(refSlot - distantBack), nil
}

// RebaseBetween returns the CL rebase of protocol validators from prev to the
// decision's reference block. Skimmed rewards land in the withdrawal vault, so
// the vault balance counts towards both sides and vault withdrawals made in
// between are added back.
func (d *AbnormalClRebaseDetector) RebaseBetween(
	ctx context.Context,
	dc *DecisionContext,
	prev domain.BlockReference,
) (domain.Gwei, error) {
	ref := dc.Ref.BlockReference
	logger.Info("Calculating CL rebase between epochs %d and %d", prev.Epoch, ref.Epoch)

	previous, err := LoadValidatorSetSnapshot(ctx, d.Beacon, prev, dc.Keys)
	if err != nil {
		return 0, err
	}

	refBalance, err := d.balanceWithVault(ctx, ref, dc.Validators.Protocol)
	if err != nil {
		return 0, err
	}
	prevBalance, err := d.balanceWithVault(ctx, prev, previous.Protocol)
	if err != nil {
		return 0, err
	}

	validatorsDelta, err := ValidatorsCountDelta(dc.Validators.Protocol, previous.Protocol)
	if err != nil {
		return 0, err
	}

	withdrawn, err := d.WithdrawnFromVaultBetween(ctx, prev, ref)
	if err != nil {
		return 0, err
	}

	correctedPrev := prevBalance + validatorsDelta - withdrawn
	rebase := refBalance - correctedPrev
	logger.Info("CL rebase between epochs %d and %d: %d Gwei", prev.Epoch, ref.Epoch, rebase)
	return rebase, nil
}

// ValidatorsCountDelta prices validators that appeared between two points at
// MAX_EFFECTIVE_BALANCE each. The protocol validator set never shrinks.
func ValidatorsCountDelta(current, previous []domain.ProtocolValidator) (domain.Gwei, error) {
	delta := domain.Gwei(len(current)-len(previous)) * domain.MaxEffectiveBalance
	if delta < 0 {
		return 0, errors.Wrapf(domain.ErrDataInconsistency,
			"protocol validators count dropped from %d to %d", len(previous), len(current))
	}
	return delta, nil
}

func (d *AbnormalClRebaseDetector) balanceWithVault(
	ctx context.Context,
	block domain.BlockReference,
	validators []domain.ProtocolValidator,
) (domain.Gwei, error) {
	vault, err := d.Execution.GetWithdrawalVault(ctx, block)
	if err != nil {
		return 0, errors.Wrapf(err, "get withdrawal vault at block %d", block.BlockNumber)
	}
	vaultBalance, err := d.Execution.GetBalance(ctx, vault, block)
	if err != nil {
		return 0, errors.Wrapf(err, "get withdrawal vault balance at block %d", block.BlockNumber)
	}
	return RealBalanceSum(validators) + domain.WeiToGwei(vaultBalance), nil
}

// WithdrawnFromVaultBetween returns what the protocol withdrew from the vault
// in blocks (prev, ref]. Withdrawals at prev are already reflected in prev's
// vault balance.
func (d *AbnormalClRebaseDetector) WithdrawnFromVaultBetween(
	ctx context.Context,
	prev domain.BlockReference,
	ref domain.BlockReference,
) (domain.Gwei, error) {
	events, err := d.Execution.GetETHDistributedEvents(ctx, prev.BlockNumber+1, ref.BlockNumber)
	if err != nil {
		return 0, errors.Wrapf(err, "get ETHDistributed events in blocks %d..%d", prev.BlockNumber+1, ref.BlockNumber)
	}
	if len(events) > 1 {
		return 0, errors.Wrapf(domain.ErrDataInconsistency,
			"%d ETHDistributed events in blocks %d..%d, expected at most one",
			len(events), prev.BlockNumber+1, ref.BlockNumber)
	}
	if len(events) == 0 {
		logger.Info("No ETHDistributed event found, vault withdrawals: 0 Gwei")
		return 0, nil
	}

	withdrawn := domain.WeiToGwei(events[0].WithdrawalsWithdrawn)
	logger.Info("Vault withdrawals: %d Gwei", withdrawn)
	return withdrawn, nil
}
