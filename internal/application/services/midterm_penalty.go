package services

import (
	"github.com/holiman/uint256"

	"github.com/Marketen/bunker-oracle/internal/application/domain"
	"github.com/Marketen/bunker-oracle/internal/logger"
)

// IsHighMidtermSlashingPenalty projects the proportional slashing penalties
// that protocol validators will receive in future frames and reports whether
// the worst frame exceeds frameClRebase.
//
// The future total active balance is unknown, so the balance at ref is used
// for every projection. Every bounded slashing is assumed to have taken
// MAX_EFFECTIVE_BALANCE into the slashings vector.
func IsHighMidtermSlashingPenalty(
	ref domain.ReportReference,
	schedule domain.FrameSchedule,
	allValidators []domain.Validator,
	protocolValidators []domain.ProtocolValidator,
	frameClRebase domain.Gwei,
) bool {
	logger.Info("Detecting high midterm slashing penalty")
	refEpoch := ref.RefEpoch

	allSlashed := NotWithdrawnSlashed(allValidators, refEpoch)
	protocolSlashed := NotWithdrawnSlashed(protocolValidators, refEpoch)
	logger.Info("Slashed: all=%d protocol=%d", len(allSlashed), len(protocolSlashed))

	futureFrames := futureMidtermPenaltyFrames(refEpoch, schedule, protocolSlashed)
	if len(futureFrames) == 0 {
		return false
	}

	totalBalance := ActiveEffectiveBalanceSum(allValidators, refEpoch)
	buckets := newSlashedEpochBuckets(allSlashed, refEpoch)

	var maxPenalty domain.Gwei
	for frame, penalty := range midtermPenaltiesPerFrame(futureFrames, buckets, totalBalance) {
		logger.Debug("Predicted midterm penalty in frame %d: %d Gwei", frame, penalty)
		if penalty > maxPenalty {
			maxPenalty = penalty
		}
	}
	logger.Info("Max protocol midterm penalty: %d Gwei, frame CL rebase: %d Gwei", maxPenalty, frameClRebase)

	return maxPenalty > frameClRebase
}

// midtermFrames groups penalized validators by frame, then by midterm epoch.
type midtermFrames map[uint64]map[domain.Epoch][]domain.ProtocolValidator

func futureMidtermPenaltyFrames(
	refEpoch domain.Epoch,
	schedule domain.FrameSchedule,
	slashed []domain.ProtocolValidator,
) midtermFrames {
	frames := make(midtermFrames)
	for _, v := range slashed {
		midterm := MidtermSlashingEpoch(v.Validator)
		if midterm <= refEpoch {
			continue
		}
		frame := schedule.FrameIndex(midterm)
		byEpoch, ok := frames[frame]
		if !ok {
			byEpoch = make(map[domain.Epoch][]domain.ProtocolValidator)
			frames[frame] = byEpoch
		}
		byEpoch[midterm] = append(byEpoch[midterm], v)
	}
	return frames
}

func midtermPenaltiesPerFrame(
	frames midtermFrames,
	buckets slashedEpochBuckets,
	totalBalance domain.Gwei,
) map[uint64]domain.Gwei {
	penalties := make(map[uint64]domain.Gwei, len(frames))
	for frame, byEpoch := range frames {
		var sum domain.Gwei
		for midterm, validators := range byEpoch {
			slashings := domain.Gwei(buckets.boundedCount(midterm)) * domain.MaxEffectiveBalance
			adjustedTotal := min(slashings*domain.ProportionalSlashingMultiplier, totalBalance)
			for _, v := range validators {
				sum += SlashingPenalty(v.EffectiveBalance, adjustedTotal, totalBalance)
			}
		}
		penalties[frame] = sum
	}
	return penalties
}

// SlashingPenalty applies the consensus layer proportional slashing formula:
// effective_balance // increment * adjusted_total // total_balance * increment.
// The product can exceed 64 bits on mainnet sized balances.
func SlashingPenalty(effectiveBalance, adjustedTotal, totalBalance domain.Gwei) domain.Gwei {
	if totalBalance <= 0 {
		return 0
	}
	increments := uint256.NewInt(uint64(effectiveBalance / domain.EffectiveBalanceIncrement))
	numerator := new(uint256.Int).Mul(increments, uint256.NewInt(uint64(adjustedTotal)))
	perIncrement := numerator.Div(numerator, uint256.NewInt(uint64(totalBalance)))
	return domain.Gwei(perIncrement.Uint64()) * domain.EffectiveBalanceIncrement
}
