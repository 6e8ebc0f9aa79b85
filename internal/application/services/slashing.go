package services

import (
	"github.com/Marketen/bunker-oracle/internal/application/domain"
)

// PossibleSlashedEpochs returns every epoch in which v may have been slashed,
// in ascending order.
//
// A slashed validator gets withdrawable_epoch = slashed_epoch + EPOCHS_PER_SLASHINGS_VECTOR
// unless its exit epoch was already pushed further out by the exit queue. When
// the gap between withdrawable and exit epochs is wider than the minimum
// withdrawability delay, the first rule applied and the slashing epoch is
// exact. Otherwise any epoch from one vector ago up to the latest possible one
// is a candidate.
func PossibleSlashedEpochs(v domain.Validator, refEpoch domain.Epoch) []domain.Epoch {
	latest := domain.SubEpochs(v.WithdrawableEpoch, domain.EpochsPerSlashingsVector)

	if domain.SubEpochs(v.WithdrawableEpoch, v.ExitEpoch) > domain.MinValidatorWithdrawabilityDelay {
		return []domain.Epoch{latest}
	}

	earliest := domain.SubEpochs(refEpoch, domain.EpochsPerSlashingsVector)
	if earliest > latest {
		return nil
	}
	epochs := make([]domain.Epoch, 0, latest-earliest+1)
	for epoch := earliest; epoch <= latest; epoch++ {
		epochs = append(epochs, epoch)
	}
	return epochs
}

// MidtermSlashingEpoch is the epoch at which the proportional slashing
// penalty is applied to v.
func MidtermSlashingEpoch(v domain.Validator) domain.Epoch {
	return domain.SubEpochs(v.WithdrawableEpoch, domain.EpochsPerSlashingsVector/2)
}

// NotWithdrawnSlashed keeps slashed validators whose withdrawable epoch is
// still ahead of refEpoch.
func NotWithdrawnSlashed[V domain.ValidatorView](validators []V, refEpoch domain.Epoch) []V {
	var result []V
	for _, v := range validators {
		state := v.ConsensusState()
		if state.Slashed && state.WithdrawableEpoch > refEpoch {
			result = append(result, v)
		}
	}
	return result
}

// slashedEpochBuckets maps each possible slashing epoch to the validators
// that may have been slashed in it. A validator with an ambiguous slashing
// epoch lands in several buckets.
type slashedEpochBuckets map[domain.Epoch]map[domain.ValidatorIndex]struct{}

func newSlashedEpochBuckets(slashed []domain.Validator, refEpoch domain.Epoch) slashedEpochBuckets {
	buckets := make(slashedEpochBuckets)
	for _, v := range slashed {
		for _, epoch := range PossibleSlashedEpochs(v, refEpoch) {
			bucket, ok := buckets[epoch]
			if !ok {
				bucket = make(map[domain.ValidatorIndex]struct{})
				buckets[epoch] = bucket
			}
			bucket[v.Index] = struct{}{}
		}
	}
	return buckets
}

// boundedCount counts distinct validators that may have been slashed within
// one slashings vector before midtermEpoch.
func (b slashedEpochBuckets) boundedCount(midtermEpoch domain.Epoch) int {
	from := domain.SubEpochs(midtermEpoch, domain.EpochsPerSlashingsVector)
	bounded := make(map[domain.ValidatorIndex]struct{})
	for epoch, validators := range b {
		if epoch < from || epoch > midtermEpoch {
			continue
		}
		for index := range validators {
			bounded[index] = struct{}{}
		}
	}
	return len(bounded)
}
