package domain

import (
	"math/big"
)

// Consensus layer constants (mainnet preset).
const (
	EpochsPerSlashingsVector         = Epoch(8192)
	MinValidatorWithdrawabilityDelay = Epoch(256)
	ProportionalSlashingMultiplier   = 3 // Bellatrix
	EffectiveBalanceIncrement        = Gwei(1_000_000_000)
	MaxEffectiveBalance              = Gwei(32_000_000_000)
	FarFutureEpoch                   = Epoch(^uint64(0))
)

// GweiToWei is the wei/gwei ratio.
var GweiToWei = big.NewInt(1_000_000_000)

// EpochOfSlot returns the epoch a slot belongs to.
func (t ChainTiming) EpochOfSlot(slot Slot) Epoch {
	return Epoch(uint64(slot) / t.SlotsPerEpoch)
}

// FirstSlot returns the first slot of an epoch.
func (t ChainTiming) FirstSlot(epoch Epoch) Slot {
	return Slot(uint64(epoch) * t.SlotsPerEpoch)
}

// SlotTimestamp returns the unix time a slot starts at.
func (t ChainTiming) SlotTimestamp(slot Slot) uint64 {
	return t.GenesisTime + uint64(slot)*t.SecondsPerSlot
}

// FrameIndex returns the report frame an epoch belongs to. Epochs before the
// initial epoch belong to frame 0; callers skip them before asking.
func (f FrameSchedule) FrameIndex(epoch Epoch) uint64 {
	if epoch < f.InitialEpoch {
		return 0
	}
	return uint64(epoch-f.InitialEpoch) / f.EpochsPerFrame
}

// RefSlot returns the reporting slot of a frame: the last slot before the
// frame's successor starts.
func (f FrameSchedule) RefSlot(frame uint64, timing ChainTiming) Slot {
	startEpoch := f.InitialEpoch + Epoch(frame*f.EpochsPerFrame)
	return timing.FirstSlot(startEpoch) - 1
}

// IsActive reports whether the validator is active at epoch.
func (v Validator) IsActive(epoch Epoch) bool {
	return v.ActivationEpoch <= epoch && epoch < v.ExitEpoch
}

// SubEpochs subtracts b from a, saturating at zero.
func SubEpochs(a, b Epoch) Epoch {
	if a < b {
		return 0
	}
	return a - b
}

// WeiToGwei converts a wei amount to gwei, flooring towards negative infinity.
func WeiToGwei(wei *big.Int) Gwei {
	if wei == nil {
		return 0
	}
	// big.Int.Div is Euclidean, which floors for a positive divisor.
	return Gwei(new(big.Int).Div(wei, GweiToWei).Int64())
}

// GweiToWeiAmount converts gwei to wei.
func GweiToWeiAmount(gwei Gwei) *big.Int {
	return new(big.Int).Mul(big.NewInt(int64(gwei)), GweiToWei)
}
