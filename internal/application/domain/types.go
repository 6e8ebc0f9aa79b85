package domain

import (
	"math/big"
)

// Basic consensus types
type Epoch uint64
type Slot uint64
type ValidatorIndex uint64
type BlockNumber uint64

// Gwei is signed: rebases and corrected balances can go negative.
type Gwei int64

// BLSPubKey is a validator public key as found on the beacon chain.
type BLSPubKey [48]byte

// Root is a 32-byte beacon state or block root.
type Root [32]byte

// Hash is a 32-byte execution block hash.
type Hash [32]byte

// Address is a 20-byte execution layer address.
type Address [20]byte

// Validator is an immutable view of one consensus-layer validator at some state.
type Validator struct {
	Index             ValidatorIndex
	Balance           Gwei
	EffectiveBalance  Gwei
	Slashed           bool
	ActivationEpoch   Epoch
	ExitEpoch         Epoch
	WithdrawableEpoch Epoch
	PubKey            BLSPubKey
}

// ProtocolKey is a deposited key taken from the protocol key registry.
type ProtocolKey struct {
	PubKey     BLSPubKey
	ModuleID   uint64
	OperatorID uint64
	Used       bool
}

// ProtocolValidator is a validator owned by the protocol, joined with its registry key.
type ProtocolValidator struct {
	Validator
	ModuleID   uint64
	OperatorID uint64
}

// BlockReference points at a block with state in both layers.
type BlockReference struct {
	Slot        Slot
	Epoch       Epoch
	BlockNumber BlockNumber
	BlockHash   Hash
	StateRoot   Root
}

// ReportReference is a BlockReference that also carries the frame's
// designated reporting slot. The block itself may sit at an earlier slot
// when RefSlot was missed.
type ReportReference struct {
	BlockReference
	RefSlot  Slot
	RefEpoch Epoch
}

// ChainTiming is constant for a network.
type ChainTiming struct {
	SlotsPerEpoch  uint64
	SecondsPerSlot uint64
	GenesisTime    uint64
}

// FrameSchedule defines report frame boundaries.
type FrameSchedule struct {
	InitialEpoch   Epoch
	EpochsPerFrame uint64
}

// BunkerTunables are read from the on-chain daemon config on every decision.
type BunkerTunables struct {
	NormalizedClRewardPerEpoch      uint64
	NormalizedClRewardMistakeRate   float64
	RebaseCheckNearestEpochDistance uint64
	RebaseCheckDistantEpochDistance uint64
}

// SimulatedRebase is the hypothetical post-report state returned by a
// non-committing call into the accounting contract. Values are in wei.
type SimulatedRebase struct {
	PostTotalPooledEther *big.Int
	PostTotalShares      *big.Int
	Withdrawals          *big.Int
	ElRewards            *big.Int
}

// ReportInputs are the arguments of the simulated oracle report.
type ReportInputs struct {
	Timestamp              uint64
	TimeElapsed            uint64
	ClValidators           uint64
	ClBalance              Gwei
	WithdrawalVaultBalance *big.Int
	ElRewardsVaultBalance  *big.Int
	SharesRequestedToBurn  *big.Int
}

// ETHDistributedEvent is the reward distribution event emitted on every
// processed report. Amounts are in wei.
type ETHDistributedEvent struct {
	BlockNumber                    BlockNumber
	ReportTimestamp                *big.Int
	PreCLBalance                   *big.Int
	PostCLBalance                  *big.Int
	WithdrawalsWithdrawn           *big.Int
	ExecutionLayerRewardsWithdrawn *big.Int
	PostBufferedEther              *big.Int
}

// ValidatorView is implemented by Validator and every type embedding it.
type ValidatorView interface {
	ConsensusState() Validator
}

// ConsensusState returns the plain consensus view of the validator.
func (v Validator) ConsensusState() Validator {
	return v
}
