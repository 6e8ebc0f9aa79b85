package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Marketen/bunker-oracle/internal/application/domain"
)

// slashedNetwork has 100 validators of 32 ETH. Validators 50..99 are
// slashed, owned by the protocol and get their midterm penalty at epoch 4096.
func slashedNetwork(withdrawable, exit domain.Epoch) ([]domain.Validator, []domain.ProtocolValidator) {
	all := make([]domain.Validator, 0, 100)
	var protocol []domain.ProtocolValidator
	for i := 0; i < 100; i++ {
		v := domain.Validator{
			Index:             domain.ValidatorIndex(i),
			Balance:           32 * gweiPerEth,
			EffectiveBalance:  32 * gweiPerEth,
			ExitEpoch:         domain.FarFutureEpoch,
			WithdrawableEpoch: domain.FarFutureEpoch,
			PubKey:            pubKey(i),
		}
		if i >= 50 {
			v.Slashed = true
			v.ExitEpoch = exit
			v.WithdrawableEpoch = withdrawable
			protocol = append(protocol, domain.ProtocolValidator{Validator: v, ModuleID: 1, OperatorID: 1})
		}
		all = append(all, v)
	}
	return all, protocol
}

func midtermRef() domain.ReportReference {
	return domain.ReportReference{RefSlot: 225 * 32, RefEpoch: 225}
}

func TestIsHighMidtermSlashingPenalty(t *testing.T) {
	all, protocol := slashedNetwork(8_192, 7_892)
	schedule := domain.FrameSchedule{InitialEpoch: 0, EpochsPerFrame: 225}

	tests := []struct {
		name          string
		frameClRebase domain.Gwei
		want          bool
	}{
		{name: "rebase below penalty", frameClRebase: 49 * 32 * gweiPerEth, want: true},
		{name: "rebase equal to penalty", frameClRebase: 50 * 32 * gweiPerEth, want: false},
		{name: "rebase above penalty", frameClRebase: 51 * 32 * gweiPerEth, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsHighMidtermSlashingPenalty(midtermRef(), schedule, all, protocol, tt.frameClRebase)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsHighMidtermSlashingPenalty_NoProtocolSlashed(t *testing.T) {
	all, _ := slashedNetwork(8_192, 7_892)
	schedule := domain.FrameSchedule{InitialEpoch: 0, EpochsPerFrame: 225}

	assert.False(t, IsHighMidtermSlashingPenalty(midtermRef(), schedule, all, nil, 0))
}

func TestIsHighMidtermSlashingPenalty_MidtermAlreadyPassed(t *testing.T) {
	// Midterm epoch 104 is before the ref epoch, the penalty is already in the rebase.
	all, protocol := slashedNetwork(4_200, 3_900)
	schedule := domain.FrameSchedule{InitialEpoch: 0, EpochsPerFrame: 225}

	assert.False(t, IsHighMidtermSlashingPenalty(midtermRef(), schedule, all, protocol, 0))
}

func TestIsHighMidtermSlashingPenalty_SmallSlashingIsNotHigh(t *testing.T) {
	all, protocol := slashedNetwork(8_192, 7_892)
	schedule := domain.FrameSchedule{InitialEpoch: 0, EpochsPerFrame: 225}

	// One protocol validator slashed out of a hundred.
	protocol = protocol[:1]
	for i := 51; i < 100; i++ {
		all[i].Slashed = false
		all[i].ExitEpoch = domain.FarFutureEpoch
		all[i].WithdrawableEpoch = domain.FarFutureEpoch
	}

	// 32 * (1 * 32 ETH * 3) / (100 * 32 ETH) = 0.96 -> 0 increments.
	assert.False(t, IsHighMidtermSlashingPenalty(midtermRef(), schedule, all, protocol, 0))
}

func TestFutureMidtermPenaltyFrames(t *testing.T) {
	_, protocol := slashedNetwork(8_192, 7_892)
	schedule := domain.FrameSchedule{InitialEpoch: 0, EpochsPerFrame: 225}

	frames := futureMidtermPenaltyFrames(225, schedule, protocol)
	assert.Len(t, frames, 1)
	assert.Len(t, frames[18][4_096], 50)
}

func TestSlashingPenalty(t *testing.T) {
	tests := []struct {
		name                     string
		effective, adjusted, all domain.Gwei
		want                     domain.Gwei
	}{
		{name: "full penalty", effective: 32 * gweiPerEth, adjusted: 3_200 * gweiPerEth, all: 3_200 * gweiPerEth, want: 32 * gweiPerEth},
		{name: "partial penalty", effective: 32 * gweiPerEth, adjusted: 1_000 * gweiPerEth, all: 3_200 * gweiPerEth, want: 10 * gweiPerEth},
		{name: "rounded down to an increment", effective: 32 * gweiPerEth, adjusted: 10_000_000 * gweiPerEth, all: 34_000_000 * gweiPerEth, want: 9 * gweiPerEth},
		{name: "partial effective balance", effective: 31_500_000_000, adjusted: 3_200 * gweiPerEth, all: 3_200 * gweiPerEth, want: 31 * gweiPerEth},
		{name: "no active balance", effective: 32 * gweiPerEth, adjusted: 0, all: 0, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SlashingPenalty(tt.effective, tt.adjusted, tt.all))
		})
	}
}
