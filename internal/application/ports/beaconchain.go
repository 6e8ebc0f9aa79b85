package ports

import (
	"context"

	"github.com/Marketen/bunker-oracle/internal/application/domain"
)

// BeaconChainAdapter is the hexagonal port for accessing beacon chain data.
// The bunker engine depends only on this interface, not on any concrete client.
type BeaconChainAdapter interface {
	// GetFinalizedBlock returns the block at the latest finalized checkpoint.
	GetFinalizedBlock(ctx context.Context) (domain.BlockReference, error)

	// GetValidators returns every validator at the given state root.
	// Implementations must not memoize: historical states are queried by
	// root and each call reflects exactly that state.
	GetValidators(ctx context.Context, stateRoot domain.Root) ([]domain.Validator, error)

	// ResolveNonMissedSlot returns the block at targetSlot or, if that slot
	// was missed, the closest block before it. lastFinalizedSlot bounds the
	// forward search for a child block.
	ResolveNonMissedSlot(
		ctx context.Context,
		targetSlot domain.Slot,
		lastFinalizedSlot domain.Slot,
	) (domain.BlockReference, error)
}
