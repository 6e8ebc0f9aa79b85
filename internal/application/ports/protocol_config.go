package ports

import (
	"context"

	"github.com/Marketen/bunker-oracle/internal/application/domain"
)

// ProtocolConfigAdapter reads oracle configuration kept on chain.
type ProtocolConfigAdapter interface {
	// GetBunkerTunables reads the bunker thresholds as of block.
	GetBunkerTunables(ctx context.Context, block domain.BlockReference) (domain.BunkerTunables, error)

	// GetLastReportRefSlot returns the ref slot of the last processed report,
	// or zero if the protocol has never reported.
	GetLastReportRefSlot(ctx context.Context, block domain.BlockReference) (domain.Slot, error)

	// GetChainTiming reads the chain config the report committee agreed on.
	GetChainTiming(ctx context.Context, block domain.BlockReference) (domain.ChainTiming, error)

	// GetFrameSchedule reads the report frame config.
	GetFrameSchedule(ctx context.Context, block domain.BlockReference) (domain.FrameSchedule, error)
}
