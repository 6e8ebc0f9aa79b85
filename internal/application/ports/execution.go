package ports

import (
	"context"
	"math/big"

	"github.com/Marketen/bunker-oracle/internal/application/domain"
)

// ExecutionAdapter reads execution layer state and protocol contracts.
// Every call is pinned to a block.
type ExecutionAdapter interface {
	// GetBalance returns the balance of address in wei.
	GetBalance(ctx context.Context, address domain.Address, block domain.BlockReference) (*big.Int, error)

	// GetWithdrawalVault returns the address of the protocol withdrawal vault.
	GetWithdrawalVault(ctx context.Context, block domain.BlockReference) (domain.Address, error)

	// GetTotalSupply returns the protocol's pre-report total pooled ether in wei.
	GetTotalSupply(ctx context.Context, block domain.BlockReference) (*big.Int, error)

	// SimulateReport runs the oracle report handler through eth_call.
	SimulateReport(
		ctx context.Context,
		inputs domain.ReportInputs,
		block domain.BlockReference,
	) (domain.SimulatedRebase, error)

	// GetETHDistributedEvents returns reward distribution events in [from, to].
	GetETHDistributedEvents(
		ctx context.Context,
		from domain.BlockNumber,
		to domain.BlockNumber,
	) ([]domain.ETHDistributedEvent, error)
}
