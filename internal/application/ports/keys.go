package ports

import (
	"context"

	"github.com/Marketen/bunker-oracle/internal/application/domain"
)

// KeysRegistryAdapter lists the keys the protocol has deposited.
type KeysRegistryAdapter interface {
	// GetProtocolKeys returns keys from a registry snapshot no older than block.
	GetProtocolKeys(ctx context.Context, block domain.BlockReference) ([]domain.ProtocolKey, error)
}
