package domain

import "github.com/pkg/errors"

var (
	// ErrConfigurationRange is returned when the rebase check window is inverted.
	ErrConfigurationRange = errors.New("configuration range error")
	// ErrDataInconsistency is returned when chain data contradicts a protocol invariant.
	ErrDataInconsistency = errors.New("data inconsistency")
	// ErrNoSlotsAvailable is returned when every slot up to the finalized one is missed.
	ErrNoSlotsAvailable = errors.New("no slots available")
	// ErrKeysOutdated is returned when the key registry never catches up with the requested block.
	ErrKeysOutdated = errors.New("keys registry snapshot is outdated")
)
