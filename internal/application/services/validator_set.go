package services

import (
	"context"

	"github.com/pkg/errors"

	"github.com/Marketen/bunker-oracle/internal/application/domain"
	"github.com/Marketen/bunker-oracle/internal/application/ports"
)

// ValidatorSetSnapshot is the validator set at one block, with the protocol
// owned subset already joined. It is built per point in time and never
// shared across blocks.
type ValidatorSetSnapshot struct {
	Block    domain.BlockReference
	All      []domain.Validator
	Protocol []domain.ProtocolValidator
}

// LoadValidatorSetSnapshot fetches the validator set at block and joins it
// with keys.
func LoadValidatorSetSnapshot(
	ctx context.Context,
	beacon ports.BeaconChainAdapter,
	block domain.BlockReference,
	keys []domain.ProtocolKey,
) (ValidatorSetSnapshot, error) {
	validators, err := beacon.GetValidators(ctx, block.StateRoot)
	if err != nil {
		return ValidatorSetSnapshot{}, errors.Wrapf(err, "get validators at slot %d", block.Slot)
	}
	return ValidatorSetSnapshot{
		Block:    block,
		All:      validators,
		Protocol: MergeValidatorsWithKeys(keys, validators),
	}, nil
}

// RefValidators is what a frame reads from the key registry and the beacon
// chain at its reference block.
type RefValidators struct {
	Keys     []domain.ProtocolKey
	Snapshot ValidatorSetSnapshot
}

// LoadRefValidators fetches the protocol keys and the validator set at block.
func LoadRefValidators(
	ctx context.Context,
	registry ports.KeysRegistryAdapter,
	beacon ports.BeaconChainAdapter,
	block domain.BlockReference,
) (RefValidators, error) {
	keys, err := registry.GetProtocolKeys(ctx, block)
	if err != nil {
		return RefValidators{}, errors.Wrap(err, "get protocol keys")
	}
	snapshot, err := LoadValidatorSetSnapshot(ctx, beacon, block, keys)
	if err != nil {
		return RefValidators{}, err
	}
	return RefValidators{Keys: keys, Snapshot: snapshot}, nil
}

// MergeValidatorsWithKeys returns the validators whose public key is a used
// protocol key, in validator order.
func MergeValidatorsWithKeys(keys []domain.ProtocolKey, validators []domain.Validator) []domain.ProtocolValidator {
	byPubKey := make(map[domain.BLSPubKey]domain.ProtocolKey, len(keys))
	for _, k := range keys {
		if !k.Used {
			continue
		}
		byPubKey[k.PubKey] = k
	}

	result := make([]domain.ProtocolValidator, 0, len(byPubKey))
	for _, v := range validators {
		k, ok := byPubKey[v.PubKey]
		if !ok {
			continue
		}
		result = append(result, domain.ProtocolValidator{
			Validator:  v,
			ModuleID:   k.ModuleID,
			OperatorID: k.OperatorID,
		})
	}
	return result
}

// ActiveEffectiveBalanceSum sums the effective balance of validators active at epoch.
func ActiveEffectiveBalanceSum[V domain.ValidatorView](validators []V, epoch domain.Epoch) domain.Gwei {
	var total domain.Gwei
	for _, v := range validators {
		state := v.ConsensusState()
		if state.IsActive(epoch) {
			total += state.EffectiveBalance
		}
	}
	return total
}

// RealBalanceSum sums actual balances, active or not.
func RealBalanceSum[V domain.ValidatorView](validators []V) domain.Gwei {
	var total domain.Gwei
	for _, v := range validators {
		total += v.ConsensusState().Balance
	}
	return total
}
