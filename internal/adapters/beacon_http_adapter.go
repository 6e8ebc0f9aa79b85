package adapters

import (
	"context"
	nethttp "net/http"
	"sort"
	"strconv"
	"time"

	"github.com/Marketen/bunker-oracle/internal/application/domain"
	"github.com/Marketen/bunker-oracle/internal/application/ports"
	"github.com/Marketen/bunker-oracle/internal/logger"

	"github.com/attestantio/go-eth2-client/api"
	apiv1 "github.com/attestantio/go-eth2-client/api/v1"
	eth2http "github.com/attestantio/go-eth2-client/http"
	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const defaultSlotsPerEpoch = 32

// beaconHTTPClient implements ports.BeaconChainAdapter using go-eth2-client.
type beaconHTTPClient struct {
	client        *eth2http.Service
	slotsPerEpoch uint64
}

// NewBeaconHTTPAdapter is the constructor used from main.go.
func NewBeaconHTTPAdapter(ctx context.Context, endpoint string, timeout time.Duration) (ports.BeaconChainAdapter, error) {
	customHTTPClient := &nethttp.Client{
		Timeout: 10 * timeout, // global upper bound; per-request timeout below
	}

	client, err := eth2http.New(
		ctx,
		eth2http.WithAddress(endpoint),
		eth2http.WithHTTPClient(customHTTPClient),
		// This is the per-request timeout used by go-eth2-client.
		eth2http.WithTimeout(timeout),
		// Silence go-eth2-client logs unless they are warnings+.
		eth2http.WithLogLevel(zerolog.WarnLevel),
	)
	if err != nil {
		return nil, err
	}
	service := client.(*eth2http.Service)

	slotsPerEpoch := uint64(defaultSlotsPerEpoch)
	spec, err := service.Spec(ctx, &api.SpecOpts{})
	if err != nil {
		return nil, errors.Wrap(err, "get beacon spec")
	}
	if v, ok := spec.Data["SLOTS_PER_EPOCH"].(uint64); ok && v > 0 {
		slotsPerEpoch = v
	}

	return &beaconHTTPClient{client: service, slotsPerEpoch: slotsPerEpoch}, nil
}

// GetFinalizedBlock returns the block at the finalized checkpoint.
func (b *beaconHTTPClient) GetFinalizedBlock(ctx context.Context) (domain.BlockReference, error) {
	finality, err := b.client.Finality(ctx, &api.FinalityOpts{State: "head"})
	if err != nil {
		return domain.BlockReference{}, err
	}
	root := finality.Data.Finalized.Root
	header, err := b.blockHeader(ctx, root.String())
	if err != nil {
		return domain.BlockReference{}, err
	}
	if header == nil {
		return domain.BlockReference{}, errors.Wrapf(domain.ErrDataInconsistency, "finalized block %s not found", root)
	}
	return b.blockReference(ctx, header)
}

// GetValidators returns every validator at the state root. Nothing is cached.
func (b *beaconHTTPClient) GetValidators(ctx context.Context, stateRoot domain.Root) ([]domain.Validator, error) {
	resp, err := b.client.Validators(ctx, &api.ValidatorsOpts{
		State: phase0.Root(stateRoot).String(),
	})
	if err != nil {
		return nil, err
	}
	return toDomainValidators(resp.Data), nil
}

// ResolveNonMissedSlot walks forward from targetSlot to the first existing
// block. If targetSlot itself was missed, the parent of that block is the
// closest block before targetSlot.
func (b *beaconHTTPClient) ResolveNonMissedSlot(
	ctx context.Context,
	targetSlot domain.Slot,
	lastFinalizedSlot domain.Slot,
) (domain.BlockReference, error) {
	header, err := findNonMissedHeader(ctx, b.blockHeader, targetSlot, lastFinalizedSlot)
	if err != nil {
		return domain.BlockReference{}, err
	}
	return b.blockReference(ctx, header)
}

// headerLookup returns the header for a block id, or nil for a missed slot.
type headerLookup func(ctx context.Context, blockID string) (*apiv1.BeaconBlockHeader, error)

func findNonMissedHeader(
	ctx context.Context,
	lookup headerLookup,
	targetSlot domain.Slot,
	lastFinalizedSlot domain.Slot,
) (*apiv1.BeaconBlockHeader, error) {
	if targetSlot > lastFinalizedSlot {
		return nil, errors.Errorf("slot %d should be less or equal to last finalized slot %d", targetSlot, lastFinalizedSlot)
	}

	var existing *apiv1.BeaconBlockHeader
	missed := false
	for slot := targetSlot; slot <= lastFinalizedSlot; slot++ {
		header, err := lookup(ctx, strconv.FormatUint(uint64(slot), 10))
		if err != nil {
			return nil, err
		}
		if header == nil {
			logger.Warn("Missed slot %d. Check next slot.", slot)
			missed = true
			continue
		}
		existing = header
		break
	}
	if existing == nil {
		return nil, errors.Wrapf(domain.ErrNoSlotsAvailable,
			"all slots in %d..%d are missed", targetSlot, lastFinalizedSlot)
	}
	if !missed {
		return existing, nil
	}

	parentRoot := existing.Header.Message.ParentRoot
	parent, err := lookup(ctx, parentRoot.String())
	if err != nil {
		return nil, err
	}
	if parent == nil || parent.Header.Message.Slot >= phase0.Slot(targetSlot) {
		return nil, errors.Wrapf(domain.ErrDataInconsistency,
			"parent of block at slot %d does not precede slot %d", existing.Header.Message.Slot, targetSlot)
	}
	return parent, nil
}

// blockHeader returns the header for a block id, or nil for a missed slot.
func (b *beaconHTTPClient) blockHeader(ctx context.Context, blockID string) (*apiv1.BeaconBlockHeader, error) {
	resp, err := b.client.BeaconBlockHeader(ctx, &api.BeaconBlockHeaderOpts{Block: blockID})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if resp == nil || resp.Data == nil || resp.Data.Header == nil || resp.Data.Header.Message == nil {
		return nil, nil
	}
	return resp.Data, nil
}

// blockReference loads the block behind header to learn its execution payload.
func (b *beaconHTTPClient) blockReference(ctx context.Context, header *apiv1.BeaconBlockHeader) (domain.BlockReference, error) {
	block, err := b.client.SignedBeaconBlock(ctx, &api.SignedBeaconBlockOpts{
		Block: header.Root.String(),
	})
	if err != nil {
		return domain.BlockReference{}, err
	}
	if block == nil || block.Data == nil {
		return domain.BlockReference{}, errors.Wrapf(domain.ErrDataInconsistency, "block %s has a header but no body", header.Root)
	}

	blockNumber, err := block.Data.ExecutionBlockNumber()
	if err != nil {
		return domain.BlockReference{}, errors.Wrap(err, "pre-merge blocks are not supported")
	}
	blockHash, err := block.Data.ExecutionBlockHash()
	if err != nil {
		return domain.BlockReference{}, err
	}

	msg := header.Header.Message
	return domain.BlockReference{
		Slot:        domain.Slot(msg.Slot),
		Epoch:       domain.Epoch(uint64(msg.Slot) / b.slotsPerEpoch),
		BlockNumber: domain.BlockNumber(blockNumber),
		BlockHash:   domain.Hash(blockHash),
		StateRoot:   domain.Root(msg.StateRoot),
	}, nil
}

func isNotFound(err error) bool {
	var apiErr *api.Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == nethttp.StatusNotFound
}

func toDomainValidators(validators map[phase0.ValidatorIndex]*apiv1.Validator) []domain.Validator {
	result := make([]domain.Validator, 0, len(validators))
	for _, v := range validators {
		if v == nil || v.Validator == nil {
			continue
		}
		result = append(result, toDomainValidator(v))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Index < result[j].Index })
	return result
}

func toDomainValidator(v *apiv1.Validator) domain.Validator {
	return domain.Validator{
		Index:             domain.ValidatorIndex(v.Index),
		Balance:           domain.Gwei(v.Balance),
		EffectiveBalance:  domain.Gwei(v.Validator.EffectiveBalance),
		Slashed:           v.Validator.Slashed,
		ActivationEpoch:   domain.Epoch(v.Validator.ActivationEpoch),
		ExitEpoch:         domain.Epoch(v.Validator.ExitEpoch),
		WithdrawableEpoch: domain.Epoch(v.Validator.WithdrawableEpoch),
		PubKey:            domain.BLSPubKey(v.Validator.PublicKey),
	}
}
