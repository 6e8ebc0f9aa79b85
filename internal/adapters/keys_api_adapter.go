package adapters

import (
	"context"
	"encoding/json"
	"io"
	nethttp "net/http"
	"time"

	"github.com/Marketen/bunker-oracle/internal/application/domain"
	"github.com/Marketen/bunker-oracle/internal/application/ports"
	"github.com/Marketen/bunker-oracle/internal/logger"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"gopkg.in/cenkalti/backoff.v1"
)

const keysPath = "/v1/modules/keys"

type keysAPIResponse struct {
	Data []keysAPIModule `json:"data"`
	Meta struct {
		ElBlockSnapshot keysAPIBlockSnapshot `json:"elBlockSnapshot"`
	} `json:"meta"`
}

type keysAPIModule struct {
	Keys   []keysAPIKey `json:"keys"`
	Module struct {
		ID                   uint64 `json:"id"`
		StakingModuleAddress string `json:"stakingModuleAddress"`
	} `json:"module"`
}

type keysAPIKey struct {
	Key           string `json:"key"`
	OperatorIndex uint64 `json:"operatorIndex"`
	Used          bool   `json:"used"`
}

type keysAPIBlockSnapshot struct {
	BlockNumber uint64 `json:"blockNumber"`
	BlockHash   string `json:"blockHash"`
	Timestamp   uint64 `json:"timestamp"`
}

// keysAPIClient implements ports.KeysRegistryAdapter over the Keys API.
type keysAPIClient struct {
	endpoint  string
	client    *nethttp.Client
	retries   int
	retryWait time.Duration
}

// NewKeysAPIAdapter is the constructor used from main.go.
func NewKeysAPIAdapter(endpoint string, timeout time.Duration, retries int, retryWait time.Duration) ports.KeysRegistryAdapter {
	return &keysAPIClient{
		endpoint:  endpoint,
		client:    &nethttp.Client{Timeout: timeout},
		retries:   retries,
		retryWait: retryWait,
	}
}

// GetProtocolKeys returns every key known to the registry. The Keys API
// indexes the chain on its own schedule, so a snapshot older than block is
// refetched until it catches up.
func (k *keysAPIClient) GetProtocolKeys(ctx context.Context, block domain.BlockReference) ([]domain.ProtocolKey, error) {
	var keys []domain.ProtocolKey
	fetch := func() error {
		resp, err := k.fetchKeys(ctx)
		if err != nil {
			return err
		}
		snapshot := resp.Meta.ElBlockSnapshot.BlockNumber
		if snapshot < uint64(block.BlockNumber) {
			return errors.Wrapf(domain.ErrKeysOutdated,
				"snapshot at block %d, need %d", snapshot, block.BlockNumber)
		}
		keys, err = toProtocolKeys(resp.Data)
		return err
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("Keys API request failed: %v. Retry in %s", err, wait)
	}

	if err := backoff.RetryNotify(fetch, k.retryPolicy(ctx), notify); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	return keys, nil
}

// retryPolicy allows k.retries attempts in total, k.retryWait apart.
func (k *keysAPIClient) retryPolicy(ctx context.Context) backoff.BackOff {
	var policy backoff.BackOff = &backoff.StopBackOff{}
	if k.retries > 1 {
		policy = backoff.WithMaxTries(backoff.NewConstantBackOff(k.retryWait), uint64(k.retries-1))
	}
	return backoff.WithContext(policy, ctx)
}

func (k *keysAPIClient) fetchKeys(ctx context.Context) (*keysAPIResponse, error) {
	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet, k.endpoint+keysPath, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := k.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "keys api request")
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != nethttp.StatusOK {
		return nil, errors.Errorf("keys api: http %d", resp.StatusCode)
	}

	var out keysAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Wrap(err, "decode keys api response")
	}
	return &out, nil
}

func toProtocolKeys(modules []keysAPIModule) ([]domain.ProtocolKey, error) {
	var keys []domain.ProtocolKey
	for _, m := range modules {
		for _, k := range m.Keys {
			raw, err := hexutil.Decode(k.Key)
			if err != nil {
				return nil, errors.Wrapf(err, "module %d: invalid key %q", m.Module.ID, k.Key)
			}
			var pubKey domain.BLSPubKey
			if len(raw) != len(pubKey) {
				return nil, errors.Errorf("module %d: key %q has %d bytes", m.Module.ID, k.Key, len(raw))
			}
			copy(pubKey[:], raw)
			keys = append(keys, domain.ProtocolKey{
				PubKey:     pubKey,
				ModuleID:   m.Module.ID,
				OperatorID: k.OperatorIndex,
				Used:       k.Used,
			})
		}
	}
	return keys, nil
}
