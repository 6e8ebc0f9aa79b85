package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Marketen/bunker-oracle/internal/application/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pubKeyHex(b byte) string {
	return "0x" + strings.Repeat(fmt.Sprintf("%02x", b), 48)
}

func keysResponse(blockNumber uint64) keysAPIResponse {
	var resp keysAPIResponse
	module := keysAPIModule{
		Keys: []keysAPIKey{
			{Key: pubKeyHex(0xaa), OperatorIndex: 3, Used: true},
			{Key: pubKeyHex(0xbb), OperatorIndex: 4, Used: false},
		},
	}
	module.Module.ID = 1
	resp.Data = []keysAPIModule{module}
	resp.Meta.ElBlockSnapshot.BlockNumber = blockNumber
	return resp
}

func TestKeysAPIClient_GetProtocolKeys(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/modules/keys", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(keysResponse(100))
	}))
	defer server.Close()

	client := NewKeysAPIAdapter(server.URL, time.Second, 3, time.Millisecond)
	keys, err := client.GetProtocolKeys(context.Background(), domain.BlockReference{BlockNumber: 100})

	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, byte(0xaa), keys[0].PubKey[0])
	assert.Equal(t, byte(0xaa), keys[0].PubKey[47])
	assert.Equal(t, uint64(1), keys[0].ModuleID)
	assert.Equal(t, uint64(3), keys[0].OperatorID)
	assert.True(t, keys[0].Used)
	assert.False(t, keys[1].Used)
}

func TestKeysAPIClient_RetriesUntilFresh(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := requests.Add(1)
		block := uint64(99)
		if n >= 3 {
			block = 101
		}
		json.NewEncoder(w).Encode(keysResponse(block))
	}))
	defer server.Close()

	client := NewKeysAPIAdapter(server.URL, time.Second, 5, time.Millisecond)
	keys, err := client.GetProtocolKeys(context.Background(), domain.BlockReference{BlockNumber: 100})

	require.NoError(t, err)
	assert.Len(t, keys, 2)
	assert.Equal(t, int32(3), requests.Load())
}

func TestKeysAPIClient_Outdated(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		json.NewEncoder(w).Encode(keysResponse(50))
	}))
	defer server.Close()

	client := NewKeysAPIAdapter(server.URL, time.Second, 2, time.Millisecond)
	_, err := client.GetProtocolKeys(context.Background(), domain.BlockReference{BlockNumber: 100})

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrKeysOutdated)
	assert.Equal(t, int32(2), requests.Load())
}

func TestKeysAPIClient_ContextCancelledWhileWaiting(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(keysResponse(50))
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	client := NewKeysAPIAdapter(server.URL, time.Second, 10, time.Hour)
	_, err := client.GetProtocolKeys(ctx, domain.BlockReference{BlockNumber: 100})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestKeysAPIClient_HTTPError(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewKeysAPIAdapter(server.URL, time.Second, 3, time.Millisecond)
	_, err := client.GetProtocolKeys(context.Background(), domain.BlockReference{BlockNumber: 1})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Equal(t, int32(3), requests.Load())
}

func TestKeysAPIClient_SingleAttempt(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		json.NewEncoder(w).Encode(keysResponse(50))
	}))
	defer server.Close()

	client := NewKeysAPIAdapter(server.URL, time.Second, 1, time.Hour)
	_, err := client.GetProtocolKeys(context.Background(), domain.BlockReference{BlockNumber: 100})

	assert.ErrorIs(t, err, domain.ErrKeysOutdated)
	assert.Equal(t, int32(1), requests.Load())
}

func TestToProtocolKeys_InvalidKey(t *testing.T) {
	module := keysAPIModule{Keys: []keysAPIKey{{Key: "0x1234"}}}
	_, err := toProtocolKeys([]keysAPIModule{module})
	assert.Error(t, err)

	module = keysAPIModule{Keys: []keysAPIKey{{Key: "not-hex"}}}
	_, err = toProtocolKeys([]keysAPIModule{module})
	assert.Error(t, err)
}
