package evm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/q4ZAr/strike-leaderboard/leaderboard-service/internal/domain"
	"github.com/q4ZAr/strike-leaderboard/leaderboard-service/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type rpcHandler func(req rpcRequest) (result interface{}, rpcErr map[string]interface{})

func newRPCServer(t *testing.T, handle rpcHandler) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		result, rpcErr := handle(req)
		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func strikeLog(player string, block uint64, index uint) map[string]interface{} {
	return map[string]interface{}{
		"address":          "0x1111111111111111111111111111111111111111",
		"topics":           []string{StrikeTopic("Strike(address)").Hex(), common.HexToHash(player).Hex()},
		"data":             "0x",
		"blockNumber":      fmt.Sprintf("0x%x", block),
		"transactionHash":  common.BigToHash(common.Big1).Hex(),
		"transactionIndex": "0x0",
		"blockHash":        common.BigToHash(common.Big2).Hex(),
		"logIndex":         fmt.Sprintf("0x%x", index),
		"removed":          false,
	}
}

func dialTest(t *testing.T, url string) *Client {
	t.Helper()
	log, _ := logger.New("debug", "test")
	client, err := Dial(context.Background(), "testnet", url, log)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func TestClient_BlockNumber(t *testing.T) {
	server := newRPCServer(t, func(req rpcRequest) (interface{}, map[string]interface{}) {
		assert.Equal(t, "eth_blockNumber", req.Method)
		return "0x3e8", nil
	})
	defer server.Close()

	client := dialTest(t, server.URL)

	head, err := client.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), head)
}

func TestClient_FilterLogs(t *testing.T) {
	contract := common.HexToAddress("0x1111111111111111111111111111111111111111")
	topic := StrikeTopic("Strike(address)")

	server := newRPCServer(t, func(req rpcRequest) (interface{}, map[string]interface{}) {
		assert.Equal(t, "eth_getLogs", req.Method)
		if !assert.Len(t, req.Params, 1) {
			return nil, map[string]interface{}{"code": -32602, "message": "bad params"}
		}

		var arg struct {
			Address   []common.Address `json:"address"`
			FromBlock string           `json:"fromBlock"`
			ToBlock   string           `json:"toBlock"`
			Topics    [][]common.Hash  `json:"topics"`
		}
		assert.NoError(t, json.Unmarshal(req.Params[0], &arg))
		assert.Equal(t, []common.Address{contract}, arg.Address)
		assert.Equal(t, "0x385", arg.FromBlock)
		assert.Equal(t, "0x3b6", arg.ToBlock)
		assert.Equal(t, [][]common.Hash{{topic}}, arg.Topics)

		return []interface{}{
			strikeLog("0xaa", 901, 0),
			strikeLog("0xbb", 950, 3),
		}, nil
	})
	defer server.Close()

	client := dialTest(t, server.URL)

	logs, err := client.FilterLogs(context.Background(), domain.LogFilter{
		Contract:  contract,
		Topic:     topic,
		FromBlock: 901,
		ToBlock:   950,
	})
	require.NoError(t, err)
	require.Len(t, logs, 2)

	assert.Equal(t, uint64(901), logs[0].BlockNumber)
	assert.Equal(t, topic, logs[0].Topics[0])
	assert.Equal(t, domain.Address("0x00000000000000000000000000000000000000aa"), domain.AddressFromTopic(logs[0].Topics[1]))
	assert.Equal(t, uint(3), logs[1].Index)
	assert.False(t, logs[1].Removed)
}

func TestClient_RateLimitedHTTPStatus(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"slow down"}`))
	}))
	defer server.Close()

	client := dialTest(t, server.URL)

	_, err := client.BlockNumber(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrRateLimited))
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_RateLimitedRPCCode(t *testing.T) {
	server := newRPCServer(t, func(req rpcRequest) (interface{}, map[string]interface{}) {
		return nil, map[string]interface{}{"code": codeLimitExceeded, "message": "request limit reached"}
	})
	defer server.Close()

	client := dialTest(t, server.URL)

	_, err := client.FilterLogs(context.Background(), domain.LogFilter{FromBlock: 1, ToBlock: 2})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrRateLimited))
}

func TestClient_TransientErrorIsNotRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := dialTest(t, server.URL)

	_, err := client.BlockNumber(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrRateLimited))
}

func TestIsRateLimited(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "message", err: errors.New("You have exceeded the Rate Limit"), want: true},
		{name: "too many requests", err: errors.New("Too Many Requests"), want: true},
		{name: "timeout", err: context.DeadlineExceeded, want: false},
		{name: "wrapped", err: fmt.Errorf("call: %w", errors.New("rate limit exceeded")), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRateLimited(tt.err))
		})
	}
}

func TestStrikeTopic(t *testing.T) {
	// keccak256("Transfer(address,address,uint256)")
	assert.Equal(t,
		common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"),
		StrikeTopic("Transfer(address,address,uint256)"),
	)
}

func TestNewDialer(t *testing.T) {
	server := newRPCServer(t, func(req rpcRequest) (interface{}, map[string]interface{}) {
		return "0x1", nil
	})
	defer server.Close()

	log, _ := logger.New("debug", "test")
	dial := NewDialer("testnet", server.URL, log)

	first, err := dial(context.Background())
	require.NoError(t, err)
	defer first.Close()
	second, err := dial(context.Background())
	require.NoError(t, err)
	defer second.Close()

	assert.NotSame(t, first, second)
	head, err := second.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), head)
}
