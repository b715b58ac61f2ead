package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/q4ZAr/strike-leaderboard/leaderboard-service/internal/domain"
	"github.com/q4ZAr/strike-leaderboard/leaderboard-service/pkg/logger"
	"github.com/q4ZAr/strike-leaderboard/leaderboard-service/pkg/metrics"
)

// JSON-RPC error codes providers use for request/range limits.
const (
	codeLimitExceeded   = -32005
	codeTooManyRequests = -32029
)

type Client struct {
	network string
	eth     *ethclient.Client
	logger  *logger.Logger
}

func Dial(ctx context.Context, network, url string, log *logger.Logger) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s rpc: %w", network, classify(err))
	}

	return &Client{
		network: network,
		eth:     eth,
		logger:  log,
	}, nil
}

// NewDialer returns a dialer that opens a new session on every call.
func NewDialer(network, url string, log *logger.Logger) domain.ChainDialer {
	return func(ctx context.Context) (domain.ChainClient, error) {
		return Dial(ctx, network, url, log)
	}
}

// StrikeTopic returns topic0 for an event signature such as "Strike(address)".
func StrikeTopic(signature string) common.Hash {
	return crypto.Keccak256Hash([]byte(signature))
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	start := time.Now()
	head, err := c.eth.BlockNumber(ctx)
	metrics.RecordRPCRequest(c.network, "eth_blockNumber", time.Since(start).Seconds(), err == nil)

	if err != nil {
		return 0, fmt.Errorf("failed to fetch block number: %w", classify(err))
	}
	return head, nil
}

func (c *Client) FilterLogs(ctx context.Context, filter domain.LogFilter) ([]domain.EventLog, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(filter.FromBlock),
		ToBlock:   new(big.Int).SetUint64(filter.ToBlock),
		Addresses: []common.Address{filter.Contract},
		Topics:    [][]common.Hash{{filter.Topic}},
	}

	c.logger.Debugw("Fetching logs",
		"network", c.network,
		"fromBlock", filter.FromBlock,
		"toBlock", filter.ToBlock,
	)

	start := time.Now()
	logs, err := c.eth.FilterLogs(ctx, query)
	metrics.RecordRPCRequest(c.network, "eth_getLogs", time.Since(start).Seconds(), err == nil)

	if err != nil {
		return nil, fmt.Errorf("failed to fetch logs [%d,%d]: %w", filter.FromBlock, filter.ToBlock, classify(err))
	}

	return convertLogs(logs), nil
}

func (c *Client) Close() {
	c.eth.Close()
}

func convertLogs(logs []types.Log) []domain.EventLog {
	out := make([]domain.EventLog, 0, len(logs))
	for _, l := range logs {
		out = append(out, domain.EventLog{
			Topics:      l.Topics,
			BlockNumber: l.BlockNumber,
			TxHash:      l.TxHash,
			Index:       l.Index,
			Removed:     l.Removed,
		})
	}
	return out
}

// classify wraps provider throttling responses with domain.ErrRateLimited.
func classify(err error) error {
	if err == nil || !IsRateLimited(err) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrRateLimited, err)
}

func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusTooManyRequests {
		return true
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case codeLimitExceeded, codeTooManyRequests:
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests")
}
