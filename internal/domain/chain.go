package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventLog is the subset of a chain log the poller consumes.
type EventLog struct {
	Topics      []common.Hash
	BlockNumber uint64
	TxHash      common.Hash
	Index       uint
	Removed     bool
}

type LogFilter struct {
	Contract  common.Address
	Topic     common.Hash
	FromBlock uint64
	ToBlock   uint64
}

// ChainClient is one session against a network's RPC endpoint.
type ChainClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, filter LogFilter) ([]EventLog, error)
	Close()
}

// ChainDialer opens a fresh session. The poller redials after every failure.
type ChainDialer func(ctx context.Context) (ChainClient, error)

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
