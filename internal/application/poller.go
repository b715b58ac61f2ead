package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/q4ZAr/strike-leaderboard/leaderboard-service/internal/domain"
	"github.com/q4ZAr/strike-leaderboard/leaderboard-service/pkg/config"
	"github.com/q4ZAr/strike-leaderboard/leaderboard-service/pkg/logger"
	"github.com/q4ZAr/strike-leaderboard/leaderboard-service/pkg/metrics"
)

// AddressQueue receives players seen on chain that still need an identity.
type AddressQueue interface {
	Enqueue(addr domain.Address) bool
}

type PollerConfig struct {
	Network          string
	Contract         common.Address
	Topic            common.Hash
	ChunkSize        uint64
	LookbackBlocks   uint64
	PollingInterval  time.Duration
	RequestTimeout   time.Duration
	RateLimitBackoff time.Duration
}

// NewPollerConfig builds a poller configuration from the loaded network
// settings. topic is the Strike event's topic0.
func NewPollerConfig(chain config.Chain, n config.Network, topic common.Hash) PollerConfig {
	return PollerConfig{
		Network:          n.Name,
		Contract:         common.HexToAddress(n.ContractAddress),
		Topic:            topic,
		ChunkSize:        n.ChunkSize,
		LookbackBlocks:   n.LookbackBlocks,
		PollingInterval:  n.PollingInterval,
		RequestTimeout:   chain.RequestTimeout,
		RateLimitBackoff: chain.BackoffFor(n),
	}
}

// Poller advances one network's cursor through block history, one bounded
// chunk per tick.
type Poller struct {
	cfg    PollerConfig
	dial   domain.ChainDialer
	ledger *Ledger
	queue  AddressQueue
	clock  domain.Clock
	logger *logger.Logger

	// running guards against overlapping ticks. client is only touched by
	// the goroutine holding it.
	running atomic.Bool
	client  domain.ChainClient

	mu            sync.RWMutex
	state         domain.PollerState
	initialized   bool
	lastScanned   uint64
	observedHead  uint64
	healthy       bool
	lastError     string
	cooldownUntil time.Time
	lastPolledAt  time.Time
}

type logKey struct {
	tx    common.Hash
	index uint
}

func NewPoller(cfg PollerConfig, dial domain.ChainDialer, ledger *Ledger, queue AddressQueue, clock domain.Clock, log *logger.Logger) *Poller {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 1
	}

	return &Poller{
		cfg:    cfg,
		dial:   dial,
		ledger: ledger,
		queue:  queue,
		clock:  clock,
		logger: log.Named("poller").WithFields(map[string]interface{}{"network": cfg.Network}),
		state:  domain.PollerStateUninitialized,
	}
}

func (p *Poller) Network() string {
	return p.cfg.Network
}

func (p *Poller) Ledger() *Ledger {
	return p.ledger
}

// Run ticks immediately and then on every polling interval until ctx ends.
func (p *Poller) Run(ctx context.Context) error {
	interval := p.cfg.PollingInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer p.closeClient()

	p.logger.Infow("Poller started", "interval", interval, "chunkSize", p.cfg.ChunkSize)

	p.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Poller stopped")
			return nil
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick runs one poll cycle. It returns nil when the cycle was skipped because
// another tick is in flight or the network is cooling down, and the recorded
// error when a remote call failed.
func (p *Poller) Tick(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		p.logger.Debug("Tick skipped, previous tick still running")
		return nil
	}
	defer p.running.Store(false)

	now := p.clock.Now()
	if p.coolingDown(now) {
		return nil
	}

	p.mu.Lock()
	p.lastPolledAt = now
	p.mu.Unlock()

	client, err := p.session(ctx)
	if err != nil {
		return p.fail("dial", err)
	}

	head, err := p.fetchHead(ctx, client)
	if err != nil {
		return p.fail("block number", err)
	}
	metrics.UpdateChainHead(p.cfg.Network, head)

	p.mu.Lock()
	p.observedHead = head
	if !p.initialized {
		p.seed(head)
		p.mu.Unlock()
		return nil
	}
	cursor := p.lastScanned
	p.mu.Unlock()

	if cursor >= head {
		p.succeed(cursor, head)
		if cursor > head {
			p.logger.Warnw("Provider head is behind cursor, skipping scan", "head", head, "lastScannedBlock", cursor)
			p.mu.Lock()
			p.lastError = fmt.Sprintf("provider head %d is behind cursor %d", head, cursor)
			p.mu.Unlock()
		}
		return nil
	}

	from := cursor + 1
	to := from + p.cfg.ChunkSize - 1
	if to > head {
		to = head
	}

	logs, err := p.fetchLogs(ctx, client, from, to)
	if err != nil {
		return p.fail("get logs", err)
	}

	strikes := p.apply(logs, from, to)

	p.succeed(to, head)
	metrics.RecordChunkScanned(p.cfg.Network, from, to, strikes)

	p.logger.Infow("Scanned chunk",
		"fromBlock", from,
		"toBlock", to,
		"head", head,
		"logs", len(logs),
		"strikes", strikes,
	)

	return nil
}

// seed places the cursor lookback blocks behind head. Caller holds p.mu.
func (p *Poller) seed(head uint64) {
	start := uint64(0)
	if head > p.cfg.LookbackBlocks {
		start = head - p.cfg.LookbackBlocks
	}

	p.initialized = true
	p.lastScanned = start
	p.healthy = true
	p.lastError = ""
	if start < head {
		p.state = domain.PollerStateCatchingUp
	} else {
		p.state = domain.PollerStateIdle
	}

	metrics.UpdateLastScannedBlock(p.cfg.Network, start)
	p.logger.Infow("Cursor seeded", "head", head, "lastScannedBlock", start, "lookback", p.cfg.LookbackBlocks)
}

// apply counts every Strike log of the chunk exactly once.
func (p *Poller) apply(logs []domain.EventLog, from, to uint64) int {
	seen := make(map[logKey]struct{}, len(logs))
	strikes := 0

	for _, l := range logs {
		if l.Removed {
			continue
		}
		if len(l.Topics) < 2 || l.Topics[0] != p.cfg.Topic {
			p.logger.Warnw("Skipping log without indexed player", "tx", l.TxHash.Hex(), "topics", len(l.Topics))
			continue
		}
		if l.BlockNumber < from || l.BlockNumber > to {
			p.logger.Warnw("Skipping log outside requested range", "block", l.BlockNumber, "fromBlock", from, "toBlock", to)
			continue
		}

		key := logKey{tx: l.TxHash, index: l.Index}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		player := domain.AddressFromTopic(l.Topics[1])
		p.ledger.Increment(player)
		if p.queue != nil {
			p.queue.Enqueue(player)
		}
		strikes++
	}

	return strikes
}

func (p *Poller) succeed(cursor, head uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastScanned = cursor
	p.healthy = true
	p.lastError = ""
	if cursor < head {
		p.state = domain.PollerStateCatchingUp
	} else {
		p.state = domain.PollerStateIdle
	}
}

// fail records a failed cycle. The cursor is left untouched and the session
// is dropped so the next tick starts on a fresh connection.
func (p *Poller) fail(stage string, err error) error {
	rateLimited := errors.Is(err, domain.ErrRateLimited)
	p.closeClient()

	p.mu.Lock()
	p.healthy = false
	p.lastError = fmt.Sprintf("%s: %v", stage, err)
	if rateLimited {
		p.cooldownUntil = p.clock.Now().Add(p.cfg.RateLimitBackoff)
		p.state = domain.PollerStateCoolingDown
	} else if p.state == domain.PollerStateCoolingDown {
		p.state = p.positionState()
	}
	cooldownUntil := p.cooldownUntil
	p.mu.Unlock()

	metrics.RecordPollingError(p.cfg.Network, rateLimited)

	if rateLimited {
		p.logger.Warnw("Rate limited, cooling down", "stage", stage, "error", err, "cooldownUntil", cooldownUntil)
	} else {
		p.logger.Errorw("Poll cycle failed", "stage", stage, "error", err)
	}

	return fmt.Errorf("%s %s: %w", p.cfg.Network, stage, err)
}

func (p *Poller) coolingDown(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cooldownUntil.IsZero() {
		return false
	}
	if now.Before(p.cooldownUntil) {
		p.state = domain.PollerStateCoolingDown
		return true
	}

	p.cooldownUntil = time.Time{}
	p.state = p.positionState()
	p.logger.Info("Cooldown elapsed, resuming")
	return false
}

// positionState derives the state from the cursor alone. Caller holds p.mu.
func (p *Poller) positionState() domain.PollerState {
	switch {
	case !p.initialized:
		return domain.PollerStateUninitialized
	case p.lastScanned < p.observedHead:
		return domain.PollerStateCatchingUp
	default:
		return domain.PollerStateIdle
	}
}

func (p *Poller) session(ctx context.Context) (domain.ChainClient, error) {
	if p.client != nil {
		return p.client, nil
	}

	ctx, cancel := p.callContext(ctx)
	defer cancel()

	client, err := p.dial(ctx)
	if err != nil {
		return nil, err
	}
	p.client = client
	return client, nil
}

func (p *Poller) closeClient() {
	if p.client != nil {
		p.client.Close()
		p.client = nil
	}
}

func (p *Poller) fetchHead(ctx context.Context, client domain.ChainClient) (uint64, error) {
	ctx, cancel := p.callContext(ctx)
	defer cancel()
	return client.BlockNumber(ctx)
}

func (p *Poller) fetchLogs(ctx context.Context, client domain.ChainClient, from, to uint64) ([]domain.EventLog, error) {
	ctx, cancel := p.callContext(ctx)
	defer cancel()
	return client.FilterLogs(ctx, domain.LogFilter{
		Contract:  p.cfg.Contract,
		Topic:     p.cfg.Topic,
		FromBlock: from,
		ToBlock:   to,
	})
}

func (p *Poller) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.cfg.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.cfg.RequestTimeout)
}

func (p *Poller) Status() domain.PollerStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	status := domain.PollerStatus{
		Network:          p.cfg.Network,
		State:            p.state,
		Initialized:      p.initialized,
		LastScannedBlock: p.lastScanned,
		ObservedHead:     p.observedHead,
		ChunkSize:        p.cfg.ChunkSize,
		Healthy:          p.healthy,
		LastError:        p.lastError,
		TrackedAddresses: p.ledger.Len(),
		TotalStrikes:     p.ledger.Total(),
	}
	if p.initialized && p.observedHead > p.lastScanned {
		status.LagBlocks = p.observedHead - p.lastScanned
	}
	if !p.cooldownUntil.IsZero() {
		until := p.cooldownUntil
		status.CooldownUntil = &until
	}
	if !p.lastPolledAt.IsZero() {
		at := p.lastPolledAt
		status.LastPolledAt = &at
	}
	return status
}
