package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/q4ZAr/strike-leaderboard/leaderboard-service/internal/domain"
	"github.com/stretchr/testify/mock"
)

// Address returns a deterministic address whose last bytes encode n.
func Address(n int) domain.Address {
	return domain.Address(fmt.Sprintf("0x%040x", n))
}

// TxHash returns a deterministic transaction hash for n.
func TxHash(n int) common.Hash {
	return common.HexToHash(fmt.Sprintf("0x%064x", n))
}

// StrikeLog builds a Strike log emitted by player at block.
func StrikeLog(topic common.Hash, player domain.Address, block uint64, tx int, index uint) domain.EventLog {
	return domain.EventLog{
		Topics:      []common.Hash{topic, common.BytesToHash(player.Common().Bytes())},
		BlockNumber: block,
		TxHash:      TxHash(tx),
		Index:       index,
	}
}

// SocialIdentity builds an identity with a social ID, the first address as
// primary wallet and every address linked.
func SocialIdentity(fid int64, handle string, addresses ...domain.Address) domain.Identity {
	id := fid
	identity := domain.Identity{
		SocialID:        &id,
		Handle:          handle,
		DisplayName:     handle,
		LinkedAddresses: append([]domain.Address(nil), addresses...),
	}
	if len(addresses) > 0 {
		primary := addresses[0]
		identity.PrimaryWalletAddress = &primary
	}
	return identity
}

// FakeClock provides a controllable time source for testing
type FakeClock struct {
	mu          sync.Mutex
	CurrentTime time.Time
}

func NewFakeClock() *FakeClock {
	return &FakeClock{
		CurrentTime: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CurrentTime
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CurrentTime = c.CurrentTime.Add(d)
}

// WaitForCondition waits for a condition to be true with timeout
func WaitForCondition(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Condition not met within timeout of %v", timeout)
}

// TestContext creates a test context with timeout
func TestContext(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// FakeChain is an in-memory network. Every dial returns a session bound to
// it; sessions report the current head and the logs within a range.
type FakeChain struct {
	mu       sync.Mutex
	head     uint64
	logs     []domain.EventLog
	headErr  error
	logsErr  error
	dialErr  error
	block    chan struct{}
	filters  []domain.LogFilter
	dials    int
	closes   int
	fullLogs bool
}

func NewFakeChain(head uint64) *FakeChain {
	return &FakeChain{head: head}
}

func (c *FakeChain) SetHead(head uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head = head
}

func (c *FakeChain) AddLogs(logs ...domain.EventLog) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs = append(c.logs, logs...)
}

// ReturnAllLogs makes FilterLogs ignore the requested range, like a
// misbehaving provider.
func (c *FakeChain) ReturnAllLogs() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fullLogs = true
}

func (c *FakeChain) FailHead(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.headErr = err
}

func (c *FakeChain) FailLogs(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logsErr = err
}

func (c *FakeChain) FailDial(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dialErr = err
}

// BlockLogs makes FilterLogs wait until the returned release func is called.
func (c *FakeChain) BlockLogs() (release func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan struct{})
	c.block = ch
	var once sync.Once
	return func() {
		once.Do(func() { close(ch) })
	}
}

func (c *FakeChain) Filters() []domain.LogFilter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.LogFilter(nil), c.filters...)
}

func (c *FakeChain) Dials() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dials
}

func (c *FakeChain) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

func (c *FakeChain) Dialer() domain.ChainDialer {
	return func(ctx context.Context) (domain.ChainClient, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.dialErr != nil {
			return nil, c.dialErr
		}
		c.dials++
		return &fakeSession{chain: c}, nil
	}
}

type fakeSession struct {
	chain *FakeChain
}

func (s *fakeSession) BlockNumber(ctx context.Context) (uint64, error) {
	s.chain.mu.Lock()
	defer s.chain.mu.Unlock()
	if s.chain.headErr != nil {
		return 0, s.chain.headErr
	}
	return s.chain.head, nil
}

func (s *fakeSession) FilterLogs(ctx context.Context, filter domain.LogFilter) ([]domain.EventLog, error) {
	s.chain.mu.Lock()
	block := s.chain.block
	s.chain.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.chain.mu.Lock()
	defer s.chain.mu.Unlock()

	s.chain.filters = append(s.chain.filters, filter)
	if s.chain.logsErr != nil {
		return nil, s.chain.logsErr
	}

	var out []domain.EventLog
	for _, l := range s.chain.logs {
		if s.chain.fullLogs || (l.BlockNumber >= filter.FromBlock && l.BlockNumber <= filter.ToBlock) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *fakeSession) Close() {
	s.chain.mu.Lock()
	defer s.chain.mu.Unlock()
	s.chain.closes++
}

// MockIdentitySource is a mock implementation of IdentitySource
type MockIdentitySource struct {
	mock.Mock
}

func (m *MockIdentitySource) ResolveAddresses(ctx context.Context, addresses []domain.Address) (map[domain.Address][]domain.Identity, error) {
	args := m.Called(ctx, addresses)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[domain.Address][]domain.Identity), args.Error(1)
}

func (m *MockIdentitySource) ResolveSocialID(ctx context.Context, id int64) (domain.Identity, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.Identity), args.Error(1)
}

// MockLeaderboardService is a mock implementation of LeaderboardService
type MockLeaderboardService struct {
	mock.Mock
}

func (m *MockLeaderboardService) Networks() []string {
	args := m.Called()
	return args.Get(0).([]string)
}

func (m *MockLeaderboardService) GetLeaderboard(network string, limit int) ([]domain.LeaderboardRow, error) {
	args := m.Called(network, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.LeaderboardRow), args.Error(1)
}

func (m *MockLeaderboardService) GetProfile(ctx context.Context, address string) (*domain.Profile, error) {
	args := m.Called(ctx, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Profile), args.Error(1)
}

func (m *MockLeaderboardService) GetIdentityProfile(ctx context.Context, socialID int64) (*domain.Profile, error) {
	args := m.Called(ctx, socialID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Profile), args.Error(1)
}

func (m *MockLeaderboardService) GetStatus(network string) (domain.PollerStatus, error) {
	args := m.Called(network)
	return args.Get(0).(domain.PollerStatus), args.Error(1)
}

func (m *MockLeaderboardService) GetStatuses() []domain.PollerStatus {
	args := m.Called()
	return args.Get(0).([]domain.PollerStatus)
}

func (m *MockLeaderboardService) GetResolverStatus() domain.ResolverStatus {
	args := m.Called()
	return args.Get(0).(domain.ResolverStatus)
}

func (m *MockLeaderboardService) GetStats() (map[string]interface{}, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]interface{}), args.Error(1)
}

func (m *MockLeaderboardService) Ready() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockLeaderboardService) StartPolling() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockLeaderboardService) StopPolling() {
	m.Called()
}
