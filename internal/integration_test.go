//go:build integration
// +build integration

package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/q4ZAr/strike-leaderboard/leaderboard-service/internal/application"
	"github.com/q4ZAr/strike-leaderboard/leaderboard-service/internal/domain"
	"github.com/q4ZAr/strike-leaderboard/leaderboard-service/internal/infrastructure/evm"
	"github.com/q4ZAr/strike-leaderboard/leaderboard-service/internal/infrastructure/farcaster"
	httpHandler "github.com/q4ZAr/strike-leaderboard/leaderboard-service/internal/interfaces/http"
	"github.com/q4ZAr/strike-leaderboard/leaderboard-service/internal/testutil"
	"github.com/q4ZAr/strike-leaderboard/leaderboard-service/pkg/config"
	"github.com/q4ZAr/strike-leaderboard/leaderboard-service/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	contract  = "0x1111111111111111111111111111111111111111"
	signature = "Strike(address)"
)

type strike struct {
	player common.Address
	block  uint64
	index  uint64
}

// chainNode is a minimal JSON-RPC node serving eth_blockNumber and eth_getLogs.
type chainNode struct {
	mu          sync.Mutex
	head        uint64
	strikes     []strike
	rateLimited atomic.Bool
	ranges      [][2]uint64
}

func (n *chainNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if n.rateLimited.Load() {
		w.WriteHeader(http.StatusTooManyRequests)
		return
	}

	var req struct {
		ID     json.RawMessage   `json:"id"`
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
	switch req.Method {
	case "eth_blockNumber":
		resp["result"] = fmt.Sprintf("0x%x", n.head)
	case "eth_getLogs":
		var filter struct {
			FromBlock string `json:"fromBlock"`
			ToBlock   string `json:"toBlock"`
		}
		_ = json.Unmarshal(req.Params[0], &filter)
		from, _ := strconv.ParseUint(strings.TrimPrefix(filter.FromBlock, "0x"), 16, 64)
		to, _ := strconv.ParseUint(strings.TrimPrefix(filter.ToBlock, "0x"), 16, 64)
		n.ranges = append(n.ranges, [2]uint64{from, to})

		logs := []interface{}{}
		topic := evm.StrikeTopic(signature)
		for i, s := range n.strikes {
			if s.block < from || s.block > to {
				continue
			}
			logs = append(logs, map[string]interface{}{
				"address":          contract,
				"topics":           []string{topic.Hex(), common.BytesToHash(s.player.Bytes()).Hex()},
				"data":             "0x",
				"blockNumber":      fmt.Sprintf("0x%x", s.block),
				"transactionHash":  fmt.Sprintf("0x%064x", i+1),
				"transactionIndex": "0x0",
				"blockHash":        fmt.Sprintf("0x%064x", s.block),
				"logIndex":         fmt.Sprintf("0x%x", s.index),
				"removed":          false,
			})
		}
		resp["result"] = logs
	default:
		resp["error"] = map[string]interface{}{"code": -32601, "message": "method not found"}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (n *chainNode) Ranges() [][2]uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([][2]uint64(nil), n.ranges...)
}

// identityAPI answers Neynar-style lookups from a fixed user table.
func identityAPI(t *testing.T, users []farcaster.User) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		switch r.URL.Path {
		case "/v2/farcaster/user/bulk-by-address":
			resp := farcaster.BulkByAddressResponse{}
			for _, addr := range strings.Split(r.URL.Query().Get("addresses"), ",") {
				for _, u := range users {
					for _, verified := range u.VerifiedAddresses.EthAddresses {
						if strings.EqualFold(verified, addr) {
							resp[addr] = append(resp[addr], u)
						}
					}
				}
			}
			if len(resp) == 0 {
				w.WriteHeader(http.StatusNotFound)
				json.NewEncoder(w).Encode(farcaster.ErrorResponse{Code: "NotFound", Message: "No users found"})
				return
			}
			json.NewEncoder(w).Encode(resp)
		case "/v2/farcaster/user/bulk":
			fid, _ := strconv.ParseInt(r.URL.Query().Get("fids"), 10, 64)
			resp := farcaster.BulkUsersResponse{Users: []farcaster.User{}}
			for _, u := range users {
				if u.FID == fid {
					resp.Users = append(resp.Users, u)
				}
			}
			json.NewEncoder(w).Encode(resp)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

type TestSuite struct {
	node     *chainNode
	poller   *application.Poller
	resolver *application.Resolver
	service  *application.Service
	router   http.Handler
	clock    *testutil.FakeClock
}

func setupSuite(t *testing.T, node *chainNode, users []farcaster.User) *TestSuite {
	t.Helper()

	log, err := logger.New("debug", "test")
	require.NoError(t, err)

	rpc := httptest.NewServer(node)
	t.Cleanup(rpc.Close)
	api := identityAPI(t, users)
	t.Cleanup(api.Close)

	clock := testutil.NewFakeClock()
	identityClient := farcaster.NewClient(api.URL, "test-key", 5*time.Second, 1, 10*time.Millisecond, 100, log)
	resolver := application.NewResolver(application.ResolverConfig{
		BatchSize:        100,
		ResolveInterval:  time.Hour,
		RequestTimeout:   5 * time.Second,
		RetryInterval:    time.Hour,
		RateLimitBackoff: time.Minute,
		EnrichIdentities: true,
	}, identityClient, clock, log)

	chain := config.Chain{
		RequestTimeout:         5 * time.Second,
		RateLimitBackoff:       30 * time.Second,
		StrictRateLimitBackoff: 5 * time.Minute,
	}
	network := config.Network{
		Name:            "base",
		RPCURL:          rpc.URL,
		ContractAddress: contract,
		ChunkSize:       50,
		LookbackBlocks:  100,
		PollingInterval: time.Hour,
	}
	poller := application.NewPoller(
		application.NewPollerConfig(chain, network, evm.StrikeTopic(signature)),
		evm.NewDialer(network.Name, network.RPCURL, log),
		application.NewLedger(),
		resolver,
		clock,
		log,
	)

	service := application.NewService([]*application.Poller{poller}, resolver, &config.Leaderboard{
		DefaultLimit:          100,
		MaxLimit:              1000,
		ProfileResolveTimeout: 5 * time.Second,
	}, log)

	limiter := httpHandler.NewRateLimiter(0, 0)
	router := httpHandler.NewRouter(service, config.Server{RequestTimeout: 10 * time.Second}, limiter, log)

	return &TestSuite{
		node:     node,
		poller:   poller,
		resolver: resolver,
		service:  service,
		router:   router,
		clock:    clock,
	}
}

func (s *TestSuite) get(t *testing.T, path string, out interface{}) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	if out != nil && w.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
	}
	return w.Code
}

func TestIntegration_StrikesMergedUnderIdentity(t *testing.T) {
	a1 := common.HexToAddress("0x0000000000000000000000000000000000000001")
	a2 := common.HexToAddress("0x0000000000000000000000000000000000000002")
	a3 := common.HexToAddress("0x0000000000000000000000000000000000000003")

	node := &chainNode{head: 1000}
	for i := uint64(0); i < 3; i++ {
		node.strikes = append(node.strikes, strike{player: a1, block: 910, index: i})
	}
	for i := uint64(0); i < 5; i++ {
		node.strikes = append(node.strikes, strike{player: a2, block: 960 + i, index: 0})
	}
	node.strikes = append(node.strikes,
		strike{player: a3, block: 990, index: 0},
		strike{player: a3, block: 850, index: 0}, // before the lookback window
	)

	alice := farcaster.User{
		FID:         42,
		Username:    "alice",
		DisplayName: "Alice",
		VerifiedAddresses: farcaster.VerifiedAddresses{
			EthAddresses: []string{strings.ToLower(a1.Hex()), strings.ToLower(a2.Hex())},
			Primary:      farcaster.PrimaryAddresses{EthAddress: strings.ToLower(a1.Hex())},
		},
	}
	suite := setupSuite(t, node, []farcaster.User{alice})
	ctx := context.Background()

	var ready map[string]interface{}
	assert.Equal(t, http.StatusServiceUnavailable, suite.get(t, "/ready", &ready))

	for i := 0; i < 4; i++ {
		require.NoError(t, suite.poller.Tick(ctx))
	}
	assert.Equal(t, [][2]uint64{{901, 950}, {951, 1000}}, node.Ranges())
	assert.Equal(t, http.StatusOK, suite.get(t, "/ready", &ready))

	// Before resolution every address is its own row.
	var board domain.LeaderboardResponse
	require.Equal(t, http.StatusOK, suite.get(t, "/leaderboard/base", &board))
	require.Len(t, board.Data, 3)
	assert.Equal(t, strings.ToLower(a2.Hex()), board.Data[0].Key)

	linked, err := suite.resolver.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, linked)

	require.Equal(t, http.StatusOK, suite.get(t, "/leaderboard/base", &board))
	require.Len(t, board.Data, 2)
	assert.Equal(t, 1, board.Data[0].Rank)
	assert.Equal(t, "id:42", board.Data[0].Key)
	assert.Equal(t, uint64(8), board.Data[0].Strikes)
	require.NotNil(t, board.Data[0].Identity)
	assert.Equal(t, "alice", board.Data[0].Identity.Handle)
	assert.Equal(t, 2, board.Data[1].Rank)
	assert.Equal(t, uint64(1), board.Data[1].Strikes)

	var profile domain.Profile
	require.Equal(t, http.StatusOK, suite.get(t, "/profile/"+a2.Hex(), &profile))
	assert.Equal(t, uint64(8), profile.Total)
	assert.Equal(t, map[string]uint64{"base": 8}, profile.Strikes)

	require.Equal(t, http.StatusOK, suite.get(t, "/identity/42", &profile))
	assert.Equal(t, uint64(8), profile.Total)
	assert.Equal(t, http.StatusNotFound, suite.get(t, "/identity/7", nil))

	// The unresolved player is not asked for again within the retry interval.
	assert.Equal(t, []domain.Address{domain.Address(strings.ToLower(a3.Hex()))}, suite.resolver.Pending())
	linked, err = suite.resolver.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, linked)
}

func TestIntegration_RateLimitedProviderCoolsDown(t *testing.T) {
	node := &chainNode{head: 1000}
	suite := setupSuite(t, node, nil)
	ctx := context.Background()

	require.NoError(t, suite.poller.Tick(ctx))

	node.rateLimited.Store(true)
	err := suite.poller.Tick(ctx)
	require.Error(t, err)

	var status domain.PollerStatus
	require.Equal(t, http.StatusOK, suite.get(t, "/status/base", &status))
	assert.Equal(t, domain.PollerStateCoolingDown, status.State)
	assert.Equal(t, uint64(900), status.LastScannedBlock)
	assert.False(t, status.Healthy)

	node.rateLimited.Store(false)
	require.NoError(t, suite.poller.Tick(ctx))
	assert.Empty(t, node.Ranges(), "no request while cooling down")

	suite.clock.Advance(31 * time.Second)
	require.NoError(t, suite.poller.Tick(ctx))
	require.Equal(t, http.StatusOK, suite.get(t, "/status/base", &status))
	assert.Equal(t, uint64(950), status.LastScannedBlock)
	assert.True(t, status.Healthy)
}

func TestIntegration_UnknownNetwork(t *testing.T) {
	suite := setupSuite(t, &chainNode{head: 10}, nil)
	assert.Equal(t, http.StatusNotFound, suite.get(t, "/leaderboard/solana", nil))
}
