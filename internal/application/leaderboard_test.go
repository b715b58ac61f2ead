package application

import (
	"context"
	"testing"

	"github.com/q4ZAr/strike-leaderboard/leaderboard-service/internal/domain"
	"github.com/q4ZAr/strike-leaderboard/leaderboard-service/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type staticLookup map[domain.Address]domain.Identity

func (s staticLookup) Lookup(addr domain.Address) (domain.Identity, bool) {
	id, ok := s[addr]
	return id, ok
}

func TestLeaderboard_MergesLinkedAddresses(t *testing.T) {
	a1, a2, a3 := testutil.Address(1), testutil.Address(2), testutil.Address(3)
	alice := testutil.SocialIdentity(42, "alice", a1, a2)

	board := NewLeaderboard(staticLookup{a1: alice, a2: alice})
	rows := board.Rank(map[domain.Address]uint64{a1: 3, a2: 5, a3: 4})

	require.Len(t, rows, 2)
	assert.Equal(t, 1, rows[0].Rank)
	assert.Equal(t, "id:42", rows[0].Key)
	assert.Equal(t, uint64(8), rows[0].Strikes)
	assert.Equal(t, []domain.Address{a1, a2}, rows[0].Addresses)
	require.NotNil(t, rows[0].Identity)
	assert.Equal(t, "alice", rows[0].Identity.Handle)

	assert.Equal(t, 2, rows[1].Rank)
	assert.Equal(t, string(a3), rows[1].Key)
	assert.Equal(t, uint64(4), rows[1].Strikes)
	assert.Nil(t, rows[1].Identity)
}

func TestLeaderboard_DenseRankAndTieOrder(t *testing.T) {
	counts := map[domain.Address]uint64{
		testutil.Address(4): 2,
		testutil.Address(3): 7,
		testutil.Address(2): 7,
		testutil.Address(1): 1,
	}

	rows := NewLeaderboard(staticLookup{}).Rank(counts)
	require.Len(t, rows, 4)

	assert.Equal(t, []string{
		string(testutil.Address(2)),
		string(testutil.Address(3)),
		string(testutil.Address(4)),
		string(testutil.Address(1)),
	}, []string{rows[0].Key, rows[1].Key, rows[2].Key, rows[3].Key})
	assert.Equal(t, []int{1, 1, 2, 3}, []int{rows[0].Rank, rows[1].Rank, rows[2].Rank, rows[3].Rank})
}

func TestLeaderboard_TopTruncatesAfterRanking(t *testing.T) {
	counts := map[domain.Address]uint64{
		testutil.Address(1): 5,
		testutil.Address(2): 5,
		testutil.Address(3): 1,
	}

	rows := NewLeaderboard(nil).Top(counts, 2)
	require.Len(t, rows, 2)
	assert.Equal(t, 1, rows[1].Rank)

	assert.Len(t, NewLeaderboard(nil).Top(counts, 10), 3)
	assert.Empty(t, NewLeaderboard(nil).Top(counts, 0))
	assert.Empty(t, NewLeaderboard(nil).Top(nil, 10))
}

func TestLeaderboard_ReflectsLinksAtCallTime(t *testing.T) {
	a1, a2 := testutil.Address(1), testutil.Address(2)
	source := new(testutil.MockIdentitySource)
	source.On("ResolveSocialID", mock.Anything, int64(42)).
		Return(testutil.SocialIdentity(42, "alice", a1, a2), nil)

	resolver := newTestResolver(source, testutil.NewFakeClock(), nil)
	board := NewLeaderboard(resolver)
	counts := map[domain.Address]uint64{a1: 3, a2: 5}

	before := board.Rank(counts)
	require.Len(t, before, 2)
	assert.Equal(t, string(a2), before[0].Key)

	_, err := resolver.ResolveBySocialID(context.Background(), 42)
	require.NoError(t, err)

	after := board.Rank(counts)
	require.Len(t, after, 1)
	assert.Equal(t, "id:42", after[0].Key)
	assert.Equal(t, uint64(8), after[0].Strikes)
}

func TestLedger(t *testing.T) {
	ledger := NewLedger()
	a, b := testutil.Address(1), testutil.Address(2)

	assert.Equal(t, uint64(1), ledger.Increment(a))
	assert.Equal(t, uint64(2), ledger.Increment(a))
	ledger.Increment(b)

	assert.Equal(t, uint64(2), ledger.Count(a))
	assert.Equal(t, uint64(0), ledger.Count(testutil.Address(3)))
	assert.Equal(t, 2, ledger.Len())
	assert.Equal(t, uint64(3), ledger.Total())

	snapshot := ledger.Snapshot()
	snapshot[a] = 100
	assert.Equal(t, uint64(2), ledger.Count(a), "snapshot is a copy")
}
