package application

import (
	"sort"

	"github.com/q4ZAr/strike-leaderboard/leaderboard-service/internal/domain"
)

// IdentityLookup answers which identity, if any, owns an address.
type IdentityLookup interface {
	Lookup(addr domain.Address) (domain.Identity, bool)
}

// Leaderboard merges a ledger snapshot with the identity cache. It keeps no
// state, so every ranking reflects the links known at call time.
type Leaderboard struct {
	identities IdentityLookup
}

func NewLeaderboard(identities IdentityLookup) *Leaderboard {
	return &Leaderboard{identities: identities}
}

// Rank groups strikes by identity, falling back to the raw address for
// unresolved players, and assigns dense ranks by total.
func (b *Leaderboard) Rank(counts map[domain.Address]uint64) []domain.LeaderboardRow {
	rows := make(map[string]*domain.LeaderboardRow, len(counts))

	for addr, n := range counts {
		key := string(addr)
		var identity *domain.Identity
		if b.identities != nil {
			if id, ok := b.identities.Lookup(addr); ok {
				key = id.Key()
				identity = &id
			}
		}

		row, ok := rows[key]
		if !ok {
			row = &domain.LeaderboardRow{Key: key, Identity: identity}
			rows[key] = row
		}
		row.Strikes += n
		row.Addresses = append(row.Addresses, addr)
	}

	out := make([]domain.LeaderboardRow, 0, len(rows))
	for _, row := range rows {
		sort.Slice(row.Addresses, func(i, j int) bool { return row.Addresses[i] < row.Addresses[j] })
		out = append(out, *row)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Strikes != out[j].Strikes {
			return out[i].Strikes > out[j].Strikes
		}
		return out[i].Key < out[j].Key
	})

	rank := 0
	for i := range out {
		if i == 0 || out[i].Strikes != out[i-1].Strikes {
			rank++
		}
		out[i].Rank = rank
	}

	return out
}

// Top ranks counts and keeps the first limit rows. Ranks are computed before
// truncation.
func (b *Leaderboard) Top(counts map[domain.Address]uint64, limit int) []domain.LeaderboardRow {
	rows := b.Rank(counts)
	if limit >= 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}
