package domain

import "context"

type LeaderboardRow struct {
	Rank      int       `json:"rank"`
	Key       string    `json:"key"`
	Strikes   uint64    `json:"strikes"`
	Identity  *Identity `json:"identity,omitempty"`
	Addresses []Address `json:"addresses"`
}

type LeaderboardResponse struct {
	Network string           `json:"network"`
	Data    []LeaderboardRow `json:"data"`
}

type Profile struct {
	Address  *Address          `json:"address,omitempty"`
	Identity *Identity         `json:"identity,omitempty"`
	Strikes  map[string]uint64 `json:"strikes"`
	Total    uint64            `json:"total"`
}

// LeaderboardService is the read surface served over HTTP.
type LeaderboardService interface {
	Networks() []string
	GetLeaderboard(network string, limit int) ([]LeaderboardRow, error)
	GetProfile(ctx context.Context, address string) (*Profile, error)
	GetIdentityProfile(ctx context.Context, socialID int64) (*Profile, error)
	GetStatus(network string) (PollerStatus, error)
	GetStatuses() []PollerStatus
	GetResolverStatus() ResolverStatus
	GetStats() (map[string]interface{}, error)
	Ready() bool
	StartPolling() error
	StopPolling()
}
