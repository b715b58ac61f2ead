package domain

import "time"

type PollerState string

const (
	PollerStateUninitialized PollerState = "UNINITIALIZED"
	PollerStateCatchingUp    PollerState = "CATCHING_UP"
	PollerStateIdle          PollerState = "IDLE"
	PollerStateCoolingDown   PollerState = "COOLING_DOWN"
)

// PollerStatus is a point-in-time snapshot of one network's cursor.
type PollerStatus struct {
	Network          string      `json:"network"`
	State            PollerState `json:"state"`
	Initialized      bool        `json:"initialized"`
	LastScannedBlock uint64      `json:"last_scanned_block"`
	ObservedHead     uint64      `json:"observed_head"`
	LagBlocks        uint64      `json:"lag_blocks"`
	ChunkSize        uint64      `json:"chunk_size"`
	Healthy          bool        `json:"healthy"`
	LastError        string      `json:"last_error,omitempty"`
	CooldownUntil    *time.Time  `json:"cooldown_until,omitempty"`
	LastPolledAt     *time.Time  `json:"last_polled_at,omitempty"`
	TrackedAddresses int         `json:"tracked_addresses"`
	TotalStrikes     uint64      `json:"total_strikes"`
}

type ResolverStatus struct {
	Pending         int        `json:"pending"`
	Identities      int        `json:"identities"`
	LinkedAddresses int        `json:"linked_addresses"`
	Healthy         bool       `json:"healthy"`
	LastError       string     `json:"last_error,omitempty"`
	CooldownUntil   *time.Time `json:"cooldown_until,omitempty"`
}
