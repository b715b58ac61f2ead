package domain

import (
	"context"
	"fmt"
)

// Identity is a social profile that may own several wallets.
type Identity struct {
	SocialID             *int64    `json:"social_id,omitempty"`
	Handle               string    `json:"handle"`
	DisplayName          string    `json:"display_name"`
	AvatarURL            string    `json:"avatar_url"`
	PrimaryWalletAddress *Address  `json:"primary_wallet_address,omitempty"`
	LinkedAddresses      []Address `json:"linked_addresses"`
}

// Key identifies the identity in the cache and on the leaderboard.
func (i Identity) Key() string {
	if i.SocialID != nil {
		return fmt.Sprintf("id:%d", *i.SocialID)
	}
	return "handle:" + i.Handle
}

// Addresses returns every address the record claims: primary plus linked.
func (i Identity) Addresses() []Address {
	out := make([]Address, 0, len(i.LinkedAddresses)+1)
	seen := make(map[Address]bool, len(i.LinkedAddresses)+1)
	if i.PrimaryWalletAddress != nil {
		out = append(out, *i.PrimaryWalletAddress)
		seen[*i.PrimaryWalletAddress] = true
	}
	for _, a := range i.LinkedAddresses {
		if !seen[a] {
			out = append(out, a)
			seen[a] = true
		}
	}
	return out
}

func (i Identity) Clone() Identity {
	c := i
	if i.SocialID != nil {
		id := *i.SocialID
		c.SocialID = &id
	}
	if i.PrimaryWalletAddress != nil {
		a := *i.PrimaryWalletAddress
		c.PrimaryWalletAddress = &a
	}
	c.LinkedAddresses = append([]Address(nil), i.LinkedAddresses...)
	return c
}

// IdentitySource is the remote social graph.
//
// ResolveAddresses returns every candidate per address; an address may map to
// zero, one or several identities. ResolveSocialID is authoritative and returns
// ErrIdentityNotFound when the ID does not exist.
type IdentitySource interface {
	ResolveAddresses(ctx context.Context, addresses []Address) (map[Address][]Identity, error)
	ResolveSocialID(ctx context.Context, id int64) (Identity, error)
}
