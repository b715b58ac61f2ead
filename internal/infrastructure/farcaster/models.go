package farcaster

// User is the subset of a Neynar user object the resolver needs.
type User struct {
	FID               int64             `json:"fid"`
	Username          string            `json:"username"`
	DisplayName       string            `json:"display_name"`
	PfpURL            string            `json:"pfp_url"`
	CustodyAddress    string            `json:"custody_address"`
	VerifiedAddresses VerifiedAddresses `json:"verified_addresses"`
}

type VerifiedAddresses struct {
	EthAddresses []string         `json:"eth_addresses"`
	SolAddresses []string         `json:"sol_addresses,omitempty"`
	Primary      PrimaryAddresses `json:"primary"`
}

type PrimaryAddresses struct {
	EthAddress string `json:"eth_address"`
	SolAddress string `json:"sol_address,omitempty"`
}

// BulkByAddressResponse maps a lowercase address to every user verifying it.
type BulkByAddressResponse map[string][]User

type BulkUsersResponse struct {
	Users []User `json:"users"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
