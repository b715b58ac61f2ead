package domain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Address is a 20-byte EVM address in lowercase 0x-prefixed hex.
type Address string

func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return Address(strings.ToLower(common.HexToAddress(s).Hex())), nil
}

// AddressFromTopic decodes an indexed address parameter, which occupies the
// rightmost 20 bytes of the 32-byte topic.
func AddressFromTopic(topic common.Hash) Address {
	return Address(strings.ToLower(common.BytesToAddress(topic.Bytes()).Hex()))
}

func (a Address) String() string {
	return string(a)
}

// Common returns the go-ethereum representation of the address.
func (a Address) Common() common.Address {
	return common.HexToAddress(string(a))
}
