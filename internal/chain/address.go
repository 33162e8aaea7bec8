package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// IsValidAddress reports whether s is a 20-byte hex address. Mixed-case input
// must carry a valid EIP-55 checksum; all-lower and all-upper forms are accepted.
func IsValidAddress(s string) bool {
	if !common.IsHexAddress(s) {
		return false
	}
	hex := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if hex == strings.ToLower(hex) || hex == strings.ToUpper(hex) {
		return true
	}
	return common.HexToAddress(hex).Hex()[2:] == hex
}
