package session

import (
	"fmt"
	"regexp"
)

// Wallet addresses are base58-encoded 32-byte keys, 32 to 44 characters.
// Session directories are named after them, so the check also keeps path
// separators and dotfiles out.
var walletRegexp = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)

// ValidateWallet checks that wallet looks like a base58 wallet address.
func ValidateWallet(wallet string) error {
	if !walletRegexp.MatchString(wallet) {
		return fmt.Errorf("invalid wallet address %q: expected base58, 32-44 chars", wallet)
	}
	return nil
}
