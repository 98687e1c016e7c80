package domain

import (
	"encoding/hex"
	"fmt"
	"strings"
)

const addressHexLen = 64

// NormalizeAddress returns the long form of an account address: 0x-prefixed,
// lowercase, left-padded to 32 bytes.
func NormalizeAddress(addr string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(addr))
	s = strings.TrimPrefix(s, "0x")
	if len(s) == 0 || len(s) > addressHexLen {
		return "", fmt.Errorf("invalid address %q", addr)
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", fmt.Errorf("invalid address %q: %w", addr, err)
	}
	return "0x" + strings.Repeat("0", addressHexLen-len(s)) + s, nil
}

// SameAddress reports whether a and b refer to the same account, regardless
// of short or long form. Malformed addresses never match.
func SameAddress(a, b string) bool {
	na, err := NormalizeAddress(a)
	if err != nil {
		return false
	}
	nb, err := NormalizeAddress(b)
	if err != nil {
		return false
	}
	return na == nb
}
