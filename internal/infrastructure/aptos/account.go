package aptos

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Single-key ed25519 authentication scheme.
const ed25519Scheme = 0x00

const privateKeyPrefix = "ed25519-priv-"

// Account is a single-key ed25519 signer.
type Account struct {
	key     ed25519.PrivateKey
	address string
}

// NewAccountFromHex loads an account from a hex encoded 32-byte seed, with
// or without the 0x and ed25519-priv- prefixes.
func NewAccountFromHex(privateKey string) (*Account, error) {
	s := strings.TrimSpace(privateKey)
	s = strings.TrimPrefix(s, privateKeyPrefix)
	s = strings.TrimPrefix(s, "0x")

	seed, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf(
			"invalid private key length: got %d bytes, expected %d", len(seed), ed25519.SeedSize,
		)
	}
	return newAccount(ed25519.NewKeyFromSeed(seed)), nil
}

// GenerateAccount returns a fresh random account. Its key is never
// persisted.
func GenerateAccount() (*Account, error) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return newAccount(key), nil
}

func newAccount(key ed25519.PrivateKey) *Account {
	return &Account{key, AddressFromPublicKey(key.Public().(ed25519.PublicKey))}
}

// AddressFromPublicKey derives the account address owned by the key.
func AddressFromPublicKey(pubkey ed25519.PublicKey) string {
	buf := make([]byte, 0, len(pubkey)+1)
	buf = append(buf, pubkey...)
	buf = append(buf, ed25519Scheme)
	digest := sha3.Sum256(buf)
	return "0x" + hex.EncodeToString(digest[:])
}

func (a *Account) Address() string {
	return a.address
}

func (a *Account) PublicKey() []byte {
	return a.key.Public().(ed25519.PublicKey)
}

func (a *Account) Sign(message []byte) ([]byte, error) {
	return ed25519.Sign(a.key, message), nil
}

func (a *Account) String() string {
	return a.address
}
