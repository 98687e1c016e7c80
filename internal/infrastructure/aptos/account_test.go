package aptos

import (
	"crypto/ed25519"
	"testing"

	"github.com/arkade-os/moneypot/internal/core/domain"
	"github.com/arkade-os/moneypot/internal/test/fakeledger"
	"github.com/stretchr/testify/require"
)

func TestNewAccountFromHex(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		fixtures := []string{
			testPrivateKey,
			testPrivateKey[2:],
			"ed25519-priv-" + testPrivateKey,
		}

		var address string
		for _, f := range fixtures {
			account, err := NewAccountFromHex(f)
			require.NoError(t, err)
			if len(address) == 0 {
				address = account.Address()
			}
			require.Equal(t, address, account.Address())
		}

		normalized, err := domain.NormalizeAddress(address)
		require.NoError(t, err)
		require.Equal(t, normalized, address)
	})

	t.Run("invalid", func(t *testing.T) {
		fixtures := []string{"", "0x", "zz", "0x9bf49a6a"}
		for _, f := range fixtures {
			account, err := NewAccountFromHex(f)
			require.Error(t, err, f)
			require.Nil(t, account)
		}
	})
}

func TestAccountSign(t *testing.T) {
	account, err := GenerateAccount()
	require.NoError(t, err)

	msg := []byte("APTOS::RawTransaction")
	sig, err := account.Sign(msg)
	require.NoError(t, err)
	require.True(t, ed25519.Verify(account.PublicKey(), msg, sig))

	require.Equal(t, fakeledger.AuthenticationKey(account.PublicKey()), account.Address())
}
