package wallet

import (
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyHex = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestNewWalletFromPrivateKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{name: "with 0x prefix", key: testKeyHex},
		{name: "without prefix", key: testKeyHex[2:]},
		{name: "invalid hex", key: "0xzz", wantErr: true},
		{name: "short key", key: "0x0102", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := NewWalletFromPrivateKey(tt.key)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23", w.Address().Hex())
		})
	}
}

func TestSignHash_Recoverable(t *testing.T) {
	w, err := NewWallet()
	require.NoError(t, err)

	hash := ethcrypto.Keccak256([]byte("burst"))
	sig, err := w.SignHash(hash)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	assert.Contains(t, []byte{27, 28}, sig[64])

	sig[64] -= 27
	pub, err := ethcrypto.SigToPub(hash, sig)
	require.NoError(t, err)
	assert.Equal(t, w.Address(), ethcrypto.PubkeyToAddress(*pub))

	_, err = w.SignHash([]byte("short"))
	assert.Error(t, err)
}

func TestSignMessage(t *testing.T) {
	w, err := NewWallet()
	require.NoError(t, err)

	sig, err := w.SignMessage([]byte("hello"))
	require.NoError(t, err)

	sig[64] -= 27
	pub, err := ethcrypto.SigToPub(accounts.TextHash([]byte("hello")), sig)
	require.NoError(t, err)
	assert.Equal(t, w.Address(), ethcrypto.PubkeyToAddress(*pub))
}
