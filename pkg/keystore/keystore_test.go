package keystore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func TestEncryptDecryptMnemonic(t *testing.T) {
	keyJSON, err := EncryptMnemonic(testMnemonic, "secure-password", LightScryptN)
	require.NoError(t, err)
	assert.Equal(t, "aes-256-gcm", keyJSON.Crypto.Cipher)
	assert.Equal(t, LightScryptN, keyJSON.Crypto.KDFParams.N)

	plaintext, err := DecryptMnemonic(keyJSON, "secure-password")
	require.NoError(t, err)
	assert.Equal(t, testMnemonic, plaintext)

	_, err = DecryptMnemonic(keyJSON, "wrong-password")
	assert.ErrorIs(t, err, ErrMACMismatch)
}

func TestLoadMnemonic(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "wallet.json")

	keyJSON, err := EncryptMnemonic(testMnemonic, "123456", LightScryptN)
	require.NoError(t, err)
	require.NoError(t, keyJSON.SaveToFile(filename))

	loaded, err := LoadFromFile(filename)
	require.NoError(t, err)
	assert.Equal(t, keyJSON.Id, loaded.Id)

	mnemonic, err := LoadMnemonic(filename, "123456")
	require.NoError(t, err)
	assert.Equal(t, testMnemonic, mnemonic)

	_, err = LoadMnemonic(filepath.Join(t.TempDir(), "missing.json"), "123456")
	assert.Error(t, err)
}
