package wallet

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestKeystore(t *testing.T) *Keystore {
	t.Helper()
	return NewKeystore(t.TempDir(), testLogger())
}

func TestKeystore_StoreAndLoadRoundTrip(t *testing.T) {
	ks := newTestKeystore(t)

	err := ks.Store("0xdeadbeef-private", "0xAbC0000000000000000000000000000000000001", "correct horse")
	require.NoError(t, err)
	assert.True(t, ks.Exists())

	creds, err := ks.Load("correct horse")
	require.NoError(t, err)
	assert.Equal(t, "0xdeadbeef-private", creds.PrivateKey)
	assert.Equal(t, "0xAbC0000000000000000000000000000000000001", creds.Address)
	assert.NotEmpty(t, creds.CreatedAt)
}

func TestKeystore_WrongPassphrase(t *testing.T) {
	ks := newTestKeystore(t)
	require.NoError(t, ks.Store("pk", "0xaddr", "right"))

	creds, err := ks.Load("wrong")
	assert.Nil(t, creds)
	assert.ErrorIs(t, err, ErrBadPassphrase)
}

func TestKeystore_LoadWithoutStore(t *testing.T) {
	ks := newTestKeystore(t)

	_, err := ks.Load("anything")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, ks.Exists())
}

func TestKeystore_StoreReplacesPrevious(t *testing.T) {
	ks := newTestKeystore(t)
	require.NoError(t, ks.Store("old-key", "0xold", "pass one"))
	require.NoError(t, ks.Store("new-key", "0xnew", "pass two"))

	// Old passphrase no longer opens the blob.
	_, err := ks.Load("pass one")
	assert.ErrorIs(t, err, ErrBadPassphrase)

	creds, err := ks.Load("pass two")
	require.NoError(t, err)
	assert.Equal(t, "new-key", creds.PrivateKey)
}

func TestKeystore_SaltReusedAcrossStores(t *testing.T) {
	dir := t.TempDir()
	ks := NewKeystore(dir, testLogger())

	require.NoError(t, ks.Store("pk1", "0x1", "pw"))
	salt1, err := os.ReadFile(filepath.Join(dir, saltFile))
	require.NoError(t, err)
	require.Len(t, salt1, saltSize)

	require.NoError(t, ks.Store("pk2", "0x2", "pw"))
	salt2, err := os.ReadFile(filepath.Join(dir, saltFile))
	require.NoError(t, err)

	assert.Equal(t, salt1, salt2)
}

func TestKeystore_CiphertextNeverHoldsPlaintext(t *testing.T) {
	dir := t.TempDir()
	ks := NewKeystore(dir, testLogger())
	require.NoError(t, ks.Store("super-secret-private-key", "0xaddr", "pw"))

	blob, err := os.ReadFile(filepath.Join(dir, credentialsFile))
	require.NoError(t, err)
	assert.NotContains(t, string(blob), "super-secret-private-key")
	assert.NotContains(t, string(blob), "pw")
}

func TestKeystore_CredentialFilePermissions(t *testing.T) {
	dir := t.TempDir()
	ks := NewKeystore(dir, testLogger())
	require.NoError(t, ks.Store("pk", "0xaddr", "pw"))

	info, err := os.Stat(filepath.Join(dir, credentialsFile))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestKeystore_DeleteIsIdempotent(t *testing.T) {
	ks := newTestKeystore(t)
	require.NoError(t, ks.Store("pk", "0xaddr", "pw"))

	require.NoError(t, ks.Delete())
	assert.False(t, ks.Exists())
	_, err := ks.Load("pw")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting again with nothing on disk is fine.
	assert.NoError(t, ks.Delete())
}

func TestKeystore_TamperedBlobRejected(t *testing.T) {
	dir := t.TempDir()
	ks := NewKeystore(dir, testLogger())
	require.NoError(t, ks.Store("pk", "0xaddr", "pw"))

	path := filepath.Join(dir, credentialsFile)
	blob, err := os.ReadFile(path)
	require.NoError(t, err)
	blob[len(blob)-1] ^= 0xff
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	_, err = ks.Load("pw")
	assert.ErrorIs(t, err, ErrBadPassphrase)
}
