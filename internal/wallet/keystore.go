// Package wallet stores the signing credential encrypted at rest. The
// ciphertext and the KDF salt live in two files next to each other; the
// passphrase never touches disk.
package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

const (
	credentialsFile = ".credentials.enc"
	saltFile        = ".salt"

	saltSize      = 16
	keySize       = 32
	kdfIterations = 100_000
)

var (
	// ErrNotFound means no credential has been stored yet.
	ErrNotFound = errors.New("wallet: no stored credentials")
	// ErrBadPassphrase means authenticated decryption failed.
	ErrBadPassphrase = errors.New("wallet: passphrase rejected")
)

// Credentials is the decrypted payload held only in memory.
type Credentials struct {
	PrivateKey string `json:"private_key"`
	Address    string `json:"address"`
	CreatedAt  string `json:"created_at"`
}

// Keystore encrypts and decrypts a single private key + address pair using a
// passphrase-derived key (PBKDF2-SHA256, then AES-256-GCM).
type Keystore struct {
	dir    string
	logger *slog.Logger
}

func NewKeystore(dir string, logger *slog.Logger) *Keystore {
	return &Keystore{
		dir:    dir,
		logger: logger.With("component", "wallet"),
	}
}

func (k *Keystore) credPath() string {
	return filepath.Join(k.dir, credentialsFile)
}

func (k *Keystore) saltPath() string {
	return filepath.Join(k.dir, saltFile)
}

// Store encrypts the credential pair under passphrase and writes it to disk,
// replacing any previous credential. The salt is created on first use and
// reused afterwards so earlier ciphertexts stay decryptable.
func (k *Keystore) Store(privateKey, address, passphrase string) error {
	salt, err := k.ensureSalt()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(Credentials{
		PrivateKey: privateKey,
		Address:    address,
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}

	aead, err := newAEAD(passphrase, salt)
	if err != nil {
		return err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}

	// nonce || ciphertext, sealed in one blob.
	sealed := aead.Seal(nonce, nonce, payload, nil)

	if err := atomicWrite(k.credPath(), sealed, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}

	k.logger.Info("credentials stored", "address", address)
	return nil
}

// Load decrypts the stored credential pair with passphrase.
func (k *Keystore) Load(passphrase string) (*Credentials, error) {
	sealed, err := os.ReadFile(k.credPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	salt, err := os.ReadFile(k.saltPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read salt: %w", err)
	}

	aead, err := newAEAD(passphrase, salt)
	if err != nil {
		return nil, err
	}

	if len(sealed) < aead.NonceSize() {
		return nil, ErrBadPassphrase
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]

	payload, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		// GCM authentication failure: wrong passphrase or tampered blob.
		return nil, ErrBadPassphrase
	}

	var creds Credentials
	if err := json.Unmarshal(payload, &creds); err != nil {
		return nil, fmt.Errorf("unmarshal credentials: %w", err)
	}
	return &creds, nil
}

// Exists reports whether an encrypted credential blob is present.
func (k *Keystore) Exists() bool {
	_, err := os.Stat(k.credPath())
	return err == nil
}

// Delete removes the ciphertext and salt. Missing files are not an error.
func (k *Keystore) Delete() error {
	for _, path := range []string{k.credPath(), k.saltPath()} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", filepath.Base(path), err)
		}
	}
	k.logger.Info("credentials deleted")
	return nil
}

func (k *Keystore) ensureSalt() ([]byte, error) {
	salt, err := os.ReadFile(k.saltPath())
	if err == nil && len(salt) == saltSize {
		return salt, nil
	}
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read salt: %w", err)
	}

	salt = make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	if err := atomicWrite(k.saltPath(), salt, 0o600); err != nil {
		return nil, fmt.Errorf("write salt: %w", err)
	}
	return salt, nil
}

func newAEAD(passphrase string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(passphrase), salt, kdfIterations, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return aead, nil
}

// atomicWrite writes via a temp file in the same directory and renames it
// into place so a crash never leaves a partial file.
func atomicWrite(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
