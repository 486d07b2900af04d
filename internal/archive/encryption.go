package archive

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// DefaultPassphraseEnv is read when no other variable is configured
	DefaultPassphraseEnv = "BACKUP_ENCRYPTION_PASSPHRASE"
	// EncryptedExtension is appended to encrypted archives
	EncryptedExtension = ".enc"

	saltSize   = 16
	keySize    = 32
	iterations = 100000
)

// ErrMissingPassphrase is returned when encryption is requested without a passphrase
var ErrMissingPassphrase = errors.New("encryption passphrase is not set")

// Encryptor encrypts archives with AES-256-GCM under a PBKDF2-derived key.
// The file layout is salt | nonce | ciphertext.
type Encryptor struct {
	passphrase []byte
}

// NewEncryptor creates an encryptor for the given passphrase
func NewEncryptor(passphrase string) (*Encryptor, error) {
	if passphrase == "" {
		return nil, ErrMissingPassphrase
	}
	return &Encryptor{passphrase: []byte(passphrase)}, nil
}

// NewEncryptorFromEnv reads the passphrase from envVar, or from
// DefaultPassphraseEnv when envVar is empty.
func NewEncryptorFromEnv(envVar string) (*Encryptor, error) {
	if envVar == "" {
		envVar = DefaultPassphraseEnv
	}
	enc, err := NewEncryptor(os.Getenv(envVar))
	if err != nil {
		return nil, fmt.Errorf("%w (set %s)", err, envVar)
	}
	return enc, nil
}

func (e *Encryptor) deriveKey(salt []byte) []byte {
	return pbkdf2.Key(e.passphrase, salt, iterations, keySize, sha256.New)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM cipher: %w", err)
	}
	return gcm, nil
}

// Encrypt seals data under a fresh salt and nonce
func (e *Encryptor) Encrypt(data []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	gcm, err := newGCM(e.deriveKey(salt))
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, saltSize+len(nonce)+len(data)+gcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, data, nil), nil
}

// Decrypt reverses Encrypt
func (e *Encryptor) Decrypt(data []byte) ([]byte, error) {
	if len(data) < saltSize {
		return nil, errors.New("encrypted data too short")
	}
	salt := data[:saltSize]

	gcm, err := newGCM(e.deriveKey(salt))
	if err != nil {
		return nil, err
	}

	rest := data[saltSize:]
	if len(rest) < gcm.NonceSize() {
		return nil, errors.New("encrypted data too short")
	}
	nonce, ciphertext := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt data: %w", err)
	}
	return plaintext, nil
}

// EncryptFile writes path+".enc" and removes the plaintext file. It returns
// the encrypted file's path and size.
func (e *Encryptor) EncryptFile(path string) (string, int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", 0, err
	}

	sealed, err := e.Encrypt(data)
	if err != nil {
		return "", 0, err
	}

	out := path + EncryptedExtension
	if err := os.WriteFile(out, sealed, 0600); err != nil {
		os.Remove(out)
		return "", 0, err
	}
	if err := os.Remove(path); err != nil {
		return "", 0, err
	}
	return out, int64(len(sealed)), nil
}

// DecryptFile decrypts src into dst
func (e *Encryptor) DecryptFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	plaintext, err := e.Decrypt(data)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, plaintext, 0600)
}
