package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// KDFIterations is the PBKDF2-HMAC-SHA256 iteration count for envelope keys.
	KDFIterations = 100_000

	saltSize = 16
	keySize  = 32
)

var (
	// ErrMasterKeyRequired indicates the cipher was constructed without a master key.
	ErrMasterKeyRequired = errors.New("crypto: master key is required")
	// ErrDecryptionFailed indicates a malformed envelope or a key/user mismatch.
	ErrDecryptionFailed = errors.New("crypto: decryption failed")
)

// envelope is the serialized form of an encrypted secret at rest.
type envelope struct {
	Salt string `json:"salt"`
	IV   string `json:"iv"`
	Data string `json:"data"`
}

// Cipher encrypts and decrypts per-user secrets. Derived keys depend on both
// the master key and the owning user ID, so a ciphertext can only be opened
// with the same user identity it was sealed for.
type Cipher struct {
	masterKey []byte
}

// NewCipher builds a Cipher from the process-wide master key. An empty key is
// a configuration error and must abort startup rather than be defaulted.
func NewCipher(masterKey string) (*Cipher, error) {
	masterKey = strings.TrimSpace(masterKey)
	if masterKey == "" {
		return nil, ErrMasterKeyRequired
	}
	return &Cipher{masterKey: []byte(masterKey)}, nil
}

// EncryptForUser seals plaintext for the given user and returns a JSON
// envelope carrying the salt, IV, and ciphertext. Every call uses a fresh
// salt and IV, so identical plaintexts never produce identical envelopes.
func (c *Cipher) EncryptForUser(plaintext, userID string) (string, error) {
	if c == nil || len(c.masterKey) == 0 {
		return "", ErrMasterKeyRequired
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("crypto: generate salt: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("crypto: generate iv: %w", err)
	}

	block, err := aes.NewCipher(c.deriveKey(userID, salt))
	if err != nil {
		return "", fmt.Errorf("crypto: init cipher: %w", err)
	}

	padded := padPKCS7([]byte(plaintext), aes.BlockSize)
	data := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(data, padded)

	encoded, err := json.Marshal(envelope{
		Salt: hex.EncodeToString(salt),
		IV:   hex.EncodeToString(iv),
		Data: base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		return "", fmt.Errorf("crypto: marshal envelope: %w", err)
	}

	return string(encoded), nil
}

// DecryptForUser opens an envelope previously sealed with EncryptForUser for
// the same user. Any parse, padding, or key mismatch failure is reported as
// ErrDecryptionFailed; the caller must treat it as credential loss rather
// than an invalid code.
func (c *Cipher) DecryptForUser(sealed, userID string) (string, error) {
	if c == nil || len(c.masterKey) == 0 {
		return "", ErrMasterKeyRequired
	}

	var env envelope
	if err := json.Unmarshal([]byte(sealed), &env); err != nil {
		return "", fmt.Errorf("%w: parse envelope: %v", ErrDecryptionFailed, err)
	}

	salt, err := hex.DecodeString(env.Salt)
	if err != nil || len(salt) != saltSize {
		return "", fmt.Errorf("%w: malformed salt", ErrDecryptionFailed)
	}

	iv, err := hex.DecodeString(env.IV)
	if err != nil || len(iv) != aes.BlockSize {
		return "", fmt.Errorf("%w: malformed iv", ErrDecryptionFailed)
	}

	data, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil || len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: malformed ciphertext", ErrDecryptionFailed)
	}

	block, err := aes.NewCipher(c.deriveKey(userID, salt))
	if err != nil {
		return "", fmt.Errorf("%w: init cipher: %v", ErrDecryptionFailed, err)
	}

	plaintext := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, data)

	unpadded, err := unpadPKCS7(plaintext, aes.BlockSize)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	return string(unpadded), nil
}

func (c *Cipher) deriveKey(userID string, salt []byte) []byte {
	secret := make([]byte, 0, len(c.masterKey)+len(userID))
	secret = append(secret, c.masterKey...)
	secret = append(secret, userID...)
	return pbkdf2.Key(secret, salt, KDFIterations, keySize, sha256.New)
}

// GenerateToken returns a URL-safe random token built from length random bytes.
func GenerateToken(length int) (string, error) {
	buffer := make([]byte, length)
	if _, err := rand.Read(buffer); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buffer), nil
}

// SafeCompare reports whether two strings are equal without leaking the
// position of the first difference through timing.
func SafeCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func padPKCS7(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padding)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padding)
	}
	return padded
}

func unpadPKCS7(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("invalid padded length")
	}

	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize {
		return nil, errors.New("invalid padding")
	}

	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, errors.New("invalid padding")
		}
	}

	return data[:len(data)-padding], nil
}
