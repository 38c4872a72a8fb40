package crypto

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewCipherRequiresMasterKey(t *testing.T) {
	_, err := NewCipher("")
	require.ErrorIs(t, err, ErrMasterKeyRequired)

	_, err = NewCipher("   ")
	require.ErrorIs(t, err, ErrMasterKeyRequired)

	c, err := NewCipher("correct horse battery staple")
	require.NoError(t, err)
	require.NotNil(t, c)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c, err := NewCipher("test-master-key")
	require.NoError(t, err)

	plaintexts := []string{
		"JBSWY3DPEHPK3PXP",
		"",
		"short",
		strings.Repeat("long secret material ", 64),
		"unicode: žluťoučký kůň 🔐",
	}

	for _, plaintext := range plaintexts {
		sealed, err := c.EncryptForUser(plaintext, "user-1")
		require.NoError(t, err)

		opened, err := c.DecryptForUser(sealed, "user-1")
		require.NoError(t, err)
		require.Equal(t, plaintext, opened)
	}
}

func TestEnvelopeShape(t *testing.T) {
	c, err := NewCipher("test-master-key")
	require.NoError(t, err)

	sealed, err := c.EncryptForUser("secret", "user-1")
	require.NoError(t, err)

	var env struct {
		Salt string `json:"salt"`
		IV   string `json:"iv"`
		Data string `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(sealed), &env))
	require.Len(t, env.Salt, saltSize*2) // hex encoded
	require.Len(t, env.IV, 32)
	require.NotEmpty(t, env.Data)
	require.NotContains(t, sealed, "secret")
}

func TestEncryptProducesUniqueEnvelopes(t *testing.T) {
	c, err := NewCipher("test-master-key")
	require.NoError(t, err)

	first, err := c.EncryptForUser("same plaintext", "user-1")
	require.NoError(t, err)
	second, err := c.EncryptForUser("same plaintext", "user-1")
	require.NoError(t, err)

	require.NotEqual(t, first, second)
}

func TestDecryptWithWrongUserNeverRecoversPlaintext(t *testing.T) {
	c, err := NewCipher("test-master-key")
	require.NoError(t, err)

	sealed, err := c.EncryptForUser("the totp seed", "user-1")
	require.NoError(t, err)

	opened, err := c.DecryptForUser(sealed, "user-2")
	if err == nil {
		// Padding happened to survive the wrong key; the output must be garbage.
		require.NotEqual(t, "the totp seed", opened)
	} else {
		require.ErrorIs(t, err, ErrDecryptionFailed)
	}
}

func TestDecryptRejectsMalformedEnvelopes(t *testing.T) {
	c, err := NewCipher("test-master-key")
	require.NoError(t, err)

	for _, sealed := range []string{
		"",
		"not json",
		`{"salt":"xx","iv":"yy","data":"zz"}`,
		`{"salt":"00000000000000000000000000000000","iv":"00000000000000000000000000000000","data":"AA=="}`,
	} {
		_, err := c.DecryptForUser(sealed, "user-1")
		require.ErrorIs(t, err, ErrDecryptionFailed, "input %q", sealed)
	}
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	c, err := NewCipher("test-master-key")
	require.NoError(t, err)

	sealed, err := c.EncryptForUser("payload-to-protect", "user-1")
	require.NoError(t, err)

	var env map[string]string
	require.NoError(t, json.Unmarshal([]byte(sealed), &env))
	env["data"] = "AAAA" + env["data"][4:]
	tampered, err := json.Marshal(env)
	require.NoError(t, err)

	opened, err := c.DecryptForUser(string(tampered), "user-1")
	if err == nil {
		require.NotEqual(t, "payload-to-protect", opened)
	}
}

func TestNilCipherFailsClosed(t *testing.T) {
	var c *Cipher
	_, err := c.EncryptForUser("x", "user")
	require.ErrorIs(t, err, ErrMasterKeyRequired)

	_, err = c.DecryptForUser("x", "user")
	require.ErrorIs(t, err, ErrMasterKeyRequired)
}

func TestSafeCompare(t *testing.T) {
	require.True(t, SafeCompare("A1B2C3D4", "A1B2C3D4"))
	require.False(t, SafeCompare("A1B2C3D4", "A1B2C3D5"))
	require.False(t, SafeCompare("A1B2C3D4", "A1B2C3"))
	require.True(t, SafeCompare("", ""))
}

func TestPKCS7Unpad(t *testing.T) {
	_, err := unpadPKCS7([]byte{}, 16)
	require.Error(t, err)

	_, err = unpadPKCS7(make([]byte, 16), 16)
	require.Error(t, err) // zero padding byte

	padded := padPKCS7([]byte("abc"), 16)
	require.Len(t, padded, 16)
	out, err := unpadPKCS7(padded, 16)
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), out)
}
