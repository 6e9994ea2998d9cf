package cryptox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKeyDeterministic(t *testing.T) {
	k1 := DeriveKey([]byte("secret"), []byte("salt-1"))
	k2 := DeriveKey([]byte("secret"), []byte("salt-1"))
	k3 := DeriveKey([]byte("secret"), []byte("salt-2"))

	assert.Len(t, k1, 32)
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
}

func TestCipherRoundTrip(t *testing.T) {
	c, err := New("top-secret")
	require.NoError(t, err)

	sealed, err := c.Encrypt(`{"access_token":"abc"}`)
	require.NoError(t, err)
	assert.NotContains(t, sealed, "abc")

	again, err := c.Encrypt(`{"access_token":"abc"}`)
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce must differ per call")

	plain, err := c.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, `{"access_token":"abc"}`, plain)

	empty, err := c.Encrypt("")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestCipherRejectsForeignValues(t *testing.T) {
	c1, err := New("one")
	require.NoError(t, err)
	c2, err := New("two")
	require.NoError(t, err)

	sealed, err := c1.Encrypt("payload")
	require.NoError(t, err)

	_, err = c2.Decrypt(sealed)
	require.ErrorIs(t, err, ErrDecrypt)

	_, err = c1.Decrypt("not base64!")
	require.ErrorIs(t, err, ErrDecrypt)
}

func TestCipherJSON(t *testing.T) {
	c, err := New("k")
	require.NoError(t, err)

	type creds struct {
		User string `json:"user"`
		Pass string `json:"pass"`
	}
	sealed, err := c.EncryptJSON(creds{User: "u", Pass: "p"})
	require.NoError(t, err)

	var out creds
	require.NoError(t, c.DecryptJSON(sealed, &out))
	assert.Equal(t, creds{User: "u", Pass: "p"}, out)

	_, err = New("")
	require.Error(t, err)
}
