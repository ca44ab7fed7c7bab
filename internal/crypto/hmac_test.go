package crypto

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCreds() *APICreds {
	return &APICreds{
		Key:        "api-key-1",
		Secret:     base64.StdEncoding.EncodeToString([]byte("super-secret")),
		Passphrase: "pass",
	}
}

func TestHeadersAtDeterministic(t *testing.T) {
	c := testCreds()

	h1 := c.HeadersAt("0xabc", "POST", "/order", `{"a":1}`, 1700000000)
	h2 := c.HeadersAt("0xabc", "POST", "/order", `{"a":1}`, 1700000000)
	assert.Equal(t, h1, h2)

	assert.Equal(t, "0xabc", h1["POLY_ADDRESS"])
	assert.Equal(t, "api-key-1", h1["POLY_API_KEY"])
	assert.Equal(t, "1700000000", h1["POLY_TIMESTAMP"])
	assert.Equal(t, "pass", h1["POLY_PASSPHRASE"])

	// The signature is valid standard base64.
	sig, err := base64.StdEncoding.DecodeString(h1["POLY_SIGNATURE"])
	require.NoError(t, err)
	assert.Len(t, sig, 32) // HMAC-SHA256
}

func TestHeadersAtSignatureCoversMessage(t *testing.T) {
	c := testCreds()

	base := c.HeadersAt("0xabc", "POST", "/order", `{"a":1}`, 1700000000)

	body := c.HeadersAt("0xabc", "POST", "/order", `{"a":2}`, 1700000000)
	assert.NotEqual(t, base["POLY_SIGNATURE"], body["POLY_SIGNATURE"])

	path := c.HeadersAt("0xabc", "POST", "/cancel", `{"a":1}`, 1700000000)
	assert.NotEqual(t, base["POLY_SIGNATURE"], path["POLY_SIGNATURE"])

	ts := c.HeadersAt("0xabc", "POST", "/order", `{"a":1}`, 1700000001)
	assert.NotEqual(t, base["POLY_SIGNATURE"], ts["POLY_SIGNATURE"])
}

func TestAPICredsStringRedacts(t *testing.T) {
	c := &APICreds{Key: "abcdef123456", Secret: "s3cretvalue"}
	s := c.String()
	assert.Contains(t, s, "abcd****")
	assert.NotContains(t, s, "abcdef123456")
	assert.NotContains(t, s, "s3cretvalue")
}
