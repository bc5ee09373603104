package security

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cheap parameters keep the suite fast; production defaults are exercised once.
var testParams = Argon2Params{Time: 1, Memory: 1024, Threads: 1}

func TestHasherRoundTrip(t *testing.T) {
	t.Parallel()

	h := NewHasher("pepper-one", testParams)

	digest, err := h.Hash("correct horse battery staple")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(digest, "$argon2id$v=19$m=1024,t=1,p=1$"))

	assert.True(t, h.Verify("correct horse battery staple", digest))
	assert.False(t, h.Verify("correct horse battery stapler", digest))
}

func TestHasherUsesPepper(t *testing.T) {
	t.Parallel()

	digest, err := NewHasher("pepper-one", testParams).Hash("secret")
	require.NoError(t, err)

	assert.False(t, NewHasher("pepper-two", testParams).Verify("secret", digest))
	assert.False(t, NewHasher("", testParams).Verify("secret", digest))
}

func TestHasherSaltsEachCall(t *testing.T) {
	t.Parallel()

	h := NewHasher("pepper", testParams)
	a, err := h.Hash("same")
	require.NoError(t, err)
	b, err := h.Hash("same")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestHasherRejectsEmptySecret(t *testing.T) {
	t.Parallel()

	_, err := NewHasher("pepper", testParams).Hash("")
	require.ErrorIs(t, err, ErrEmptySecret)
}

func TestHasherVerifyMalformedDigest(t *testing.T) {
	t.Parallel()

	h := NewHasher("pepper", testParams)
	valid, err := h.Hash("secret")
	require.NoError(t, err)
	parts := strings.Split(valid, "$")

	cases := map[string]string{
		"empty":          "",
		"garbage":        "not-a-digest",
		"bcrypt":         "$2a$12$abcdefghijklmnopqrstuuQ5S3b8b2x8a6Qh1Yw8K4xk3r9eJ3lxa",
		"wrong version":  strings.Replace(valid, "v=19", "v=16", 1),
		"bad params":     strings.Replace(valid, "m=1024,t=1,p=1", "m=x,t=1,p=1", 1),
		"zero threads":   strings.Replace(valid, "p=1", "p=0", 1),
		"too many parts": valid + "$extra",
		"bad salt":       strings.Join([]string{"", parts[1], parts[2], parts[3], "!!!", parts[5]}, "$"),
		"empty hash":     strings.Join([]string{"", parts[1], parts[2], parts[3], parts[4], ""}, "$"),
	}

	for name, digest := range cases {
		t.Run(name, func(t *testing.T) {
			assert.False(t, h.Verify("secret", digest))
		})
	}
}

func TestHasherDefaultParams(t *testing.T) {
	t.Parallel()

	h := NewHasher("pepper", Argon2Params{})
	digest, err := h.Hash("secret")
	require.NoError(t, err)

	assert.Contains(t, digest, "m=65536,t=1,p=4")
	assert.True(t, h.Verify("secret", digest))
}

func TestRandomSecret(t *testing.T) {
	t.Parallel()

	s, err := RandomSecret(8)
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(s)
	require.NoError(t, err)
	assert.Len(t, raw, MinSecretBytes, "short requests are raised to the minimum")

	other, err := RandomSecret(MinSecretBytes)
	require.NoError(t, err)
	assert.NotEqual(t, s, other)
}

func TestEqualStrings(t *testing.T) {
	t.Parallel()

	assert.True(t, EqualStrings("abc", "abc"))
	assert.False(t, EqualStrings("abc", "abd"))
	assert.False(t, EqualStrings("abc", ""))
}
