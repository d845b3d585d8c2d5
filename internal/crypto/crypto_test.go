package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerifyRoomKey(t *testing.T) {
	saltedKey, salt, err := HashRoomKey("open sesame")
	require.NoError(t, err)
	assert.NotEmpty(t, saltedKey)
	assert.NotEmpty(t, salt)

	assert.True(t, VerifyRoomKey(saltedKey, salt, "open sesame"))
	assert.False(t, VerifyRoomKey(saltedKey, salt, "wrong key"))
}

func TestHashRoomKeySaltsDiffer(t *testing.T) {
	key1, salt1, err := HashRoomKey("same key")
	require.NoError(t, err)
	key2, salt2, err := HashRoomKey("same key")
	require.NoError(t, err)

	assert.NotEqual(t, salt1, salt2)
	assert.NotEqual(t, key1, key2)
}

func TestVerifyRoomKeyRejectsGarbage(t *testing.T) {
	assert.False(t, VerifyRoomKey("!!!not-base64!!!", "also bad", "anything"))
}

func TestGenerateUserKeyUnique(t *testing.T) {
	a := GenerateUserKey("alice")
	b := GenerateUserKey("alice")
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 64)
}
