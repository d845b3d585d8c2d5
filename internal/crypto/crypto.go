package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for room-key hashing. Room keys are short shared
// secrets typed by players, so the work factor matters more than for the
// random high-entropy admin/user keys (which are never hashed).
const (
	argonTime    = 1
	argonMemory  = 15 * 1024
	argonThreads = 1
	argonKeyLen  = 32
	saltLen      = 16
)

// HashRoomKey derives a salted hash for the shared room key. The salt and the
// derived key are returned separately (both base64) so they can be persisted
// as distinct fields and the plaintext key never stored.
func HashRoomKey(roomKey string) (saltedKey, salt string, err error) {
	rawSalt := make([]byte, saltLen)
	if _, err := rand.Read(rawSalt); err != nil {
		return "", "", fmt.Errorf("generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(roomKey), rawSalt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return base64.RawStdEncoding.EncodeToString(key), base64.RawStdEncoding.EncodeToString(rawSalt), nil
}

// VerifyRoomKey re-derives the hash of the presented key with the stored salt
// and compares in constant time.
func VerifyRoomKey(saltedKey, salt, presentedKey string) bool {
	rawSalt, err := base64.RawStdEncoding.DecodeString(salt)
	if err != nil {
		return false
	}
	stored, err := base64.RawStdEncoding.DecodeString(saltedKey)
	if err != nil {
		return false
	}
	derived := argon2.IDKey([]byte(presentedKey), rawSalt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return subtle.ConstantTimeCompare(stored, derived) == 1
}

// GenerateAdminKey returns a random high-entropy token. It is compared by
// direct equality and transmitted exactly once, in the create-room response.
func GenerateAdminKey() string {
	return uuid.NewString()
}

// GenerateUserKey returns a per-participant token issued at join time.
func GenerateUserKey(userName string) string {
	sum := sha256.Sum256([]byte(userName + uuid.NewString()))
	return hex.EncodeToString(sum[:])
}
