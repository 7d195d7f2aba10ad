package secrets

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// PBKDF2 configuration following OWASP recommendations for PBKDF2-SHA256.
const (
	PBKDF2Iterations = 600000
	PBKDF2KeyLength  = 32 // 256 bits
	SaltLength       = 16 // 128 bits
)

const (
	// APIKeyPrefix marks every issued API key for cheap format rejection.
	APIKeyPrefix = "amina_"
	// apiKeyRandomBytes yields 32 base64url chars after encoding.
	apiKeyRandomBytes = 24
	// DisplayPrefixLength is how many characters of the plaintext key are
	// stored for display ("amina_xxxxxx").
	DisplayPrefixLength = 12
)

// HashSecret hashes a secret for storage using PBKDF2 with a random salt.
// Every call produces a different value for the same input.
// Format: hex(salt).hex(hash)
func HashSecret(secret string) (string, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	hash := pbkdf2.Key([]byte(secret), salt, PBKDF2Iterations, PBKDF2KeyLength, sha256.New)

	return hex.EncodeToString(salt) + "." + hex.EncodeToString(hash), nil
}

// VerifySecret compares a secret against a stored hash using a
// constant-time comparison. Malformed stored values fail closed.
func VerifySecret(secret, stored string) bool {
	parts := strings.Split(stored, ".")
	if len(parts) != 2 {
		return false
	}

	salt, err := hex.DecodeString(parts[0])
	if err != nil || len(salt) != SaltLength {
		return false
	}
	storedHash, err := hex.DecodeString(parts[1])
	if err != nil || len(storedHash) != PBKDF2KeyLength {
		return false
	}

	derived := pbkdf2.Key([]byte(secret), salt, PBKDF2Iterations, PBKDF2KeyLength, sha256.New)

	return subtle.ConstantTimeCompare(derived, storedHash) == 1
}

// GenerateToken returns n cryptographically secure random bytes encoded
// as unpadded base64url.
func GenerateToken(n int) (string, error) {
	bytes := make([]byte, n)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}

// GenerateAPIKey generates a new API key.
// Format: amina_<32 base64url chars>. Returns the plaintext key, the
// display prefix, and the SHA-256 digest used for lookup.
func GenerateAPIKey() (key, prefix, hash string, err error) {
	random, err := GenerateToken(apiKeyRandomBytes)
	if err != nil {
		return "", "", "", err
	}

	key = APIKeyPrefix + random
	prefix = key[:DisplayPrefixLength]
	hash = HashAPIKey(key)
	return key, prefix, hash, nil
}

// HashAPIKey returns the SHA-256 hex digest of an API key.
// Issued keys are high-entropy random values and must be found by exact
// digest lookup, so a fast unsalted hash is used here; PBKDF2 is reserved
// for externally chosen secrets (see HashSecret).
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// GenerateKeyID returns a short opaque identifier for an API key record.
// Format: key_<8 hex chars>
func GenerateKeyID() (string, error) {
	bytes := make([]byte, 4)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return "key_" + hex.EncodeToString(bytes), nil
}
