package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const apiTokenPrefix = "opw_"

// GenerateAPIToken creates a token for tools and returns it with the hash
// that goes into the configuration.
// Format: opw_<uuid>_<random_secret>
func GenerateAPIToken() (token, hash string, err error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate secret: %w", err)
	}

	token = fmt.Sprintf("%s%s_%s", apiTokenPrefix, uuid.NewString(), hex.EncodeToString(secretBytes))
	return token, HashAPIToken(token), nil
}

func HashAPIToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

func isAPIToken(token string) bool {
	return strings.HasPrefix(token, apiTokenPrefix) && len(token) >= len(apiTokenPrefix)+36+1+64
}
