package storage

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

func randomHex(size int) (string, error) {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// generateID produces a 32-character hex identifier for stored records.
func generateID() (string, error) {
	id, err := randomHex(16)
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return id, nil
}

// generateStreamKey produces a placeholder ingest key for destinations saved
// without one. Uppercase to match the format most platforms hand out.
func generateStreamKey() (string, error) {
	key, err := randomHex(24)
	if err != nil {
		return "", fmt.Errorf("generate stream key: %w", err)
	}
	return strings.ToUpper(key), nil
}
