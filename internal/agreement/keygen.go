package agreement

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
)

// Key length bounds. 36^6 is roughly 2.2e9 keys.
const (
	MinKeyLength     = 6
	MaxKeyLength     = 8
	DefaultKeyLength = 6
)

const keyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// KeyGenerator produces owner-facing access keys
type KeyGenerator interface {
	Generate() (string, error)
}

// RandomKeyGenerator draws uppercase alphanumeric keys from crypto/rand
type RandomKeyGenerator struct {
	length int
	source io.Reader
}

// NewKeyGenerator creates a generator for keys of the given length
func NewKeyGenerator(length int) (*RandomKeyGenerator, error) {
	if length < MinKeyLength || length > MaxKeyLength {
		return nil, fmt.Errorf("access key length must be between %d and %d, got %d", MinKeyLength, MaxKeyLength, length)
	}
	return &RandomKeyGenerator{length: length, source: rand.Reader}, nil
}

// Generate returns a new random key. It never looks at agreement content.
func (g *RandomKeyGenerator) Generate() (string, error) {
	max := big.NewInt(int64(len(keyAlphabet)))
	key := make([]byte, g.length)
	for i := range key {
		n, err := rand.Int(g.source, max)
		if err != nil {
			return "", fmt.Errorf("failed to read randomness: %w", err)
		}
		key[i] = keyAlphabet[n.Int64()]
	}
	return string(key), nil
}
