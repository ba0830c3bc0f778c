// Package ids centralizes identifier generation so engines never read
// ambient clock or counter state for ids.
package ids

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

const (
	sealAlphabet    = "0123456789abcdefghijklmnopqrstuvwxyz"
	sealSuffixLen   = 10
	defaultPrefix   = "SEAL"
	prefixSeparator = "-"
)

// Generator produces entity ids and seal codes. Inject a fixed-output
// implementation in tests.
type Generator interface {
	NewID() string
	NewSealCode() string
}

// UUID generates UUIDv4 entity ids and random base36 seal codes.
type UUID struct {
	// SealPrefix overrides the default "SEAL" seal code prefix.
	SealPrefix string
}

func (g UUID) NewID() string {
	return uuid.New().String()
}

// NewSealCode returns a human-auditable token like SEAL-4k9x2m7qwp.
// Suffix entropy is 36^10 (~52 bits); the unique constraint on
// seals.seal_code backstops the residual collision chance.
func (g UUID) NewSealCode() string {
	prefix := g.SealPrefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteString(prefixSeparator)
	max := big.NewInt(int64(len(sealAlphabet)))
	for i := 0; i < sealSuffixLen; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand failing means the platform entropy source is
			// broken; fall back to a uuid-derived suffix.
			return fmt.Sprintf("%s%s%s", prefix, prefixSeparator, strings.ReplaceAll(uuid.New().String(), "-", "")[:sealSuffixLen])
		}
		b.WriteByte(sealAlphabet[n.Int64()])
	}
	return b.String()
}
