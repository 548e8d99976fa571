package kyc

import (
	"crypto/rand"
	"fmt"
	"strings"
)

const (
	DefaultIDPrefix = "KYC"
	DefaultIDLength = 10
)

// idAlphabet drops the characters people confuse when reading ids aloud.
const idAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// IDGenerator produces human-readable request ids. Uniqueness is enforced by
// the store; generators only need to make collisions unlikely.
type IDGenerator interface {
	NewID() (string, error)
}

// IDGeneratorFunc adapts a function to the IDGenerator interface.
type IDGeneratorFunc func() (string, error)

// NewID implements IDGenerator.
func (f IDGeneratorFunc) NewID() (string, error) {
	return f()
}

type randomIDGenerator struct {
	prefix string
	length int
}

// NewRandomIDGenerator returns ids shaped like PREFIX-XXXXXXXXXX using a
// cryptographic source.
func NewRandomIDGenerator(prefix string, length int) IDGenerator {
	if length <= 0 {
		length = DefaultIDLength
	}
	return randomIDGenerator{
		prefix: strings.ToUpper(strings.TrimSpace(prefix)),
		length: length,
	}
}

func (g randomIDGenerator) NewID() (string, error) {
	buf := make([]byte, g.length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate request id: %w", err)
	}
	// len(idAlphabet) divides 256 so the modulo is unbiased
	for i, b := range buf {
		buf[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	if g.prefix == "" {
		return string(buf), nil
	}
	return g.prefix + "-" + string(buf), nil
}
