package execution

import (
	"crypto/rand"
	"encoding/hex"
)

// RandomIDGenerator mints position identifiers from crypto/rand, the same
// source pkg/crypto uses for nonces.
type RandomIDGenerator struct {
	Prefix string
}

// NewPositionID returns Prefix followed by 16 random hex characters.
func (g RandomIDGenerator) NewPositionID() string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic(err)
	}
	return g.Prefix + hex.EncodeToString(buf[:])
}
