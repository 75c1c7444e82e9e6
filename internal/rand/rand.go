// Package rand generates request identifiers for the replica client.
package rand

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"
)

const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

var defaultSource = newSource()

type source struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newSource() *source {
	seed := make([]byte, 16)
	if _, err := cryptorand.Read(seed); err != nil {
		panic("unreachable")
	}

	return &source{
		//nolint:gosec // request ids only need to be unique, not secret
		rng: rand.New(rand.NewPCG(
			binary.LittleEndian.Uint64(seed[:8]),
			binary.LittleEndian.Uint64(seed[8:]),
		)),
	}
}

// NewRequestID returns a random alphanumeric id of the given length.
func NewRequestID(length int) string {
	buf := make([]byte, length)

	defaultSource.mu.Lock()
	for i := range buf {
		buf[i] = charset[defaultSource.rng.IntN(len(charset))]
	}
	defaultSource.mu.Unlock()

	return string(buf)
}
