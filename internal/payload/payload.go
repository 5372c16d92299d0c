// Package payload generates the filler bytes moved by speedcheck transfers.
package payload

import (
	"crypto/rand"
	"io"

	"github.com/pkg/errors"
	"github.com/robertodauria/speedcheck/pkg/speedtest/spec"
)

// randReader is the randomness source used by Fill.
var randReader io.Reader = rand.Reader

// Fill fills buf with cryptographically random bytes. The randomness source
// is asked for at most spec.RandomFillLimit bytes per call.
func Fill(buf []byte) error {
	for i := 0; i < len(buf); i += spec.RandomFillLimit {
		end := i + spec.RandomFillLimit
		if end > len(buf) {
			end = len(buf)
		}
		if _, err := io.ReadFull(randReader, buf[i:end]); err != nil {
			return errors.Wrap(err, "cannot read random bytes")
		}
	}
	return nil
}

// New returns a new buffer of the given size filled with random bytes.
func New(size int) ([]byte, error) {
	buf := make([]byte, size)
	if err := Fill(buf); err != nil {
		return nil, err
	}
	return buf, nil
}
