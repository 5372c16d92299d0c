package payload

import (
	"bytes"
	"crypto/rand"
	"io"
	"testing"
	"testing/iotest"

	"github.com/robertodauria/speedcheck/pkg/speedtest/spec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFill(t *testing.T) {
	for _, size := range []int{0, 1, spec.RandomFillLimit - 1, spec.RandomFillLimit, 3*spec.RandomFillLimit + 17, 2 * spec.MiB} {
		buf := make([]byte, size)
		require.NoError(t, Fill(buf))
		if size < 1024 {
			continue
		}
		// Every slice must have been filled: a zero-filled 1 KiB tail is
		// vanishingly unlikely with random data.
		tail := buf[size-1024:]
		assert.False(t, bytes.Equal(tail, make([]byte, 1024)), "size=%d", size)
	}
}

// countingReader records the size of every read.
type countingReader struct {
	r     io.Reader
	sizes []int
}

func (c *countingReader) Read(p []byte) (int, error) {
	c.sizes = append(c.sizes, len(p))
	return c.r.Read(p)
}

func TestFill_Slices(t *testing.T) {
	defer func(r io.Reader) { randReader = r }(randReader)

	for _, size := range []int{1, spec.RandomFillLimit, spec.RandomFillLimit + 1, 3*spec.RandomFillLimit + 17, 2 * spec.MiB} {
		cr := &countingReader{r: rand.Reader}
		randReader = cr
		require.NoError(t, Fill(make([]byte, size)))

		want := (size + spec.RandomFillLimit - 1) / spec.RandomFillLimit
		assert.Len(t, cr.sizes, want, "size=%d", size)
		total := 0
		for _, n := range cr.sizes {
			assert.LessOrEqual(t, n, spec.RandomFillLimit, "size=%d", size)
			total += n
		}
		assert.Equal(t, size, total)
	}
}

func TestFill_Error(t *testing.T) {
	defer func(r io.Reader) { randReader = r }(randReader)
	randReader = iotest.ErrReader(io.ErrUnexpectedEOF)
	assert.Error(t, Fill(make([]byte, 10)))
}

func TestNew(t *testing.T) {
	a, err := New(spec.MiB)
	require.NoError(t, err)
	b, err := New(spec.MiB)
	require.NoError(t, err)
	assert.Len(t, a, spec.MiB)
	assert.NotEqual(t, a, b)
}
