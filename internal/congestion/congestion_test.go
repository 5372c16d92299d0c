package congestion

import (
	"net"
	"runtime"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialLoopback(t *testing.T) net.Conn {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			c = nil
		}
		accepted <- c
	}()
	c, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	if s := <-accepted; s != nil {
		t.Cleanup(func() { s.Close() })
	}
	return c
}

func TestSet(t *testing.T) {
	c := dialLoopback(t)
	// reno is built into every Linux kernel.
	err := Set(c, "reno")
	if runtime.GOOS == "linux" {
		assert.NoError(t, err)
	} else {
		assert.True(t, errors.Is(err, ErrNoSupport))
	}
}

func TestSet_Errors(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	assert.Error(t, Set(a, "reno"))

	if runtime.GOOS != "linux" {
		return
	}
	c := dialLoopback(t)
	assert.Error(t, Set(c, "no-such-algorithm"))
}
