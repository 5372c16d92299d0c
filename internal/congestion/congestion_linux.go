package congestion

import "syscall"

func set(fd uintptr, cc string) error {
	// Fd is an uintptr but on Unix we can safely use int for sockets.
	return syscall.SetsockoptString(int(fd), syscall.IPPROTO_TCP, syscall.TCP_CONGESTION, cc)
}
