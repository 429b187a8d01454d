//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly

package keylock

import (
	"fmt"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// Listener is a bound, listening, non-blocking raw descriptor ready to
// be handed to the reactor, plus enough metadata for the reactor to
// configure accepted connections correctly.
type Listener struct {
	FD    int
	TCP   bool
	path  string // non-empty for Unix sockets, used for cleanup on Close
}

// Close releases the listening descriptor and, for Unix sockets, removes
// the socket file.
func (l *Listener) Close() error {
	err := unix.Close(l.FD)
	if l.path != "" {
		_ = os.Remove(l.path)
	}
	return err
}

// NewListener builds the listening endpoint described by endpoint: a
// value that parses as a decimal uint16 is a TCP port, otherwise it is
// a Unix socket path.
func NewListener(endpoint string, forceUnlink bool) (*Listener, error) {
	if port, err := strconv.ParseUint(endpoint, 10, 16); err == nil {
		return newTCPListener(uint16(port))
	}
	return newUnixListener(endpoint, forceUnlink)
}

func newTCPListener(port uint16) (*Listener, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("keylock: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("keylock: setsockopt SO_REUSEADDR: %w", err)
	}
	sa := &unix.SockaddrInet4{Port: int(port)}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("keylock: bind :%d: %w", port, err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("keylock: listen :%d: %w", port, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("keylock: set non-blocking: %w", err)
	}
	return &Listener{FD: fd, TCP: true}, nil
}

func newUnixListener(path string, forceUnlink bool) (*Listener, error) {
	if forceUnlink {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("keylock: unlink stale socket %s: %w", path, err)
		}
	}
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("keylock: socket: %w", err)
	}
	sa := &unix.SockaddrUnix{Name: path}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("keylock: bind %s: %w", path, err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("keylock: listen %s: %w", path, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("keylock: set non-blocking: %w", err)
	}
	return &Listener{FD: fd, TCP: false, path: path}, nil
}
