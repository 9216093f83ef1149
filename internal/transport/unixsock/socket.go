// Package unixsock is a thin wrapper over a Unix-domain stream socket. It
// exposes exactly the operations the function runtimes need: dial, listen,
// accept, poll for readiness with a timeout, full writes, and a read that
// accumulates until end of message.
//
// Messages have no length prefix. The peer signals end of message by closing
// its write half or simply ceasing to write; ReadAll treats the first short
// chunk as the boundary.
package unixsock

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// ReadChunkSize is the fixed read size used by ReadAll. A read returning
// fewer bytes than this ends the message.
const ReadChunkSize = 128

// ErrPollTimeout is returned when a socket does not become ready within the
// poll timeout. Timing out counts as a request failure, never as a retry.
var ErrPollTimeout = errors.New("unixsock: poll timed out")

// Conn is a connected Unix-domain stream socket.
type Conn struct {
	fd     int
	closed bool
}

// Dial creates a stream socket and connects it to the named path.
func Dial(path string) (*Conn, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("unixsock: create socket: %w", err)
	}
	addr := &unix.SockaddrUnix{Name: path}
	if err := unix.Connect(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("unixsock: connect %s: %w", path, err)
	}
	return &Conn{fd: fd}, nil
}

// PollWrite blocks until the socket is writable or the timeout elapses.
func (c *Conn) PollWrite(timeout time.Duration) error {
	return c.poll(unix.POLLOUT, timeout)
}

// PollRead blocks until the socket is readable or the timeout elapses.
func (c *Conn) PollRead(timeout time.Duration) error {
	return c.poll(unix.POLLIN, timeout)
}

func (c *Conn) poll(events int16, timeout time.Duration) error {
	fds := []unix.PollFd{{Fd: int32(c.fd), Events: events}}
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		n, err := unix.Poll(fds, int(remaining.Milliseconds()))
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return fmt.Errorf("unixsock: poll: %w", err)
		}
		if n == 0 {
			return ErrPollTimeout
		}
		return nil
	}
}

// Write writes all of buf. A short write is retried until the buffer is
// drained or the kernel reports an error, so callers never see silent
// truncation.
func (c *Conn) Write(buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := unix.Write(c.fd, buf[total:])
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return total, fmt.Errorf("unixsock: write: %w", err)
		}
		total += n
	}
	return total, nil
}

// ReadAll reads the socket in ReadChunkSize chunks into a growing buffer and
// returns once a chunk comes back short, which marks the end of the message.
func (c *Conn) ReadAll() ([]byte, error) {
	var out []byte
	chunk := make([]byte, ReadChunkSize)
	for {
		n, err := unix.Read(c.fd, chunk)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return out, fmt.Errorf("unixsock: read: %w", err)
		}
		out = append(out, chunk[:n]...)
		if n < ReadChunkSize {
			return out, nil
		}
	}
}

// Close closes the socket. Closing an already-closed Conn is a no-op.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if err := unix.Close(c.fd); err != nil {
		return fmt.Errorf("unixsock: close: %w", err)
	}
	return nil
}

// Listener is a Unix-domain stream socket bound to a path and listening.
type Listener struct {
	fd     int
	path   string
	closed bool
}

// Listen creates a socket, binds it to path and starts listening with the
// given backlog.
func Listen(path string, backlog int) (*Listener, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("unixsock: create socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("unixsock: bind %s: %w", path, err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("unixsock: listen %s: %w", path, err)
	}
	return &Listener{fd: fd, path: path}, nil
}

// Accept blocks until a client connects and returns the new connection.
func (l *Listener) Accept() (*Conn, error) {
	for {
		fd, _, err := unix.Accept(l.fd)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("unixsock: accept: %w", err)
		}
		return &Conn{fd: fd}, nil
	}
}

// Path returns the filesystem path the listener is bound to.
func (l *Listener) Path() string {
	return l.path
}

// Close closes the listening socket. Idempotent. The socket file is left on
// disk; owners remove it together with its directory.
func (l *Listener) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	if err := unix.Close(l.fd); err != nil {
		return fmt.Errorf("unixsock: close: %w", err)
	}
	return nil
}
