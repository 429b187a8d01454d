//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly

package keylock

import (
	"time"

	"golang.org/x/sys/unix"
)

// defaultWakeup is the periodic readiness-wait wakeup, kept as a coarse
// health tick even though it serves no functional purpose of its own.
const defaultWakeup = 60 * time.Second

// Reactor is a single-threaded, cooperative readiness loop built
// directly on poll(2): non-blocking, EAGAIN-driven reads and writes
// dispatched into connection state-machine transitions rather than a
// generic async-IO completion queue.
type Reactor struct {
	table    *Table
	proto    *Protocol
	sink     Sink
	listener *Listener
	wakeup   time.Duration

	// OnIteration, when set, is called at the end of every loop pass
	// that had ready descriptors (not after a bare periodic wakeup),
	// from the reactor's own goroutine — never concurrently with a
	// transition —
	// so callers may safely read table occupancy (e.g. for metrics)
	// without any locking of their own.
	OnIteration func(Snapshot)

	stopR, stopW int
}

// NewReactor builds a reactor over listener, dispatching readable slots
// to proto and connection lifecycle events to sink.
func NewReactor(table *Table, proto *Protocol, sink Sink, listener *Listener) (*Reactor, error) {
	fds, err := selfPipe()
	if err != nil {
		return nil, err
	}
	return &Reactor{
		table:    table,
		proto:    proto,
		sink:     sink,
		listener: listener,
		wakeup:   defaultWakeup,
		stopR:    fds[0],
		stopW:    fds[1],
	}, nil
}

func selfPipe() ([2]int, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return fds, err
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return fds, err
	}
	if err := unix.SetNonblock(fds[1], true); err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return fds, err
	}
	return fds, nil
}

// Stop asks the reactor's Run loop to return at the next iteration.
// This is not a graceful drain: any in-flight owner/waiter state is
// simply abandoned.
func (r *Reactor) Stop() {
	_, _ = unix.Write(r.stopW, []byte{0})
}

// Run drives the event loop until Stop is called or an unrecoverable
// poll error occurs. It never issues a blocking syscall other than the
// readiness wait itself.
func (r *Reactor) Run() error {
	defer unix.Close(r.stopR)
	defer unix.Close(r.stopW)

	var pollfds []unix.PollFd
	for {
		active := r.table.ActiveIndices()
		pollfds = pollfds[:0]
		pollfds = append(pollfds, unix.PollFd{Fd: int32(r.stopR), Events: unix.POLLIN})

		listenerPos := -1
		if !r.table.Full() {
			pollfds = append(pollfds, unix.PollFd{Fd: int32(r.listener.FD), Events: unix.POLLIN})
			listenerPos = len(pollfds) - 1
		}

		base := len(pollfds)
		for _, idx := range active {
			pollfds = append(pollfds, unix.PollFd{Fd: int32(r.table.Get(idx).FD()), Events: unix.POLLIN})
		}

		n, err := unix.Poll(pollfds, int(r.wakeup/time.Millisecond))
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}
		if n == 0 {
			// periodic wakeup, nothing ready: re-enter the loop.
			continue
		}

		if pollfds[0].Revents&unix.POLLIN != 0 {
			return nil
		}

		if listenerPos >= 0 && pollfds[listenerPos].Revents&unix.POLLIN != 0 {
			r.acceptAll()
		}

		for i, idx := range active {
			ev := pollfds[base+i].Revents
			if ev&(unix.POLLIN|unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
				r.proto.Readable(idx)
			}
		}

		if r.OnIteration != nil {
			r.OnIteration(r.snapshot())
		}
	}
}

func (r *Reactor) snapshot() Snapshot {
	active := r.table.ActiveIndices()
	s := Snapshot{Active: len(active)}
	for _, idx := range active {
		switch r.table.Get(idx).State() {
		case Owner:
			s.Owners++
		case Waiter:
			s.Waiters++
		}
	}
	return s
}

// acceptAll drains the listener: accept until accept would block or
// the table is full, configuring every accepted connection for
// non-blocking I/O and disabling Nagle-style coalescing on TCP
// transports.
func (r *Reactor) acceptAll() {
	for {
		if r.table.Full() {
			return
		}
		fd, _, err := unix.Accept(r.listener.FD)
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			if err == unix.EINTR || err == unix.ECONNABORTED {
				continue
			}
			// Transient accept failure: ignored, loop continues.
			return
		}
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(fd)
			continue
		}

		if r.listener.TCP {
			_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
		}

		idx, err := r.table.Allocate(fd)
		if err != nil {
			// Full() was checked above, so this only happens if the
			// table's bookkeeping is inconsistent. Reject the
			// connection outright.
			unix.Close(fd)
			return
		}
		r.sink.Event(idx, EventConnected, nil)
	}
}
