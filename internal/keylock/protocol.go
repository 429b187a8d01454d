//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly

package keylock

import (
	"golang.org/x/sys/unix"
)

// Protocol handles the wire protocol. It owns no I/O loop of its own —
// the reactor calls Readable whenever a slot's descriptor is reported
// readable — but it is the sole place that interprets bytes, decides
// transitions, and talks to the election registry.
type Protocol struct {
	table *Table
	reg   *Registry
	sink  Sink
}

// NewProtocol builds a protocol handler bound to the given table,
// registry and logging sink.
func NewProtocol(table *Table, reg *Registry, sink Sink) *Protocol {
	return &Protocol{table: table, reg: reg, sink: sink}
}

// readOnce issues exactly one non-blocking read attempt. EAGAIN is
// reported back as ok=false with no error — a spurious wakeup, not a
// failure.
func readOnce(fd int, buf []byte) (n int, ok bool, err error) {
	for {
		n, err = unix.Read(fd, buf)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return 0, false, nil
		}
		return n, true, err
	}
}

// writeOnce issues exactly one write attempt without re-checking
// writability first; a failed or short write is treated as a
// disconnect.
func writeOnce(fd int, b byte) bool {
	for {
		n, err := unix.Write(fd, []byte{b})
		if err == unix.EINTR {
			continue
		}
		return err == nil && n == 1
	}
}

// Readable dispatches a single readiness indication for slot idx,
// branching on the slot's current state.
func (p *Protocol) Readable(idx int) {
	slot := p.table.Get(idx)
	switch slot.state {
	case KeyRead:
		p.onKeyRead(idx, slot)
	case Owner:
		p.onOwnerReadable(idx, slot)
	case Waiter:
		p.onWaiterReadable(idx)
	case Free:
		// Stale readiness for a slot freed earlier this same poll
		// batch; nothing to do.
	}
}

func (p *Protocol) onKeyRead(idx int, slot *Slot) {
	want := KeySize - slot.keyOffset
	buf := make([]byte, want)
	n, ok, err := readOnce(slot.fd, buf)
	if !ok {
		return // EAGAIN: spurious wakeup, nothing changed
	}
	if n == 0 || err != nil {
		p.table.Free(idx)
		p.sink.Event(idx, EventClosed, nil)
		return
	}

	full := p.table.AdvanceKeyRead(idx, buf[:n])
	if !full {
		return
	}

	key := p.table.Get(idx).Key()
	if _, exists := p.reg.OwnerExists(key); exists {
		p.table.SetWaiter(idx)
		p.reg.AddWaiter(key, idx)
		p.sink.Event(idx, EventNotOwner, &key)
		return
	}

	if !writeOnce(slot.fd, 'O') {
		p.table.Free(idx)
		p.sink.Event(idx, EventClosed, nil)
		return
	}
	p.table.SetOwner(idx)
	p.reg.SetOwner(key, idx)
	p.sink.Event(idx, EventOwner, &key)
}

func (p *Protocol) onOwnerReadable(idx int, slot *Slot) {
	key := slot.Key()
	var b [1]byte
	n, ok, err := readOnce(slot.fd, b[:])
	if !ok {
		return // EAGAIN: spurious wakeup
	}

	// Any owner termination — explicit 'R', a protocol violation, or
	// EOF — releases the key and notifies waiters.
	validRelease := err == nil && n == 1 && b[0] == 'R'

	p.reg.ClearOwner(key)
	p.sink.Event(idx, EventRelease, &key)
	p.notifyWaiters(key)

	if validRelease {
		p.table.ResetToKeyRead(idx)
		return
	}

	p.table.Free(idx)
	p.sink.Event(idx, EventClosed, nil)
}

func (p *Protocol) onWaiterReadable(idx int) {
	// Any readable event on a waiter is a disconnect: waiters never
	// speak on the wire.
	key := p.table.Get(idx).Key()
	p.reg.RemoveWaiter(key, idx)
	p.table.Free(idx)
	p.sink.Event(idx, EventClosed, nil)
}

// notifyWaiters writes the one-byte release notification to every slot
// currently waiting on key. A failed or short write frees that slot
// instead of notifying it.
func (p *Protocol) notifyWaiters(key Key) {
	for _, idx := range p.reg.WaitersOf(key) {
		slot := p.table.Get(idx)
		if slot.State() != Waiter {
			continue
		}
		if writeOnce(slot.fd, 'R') {
			p.table.ResetToKeyRead(idx)
			p.sink.Event(idx, EventNotify, &key)
		} else {
			p.table.Free(idx)
			p.sink.Event(idx, EventClosed, nil)
		}
	}
	p.reg.ClearWaiters(key)
}
