//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly

package keylock

import "testing"

func TestTableAllocateLowestFreeSlot(t *testing.T) {
	tb := NewTable(3)

	a, err := tb.Allocate(1010)
	if err != nil || a != 0 {
		t.Fatalf("first allocate = (%d, %v), want (0, nil)", a, err)
	}
	b, err := tb.Allocate(1011)
	if err != nil || b != 1 {
		t.Fatalf("second allocate = (%d, %v), want (1, nil)", b, err)
	}

	tb.Free(a)
	c, err := tb.Allocate(1012)
	if err != nil || c != 0 {
		t.Fatalf("allocate after free = (%d, %v), want (0, nil)", c, err)
	}
}

func TestTableFullRejectsAllocate(t *testing.T) {
	tb := NewTable(2)
	if _, err := tb.Allocate(1001); err != nil {
		t.Fatal(err)
	}
	if _, err := tb.Allocate(1002); err != nil {
		t.Fatal(err)
	}
	if !tb.Full() {
		t.Fatal("table should report full at capacity")
	}
	if _, err := tb.Allocate(1003); err != ErrTableFull {
		t.Fatalf("allocate on full table = %v, want ErrTableFull", err)
	}
}

func TestTableLengthCompactsOnTailFree(t *testing.T) {
	tb := NewTable(4)
	tb.Allocate(1001)
	tb.Allocate(1002)
	tb.Allocate(1003)
	if tb.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", tb.Len())
	}

	tb.Free(1) // middle slot: high-water mark unaffected
	if tb.Len() != 3 {
		t.Fatalf("Len() after middle free = %d, want 3", tb.Len())
	}

	tb.Free(2) // tail freed: the highest remaining occupied slot is 0
	if tb.Len() != 1 {
		t.Fatalf("Len() after freeing down to slot 0 = %d, want 1", tb.Len())
	}
}

func TestAdvanceKeyReadAccumulatesAcrossReads(t *testing.T) {
	tb := NewTable(1)
	idx, _ := tb.Allocate(1001)

	if full := tb.AdvanceKeyRead(idx, []byte{1, 2, 3}); full {
		t.Fatal("3 bytes should not complete a 16-byte key")
	}
	if tb.Get(idx).keyOffset != 3 {
		t.Fatalf("keyOffset = %d, want 3", tb.Get(idx).keyOffset)
	}

	rest := make([]byte, 13)
	for i := range rest {
		rest[i] = byte(i + 4)
	}
	if full := tb.AdvanceKeyRead(idx, rest); !full {
		t.Fatal("16 total bytes should complete the key")
	}

	want := Key{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	if got := tb.Get(idx).Key(); got != want {
		t.Fatalf("key = %v, want %v", got, want)
	}
}

func TestResetToKeyReadClearsResidualState(t *testing.T) {
	tb := NewTable(1)
	idx, _ := tb.Allocate(1001)
	tb.AdvanceKeyRead(idx, make([]byte, KeySize))
	tb.SetOwner(idx)

	tb.ResetToKeyRead(idx)

	s := tb.Get(idx)
	if s.State() != KeyRead {
		t.Fatalf("state after reset = %v, want KeyRead", s.State())
	}
	if s.keyOffset != 0 || s.Key() != (Key{}) {
		t.Fatal("reset must clear offset and key bytes")
	}
}
