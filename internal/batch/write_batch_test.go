package batch

import (
	"bytes"
	"testing"

	"github.com/willzeng274/MidDB/internal/dbformat"
)

type op struct {
	kind  dbformat.Kind
	key   string
	value string
}

type collectingHandler struct {
	ops []op
}

func (h *collectingHandler) Put(key, value []byte) error {
	h.ops = append(h.ops, op{dbformat.KindPut, string(key), string(value)})
	return nil
}

func (h *collectingHandler) Delete(key []byte) error {
	h.ops = append(h.ops, op{dbformat.KindDelete, string(key), ""})
	return nil
}

func TestBatchBasics(t *testing.T) {
	wb := New()
	if wb.Count() != 0 {
		t.Fatalf("new batch count = %d", wb.Count())
	}

	wb.Put([]byte("a"), []byte("1"))
	wb.Delete([]byte("b"))
	wb.Put([]byte("c"), nil)
	if wb.Count() != 3 {
		t.Fatalf("count = %d, want 3", wb.Count())
	}

	wb.SetSequence(77)
	if wb.Sequence() != 77 {
		t.Fatalf("sequence = %d", wb.Sequence())
	}

	var h collectingHandler
	if err := wb.Iterate(&h); err != nil {
		t.Fatalf("Iterate: %v", err)
	}
	want := []op{
		{dbformat.KindPut, "a", "1"},
		{dbformat.KindDelete, "b", ""},
		{dbformat.KindPut, "c", ""},
	}
	if len(h.ops) != len(want) {
		t.Fatalf("ops = %v", h.ops)
	}
	for i := range want {
		if h.ops[i] != want[i] {
			t.Errorf("op %d = %+v, want %+v", i, h.ops[i], want[i])
		}
	}
}

func TestBatchLoadRoundTrip(t *testing.T) {
	wb := New()
	wb.SetSequence(5)
	wb.Put([]byte("key"), []byte("value"))
	wb.Delete([]byte("gone"))

	loaded, err := Load(append([]byte(nil), wb.Contents()...))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Sequence() != 5 || loaded.Count() != 2 {
		t.Fatalf("loaded seq=%d count=%d", loaded.Sequence(), loaded.Count())
	}
	if !bytes.Equal(loaded.Contents(), wb.Contents()) {
		t.Error("contents differ after load")
	}
}

func TestBatchLoadCorrupt(t *testing.T) {
	if _, err := Load([]byte("short")); err == nil {
		t.Error("Load accepted an undersized batch")
	}

	wb := New()
	wb.Put([]byte("key"), []byte("value"))
	rep := append([]byte(nil), wb.Contents()...)

	// Truncated entry.
	if _, err := Load(rep[:len(rep)-2]); err == nil {
		t.Error("Load accepted a truncated batch")
	}

	// Bad kind byte.
	bad := append([]byte(nil), rep...)
	bad[12] = 0x9
	if _, err := Load(bad); err == nil {
		t.Error("Load accepted an unknown kind")
	}

	// Count mismatch.
	mismatch := append([]byte(nil), rep...)
	mismatch[8] = 7
	if _, err := Load(mismatch); err == nil {
		t.Error("Load accepted a count mismatch")
	}
}

func TestBatchClear(t *testing.T) {
	wb := New()
	wb.SetSequence(9)
	wb.Put([]byte("a"), []byte("1"))
	wb.Clear()

	if wb.Count() != 0 || wb.Sequence() != 0 {
		t.Fatalf("after Clear: count=%d seq=%d", wb.Count(), wb.Sequence())
	}
	var h collectingHandler
	if err := wb.Iterate(&h); err != nil {
		t.Fatalf("Iterate after Clear: %v", err)
	}
	if len(h.ops) != 0 {
		t.Fatalf("ops after Clear: %v", h.ops)
	}
}
