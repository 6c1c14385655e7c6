package memtable

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/willzeng274/MidDB/internal/dbformat"
)

func TestMemTableGetBasic(t *testing.T) {
	mt := New(1)
	mt.Add(10, dbformat.KindPut, []byte("a"), []byte("one"))
	mt.Add(11, dbformat.KindPut, []byte("b"), []byte("two"))

	value, res := mt.Get([]byte("a"), 100)
	if res != Found || string(value) != "one" {
		t.Fatalf("Get(a) = (%q, %v)", value, res)
	}
	if _, res := mt.Get([]byte("missing"), 100); res != NotFound {
		t.Fatalf("Get(missing) = %v", res)
	}
}

func TestMemTableVersionVisibility(t *testing.T) {
	mt := New(1)
	mt.Add(10, dbformat.KindPut, []byte("k"), []byte("v10"))
	mt.Add(20, dbformat.KindPut, []byte("k"), []byte("v20"))
	mt.Add(30, dbformat.KindDelete, []byte("k"), nil)

	tests := []struct {
		at    dbformat.SequenceNumber
		res   GetResult
		value string
	}{
		{at: 5, res: NotFound},
		{at: 10, res: Found, value: "v10"},
		{at: 19, res: Found, value: "v10"},
		{at: 20, res: Found, value: "v20"},
		{at: 29, res: Found, value: "v20"},
		{at: 30, res: Deleted},
		{at: 100, res: Deleted},
	}
	for _, tc := range tests {
		value, res := mt.Get([]byte("k"), tc.at)
		if res != tc.res {
			t.Errorf("at %d: result = %v, want %v", tc.at, res, tc.res)
			continue
		}
		if res == Found && string(value) != tc.value {
			t.Errorf("at %d: value = %q, want %q", tc.at, value, tc.value)
		}
	}
}

func TestMemTableIteratorOrder(t *testing.T) {
	mt := New(1)
	// Insert out of order.
	mt.Add(3, dbformat.KindPut, []byte("c"), []byte("3"))
	mt.Add(1, dbformat.KindPut, []byte("a"), []byte("1"))
	mt.Add(2, dbformat.KindPut, []byte("b"), []byte("2"))
	mt.Add(4, dbformat.KindPut, []byte("a"), []byte("1b"))

	it := mt.NewIterator()
	var got []string
	for it.SeekToFirst(); it.Valid(); it.Next() {
		parsed, err := dbformat.ParseInternalKey(it.Key())
		if err != nil {
			t.Fatalf("bad key: %v", err)
		}
		got = append(got, fmt.Sprintf("%s@%d", parsed.UserKey, parsed.Sequence))
	}
	// Same user key: newest sequence first.
	want := []string{"a@4", "a@1", "b@2", "c@3"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestMemTableIteratorSeek(t *testing.T) {
	mt := New(1)
	for i := range 100 {
		mt.Add(dbformat.SequenceNumber(i+1), dbformat.KindPut,
			[]byte(fmt.Sprintf("key-%03d", i)), []byte("v"))
	}

	it := mt.NewIterator()
	it.Seek(dbformat.MakeInternalKey([]byte("key-050"), dbformat.MaxSequenceNumber, dbformat.KindForSeek))
	if !it.Valid() {
		t.Fatal("seek landed invalid")
	}
	if user := dbformat.UserKey(it.Key()); !bytes.Equal(user, []byte("key-050")) {
		t.Fatalf("seek landed on %q", user)
	}
}

func TestMemTableApproximateSize(t *testing.T) {
	mt := New(1)
	if mt.ApproximateMemoryUsage() != 0 {
		t.Fatal("fresh memtable has nonzero size")
	}
	mt.Add(1, dbformat.KindPut, []byte("key"), bytes.Repeat([]byte{1}, 1000))
	if mt.ApproximateMemoryUsage() < 1000 {
		t.Errorf("size %d below payload size", mt.ApproximateMemoryUsage())
	}
}

// Readers run concurrently with a single writer; they must only ever see
// fully linked entries.
func TestMemTableConcurrentReaders(t *testing.T) {
	mt := New(1)
	const n = 5000

	var writerMu sync.Mutex
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range n {
			writerMu.Lock()
			mt.Add(dbformat.SequenceNumber(i+1), dbformat.KindPut,
				[]byte(fmt.Sprintf("key-%06d", i)), []byte(fmt.Sprintf("value-%06d", i)))
			writerMu.Unlock()
		}
	}()

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				it := mt.NewIterator()
				prev := []byte(nil)
				for it.SeekToFirst(); it.Valid(); it.Next() {
					key := append([]byte(nil), it.Key()...)
					if prev != nil && dbformat.CompareInternalKeys(prev, key) >= 0 {
						t.Error("iterator observed out-of-order keys")
						return
					}
					prev = key
				}
			}
		}()
	}
	wg.Wait()
	<-done

	for i := range n {
		key := []byte(fmt.Sprintf("key-%06d", i))
		value, res := mt.Get(key, dbformat.MaxSequenceNumber)
		if res != Found || string(value) != fmt.Sprintf("value-%06d", i) {
			t.Fatalf("Get(%q) = (%q, %v)", key, value, res)
		}
	}
}

func TestMemTableRefCounting(t *testing.T) {
	mt := New(7)
	if mt.LogNumber() != 7 {
		t.Fatalf("LogNumber = %d", mt.LogNumber())
	}
	mt.Ref()
	if mt.Unref() {
		t.Error("Unref reported dead with a reference outstanding")
	}
	if !mt.Unref() {
		t.Error("final Unref did not report dead")
	}
}
