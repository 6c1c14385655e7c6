package wal

import (
	"bytes"
	"fmt"
	"io"
	"testing"

	"github.com/cockroachdb/errors"
)

func TestWriteReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	records := [][]byte{
		[]byte("first"),
		[]byte(""),
		bytes.Repeat([]byte{0x42}, 100000),
		[]byte("last"),
	}
	for _, rec := range records {
		if err := w.AddRecord(rec); err != nil {
			t.Fatalf("AddRecord: %v", err)
		}
	}

	r := NewReader(bytes.NewReader(buf.Bytes()))
	for i, want := range records {
		got, err := r.ReadRecord()
		if err != nil {
			t.Fatalf("ReadRecord %d: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("record %d mismatch: %d bytes vs %d", i, len(got), len(want))
		}
	}
	if _, err := r.ReadRecord(); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}

// A torn tail must end replay cleanly, keeping every record before it.
func TestTornTailTolerated(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	for i := range 10 {
		if err := w.AddRecord([]byte(fmt.Sprintf("record-%02d", i))); err != nil {
			t.Fatalf("AddRecord: %v", err)
		}
	}
	full := buf.Bytes()

	// Truncate at every possible point within the last record.
	lastStart := len(full) - (HeaderSize + len("record-09"))
	for cut := lastStart; cut < len(full); cut++ {
		r := NewReader(bytes.NewReader(full[:cut]))
		count := 0
		for {
			_, err := r.ReadRecord()
			if err == io.EOF {
				break
			}
			if err != nil {
				t.Fatalf("cut %d: unexpected error %v", cut, err)
			}
			count++
		}
		if count != 9 {
			t.Fatalf("cut %d: recovered %d records, want 9", cut, count)
		}
	}
}

func TestCorruptPayloadTolerated(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	_ = w.AddRecord([]byte("good"))
	_ = w.AddRecord([]byte("about-to-be-corrupted"))

	data := buf.Bytes()
	data[len(data)-1] ^= 0xff

	r := NewReader(bytes.NewReader(data))
	if _, err := r.ReadRecord(); err != nil {
		t.Fatalf("first record: %v", err)
	}
	// Corruption terminates replay as end-of-log.
	if _, err := r.ReadRecord(); err != io.EOF {
		t.Fatalf("expected EOF at corrupt record, got %v", err)
	}
}

func TestStrictReaderFailsOnCorruption(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	_ = w.AddRecord([]byte("record"))

	data := buf.Bytes()
	data[len(data)-1] ^= 0xff

	r := NewStrictReader(bytes.NewReader(data))
	if _, err := r.ReadRecord(); !errors.Is(err, ErrCorruptRecord) {
		t.Fatalf("expected ErrCorruptRecord, got %v", err)
	}
}

func TestStrictReaderFailsOnTruncation(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	_ = w.AddRecord([]byte("record-payload"))

	data := buf.Bytes()[:buf.Len()-3]
	r := NewStrictReader(bytes.NewReader(data))
	if _, err := r.ReadRecord(); !errors.Is(err, ErrTruncatedRecord) {
		t.Fatalf("expected ErrTruncatedRecord, got %v", err)
	}
}

func TestReaderOffset(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	_ = w.AddRecord([]byte("12345"))

	r := NewReader(bytes.NewReader(buf.Bytes()))
	if _, err := r.ReadRecord(); err != nil {
		t.Fatalf("ReadRecord: %v", err)
	}
	if got := r.Offset(); got != int64(HeaderSize+5) {
		t.Errorf("Offset = %d, want %d", got, HeaderSize+5)
	}
	if got := w.Offset(); got != int64(HeaderSize+5) {
		t.Errorf("writer Offset = %d, want %d", got, HeaderSize+5)
	}
}
