package encoding

import (
	"bytes"
	"testing"
)

func TestFixedRoundTrip(t *testing.T) {
	buf := make([]byte, 8)

	EncodeFixed32(buf, 0xdeadbeef)
	if got := DecodeFixed32(buf); got != 0xdeadbeef {
		t.Errorf("DecodeFixed32 = %#x, want 0xdeadbeef", got)
	}

	EncodeFixed64(buf, 0x0123456789abcdef)
	if got := DecodeFixed64(buf); got != 0x0123456789abcdef {
		t.Errorf("DecodeFixed64 = %#x, want 0x0123456789abcdef", got)
	}

	// Little-endian byte order is part of the on-disk format.
	EncodeFixed32(buf, 0x04030201)
	if !bytes.Equal(buf[:4], []byte{1, 2, 3, 4}) {
		t.Errorf("EncodeFixed32 byte order = %v", buf[:4])
	}
}

func TestVarint32RoundTrip(t *testing.T) {
	values := []uint32{0, 1, 127, 128, 16383, 16384, 1<<28 - 1, 1 << 28, ^uint32(0)}
	for _, v := range values {
		encoded := AppendVarint32(nil, v)
		got, n, err := DecodeVarint32(encoded)
		if err != nil {
			t.Fatalf("DecodeVarint32(%d): %v", v, err)
		}
		if got != v || n != len(encoded) {
			t.Errorf("DecodeVarint32(%d) = (%d, %d), want (%d, %d)", v, got, n, v, len(encoded))
		}
	}
}

func TestVarint64RoundTrip(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 1<<35 - 1, 1 << 35, 1<<56 - 1, ^uint64(0)}
	for _, v := range values {
		encoded := AppendVarint64(nil, v)
		got, n, err := DecodeVarint64(encoded)
		if err != nil {
			t.Fatalf("DecodeVarint64(%d): %v", v, err)
		}
		if got != v || n != len(encoded) {
			t.Errorf("DecodeVarint64(%d) = (%d, %d), want (%d, %d)", v, got, n, v, len(encoded))
		}
		if n != VarintLength(v) {
			t.Errorf("VarintLength(%d) = %d, encoded %d bytes", v, VarintLength(v), n)
		}
	}
}

func TestVarintTruncated(t *testing.T) {
	encoded := AppendVarint64(nil, 1<<40)
	for cut := 0; cut < len(encoded); cut++ {
		if _, _, err := DecodeVarint64(encoded[:cut]); err == nil {
			t.Errorf("DecodeVarint64 of %d/%d bytes succeeded", cut, len(encoded))
		}
	}
}

func TestVarint32Overflow(t *testing.T) {
	// Five continuation bytes exceed 32 bits of payload.
	data := []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0x01}
	if _, _, err := DecodeVarint32(data); err == nil {
		t.Error("DecodeVarint32 accepted an overflowing encoding")
	}
}

func TestLengthPrefixedSlice(t *testing.T) {
	var buf []byte
	buf = AppendLengthPrefixedSlice(buf, []byte("hello"))
	buf = AppendLengthPrefixedSlice(buf, nil)
	buf = AppendLengthPrefixedSlice(buf, bytes.Repeat([]byte{0xAB}, 300))

	want := [][]byte{[]byte("hello"), {}, bytes.Repeat([]byte{0xAB}, 300)}
	for i, w := range want {
		got, n, err := DecodeLengthPrefixedSlice(buf)
		if err != nil {
			t.Fatalf("slice %d: %v", i, err)
		}
		if !bytes.Equal(got, w) {
			t.Errorf("slice %d = %q, want %q", i, got, w)
		}
		buf = buf[n:]
	}
	if len(buf) != 0 {
		t.Errorf("%d trailing bytes", len(buf))
	}
}

func TestLengthPrefixedSliceTruncated(t *testing.T) {
	buf := AppendLengthPrefixedSlice(nil, []byte("payload"))
	if _, _, err := DecodeLengthPrefixedSlice(buf[:3]); err == nil {
		t.Error("decode of truncated slice succeeded")
	}
}
