package checksum

import "testing"

func TestValueKnown(t *testing.T) {
	// CRC32C of "123456789" is the standard check value.
	if got := Value([]byte("123456789")); got != 0xe3069283 {
		t.Errorf("Value = %#x, want 0xe3069283", got)
	}
}

func TestExtend(t *testing.T) {
	whole := Value([]byte("hello world"))
	split := Extend(Value([]byte("hello ")), []byte("world"))
	if whole != split {
		t.Errorf("Extend mismatch: %#x vs %#x", whole, split)
	}
}

func TestMaskRoundTrip(t *testing.T) {
	for _, crc := range []uint32{0, 1, 0xdeadbeef, ^uint32(0)} {
		masked := Mask(crc)
		if masked == crc {
			t.Errorf("Mask(%#x) did not change the value", crc)
		}
		if got := Unmask(masked); got != crc {
			t.Errorf("Unmask(Mask(%#x)) = %#x", crc, got)
		}
	}
}

func TestValueDiffers(t *testing.T) {
	if Value([]byte("a")) == Value([]byte("b")) {
		t.Error("distinct inputs produced equal checksums")
	}
}
