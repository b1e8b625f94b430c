package crc32c

import "testing"

func TestSumKnownVector(t *testing.T) {
	// "123456789" is the standard CRC catalogue check string. The
	// catalogued CRC32C/Castagnoli check value (0xE3069283) already has the
	// final complement applied; undoing it (XOR 0xFFFFFFFF) gives the raw
	// register value this package's no-final-complement convention produces.
	got := Sum([]byte("123456789"))
	want := uint32(0xE3069283) ^ 0xFFFFFFFF

	if got != want {
		t.Fatalf("Sum(123456789) = %#x, want %#x", got, want)
	}
}

func TestSumEmpty(t *testing.T) {
	if got := Sum(nil); got != 0xFFFFFFFF {
		t.Fatalf("Sum(nil) = %#x, want seed unchanged %#x", got, uint32(0xFFFFFFFF))
	}
}

func TestCrcLinear(t *testing.T) {
	a := []byte("uuid-sixteen-by")
	b := []byte("payload-bytes-here")

	concatenated := append(append([]byte{}, a...), b...)
	whole := Sum(concatenated)

	split := SumSeeded(Sum(a), b)

	if whole != split {
		t.Fatalf("CRC-LINEAR violated: Sum(a+b)=%#x SumSeeded(Sum(a),b)=%#x", whole, split)
	}
}

func TestSumDeterministic(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
	if Sum(data) != Sum(data) {
		t.Fatal("Sum is not deterministic")
	}
}
