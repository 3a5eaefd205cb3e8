package store

import (
	"bytes"
	"testing"
)

func TestVectorCodecRoundTrip(t *testing.T) {
	vector := []float32{0.25, -1.5, 0, 3.14159, 1e-7}

	decoded := DecodeVector(EncodeVector(vector))
	if len(decoded) != len(vector) {
		t.Fatalf("expected %d values, got %d", len(vector), len(decoded))
	}
	for i := range vector {
		if decoded[i] != vector[i] {
			t.Fatalf("value %d changed: %v vs %v", i, vector[i], decoded[i])
		}
	}
}

func TestEncodeVectorIsLittleEndian(t *testing.T) {
	// 1.0 as IEEE-754 float32 is 0x3f800000.
	encoded := EncodeVector([]float32{1.0})
	want := []byte{0x00, 0x00, 0x80, 0x3f}
	if !bytes.Equal(encoded, want) {
		t.Fatalf("expected %x, got %x", want, encoded)
	}
}

func TestDecodeVectorIgnoresTrailingBytes(t *testing.T) {
	encoded := append(EncodeVector([]float32{2.0}), 0xff, 0xff)
	decoded := DecodeVector(encoded)
	if len(decoded) != 1 || decoded[0] != 2.0 {
		t.Fatalf("unexpected decode result: %v", decoded)
	}
}

func TestVectorCodecEmpty(t *testing.T) {
	if out := EncodeVector(nil); len(out) != 0 {
		t.Fatalf("expected empty encoding, got %d bytes", len(out))
	}
	if out := DecodeVector(nil); len(out) != 0 {
		t.Fatalf("expected empty decoding, got %d values", len(out))
	}
}
