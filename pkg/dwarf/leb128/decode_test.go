package leb128

import (
	"bytes"
	"testing"
)

func TestDecodeUnsigned(t *testing.T) {
	leb128 := bytes.NewBuffer([]byte{0xE5, 0x8E, 0x26})

	n, c, err := DecodeUnsigned(leb128)
	if err != nil {
		t.Fatal(err)
	}
	if n != 624485 {
		t.Fatal("Number was not decoded properly, got: ", n, c)
	}

	if c != 3 {
		t.Fatal("Count not returned correctly")
	}
}

func TestDecodeSigned(t *testing.T) {
	sleb128 := bytes.NewBuffer([]byte{0x9b, 0xf1, 0x59})

	n, c, err := DecodeSigned(sleb128)
	if err != nil {
		t.Fatal(err)
	}
	if n != -624485 {
		t.Fatal("Number was not decoded properly, got: ", n, c)
	}
}

func TestDecodeSignedSmall(t *testing.T) {
	n, _, err := DecodeSigned(bytes.NewReader([]byte{0x78}))
	if err != nil {
		t.Fatal(err)
	}
	if n != -8 {
		t.Fatalf("got %d, expected -8", n)
	}
}

func TestDecodeTruncated(t *testing.T) {
	if _, _, err := DecodeUnsigned(bytes.NewReader([]byte{0x80, 0x80})); err != ErrTruncated {
		t.Errorf("unsigned: expected ErrTruncated, got %v", err)
	}
	if _, _, err := DecodeSigned(bytes.NewReader(nil)); err != ErrTruncated {
		t.Errorf("signed: expected ErrTruncated, got %v", err)
	}
}
