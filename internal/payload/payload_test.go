// Copyright 2025 Certen Protocol
//
package payload

import (
	"bytes"
	"testing"
)

func TestInitRoundTrip(t *testing.T) {
	p := Payload{Init: &Init{
		ID:           [32]byte{1},
		PredicateRef: PredicateRef{BatchID: [32]byte{2}, Index: 3},
		VDSRoot:      [32]byte{4},
	}}
	buf, err := Encode(p)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Init == nil || got.Update != nil {
		t.Fatalf("expected Init payload, got %+v", got)
	}
	if got.Init.ID != p.Init.ID || got.Init.PredicateRef != p.Init.PredicateRef || got.Init.VDSRoot != p.Init.VDSRoot {
		t.Fatalf("round trip mismatch: %+v vs %+v", got.Init, p.Init)
	}
}

func TestUpdateRoundTrip(t *testing.T) {
	proof := bytes.Repeat([]byte{0xAB}, 96)
	p := Payload{Update: &Update{
		ID:              [32]byte{5},
		CompressedProof: proof,
		NewState:        [32]byte{6},
		OpDigest:        [32]byte{7},
	}}
	buf, err := Encode(p)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Update == nil || got.Init != nil {
		t.Fatalf("expected Update payload, got %+v", got)
	}
	if got.Update.ID != p.Update.ID || got.Update.NewState != p.Update.NewState || got.Update.OpDigest != p.Update.OpDigest {
		t.Fatalf("round trip mismatch: %+v vs %+v", got.Update, p.Update)
	}
	if !bytes.Equal(got.Update.CompressedProof, proof) {
		t.Fatalf("proof bytes mismatch")
	}
}

// TestUpdateDecodeTruncatedProofLength covers a length prefix that claims
// more proof bytes than actually follow on the wire.
func TestUpdateDecodeTruncatedProofLength(t *testing.T) {
	buf := make([]byte, 0)
	buf = appendU16(buf, magic)
	buf = append(buf, typeUpdate)
	buf = append(buf, make([]byte, hashGroupLen)...)
	buf = appendU32(buf, 10) // claims 10 proof bytes, but none follow
	if _, err := Decode(buf); err != ErrShort {
		t.Fatalf("expected ErrShort for a truncated proof, got %v", err)
	}
}

// TestUpdateDecodeRejectsOversizedProofLength covers a corrupt or
// malicious length prefix claiming more than maxCompressedProofLen bytes.
func TestUpdateDecodeRejectsOversizedProofLength(t *testing.T) {
	buf := make([]byte, 0)
	buf = appendU16(buf, magic)
	buf = append(buf, typeUpdate)
	buf = append(buf, make([]byte, hashGroupLen)...)
	buf = appendU32(buf, maxCompressedProofLen+1)
	if _, err := Decode(buf); err == nil {
		t.Fatalf("expected an error for an oversized proof length")
	}
}

func TestBadMagic(t *testing.T) {
	buf := []byte{0x01, 0x02, typeInit}
	if _, err := Decode(buf); err != ErrBadMagic {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}
}

func TestBadType(t *testing.T) {
	buf := make([]byte, 0)
	buf = appendU16(buf, magic)
	buf = append(buf, 0xFF)
	if _, err := Decode(buf); err != ErrBadType {
		t.Fatalf("expected ErrBadType, got %v", err)
	}
}

func TestFieldElementBoundary(t *testing.T) {
	buf := make([]byte, 0)
	buf = appendU16(buf, magic)
	buf = append(buf, typeInit)

	var idMax [32]byte
	putU64LE(idMax[24:32], FieldOrder-1)
	buf = append(buf, idMax[:]...)
	buf = append(buf, make([]byte, 32+1+32)...)
	if _, err := Decode(buf); err != nil {
		t.Fatalf("expected field element at FieldOrder-1 to decode, got %v", err)
	}

	var idOver [32]byte
	putU64LE(idOver[24:32], FieldOrder)
	over := make([]byte, 0)
	over = appendU16(over, magic)
	over = append(over, typeInit)
	over = append(over, idOver[:]...)
	over = append(over, make([]byte, 32+1+32)...)
	if _, err := Decode(over); err != ErrFieldElement {
		t.Fatalf("expected ErrFieldElement at FieldOrder, got %v", err)
	}
}

func putU64LE(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
}
