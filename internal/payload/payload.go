// Copyright 2025 Certen Protocol
//
// Package payload implements the bit-exact Init/Update payload wire format:
// a 2-byte magic, a 1-byte type tag, 32-byte "hash" groups each packed as
// four little-endian field elements whose canonical range is enforced on
// decode, and (for Update) a 4-byte big-endian length prefix ahead of the
// variable-length compressed proof bytes.
package payload

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// FieldOrder is the Goldilocks prime (2^64 - 2^32 + 1) the wrapped proof
// system's field elements are canonically reduced modulo, matching the
// plonky2-based prover this payload format was designed around.
const FieldOrder uint64 = 0xFFFFFFFF00000001

var (
	// ErrBadMagic is returned when the leading 2 bytes don't match 0xad00.
	ErrBadMagic = errors.New("payload: invalid magic")
	// ErrBadType is returned for an unrecognized type tag.
	ErrBadType = errors.New("payload: invalid type")
	// ErrFieldElement is returned when a decoded u64 is >= FieldOrder.
	ErrFieldElement = errors.New("payload: field element out of canonical range")
	// ErrShort is returned when the buffer ends before a fixed-size field
	// is fully read.
	ErrShort = errors.New("payload: buffer too short")
)

const (
	magic       uint16 = 0xad00
	typeInit    uint8  = 1
	typeUpdate  uint8  = 2
	hashGroupLen        = 32 // 4 field elements * 8 bytes
)

// PredicateRef mirrors predicate.Ref without importing that package, to
// keep the wire format decoupled from the in-process predicate batch
// representation.
type PredicateRef struct {
	BatchID [32]byte
	Index   uint8
}

// Init is the payload published when a list is created.
type Init struct {
	ID           [32]byte
	PredicateRef PredicateRef
	VDSRoot      [32]byte
}

// Update is the payload published for each accepted Add/Del transition.
// CompressedProof's wire length is carried explicitly by a 4-byte
// big-endian prefix rather than assumed fixed: ShrinkWrapper's flate
// compression and GrothWrapper's JSON-marshaled big.Ints both produce a
// proof length that varies per proof, not just per circuit shape.
type Update struct {
	ID              [32]byte
	CompressedProof []byte
	NewState        [32]byte
	OpDigest        [32]byte
}

// Payload is the Init/Update sum type.
type Payload struct {
	Init   *Init
	Update *Update
}

// maxCompressedProofLen bounds the length prefix read off the wire, so a
// corrupt or malicious blob can't make Decode try to slice an enormous
// buffer.
const maxCompressedProofLen = 1 << 20

// Encode serializes payload bit-exactly.
func Encode(p Payload) ([]byte, error) {
	buf := make([]byte, 0, 128)
	buf = appendU16(buf, magic)

	switch {
	case p.Init != nil && p.Update == nil:
		buf = append(buf, typeInit)
		buf = appendHashGroup(buf, p.Init.ID)
		buf = appendHashGroup(buf, p.Init.PredicateRef.BatchID)
		buf = append(buf, p.Init.PredicateRef.Index)
		buf = appendHashGroup(buf, p.Init.VDSRoot)
		return buf, nil

	case p.Update != nil && p.Init == nil:
		if err := validateFieldBytes(p.Update.ID); err != nil {
			return nil, err
		}
		buf = append(buf, typeUpdate)
		buf = appendHashGroup(buf, p.Update.ID)
		buf = appendU32(buf, uint32(len(p.Update.CompressedProof)))
		buf = append(buf, p.Update.CompressedProof...)
		buf = appendHashGroup(buf, p.Update.NewState)
		buf = appendHashGroup(buf, p.Update.OpDigest)
		return buf, nil

	default:
		return nil, fmt.Errorf("payload: exactly one of Init/Update must be set")
	}
}

// Decode parses bytes into a Payload.
func Decode(data []byte) (Payload, error) {
	if len(data) < 3 {
		return Payload{}, ErrShort
	}
	if binary.LittleEndian.Uint16(data[:2]) != magic {
		return Payload{}, ErrBadMagic
	}
	typ := data[2]
	rest := data[3:]

	switch typ {
	case typeInit:
		id, rest, err := readHashGroup(rest)
		if err != nil {
			return Payload{}, err
		}
		batchID, rest2, err := readHashGroup(rest)
		if err != nil {
			return Payload{}, err
		}
		if len(rest2) < 1 {
			return Payload{}, ErrShort
		}
		index := rest2[0]
		rest2 = rest2[1:]
		vds, _, err := readHashGroup(rest2)
		if err != nil {
			return Payload{}, err
		}
		return Payload{Init: &Init{
			ID:           id,
			PredicateRef: PredicateRef{BatchID: batchID, Index: index},
			VDSRoot:      vds,
		}}, nil

	case typeUpdate:
		id, rest, err := readHashGroup(rest)
		if err != nil {
			return Payload{}, err
		}
		if len(rest) < 4 {
			return Payload{}, ErrShort
		}
		proofLen := binary.BigEndian.Uint32(rest[:4])
		rest = rest[4:]
		if proofLen > maxCompressedProofLen {
			return Payload{}, fmt.Errorf("payload: %w: proof length %d exceeds %d", ErrShort, proofLen, maxCompressedProofLen)
		}
		if uint64(len(rest)) < uint64(proofLen) {
			return Payload{}, ErrShort
		}
		proof := append([]byte(nil), rest[:proofLen]...)
		rest = rest[proofLen:]
		newState, rest, err := readHashGroup(rest)
		if err != nil {
			return Payload{}, err
		}
		opDigest, _, err := readHashGroup(rest)
		if err != nil {
			return Payload{}, err
		}
		return Payload{Update: &Update{
			ID:              id,
			CompressedProof: proof,
			NewState:        newState,
			OpDigest:        opDigest,
		}}, nil

	default:
		return Payload{}, ErrBadType
	}
}

func appendU16(buf []byte, v uint16) []byte {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return append(buf, b[:]...)
}

func appendU32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

// appendHashGroup appends a 32-byte group as 4 little-endian u64 field
// elements, assuming the caller has already validated canonical range
// where required (Encode only requires it for Update.ID, but in practice
// every hash group this package produces is already reduced).
func appendHashGroup(buf []byte, group [32]byte) []byte {
	return append(buf, group[:]...)
}

// readHashGroup reads 32 bytes as 4 little-endian u64s, validating each is
// < FieldOrder, and returns the group plus the remaining bytes.
func readHashGroup(data []byte) ([32]byte, []byte, error) {
	var out [32]byte
	if len(data) < hashGroupLen {
		return out, nil, ErrShort
	}
	for i := 0; i < 4; i++ {
		n := binary.LittleEndian.Uint64(data[i*8 : i*8+8])
		if n >= FieldOrder {
			return out, nil, ErrFieldElement
		}
	}
	copy(out[:], data[:hashGroupLen])
	return out, data[hashGroupLen:], nil
}

func validateFieldBytes(group [32]byte) error {
	for i := 0; i < 4; i++ {
		n := binary.LittleEndian.Uint64(group[i*8 : i*8+8])
		if n >= FieldOrder {
			return ErrFieldElement
		}
	}
	return nil
}
