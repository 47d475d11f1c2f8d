// Copyright 2025 Certen Protocol
//
// Package blobtx packs payload bytes into EIP-4844 blob sidecars and
// submits them with fee-escalation retries, generalized from pkg/ethereum's
// client wrapper and nonce_tracker.go's reservation/retry shape applied to
// go-ethereum blob transactions instead of Accumulate transactions.
package blobtx

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto/kzg4844"
)

const (
	slotSize       = 32
	numSlots       = 4096
	payloadPerSlot = slotSize - 1 // one zero prefix byte per slot
	maxPayloadLen  = (numSlots - 1) * payloadPerSlot
)

// ErrPayloadTooLarge is returned when the payload cannot fit in the
// remaining 4095 data-carrying slots.
var ErrPayloadTooLarge = errors.New("blobtx: payload exceeds blob capacity")

// ErrBadBlobHeader is returned when a blob's first slot isn't a canonical
// BLS12-381 scalar: byte 0 must be 0x00, since the slot is interpreted as
// a big-endian field element by kzg4844.BlobToCommitment, and any nonzero
// leading byte risks exceeding the scalar modulus.
var ErrBadBlobHeader = errors.New("blobtx: blob header slot is not a canonical field element")

// EncodeBlob packs payload into a 4096-slot EIP-4844 blob: the first slot
// is a canonical field element, 0x00 followed by an 8-byte big-endian
// length and 23 zero bytes, and each subsequent slot holds a zero prefix
// byte followed by 31 payload bytes. AD payloads are self-describing via
// their own 0xad00 magic (see package payload), so the blob header carries
// no format tag of its own.
func EncodeBlob(payload []byte) (*kzg4844.Blob, error) {
	if len(payload) > maxPayloadLen {
		return nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(payload), maxPayloadLen)
	}

	var blob kzg4844.Blob
	// blob[0] stays zero: the header slot's field-element prefix byte.
	binary.BigEndian.PutUint64(blob[1:9], uint64(len(payload)))
	// blob[9:32] stays zero: padding out the rest of the header slot.

	for i, off := 1, 0; off < len(payload); i, off = i+1, off+payloadPerSlot {
		end := off + payloadPerSlot
		if end > len(payload) {
			end = len(payload)
		}
		slotStart := i * slotSize
		// blob[slotStart] stays zero: the field-element prefix byte.
		copy(blob[slotStart+1:slotStart+slotSize], payload[off:end])
	}

	return &blob, nil
}

// DecodeBlob reverses EncodeBlob.
func DecodeBlob(blob *kzg4844.Blob) ([]byte, error) {
	if blob[0] != 0x00 {
		return nil, ErrBadBlobHeader
	}
	length := binary.BigEndian.Uint64(blob[1:9])
	if length > uint64(maxPayloadLen) {
		return nil, fmt.Errorf("%w: encoded length %d exceeds capacity", ErrPayloadTooLarge, length)
	}

	out := make([]byte, 0, length)
	for i := 1; uint64(len(out)) < length; i++ {
		slotStart := i * slotSize
		chunk := blob[slotStart+1 : slotStart+slotSize]
		remaining := length - uint64(len(out))
		if remaining < uint64(len(chunk)) {
			chunk = chunk[:remaining]
		}
		out = append(out, chunk...)
	}
	return out, nil
}
