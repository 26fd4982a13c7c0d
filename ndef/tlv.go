package ndef

import (
	"bytes"
	"errors"
)

// TLV framing bytes for NDEF on Type-2/Type-4 tags
const (
	TLVNDEF       = 0x03 // NDEF Message TLV
	TLVTerminator = 0xFE // Terminator TLV
)

// ErrNoTLV indicates the buffer carries no NDEF TLV (tag 0x03 missing).
var ErrNoTLV = errors.New("ndef: no NDEF TLV found")

// WrapTLV frames an NDEF message for on-card storage:
// 0x03, length (1 byte, or 0xFF plus big-endian uint16 for long messages),
// the message bytes, and the 0xFE terminator.
func WrapTLV(msg []byte) []byte {
	out := make([]byte, 0, len(msg)+5)
	out = append(out, TLVNDEF)
	if len(msg) < 0xFF {
		out = append(out, byte(len(msg)))
	} else {
		out = append(out, 0xFF, byte(len(msg)>>8), byte(len(msg)&0xFF))
	}
	out = append(out, msg...)
	out = append(out, TLVTerminator)
	return out
}

// UnwrapTLV locates the first NDEF TLV in a raw card buffer and returns the
// contained message bytes. A length byte of 0xFF selects the long form with a
// big-endian 16-bit length.
func UnwrapTLV(buf []byte) ([]byte, error) {
	start := bytes.IndexByte(buf, TLVNDEF)
	if start < 0 {
		return nil, ErrNoTLV
	}
	if start+1 >= len(buf) {
		return nil, ErrTruncatedRecord
	}

	length := int(buf[start+1])
	dataStart := start + 2
	if buf[start+1] == 0xFF {
		if start+4 > len(buf) {
			return nil, ErrTruncatedRecord
		}
		length = int(buf[start+2])<<8 | int(buf[start+3])
		dataStart = start + 4
	}

	if dataStart+length > len(buf) {
		return nil, ErrTruncatedRecord
	}
	return buf[dataStart : dataStart+length], nil
}
