package ndef

import "encoding/binary"

// EncodeMessage serializes records into NDEF message bytes. MB is set on the
// first record and ME on the last; all records are emitted as short records
// (SR=1) with no ID, matching what fits on MIFARE Classic 1K and NTAG tags.
// Payloads over 255 bytes are rejected rather than emitting a corrupt header.
func EncodeMessage(records []Record) ([]byte, error) {
	if len(records) == 0 {
		return nil, ErrEmptyMessage
	}

	var out []byte
	for i, r := range records {
		if len(r.Payload) > 0xFF {
			return nil, ErrPayloadTooLong
		}

		header := r.TNF & tnfMask
		header |= flagSR
		if i == 0 {
			header |= flagMB
		}
		if i == len(records)-1 {
			header |= flagME
		}

		out = append(out, header, byte(len(r.Type)), byte(len(r.Payload)))
		out = append(out, r.Type...)
		out = append(out, r.Payload...)
	}
	return out, nil
}

// ParseMessage decodes NDEF message bytes into records. Parsing stops after
// the record with ME set. Short (1-byte) and long (4-byte big-endian) payload
// lengths and the optional ID field are handled; payloads are returned raw,
// use Record.Text to strip the Text record status byte and language code.
func ParseMessage(data []byte) ([]Record, error) {
	if len(data) == 0 {
		return nil, ErrEmptyMessage
	}

	var records []Record
	cursor := 0

	for cursor < len(data) {
		header := data[cursor]
		tnf := header & tnfMask
		shortRecord := header&flagSR != 0
		hasID := header&flagIL != 0
		messageEnd := header&flagME != 0
		cursor++

		if cursor >= len(data) {
			return nil, ErrTruncatedRecord
		}
		typeLen := int(data[cursor])
		cursor++

		var payloadLen int
		if shortRecord {
			if cursor >= len(data) {
				return nil, ErrTruncatedRecord
			}
			payloadLen = int(data[cursor])
			cursor++
		} else {
			if cursor+4 > len(data) {
				return nil, ErrTruncatedRecord
			}
			payloadLen = int(binary.BigEndian.Uint32(data[cursor : cursor+4]))
			cursor += 4
		}

		idLen := 0
		if hasID {
			if cursor >= len(data) {
				return nil, ErrTruncatedRecord
			}
			idLen = int(data[cursor])
			cursor++
		}

		if cursor+typeLen > len(data) {
			return nil, ErrTruncatedRecord
		}
		recordType := make([]byte, typeLen)
		copy(recordType, data[cursor:cursor+typeLen])
		cursor += typeLen

		var recordID []byte
		if idLen > 0 {
			if cursor+idLen > len(data) {
				return nil, ErrTruncatedRecord
			}
			recordID = make([]byte, idLen)
			copy(recordID, data[cursor:cursor+idLen])
			cursor += idLen
		}

		if cursor+payloadLen > len(data) {
			return nil, ErrTruncatedRecord
		}
		payload := make([]byte, payloadLen)
		copy(payload, data[cursor:cursor+payloadLen])
		cursor += payloadLen

		records = append(records, Record{
			TNF:     tnf,
			Type:    recordType,
			ID:      recordID,
			Payload: payload,
		})

		if messageEnd {
			break
		}
	}

	if len(records) == 0 {
		return nil, ErrEmptyMessage
	}
	return records, nil
}

// MessageText returns the content of the first Text record in a message.
func MessageText(data []byte) (string, error) {
	records, err := ParseMessage(data)
	if err != nil {
		return "", err
	}
	for _, r := range records {
		if r.IsText() {
			return r.Text()
		}
	}
	return "", ErrEmptyMessage
}

// DecodeText unwraps a TLV-framed buffer and returns the content of the first
// Text record of the contained NDEF message.
func DecodeText(buf []byte) (string, error) {
	msg, err := UnwrapTLV(buf)
	if err != nil {
		return "", err
	}
	return MessageText(msg)
}
