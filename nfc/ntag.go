package nfc

// NTAG / Type-2 Ultralight layout: open memory, 4 bytes per page, user data
// starting at page 4. No authentication is required.
const (
	type2PageSize  = 4
	type2FirstPage = 4
)

// ReadType2 reads the NDEF message from an NTAG / Type-2 card. The first user
// page group is probed for the NDEF TLV header to learn the message length;
// then whole pages are read until the declared length is covered. The
// returned bytes are the NDEF message only, TLV framing stripped.
func ReadType2(t Transmitter) ([]byte, error) {
	head, err := ReadBinary(t, type2FirstPage, 16)
	if err != nil {
		return nil, err
	}
	if len(head) < 4 {
		return nil, &Error{Code: ErrCodeReadFailed, Op: "ReadType2", Message: "short read on first page"}
	}
	if head[0] != 0x03 {
		return nil, ErrNoNDEFContainer
	}

	// Length byte 0xFF selects the 3-byte long form.
	msgLen := int(head[1])
	header := 2
	if head[1] == 0xFF {
		msgLen = int(head[2])<<8 | int(head[3])
		header = 4
	}

	totalPages := (header + msgLen + type2PageSize - 1) / type2PageSize

	buf := make([]byte, 0, totalPages*type2PageSize)
	for page := 0; page < totalPages; page++ {
		data, err := ReadBinary(t, byte(type2FirstPage+page), type2PageSize)
		if err != nil {
			break
		}
		buf = append(buf, data...)
	}

	if len(buf) < header+msgLen {
		return nil, &Error{Code: ErrCodeReadFailed, Op: "ReadType2", Message: "incomplete read: card ended before NDEF length reached"}
	}
	return buf[header : header+msgLen], nil
}

// WriteType2 writes a TLV-wrapped NDEF message to an NTAG / Type-2 card. The
// input is zero-padded to a multiple of 4 and written one page at a time
// starting at page 4.
func WriteType2(t Transmitter, data []byte) error {
	padded := make([]byte, (len(data)+type2PageSize-1)/type2PageSize*type2PageSize)
	copy(padded, data)

	page := byte(type2FirstPage)
	for offset := 0; offset < len(padded); offset += type2PageSize {
		if err := UpdateBinary(t, page, padded[offset:offset+type2PageSize]); err != nil {
			return err
		}
		page++
	}
	return nil
}
