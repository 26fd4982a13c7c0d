package nfc

import "fmt"

// PC/SC pseudo-APDU instruction bytes (CLA 0xFF)
const (
	claPCSC         = 0xFF
	insLoadKey      = 0x82
	insAuthenticate = 0x86
	insReadBinary   = 0xB0
	insUpdateBinary = 0xD6
)

// MIFARE key types for the authenticate command
const (
	KeyTypeA = 0x60
	KeyTypeB = 0x61
)

// Success status word
const (
	sw1Success = 0x90
	sw2Success = 0x00
)

// Transmitter sends one APDU and returns the raw response including the
// status word. *scard.Card satisfies it.
type Transmitter interface {
	Transmit(cmd []byte) ([]byte, error)
}

func statusOK(resp []byte) bool {
	return len(resp) >= 2 &&
		resp[len(resp)-2] == sw1Success &&
		resp[len(resp)-1] == sw2Success
}

// LoadKey stages a 6-byte MIFARE key into reader key slot 0.
// Command: FF 82 00 00 06 [key]
func LoadKey(t Transmitter, key [6]byte) error {
	cmd := append([]byte{claPCSC, insLoadKey, 0x00, 0x00, 0x06}, key[:]...)

	resp, err := t.Transmit(cmd)
	if err != nil {
		return &Error{Code: ErrCodeLoadKey, Op: "LoadKey", Message: "transmit error", Cause: err}
	}
	if !statusOK(resp) {
		return &Error{Code: ErrCodeLoadKey, Op: "LoadKey", Message: fmt.Sprintf("load key failed: % X", resp)}
	}
	return nil
}

// Authenticate authenticates a block using the key last loaded into slot 0.
// Command: FF 86 00 00 05 01 00 [block] [keyType] 00
func Authenticate(t Transmitter, block byte, keyType byte) error {
	cmd := []byte{claPCSC, insAuthenticate, 0x00, 0x00, 0x05, 0x01, 0x00, block, keyType, 0x00}

	resp, err := t.Transmit(cmd)
	if err != nil {
		return &Error{Code: ErrCodeAuthFailed, Op: "Authenticate", Message: "transmit error", Cause: err}
	}
	if !statusOK(resp) {
		return &Error{Code: ErrCodeAuthFailed, Op: "Authenticate", Message: "authentication failed"}
	}
	return nil
}

// ReadBinary reads length bytes from a block or page.
// Command: FF B0 00 [block] [length]
func ReadBinary(t Transmitter, block byte, length byte) ([]byte, error) {
	cmd := []byte{claPCSC, insReadBinary, 0x00, block, length}

	resp, err := t.Transmit(cmd)
	if err != nil {
		return nil, &Error{Code: ErrCodeReadFailed, Op: "ReadBinary", Message: "transmit error", Cause: err}
	}
	if !statusOK(resp) {
		return nil, &Error{Code: ErrCodeReadFailed, Op: "ReadBinary", Message: "read failed"}
	}
	return resp[:len(resp)-2], nil
}

// UpdateBinary writes data to a block or page.
// Command: FF D6 00 [block] [len] [data]
func UpdateBinary(t Transmitter, block byte, data []byte) error {
	cmd := append([]byte{claPCSC, insUpdateBinary, 0x00, block, byte(len(data))}, data...)

	resp, err := t.Transmit(cmd)
	if err != nil {
		return &Error{Code: ErrCodeWriteFailed, Op: "UpdateBinary", Message: "transmit error", Cause: err}
	}
	if !statusOK(resp) {
		return &Error{Code: ErrCodeWriteFailed, Op: "UpdateBinary", Message: "write failed"}
	}
	return nil
}
