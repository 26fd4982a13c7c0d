package nfc

import (
	"bytes"
	"fmt"
)

// Family identifies the tag family a connected card belongs to.
type Family int

const (
	FamilyUnknown Family = iota
	FamilyMifareClassic1K
	FamilyType2 // NTAG / MIFARE Ultralight
)

func (f Family) String() string {
	switch f {
	case FamilyMifareClassic1K:
		return "MIFARE Classic 1K"
	case FamilyType2:
		return "NTAG / Type-2"
	default:
		return "Unknown"
	}
}

// PC/SC part 3 storage-card ATR prefix: 3B 8F 80 01 80 4F 0C followed by the
// registered application provider identifier A0 00 00 03 06.
var (
	storageCardPrefix = []byte{0x3B, 0x8F, 0x80, 0x01, 0x80, 0x4F, 0x0C}
	storageCardRID    = []byte{0xA0, 0x00, 0x00, 0x03, 0x06}
)

// Card name bytes inside a storage-card ATR
const (
	cardNameMifare1K         = 0x0001
	cardNameMifare4K         = 0x0002
	cardNameMifareUltralight = 0x0003
	cardNameMifareMini       = 0x0026
	cardNameUltralightC      = 0x003A
)

// DESFire exposes an ISO 14443-4 ATR with no storage-card AID.
var desfireATR = []byte{0x3B, 0x81, 0x80, 0x01, 0x80, 0x80}

// DetectFamily derives the tag family from a card's ATR. The primary test is
// the PC/SC storage-card historical bytes; card names this agent cannot drive
// (MIFARE Classic 4K, DESFire) are refused instead of misidentified. ATRs the
// prefix match cannot classify fall back to the last-byte heuristic: 0x6A
// means MIFARE Classic 1K, anything else Type-2.
func DetectFamily(atr []byte) (Family, error) {
	if len(atr) == 0 {
		return FamilyUnknown, &Error{Code: ErrCodeCardConnect, Op: "DetectFamily", Message: "empty ATR"}
	}

	if len(atr) >= 15 &&
		bytes.HasPrefix(atr, storageCardPrefix) &&
		bytes.Equal(atr[7:12], storageCardRID) {
		name := int(atr[13])<<8 | int(atr[14])
		switch name {
		case cardNameMifare1K:
			return FamilyMifareClassic1K, nil
		case cardNameMifare4K:
			return FamilyUnknown, &UnsupportedCardError{Name: "MIFARE Classic 4K"}
		case cardNameMifareUltralight, cardNameMifareMini, cardNameUltralightC:
			return FamilyType2, nil
		default:
			return FamilyUnknown, &UnsupportedCardError{Name: fmt.Sprintf("storage card %04X", name)}
		}
	}

	if bytes.Equal(atr, desfireATR) {
		return FamilyUnknown, &UnsupportedCardError{Name: "MIFARE DESFire"}
	}

	// Legacy heuristic on the last ATR byte.
	if atr[len(atr)-1] == 0x6A {
		return FamilyMifareClassic1K, nil
	}
	return FamilyType2, nil
}
