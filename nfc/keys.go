package nfc

// commonKeys is the fixed dictionary of well-known MIFARE Classic keys,
// tried in order for each sector during authentication.
var commonKeys = [][6]byte{
	{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}, // factory default
	{0xA0, 0xA1, 0xA2, 0xA3, 0xA4, 0xA5}, // MAD key A
	{0xD3, 0xF7, 0xD3, 0xF7, 0xD3, 0xF7}, // NFC Forum key
	{0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
	{0xB0, 0xB1, 0xB2, 0xB3, 0xB4, 0xB5},
	{0x4D, 0x3A, 0x99, 0xC3, 0x51, 0xDD},
	{0x1A, 0x98, 0x2C, 0x7E, 0x45, 0x9A},
	{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF},
}

// DefaultKeys returns a copy of the built-in key dictionary.
func DefaultKeys() [][6]byte {
	keys := make([][6]byte, len(commonKeys))
	copy(keys, commonKeys)
	return keys
}

// KeysWithExtra returns the built-in dictionary followed by extra keys,
// preserving trial order.
func KeysWithExtra(extra [][6]byte) [][6]byte {
	return append(DefaultKeys(), extra...)
}
