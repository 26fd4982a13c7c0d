package nfc

import "bytes"

// MIFARE Classic 1K layout: 16 sectors of 4 blocks, 16 bytes per block.
// Block 3 of every sector is the trailer (keys and access bits) and is never
// touched as data. Sector 0 holds the manufacturer block and is skipped on
// write; reads also start at sector 1 where the NDEF area lives.
const (
	classicBlockSize   = 16
	classicSectorCount = 16
	blocksPerSector    = 4
	classicFirstBlock  = 4 // first data block of sector 1
)

// isTrailerBlock reports whether a block is a sector trailer.
func isTrailerBlock(block byte) bool {
	return block%blocksPerSector == 3
}

// classicDataBlocks returns the data blocks of sectors 1-15 in read order:
// 45 blocks, 720 data bytes.
func classicDataBlocks() []byte {
	blocks := make([]byte, 0, (classicSectorCount-1)*3)
	for sector := byte(1); sector < classicSectorCount; sector++ {
		for b := byte(0); b < 3; b++ {
			blocks = append(blocks, sector*blocksPerSector+b)
		}
	}
	return blocks
}

// authenticateSector trials the key dictionary against the sector that starts
// at block. For each key: load it, try key type A, then key type B. The first
// key that authenticates wins.
func authenticateSector(t Transmitter, block byte, keys [][6]byte) error {
	for _, key := range keys {
		if err := LoadKey(t, key); err != nil {
			continue
		}
		if err := Authenticate(t, block, KeyTypeA); err == nil {
			return nil
		}
		if err := Authenticate(t, block, KeyTypeB); err == nil {
			return nil
		}
	}
	return &SectorAuthError{Sector: int(block / blocksPerSector)}
}

// ReadClassic reads the NDEF area of a MIFARE Classic 1K card. It
// authenticates at each sector boundary, reads 16 bytes per data block and
// stops once the accumulated buffer covers the TLV-predicted end of the NDEF
// message (0x03, length byte, message, 0xFE terminator). The raw accumulated
// buffer is returned, TLV framing included.
func ReadClassic(t Transmitter, keys [][6]byte) ([]byte, error) {
	var buf []byte
	tlvStart := -1
	msgLen := -1

	for _, block := range classicDataBlocks() {
		if block%blocksPerSector == 0 {
			if err := authenticateSector(t, block, keys); err != nil {
				return nil, err
			}
		}

		data, err := ReadBinary(t, block, classicBlockSize)
		if err != nil {
			break
		}
		buf = append(buf, data...)

		if tlvStart < 0 {
			if pos := bytes.IndexByte(buf, 0x03); pos >= 0 && pos+1 < len(buf) {
				tlvStart = pos
				msgLen = int(buf[pos+1])
			}
		}

		// Enough bytes to cover 0x03, length, message and terminator.
		if msgLen >= 0 && len(buf) >= tlvStart+2+msgLen+1 {
			break
		}
	}

	if len(buf) == 0 {
		return nil, ErrNoData
	}
	return buf, nil
}

// WriteClassic writes a TLV-wrapped NDEF message to a MIFARE Classic 1K card.
// The input is zero-padded to a multiple of 16 and written 16 bytes per block
// starting at block 4, skipping sector trailers. Each sector is authenticated
// on first entry.
func WriteClassic(t Transmitter, keys [][6]byte, data []byte) error {
	padded := make([]byte, (len(data)+classicBlockSize-1)/classicBlockSize*classicBlockSize)
	copy(padded, data)

	offset := 0
	block := byte(classicFirstBlock)
	for offset < len(padded) {
		if isTrailerBlock(block) {
			block++
			continue
		}

		if block%blocksPerSector == 0 {
			if err := authenticateSector(t, block, keys); err != nil {
				return err
			}
		}

		if err := UpdateBinary(t, block, padded[offset:offset+classicBlockSize]); err != nil {
			return err
		}

		offset += classicBlockSize
		block++
	}
	return nil
}
