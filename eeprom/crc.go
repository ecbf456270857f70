package eeprom

import (
	"encoding/binary"

	"github.com/snksoft/crc"
)

var crcTable = crc.NewTable(crc.CRC32)

func crcCalculateBlock(data []byte) uint32 {
	h := crc.NewHashWithTable(crcTable)
	h.Update(data)
	return h.CRC32()
}

const (
	headerMagic uint32 = 0x4545504d

	headerWordMagic = 0
	headerWordSeq   = 1
	headerWordCRC   = 2
)

/* First flash page of every block, the rest holds data */
type header struct {
	magic uint32
	seq   uint32
	crc   uint32
}

func readHeader(block []byte) header {
	return header{
		magic: binary.LittleEndian.Uint32(block[headerWordMagic*4:]),
		seq:   binary.LittleEndian.Uint32(block[headerWordSeq*4:]),
		crc:   binary.LittleEndian.Uint32(block[headerWordCRC*4:]),
	}
}

func writeHeader(block []byte, hdr header) {
	binary.LittleEndian.PutUint32(block[headerWordMagic*4:], hdr.magic)
	binary.LittleEndian.PutUint32(block[headerWordSeq*4:], hdr.seq)
	binary.LittleEndian.PutUint32(block[headerWordCRC*4:], hdr.crc)
}

func blank(data []byte) bool {
	for _, m := range data {
		if m != 0xff {
			return false
		}
	}
	return true
}
