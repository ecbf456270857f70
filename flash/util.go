package flash

import "encoding/binary"

// Words reinterprets a little endian byte buffer as 32-bit words. Trailing
// bytes that do not fill a word are dropped.
func Words(buf []byte) []uint32 {
	words := make([]uint32, len(buf)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(buf[i*4:])
	}
	return words
}

func Bytes(words []uint32) []byte {
	buf := make([]byte, len(words)*4)
	for i, m := range words {
		binary.LittleEndian.PutUint32(buf[i*4:], m)
	}
	return buf
}
