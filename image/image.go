// Package image loads firmware images from disk and cuts them into the
// blocks the flash is written in.
package image

import (
	"crypto/sha1"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BertoldVdb/samnvm/flash"
	"github.com/marcinbor85/gohex"
	"github.com/pkg/errors"
)

var (
	ErrorInvalidLength = errors.New("image length not valid")
	ErrorBelowBase     = errors.New("image data below base address")
)

// Load reads a raw binary, or an Intel HEX file when the name ends in .hex.
// HEX data is placed relative to base, gaps are filled with 0xff.
func Load(path string, base uint32) ([]byte, error) {
	if strings.EqualFold(filepath.Ext(path), ".hex") {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		return ParseHex(f, base)
	}

	return os.ReadFile(path)
}

func ParseHex(r io.Reader, base uint32) ([]byte, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(r); err != nil {
		return nil, errors.Wrap(err, "parse hex")
	}

	end := base
	for _, segment := range mem.GetDataSegments() {
		if segment.Address < base {
			return nil, errors.Wrapf(ErrorBelowBase, "segment at %08x", segment.Address)
		}
		if e := segment.Address + uint32(len(segment.Data)); e > end {
			end = e
		}
	}

	if end == base {
		return nil, ErrorInvalidLength
	}

	return mem.ToBinary(base, end-base, 0xff), nil
}

func DumpHex(w io.Writer, base uint32, data []byte) error {
	mem := gohex.NewMemory()
	if err := mem.AddBinary(base, data); err != nil {
		return err
	}
	return mem.DumpIntelHex(w, 16)
}

// Digest is the SHA-1 used to verify a written image.
func Digest(data []byte) string {
	h := sha1.Sum(data)
	return hex.EncodeToString(h[:])
}

func Validate(image []byte, max uint32) error {
	if len(image) == 0 || uint64(len(image)) > uint64(max) {
		return errors.Wrapf(ErrorInvalidLength, "%d bytes, at most %d", len(image), max)
	}
	return nil
}

// Blocks splits the image in flash blocks, the last one padded with 0xff.
func Blocks(image []byte, blockSize uint32) [][]uint32 {
	var blocks [][]uint32

	for i := 0; i < len(image); i += int(blockSize) {
		block := make([]byte, blockSize)
		n := copy(block, image[i:])
		for k := n; k < len(block); k++ {
			block[k] = 0xff
		}

		blocks = append(blocks, flash.Words(block))
	}

	return blocks
}
