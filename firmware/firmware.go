// Package firmware describes the firmware area of the running bank and
// stages updates in the other one.
package firmware

import (
	"crypto/sha1"
	"encoding/hex"

	"github.com/BertoldVdb/samnvm/flash"
	"github.com/pkg/errors"
)

const DefaultBootloaderSize = 16 * 1024

type Firmware struct {
	flash *flash.Flash

	bootloaderSize uint32
	reserved       uint32
	relocator      Relocator

	LogFunc func(format string, params ...any)
}

// New describes a bank with a bootloader of bootloaderSize bytes at the start
// and reserved bytes at the end, used by the EEPROM emulation. relocator moves
// that data along on every bank swap, it may be nil if nothing is reserved.
func New(f *flash.Flash, bootloaderSize uint32, reserved uint32, relocator Relocator) *Firmware {
	return &Firmware{
		flash:          f,
		bootloaderSize: bootloaderSize,
		reserved:       reserved,
		relocator:      relocator,
	}
}

func (fw *Firmware) log(format string, params ...any) {
	if fw.LogFunc != nil {
		fw.LogFunc(format, params...)
	}
}

func (fw *Firmware) Flash() *flash.Flash {
	return fw.flash
}

func (fw *Firmware) BootloaderSize() uint32 {
	return fw.bootloaderSize
}

// Start is the end of the bootloader.
func (fw *Firmware) Start() uint32 {
	return fw.bootloaderSize
}

// Size is the space available to the firmware, excluding the bootloader.
func (fw *Firmware) Size() uint32 {
	return fw.flash.Geometry().BankSize() - fw.bootloaderSize - fw.reserved
}

// CalculateHash returns the SHA-1 of the given flash range as 40 lower case
// hex characters.
func (fw *Firmware) CalculateHash(offset uint32, length uint32) (string, error) {
	h := sha1.New()
	buf := make([]byte, fw.flash.BlockSize())

	for length > 0 {
		n := uint32(len(buf))
		if n > length {
			n = length
		}

		if _, err := fw.flash.Read(offset, buf[:n]); err != nil {
			return "", errors.Wrapf(err, "hash at %08x", offset)
		}
		h.Write(buf[:n])

		offset += n
		length -= n
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
