package firmware

import (
	"bytes"
	"strings"

	"github.com/BertoldVdb/samnvm/flash"
	"github.com/pkg/errors"
)

// Relocator moves bank relative data into the other bank before a swap.
type Relocator interface {
	Relocate() error
}

// Secondary is the bank that is not running. Nothing here checks the order
// of operations: an image has to be written, the bootloader mirrored and the
// result verified before Activate is called.
type Secondary struct {
	fw *Firmware
}

func (fw *Firmware) Secondary() *Secondary {
	return &Secondary{fw: fw}
}

// Start is always the middle of the flash.
func (s *Secondary) Start() uint32 {
	return s.fw.flash.Size() / 2
}

// WriteBlock writes one flash block, offset counts from the end of the
// bootloader.
func (s *Secondary) WriteBlock(offset uint32, data []uint32) error {
	return s.fw.flash.WriteBlock(s.Start()+s.fw.bootloaderSize+offset, data)
}

func (s *Secondary) CopyBootloader() error {
	f := s.fw.flash
	buf := make([]byte, f.BlockSize())

	for offset := uint32(0); offset < s.fw.bootloaderSize; offset += f.BlockSize() {
		if _, err := f.Read(offset, buf); err != nil {
			return err
		}

		if err := f.WriteBlock(s.Start()+offset, flash.Words(buf)); err != nil {
			return errors.Wrapf(err, "copy bootloader block %08x", offset)
		}
	}

	s.fw.log("firmware: copied %d bytes of bootloader", s.fw.bootloaderSize)
	return nil
}

func (s *Secondary) bootloaderEqual() (bool, error) {
	f := s.fw.flash
	a := make([]byte, f.BlockSize())
	b := make([]byte, f.BlockSize())

	for offset := uint32(0); offset < s.fw.bootloaderSize; offset += f.BlockSize() {
		if _, err := f.Read(offset, a); err != nil {
			return false, err
		}
		if _, err := f.Read(s.Start()+offset, b); err != nil {
			return false, err
		}

		if !bytes.Equal(a, b) {
			s.fw.log("firmware: bootloader differs in block %08x", offset)
			return false, nil
		}
	}

	return true, nil
}

// Verify checks that the bootloader was mirrored and that the first length
// bytes of the staged firmware match hash.
func (s *Secondary) Verify(length uint32, hash string) (bool, error) {
	if length > s.fw.Size() {
		s.fw.log("firmware: length %d exceeds firmware area of %d", length, s.fw.Size())
		return false, nil
	}

	equal, err := s.bootloaderEqual()
	if err != nil || !equal {
		return false, err
	}

	sum, err := s.fw.CalculateHash(s.Start()+s.fw.bootloaderSize, length)
	if err != nil {
		return false, err
	}

	if !strings.EqualFold(sum, hash) {
		s.fw.log("firmware: hash %s, expected %s", sum, hash)
		return false, nil
	}

	return true, nil
}

// Activate moves the EEPROM data, swaps the banks and resets. On hardware it
// does not return.
func (s *Secondary) Activate() error {
	if s.fw.relocator != nil {
		if err := s.fw.relocator.Relocate(); err != nil {
			return errors.Wrap(err, "relocate")
		}
	}

	s.fw.log("firmware: swapping banks")
	return s.fw.flash.SwapBanks()
}
