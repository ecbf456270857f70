// Package eeprom emulates a byte addressable EEPROM in the last flash blocks
// of the bank that is mapped first.
//
// Every block starts with a header page carrying a magic, a commit sequence
// number and a CRC of the data area. Writes are staged one EEPROM page at a
// time. In buffered mode (PrepareWrite) a page only reaches the flash when a
// write moves on to another page or on Flush, otherwise every write commits
// the pages it touched.
package eeprom

import (
	"github.com/BertoldVdb/samnvm/flash"
	"github.com/BertoldVdb/samnvm/nvmctrl"
	"github.com/pkg/errors"
)

var (
	ErrorOutOfRange = errors.New("EEPROM access out of range")
	ErrorCorrupt    = errors.New("EEPROM block is corrupt")
)

// MaxBlocks is the largest region the controller supports.
const MaxBlocks = 10

const noPage = -1

type EEPROM struct {
	flash *flash.Flash
	geo   nvmctrl.Geometry

	blocks    uint32
	pageSize  uint32
	blockData uint32

	buf      []byte
	bufPage  int
	dirty    bool
	buffered bool

	commits int

	LogFunc func(format string, params ...any)
}

// New sizes the emulation from the user page settings: blocks is SBLK and
// pageSizeCode is PSZ, EEPROM pages are 4<<PSZ bytes.
func New(f *flash.Flash, blocks uint8, pageSizeCode uint8) *EEPROM {
	geo := f.Geometry()

	if blocks > MaxBlocks {
		blocks = MaxBlocks
	}
	if pageSizeCode > 7 {
		pageSizeCode = 7
	}

	pageSize := uint32(4) << pageSizeCode
	if pageSize > geo.PageSize {
		pageSize = geo.PageSize
	}

	return &EEPROM{
		flash:     f,
		geo:       geo,
		blocks:    uint32(blocks),
		pageSize:  pageSize,
		blockData: geo.BlockSize - geo.PageSize,
		buf:       make([]byte, pageSize),
		bufPage:   noPage,
	}
}

func (e *EEPROM) log(format string, params ...any) {
	if e.LogFunc != nil {
		e.LogFunc(format, params...)
	}
}

// Start is the address the EEPROM is presented at to the firmware.
func (e *EEPROM) Start() uint32 {
	return e.geo.EEPROMStart
}

// Size is the usable number of bytes.
func (e *EEPROM) Size() uint32 {
	return e.blocks * e.blockData
}

// SizeAllocated is the flash used for the emulation in each bank.
func (e *EEPROM) SizeAllocated() uint32 {
	return e.blocks * e.geo.BlockSize
}

func (e *EEPROM) PageSize() uint32 {
	return e.pageSize
}

// Commits returns the number of pages committed to flash so far.
func (e *EEPROM) Commits() int {
	return e.commits
}

func (e *EEPROM) regionStart() uint32 {
	return e.geo.BankSize() - e.SizeAllocated()
}

/* Flash address of a data byte, pages never straddle blocks */
func (e *EEPROM) address(offset uint32) uint32 {
	block := offset / e.blockData
	return e.regionStart() + block*e.geo.BlockSize + e.geo.PageSize + offset%e.blockData
}

func (e *EEPROM) checkRange(offset uint32, length int) error {
	if uint64(offset)+uint64(length) > uint64(e.Size()) {
		return errors.Wrapf(ErrorOutOfRange, "offset %d, length %d, size %d", offset, length, e.Size())
	}
	return nil
}

// PrepareWrite waits for the flash to be idle and switches to buffered mode.
func (e *EEPROM) PrepareWrite() error {
	if err := e.flash.WaitReady(); err != nil {
		return err
	}

	e.buffered = true
	return nil
}

func (e *EEPROM) stage(page int) error {
	if e.bufPage == page {
		return nil
	}

	if err := e.Flush(); err != nil {
		return err
	}

	if _, err := e.flash.Read(e.address(uint32(page)*e.pageSize), e.buf); err != nil {
		return err
	}
	e.bufPage = page
	return nil
}

func (e *EEPROM) Write(offset uint32, buf []byte) error {
	if err := e.checkRange(offset, len(buf)); err != nil {
		return err
	}

	for len(buf) > 0 {
		page := int(offset / e.pageSize)
		if err := e.stage(page); err != nil {
			return err
		}

		n := copy(e.buf[offset%e.pageSize:], buf)
		e.dirty = true

		if !e.buffered {
			if err := e.Flush(); err != nil {
				return err
			}
		}

		offset += uint32(n)
		buf = buf[n:]
	}

	return nil
}

// Read returns the EEPROM contents including data that is still staged.
func (e *EEPROM) Read(offset uint32, buf []byte) error {
	if err := e.checkRange(offset, len(buf)); err != nil {
		return err
	}

	for len(buf) > 0 {
		page := int(offset / e.pageSize)
		pageOffset := offset % e.pageSize

		n := int(e.pageSize - pageOffset)
		if n > len(buf) {
			n = len(buf)
		}

		if page == e.bufPage {
			copy(buf[:n], e.buf[pageOffset:])
		} else if _, err := e.flash.Read(e.address(offset), buf[:n]); err != nil {
			return err
		}

		offset += uint32(n)
		buf = buf[n:]
	}

	return nil
}

// Flush commits the staged page if it was modified.
func (e *EEPROM) Flush() error {
	if !e.dirty {
		return nil
	}

	if err := e.commit(e.bufPage); err != nil {
		return err
	}

	e.dirty = false
	return nil
}

/* Read-modify-write of the block holding the page */
func (e *EEPROM) commit(page int) error {
	offset := uint32(page) * e.pageSize
	index := offset / e.blockData
	start := e.regionStart() + index*e.geo.BlockSize

	block := make([]byte, e.geo.BlockSize)
	if _, err := e.flash.Read(start, block); err != nil {
		return err
	}

	hdr := readHeader(block)
	if hdr.magic != headerMagic {
		hdr.seq = 0
	}

	copy(block[e.geo.PageSize+offset%e.blockData:], e.buf)

	fill(block[:e.geo.PageSize])
	writeHeader(block, header{
		magic: headerMagic,
		seq:   hdr.seq + 1,
		crc:   crcCalculateBlock(block[e.geo.PageSize:]),
	})

	if err := e.flash.WriteBlock(start, flash.Words(block)); err != nil {
		return errors.Wrapf(err, "commit EEPROM page %d", page)
	}

	e.commits++
	e.log("eeprom: committed page %d to block %d (seq %d)", page, index, hdr.seq+1)
	return nil
}

func fill(buf []byte) {
	for i := range buf {
		buf[i] = 0xff
	}
}

// Erase sets the whole EEPROM to 0xff. Staged data is dropped.
func (e *EEPROM) Erase() error {
	e.bufPage = noPage
	e.dirty = false

	for i := uint32(0); i < e.blocks; i++ {
		if err := e.flash.EraseBlock(e.regionStart() + i*e.geo.BlockSize); err != nil {
			return err
		}
	}

	return e.flash.WaitReady()
}

// Check validates the header and CRC of every block. Blank blocks are fine,
// a written block carries a commit sequence of at least one.
func (e *EEPROM) Check() error {
	block := make([]byte, e.geo.BlockSize)

	for i := uint32(0); i < e.blocks; i++ {
		if _, err := e.flash.Read(e.regionStart()+i*e.geo.BlockSize, block); err != nil {
			return err
		}

		if blank(block) {
			continue
		}

		hdr := readHeader(block)
		if hdr.magic != headerMagic {
			return errors.Wrapf(ErrorCorrupt, "block %d: bad magic %08x", i, hdr.magic)
		}
		if hdr.seq == 0 {
			return errors.Wrapf(ErrorCorrupt, "block %d: never committed", i)
		}
		if crc := crcCalculateBlock(block[e.geo.PageSize:]); crc != hdr.crc {
			return errors.Wrapf(ErrorCorrupt, "block %d: crc %08x, expected %08x", i, crc, hdr.crc)
		}
	}

	return nil
}

// Relocate flushes and copies the region into the other bank, so the data
// is still there after the banks are swapped.
func (e *EEPROM) Relocate() error {
	if err := e.Flush(); err != nil {
		return err
	}

	block := make([]byte, e.geo.BlockSize)
	target := e.geo.FlashSize - e.SizeAllocated()

	for i := uint32(0); i < e.blocks; i++ {
		offset := i * e.geo.BlockSize
		if _, err := e.flash.Read(e.regionStart()+offset, block); err != nil {
			return err
		}

		if err := e.flash.WriteBlock(target+offset, flash.Words(block)); err != nil {
			return errors.Wrapf(err, "relocate EEPROM block %d", i)
		}
	}

	e.bufPage = noPage
	e.log("eeprom: relocated %d blocks", e.blocks)
	return nil
}
