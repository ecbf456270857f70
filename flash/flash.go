package flash

import (
	"github.com/BertoldVdb/samnvm/nvmctrl"
)

type Flash struct {
	nvm *nvmctrl.NVM
	geo nvmctrl.Geometry
}

func New(nvm *nvmctrl.NVM) *Flash {
	return &Flash{
		nvm: nvm,
		geo: nvm.Geometry(),
	}
}

func (f *Flash) NVM() *nvmctrl.NVM {
	return f.nvm
}

func (f *Flash) Geometry() nvmctrl.Geometry {
	return f.geo
}

func (f *Flash) Size() uint32 {
	return f.geo.FlashSize
}

func (f *Flash) PageSize() uint32 {
	return f.geo.PageSize
}

func (f *Flash) BlockSize() uint32 {
	return f.geo.BlockSize
}

// Bank returns the inverse of the AFIRST status bit, Secondary.Activate
// swaps the banks.
func (f *Flash) Bank() uint8 {
	if f.nvm.AFirst() {
		return 0
	}
	return 1
}

func (f *Flash) WaitReady() error {
	return f.nvm.WaitReady()
}

// EraseBlock erases the block at offset, which must be block aligned. It does
// not wait for the erase to finish.
func (f *Flash) EraseBlock(offset uint32) error {
	if err := f.nvm.WaitReady(); err != nil {
		return err
	}

	f.nvm.SetAddress(offset)
	f.nvm.Exec(nvmctrl.CmdEraseBlock)
	return nil
}

// WritePage programs one full page of words at a page aligned offset. The
// page needs to be erased.
func (f *Flash) WritePage(offset uint32, data []uint32) error {
	/* Manual page write, auto modes would commit partial pages */
	f.nvm.SetWriteMode(nvmctrl.WriteModeManual)

	if err := f.nvm.WaitReady(); err != nil {
		return err
	}

	f.nvm.Exec(nvmctrl.CmdPageBufferClear)

	if err := f.nvm.WaitReady(); err != nil {
		return err
	}

	/* Plain stores only fill the page buffer */
	for i := 0; i < f.geo.PageWords(); i++ {
		f.nvm.StoreWord(offset+uint32(i*4), data[i])
	}

	if err := f.nvm.WaitReady(); err != nil {
		return err
	}

	f.nvm.SetAddress(offset)
	f.nvm.Exec(nvmctrl.CmdWritePage)
	return nil
}

// WriteBlock erases and programs a full block. It returns once the last page
// is in flash.
func (f *Flash) WriteBlock(offset uint32, data []uint32) error {
	if err := f.EraseBlock(offset); err != nil {
		return err
	}

	for i := uint32(0); i < f.geo.BlockSize; i += f.geo.PageSize {
		if err := f.WritePage(offset+i, data[i/4:]); err != nil {
			return err
		}
	}

	return f.nvm.WaitReady()
}

func (f *Flash) ReadAt(p []byte, off int64) (int, error) {
	return f.nvm.ReadAt(p, off)
}

func (f *Flash) Read(offset uint32, buf []byte) (int, error) {
	return f.nvm.ReadAt(buf, int64(offset))
}

// SwapBanks maps the other bank first and resets the chip. On hardware this
// does not return.
func (f *Flash) SwapBanks() error {
	if err := f.nvm.WaitReady(); err != nil {
		return err
	}

	f.nvm.Exec(nvmctrl.CmdBankSwapReset)
	return nil
}
