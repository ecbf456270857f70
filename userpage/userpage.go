// Package userpage reads and writes the NVM user page. The page is only ever
// changed by erasing it and writing it back completely.
package userpage

import (
	"github.com/BertoldVdb/samnvm/nvmctrl"
)

type UserPage struct {
	nvm   *nvmctrl.NVM
	start uint32

	LogFunc func(format string, params ...any)
}

func New(nvm *nvmctrl.NVM) *UserPage {
	return &UserPage{
		nvm:   nvm,
		start: nvm.Geometry().UserPageStart,
	}
}

func (u *UserPage) log(format string, params ...any) {
	if u.LogFunc != nil {
		u.LogFunc(format, params...)
	}
}

func (u *UserPage) Start() uint32 {
	return u.start
}

func (u *UserPage) Read(data *Page) error {
	_, err := u.nvm.ReadAt(data[:], int64(u.start))
	return err
}

// Write erases the page and programs it again. The controller only takes
// quad words (16 bytes) for the user page.
func (u *UserPage) Write(data *Page) error {
	if err := u.nvm.WaitReady(); err != nil {
		return err
	}

	u.nvm.SetWriteMode(nvmctrl.WriteModeManual)

	u.nvm.SetAddress(u.start)
	u.nvm.Exec(nvmctrl.CmdErasePage)
	if err := u.nvm.WaitReady(); err != nil {
		return err
	}

	u.nvm.SetAddress(u.start)
	u.nvm.Exec(nvmctrl.CmdPageBufferClear)
	if err := u.nvm.WaitReady(); err != nil {
		return err
	}

	for i := 0; i < Words; i += 4 {
		addr := u.start + uint32(i*4)
		for k := 0; k < 4; k++ {
			u.nvm.StoreWord(addr+uint32(k*4), data.Word(i+k))
		}

		u.nvm.SetAddress(addr)
		u.nvm.Exec(nvmctrl.CmdWriteQuadWord)
		if err := u.nvm.WaitReady(); err != nil {
			return err
		}
	}

	return nil
}

type Config struct {
	// BootloaderSize is the flash the bootloader occupies, BOOTPROT always
	// protects at least that much.
	BootloaderSize uint32

	EEPROMBlocks   uint8
	EEPROMPageSize uint8
}

func DefaultConfig() Config {
	return Config{
		BootloaderSize: 16 * 1024,
		EEPROMBlocks:   1,
		EEPROMPageSize: 5,
	}
}

const bootProtUnit = 8 * 1024

/* Largest BOOTPROT whose protected area still covers the bootloader */
func (c Config) maxBootProt() uint8 {
	blocks := (c.BootloaderSize + bootProtUnit - 1) / bootProtUnit
	if blocks > 15 {
		return 0
	}
	return uint8(15 - blocks)
}

// Update makes sure the page carries the settings this firmware needs. It is
// meant to be called on every boot and only writes the page the first time,
// it returns true if it did.
func (u *UserPage) Update(cfg Config) (bool, error) {
	var page Page
	if err := u.Read(&page); err != nil {
		return false, err
	}

	if page.Updated() {
		return false, nil
	}

	/* An erased calibration area means the page was lost, e.g. power
	 * failed during a previous update. */
	if page.Word(blankWord) == 0xffffffff {
		u.log("userpage: calibration erased, restoring factory values")
		page = FactoryDefaults()
	}

	if highest := cfg.maxBootProt(); page.BootProt() > highest {
		u.log("userpage: BOOTPROT %d does not cover the bootloader, using %d", page.BootProt(), highest)
		page.SetBootProt(highest)
	}

	page.SetEEPROMBlocks(cfg.EEPROMBlocks)
	page.SetEEPROMPageSize(cfg.EEPROMPageSize)
	page.SetWord(MagicWord, Magic)

	if err := u.Write(&page); err != nil {
		return false, err
	}

	u.log("userpage: updated")
	return true, nil
}
