package nvmctrl

type Geometry struct {
	FlashSize uint32
	PageSize  uint32
	BlockSize uint32
	RAMSize   uint32

	UserPageStart uint32
	UserPageSize  uint32

	EEPROMStart uint32
}

var SAMD51J19 = Geometry{
	FlashSize: 0x80000,
	PageSize:  512,
	BlockSize: 8192,
	RAMSize:   0x30000,

	UserPageStart: 0x00804000,
	UserPageSize:  512,

	EEPROMStart: 0x44000000,
}

func (g Geometry) BankSize() uint32 {
	return g.FlashSize / 2
}

func (g Geometry) PageWords() int {
	return int(g.PageSize / 4)
}

func (g Geometry) BlockWords() int {
	return int(g.BlockSize / 4)
}

func (g Geometry) InFlash(addr uint32, length uint32) bool {
	return addr < g.FlashSize && length <= g.FlashSize-addr
}

func (g Geometry) InUserPage(addr uint32, length uint32) bool {
	return addr >= g.UserPageStart && addr-g.UserPageStart < g.UserPageSize &&
		length <= g.UserPageSize-(addr-g.UserPageStart)
}

/* CTRLB.CMD values, they are only accepted together with Key in CTRLB.CMDEX */
type Command uint8

const (
	CmdErasePage       Command = 0x00
	CmdEraseBlock      Command = 0x01
	CmdWritePage       Command = 0x03
	CmdWriteQuadWord   Command = 0x04
	CmdPageBufferClear Command = 0x15
	CmdBankSwapReset   Command = 0x17
)

const Key uint8 = 0xa5

func (c Command) String() string {
	switch c {
	case CmdErasePage:
		return "EP"
	case CmdEraseBlock:
		return "EB"
	case CmdWritePage:
		return "WP"
	case CmdWriteQuadWord:
		return "WQW"
	case CmdPageBufferClear:
		return "PBC"
	case CmdBankSwapReset:
		return "BKSWRST"
	}
	return "unknown"
}

/* CTRLA.WMODE */
type WriteMode uint8

const (
	WriteModeManual WriteMode = iota
	WriteModeAutoDoubleWord
	WriteModeAutoQuadWord
	WriteModeAutoPage
)

type Status uint16

const (
	StatusReady  Status = 1 << 0
	StatusAFirst Status = 1 << 4
)

type IntFlag uint16

const (
	IntFlagDone         IntFlag = 1 << 0
	IntFlagAddressError IntFlag = 1 << 1
	IntFlagProgramError IntFlag = 1 << 2
	IntFlagLockError    IntFlag = 1 << 3
	IntFlagCommandError IntFlag = 1 << 6

	intFlagErrors = IntFlagAddressError | IntFlagProgramError | IntFlagLockError | IntFlagCommandError
)

// Controller is the register level view of the NVM controller together with
// the memory window it is mapped behind. Stores into the flash address range
// are collected in the page buffer and only reach the array through a write
// command.
type Controller interface {
	Status() Status
	IntFlags() IntFlag
	ClearIntFlags(flags IntFlag)

	SetAddress(addr uint32)
	Execute(cmd Command, key uint8)
	SetWriteMode(mode WriteMode)

	StoreWord(addr uint32, value uint32)
	ReadAt(p []byte, off int64) (int, error)
}
