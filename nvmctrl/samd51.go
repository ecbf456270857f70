//go:build tinygo && atsamd51

package nvmctrl

import (
	"device/sam"
	"runtime/volatile"
	"unsafe"
)

type samd51 struct{}

// SAMD51 returns the controller of the chip the program runs on.
func SAMD51() Controller {
	return samd51{}
}

func (samd51) Status() Status {
	return Status(sam.NVMCTRL.STATUS.Get())
}

func (samd51) IntFlags() IntFlag {
	return IntFlag(sam.NVMCTRL.INTFLAG.Get())
}

func (samd51) ClearIntFlags(flags IntFlag) {
	/* Write one to clear */
	sam.NVMCTRL.INTFLAG.Set(uint16(flags))
}

func (samd51) SetAddress(addr uint32) {
	sam.NVMCTRL.ADDR.Set(addr)
}

func (samd51) Execute(cmd Command, key uint8) {
	sam.NVMCTRL.CTRLB.Set(uint16(key)<<8 | uint16(cmd))
}

func (samd51) SetWriteMode(mode WriteMode) {
	sam.NVMCTRL.CTRLA.ReplaceBits(uint16(mode), 0x3, 4)
}

func (samd51) StoreWord(addr uint32, value uint32) {
	(*volatile.Register32)(unsafe.Pointer(uintptr(addr))).Set(value)
}

func (samd51) ReadAt(p []byte, off int64) (int, error) {
	src := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(off))), len(p))
	return copy(p, src), nil
}
