// Package nvmsim emulates the SAMD51 NVM controller, its flash array and the
// user page so the layers above can run on a host.
package nvmsim

import (
	"encoding/binary"

	"github.com/BertoldVdb/samnvm/nvmctrl"
)

const (
	stateAFirst = 1 << 0
)

type Sim struct {
	geo nvmctrl.Geometry

	/* bank A | bank B | user page | state */
	mem   []byte
	unmap func() error

	pageBuf []byte
	addr    uint32
	mode    nvmctrl.WriteMode
	flags   nvmctrl.IntFlag
	busy    int

	commands map[nvmctrl.Command]int

	// BusyPolls is the number of status reads a command keeps READY low.
	BusyPolls int

	// Stuck keeps READY low forever.
	Stuck bool

	Resets  int
	OnReset func()
}

func memSize(geo nvmctrl.Geometry) int {
	return int(geo.FlashSize+geo.UserPageSize) + 1
}

// New returns a simulator with blank flash and a blank user page, bank A
// mapped first.
func New(geo nvmctrl.Geometry) *Sim {
	s := newSim(geo, make([]byte, memSize(geo)))
	s.Format()
	return s
}

func newSim(geo nvmctrl.Geometry, mem []byte) *Sim {
	s := &Sim{
		geo:      geo,
		mem:      mem,
		pageBuf:  make([]byte, geo.PageSize),
		commands: make(map[nvmctrl.Command]int),
	}
	fill(s.pageBuf)
	return s
}

// Format erases everything, including the user page, and maps bank A first.
func (s *Sim) Format() {
	fill(s.mem[:len(s.mem)-1])
	s.mem[len(s.mem)-1] = stateAFirst
}

func (s *Sim) Close() error {
	if s.unmap == nil {
		return nil
	}

	unmap := s.unmap
	s.unmap = nil
	return unmap()
}

func fill(buf []byte) {
	for i := range buf {
		buf[i] = 0xff
	}
}

func (s *Sim) afirst() bool {
	return s.mem[len(s.mem)-1]&stateAFirst > 0
}

/* Resolve a logical range to backing memory, nil if it is not mapped */
func (s *Sim) resolve(addr uint32, length uint32) []byte {
	if s.geo.InUserPage(addr, length) {
		start := s.geo.FlashSize + addr - s.geo.UserPageStart
		return s.mem[start : start+length]
	}

	if !s.geo.InFlash(addr, length) {
		return nil
	}

	bank := addr / s.geo.BankSize()
	offset := addr % s.geo.BankSize()
	if offset+length > s.geo.BankSize() {
		return nil
	}

	if !s.afirst() {
		bank ^= 1
	}

	start := bank*s.geo.BankSize() + offset
	return s.mem[start : start+length]
}

func (s *Sim) Status() nvmctrl.Status {
	var status nvmctrl.Status
	if s.afirst() {
		status |= nvmctrl.StatusAFirst
	}

	if s.Stuck {
		return status
	}
	if s.busy > 0 {
		s.busy--
		return status
	}

	return status | nvmctrl.StatusReady
}

func (s *Sim) ready() bool {
	return !s.Stuck && s.busy == 0
}

func (s *Sim) IntFlags() nvmctrl.IntFlag {
	return s.flags
}

func (s *Sim) ClearIntFlags(flags nvmctrl.IntFlag) {
	s.flags &^= flags
}

func (s *Sim) SetAddress(addr uint32) {
	s.addr = addr
}

func (s *Sim) SetWriteMode(mode nvmctrl.WriteMode) {
	s.mode = mode
}

// Commands returns how often cmd was executed.
func (s *Sim) Commands(cmd nvmctrl.Command) int {
	return s.commands[cmd]
}

func (s *Sim) Execute(cmd nvmctrl.Command, key uint8) {
	if key != nvmctrl.Key {
		s.flags |= nvmctrl.IntFlagProgramError
		return
	}
	if !s.ready() {
		s.flags |= nvmctrl.IntFlagCommandError
		return
	}

	s.commands[cmd]++

	switch cmd {
	case nvmctrl.CmdEraseBlock:
		s.erase(s.addr&^(s.geo.BlockSize-1), s.geo.BlockSize, false)

	case nvmctrl.CmdErasePage:
		s.erase(s.addr&^(s.geo.PageSize-1), s.geo.PageSize, true)

	case nvmctrl.CmdWritePage:
		if s.geo.InUserPage(s.addr, 1) {
			s.flags |= nvmctrl.IntFlagProgramError
			break
		}
		s.program(s.addr&^(s.geo.PageSize-1), s.geo.PageSize)

	case nvmctrl.CmdWriteQuadWord:
		s.program(s.addr&^15, 16)

	case nvmctrl.CmdPageBufferClear:
		fill(s.pageBuf)

	case nvmctrl.CmdBankSwapReset:
		s.mem[len(s.mem)-1] ^= stateAFirst
		s.reset()
		return

	default:
		s.flags |= nvmctrl.IntFlagCommandError
		return
	}

	s.flags |= nvmctrl.IntFlagDone
	s.busy = s.BusyPolls
}

func (s *Sim) reset() {
	fill(s.pageBuf)
	s.mode = nvmctrl.WriteModeManual
	s.flags = 0
	s.busy = 0
	s.Resets++

	if s.OnReset != nil {
		s.OnReset()
	}
}

/* Only the user page is erased page wise, the main array uses blocks */
func (s *Sim) erase(addr uint32, length uint32, userPage bool) {
	if s.geo.InUserPage(addr, length) != userPage {
		s.flags |= nvmctrl.IntFlagAddressError
		return
	}

	target := s.resolve(addr, length)
	if target == nil {
		s.flags |= nvmctrl.IntFlagAddressError
		return
	}
	fill(target)
}

/* Flash cells can only go from 1 to 0 */
func (s *Sim) program(addr uint32, length uint32) {
	target := s.resolve(addr, length)
	if target == nil {
		s.flags |= nvmctrl.IntFlagAddressError
		return
	}

	src := s.pageBuf[addr%s.geo.PageSize:]
	for i := range target {
		target[i] &= src[i]
		src[i] = 0xff
	}
}

func (s *Sim) StoreWord(addr uint32, value uint32) {
	if !s.ready() {
		s.flags |= nvmctrl.IntFlagCommandError
		return
	}
	if addr%4 != 0 || s.resolve(addr, 4) == nil {
		s.flags |= nvmctrl.IntFlagAddressError
		return
	}

	binary.LittleEndian.PutUint32(s.pageBuf[addr%s.geo.PageSize:], value)

	/* The automatic modes are approximated by committing every store */
	if s.mode != nvmctrl.WriteModeManual {
		s.program(addr, 4)
	}
}

func (s *Sim) ReadAt(p []byte, off int64) (int, error) {
	index := 0
	for len(p) > 0 {
		addr := uint32(off) + uint32(index)

		n := len(p)
		if s.geo.InFlash(addr, 1) {
			if remaining := int(s.geo.BankSize() - addr%s.geo.BankSize()); n > remaining {
				n = remaining
			}
		}

		src := s.resolve(addr, uint32(n))
		if src == nil {
			return index, nvmctrl.ErrorAddress
		}

		copy(p, src)
		index += n
		p = p[n:]
	}

	return index, nil
}

// Peek reads logical memory without going through the controller.
func (s *Sim) Peek(addr uint32, length uint32) []byte {
	buf := make([]byte, length)
	if _, err := s.ReadAt(buf, int64(addr)); err != nil {
		return nil
	}
	return buf
}

// Poke overwrites logical memory without erasing, for test setup and fault
// injection.
func (s *Sim) Poke(addr uint32, data []byte) bool {
	for len(data) > 0 {
		n := uint32(len(data))
		if s.geo.InFlash(addr, 1) {
			if remaining := s.geo.BankSize() - addr%s.geo.BankSize(); n > remaining {
				n = remaining
			}
		}

		target := s.resolve(addr, n)
		if target == nil {
			return false
		}

		copy(target, data)
		addr += n
		data = data[n:]
	}

	return true
}
