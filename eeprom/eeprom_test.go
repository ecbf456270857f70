package eeprom

import (
	"bytes"
	"testing"
	"time"

	"github.com/BertoldVdb/samnvm/flash"
	"github.com/BertoldVdb/samnvm/nvmctrl"
	"github.com/BertoldVdb/samnvm/nvmsim"
	"github.com/pkg/errors"
)

var geo = nvmctrl.SAMD51J19

func newTestEEPROM(blocks uint8) (*EEPROM, *nvmsim.Sim) {
	sim := nvmsim.New(geo)
	sim.BusyPolls = 2

	nvm := nvmctrl.New(sim, geo)
	nvm.Timeout = time.Second

	return New(flash.New(nvm), blocks, 5), sim
}

func TestSizes(t *testing.T) {
	e, _ := newTestEEPROM(2)

	if e.SizeAllocated() != 2*8192 {
		t.Error("Wrong allocated size", e.SizeAllocated())
	}
	if e.Size() != 2*(8192-512) {
		t.Error("Wrong usable size", e.Size())
	}
	if e.PageSize() != 128 {
		t.Error("Wrong page size", e.PageSize())
	}
	if e.Start() != 0x44000000 {
		t.Errorf("Wrong start %08x", e.Start())
	}

	if New(e.flash, 15, 5).SizeAllocated() != MaxBlocks*8192 {
		t.Error("Block count not limited")
	}
}

func TestBufferedBoundaryWrite(t *testing.T) {
	e, sim := newTestEEPROM(1)

	if err := e.PrepareWrite(); err != nil {
		t.Fatal(err)
	}

	data := []byte("0123456789abcdef")
	if err := e.Write(120, data); err != nil {
		t.Fatal(err)
	}
	if e.Commits() != 1 {
		t.Error("Expected one implicit commit, got", e.Commits())
	}

	/* Staged data is visible before the flush */
	rb := make([]byte, len(data))
	if err := e.Read(120, rb); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(rb, data) {
		t.Errorf("Readback before flush: %q", rb)
	}

	if err := e.Flush(); err != nil {
		t.Fatal(err)
	}
	if e.Commits() != 2 {
		t.Error("Expected flush to commit the second page, got", e.Commits())
	}

	start := geo.BankSize() - 8192 + 512
	if got := sim.Peek(start+120, uint32(len(data))); !bytes.Equal(got, data) {
		t.Errorf("Flash content: %q", got)
	}

	if err := e.Flush(); err != nil || e.Commits() != 2 {
		t.Error("Flush of a clean buffer committed again")
	}

	if err := e.Check(); err != nil {
		t.Error(err)
	}
}

func TestBufferedSamePage(t *testing.T) {
	e, _ := newTestEEPROM(1)
	e.PrepareWrite()

	for i := 0; i < 10; i++ {
		if err := e.Write(uint32(i), []byte{byte(i)}); err != nil {
			t.Fatal(err)
		}
	}
	if e.Commits() != 0 {
		t.Error("Writes inside one page were committed", e.Commits())
	}

	e.Flush()
	if e.Commits() != 1 {
		t.Error("Expected a single commit, got", e.Commits())
	}
}

func TestWriteThrough(t *testing.T) {
	e, sim := newTestEEPROM(1)

	if err := e.Write(0, []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if e.Commits() != 1 {
		t.Error("Write was not committed", e.Commits())
	}
	if sim.Commands(nvmctrl.CmdEraseBlock) != 1 {
		t.Error("Expected one block erase")
	}

	/* Second write keeps the first one */
	if err := e.Write(1000, []byte{4}); err != nil {
		t.Fatal(err)
	}

	rb := make([]byte, 3)
	e.Read(0, rb)
	if !bytes.Equal(rb, []byte{1, 2, 3}) {
		t.Errorf("Earlier data lost: %x", rb)
	}

	hdr := readHeader(sim.Peek(geo.BankSize()-8192, 16))
	if hdr.magic != headerMagic || hdr.seq != 2 {
		t.Errorf("Unexpected header %+v", hdr)
	}
}

func TestSecondBlock(t *testing.T) {
	e, sim := newTestEEPROM(2)

	offset := e.Size() - 4
	if err := e.Write(offset, []byte{9, 8, 7, 6}); err != nil {
		t.Fatal(err)
	}

	if got := sim.Peek(geo.BankSize()-4, 4); !bytes.Equal(got, []byte{9, 8, 7, 6}) {
		t.Errorf("Last bytes not at the end of the bank: %x", got)
	}
}

func TestOutOfRange(t *testing.T) {
	e, _ := newTestEEPROM(1)

	if err := e.Write(e.Size()-1, []byte{1, 2}); !errors.Is(err, ErrorOutOfRange) {
		t.Error("Write past the end gave", err)
	}
	if err := e.Read(e.Size(), make([]byte, 1)); !errors.Is(err, ErrorOutOfRange) {
		t.Error("Read past the end gave", err)
	}

	e, _ = newTestEEPROM(0)
	if err := e.Write(0, []byte{1}); !errors.Is(err, ErrorOutOfRange) {
		t.Error("Write to disabled EEPROM gave", err)
	}
}

func TestErase(t *testing.T) {
	e, _ := newTestEEPROM(1)
	e.Write(0, []byte{0, 0, 0, 0})

	e.PrepareWrite()
	e.Write(200, []byte{0})

	if err := e.Erase(); err != nil {
		t.Fatal(err)
	}

	rb := make([]byte, e.Size())
	if err := e.Read(0, rb); err != nil {
		t.Fatal(err)
	}
	if !blank(rb) {
		t.Error("EEPROM not blank after erase")
	}
	if err := e.Check(); err != nil {
		t.Error("Blank EEPROM failed check:", err)
	}
}

func TestCheckCorrupt(t *testing.T) {
	e, sim := newTestEEPROM(1)
	e.Write(10, []byte{0x55})

	if err := e.Check(); err != nil {
		t.Fatal(err)
	}

	sim.Poke(geo.BankSize()-8192+512+11, []byte{0x00})
	if err := e.Check(); !errors.Is(err, ErrorCorrupt) {
		t.Error("Corrupted data not detected:", err)
	}

	sim.Poke(geo.BankSize()-8192, []byte{0x00})
	if err := e.Check(); !errors.Is(err, ErrorCorrupt) {
		t.Error("Corrupted header not detected:", err)
	}
}

func TestCheckSequence(t *testing.T) {
	e, sim := newTestEEPROM(1)
	e.Write(10, []byte{0x55})

	hdr := readHeader(sim.Peek(geo.BankSize()-8192, 16))
	if hdr.seq != 1 {
		t.Fatal("First commit has sequence", hdr.seq)
	}

	/* Valid magic and CRC, sequence cleared */
	sim.Poke(geo.BankSize()-8192+headerWordSeq*4, []byte{0, 0, 0, 0})
	if err := e.Check(); !errors.Is(err, ErrorCorrupt) {
		t.Error("Block without commit sequence accepted:", err)
	}

	/* Rewriting the block starts counting again */
	e.Write(11, []byte{0x66})
	if err := e.Check(); err != nil {
		t.Error(err)
	}
}

func TestPrepareWriteNotReady(t *testing.T) {
	e, sim := newTestEEPROM(1)
	sim.Stuck = true

	if err := e.PrepareWrite(); err == nil {
		t.Fatal("PrepareWrite succeeded on a stuck controller")
	}
	if e.buffered {
		t.Error("Buffered mode enabled although the flash was not ready")
	}

	sim.Stuck = false
	if err := e.PrepareWrite(); err != nil || !e.buffered {
		t.Error("PrepareWrite failed on a ready controller:", err)
	}
}

func TestRelocate(t *testing.T) {
	e, sim := newTestEEPROM(1)
	e.PrepareWrite()

	data := []byte("settings")
	e.Write(300, data)

	if err := e.Relocate(); err != nil {
		t.Fatal(err)
	}
	if e.Commits() != 1 {
		t.Error("Relocate did not flush")
	}

	if err := e.flash.SwapBanks(); err != nil {
		t.Fatal(err)
	}
	if sim.Resets != 1 {
		t.Fatal("Swap did not reset")
	}

	rb := make([]byte, len(data))
	if err := e.Read(300, rb); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(rb, data) {
		t.Errorf("Data lost by swap: %q", rb)
	}
	if err := e.Check(); err != nil {
		t.Error(err)
	}
}
