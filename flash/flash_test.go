package flash

import (
	"bytes"
	"crypto/rand"
	"testing"
	"time"

	"github.com/BertoldVdb/samnvm/nvmctrl"
	"github.com/BertoldVdb/samnvm/nvmsim"
	"github.com/pkg/errors"
)

func newTestFlash() (*Flash, *nvmsim.Sim) {
	sim := nvmsim.New(nvmctrl.SAMD51J19)
	sim.BusyPolls = 3

	nvm := nvmctrl.New(sim, nvmctrl.SAMD51J19)
	nvm.Timeout = time.Second

	return New(nvm), sim
}

func getRandomBuf(length int) []byte {
	out := make([]byte, length)
	rand.Read(out)
	return out
}

func TestWritePageRoundTrip(t *testing.T) {
	f, sim := newTestFlash()

	for _, offset := range []uint32{0x0000, 0x4200, 0x3fe00, 0x40000, 0x7fe00} {
		page := getRandomBuf(int(f.PageSize()))

		if err := f.EraseBlock(offset &^ (f.BlockSize() - 1)); err != nil {
			t.Fatal("Erase failed:", err)
		}
		if err := f.WritePage(offset, Words(page)); err != nil {
			t.Fatal("Write failed:", err)
		}
		if err := f.WaitReady(); err != nil {
			t.Fatal("Write did not complete:", err)
		}

		rb := make([]byte, len(page))
		if _, err := f.Read(offset, rb); err != nil {
			t.Fatal("Read failed:", err)
		}
		if !bytes.Equal(rb, page) {
			t.Errorf("Readback at %08x differs from written page", offset)
		}
	}

	if sim.Commands(nvmctrl.CmdWritePage) != 5 || sim.Commands(nvmctrl.CmdPageBufferClear) != 5 {
		t.Error("Unexpected command count",
			sim.Commands(nvmctrl.CmdWritePage), sim.Commands(nvmctrl.CmdPageBufferClear))
	}
}

func TestWritePageAutoMode(t *testing.T) {
	f, sim := newTestFlash()

	/* A previous user left the controller in an automatic mode */
	sim.SetWriteMode(nvmctrl.WriteModeAutoPage)

	page := getRandomBuf(int(f.PageSize()))
	if err := f.WritePage(0x2000, Words(page)); err != nil {
		t.Fatal(err)
	}
	if err := f.WaitReady(); err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(sim.Peek(0x2000, f.PageSize()), page) {
		t.Error("Page not written correctly")
	}
}

func TestEraseBlock(t *testing.T) {
	f, sim := newTestFlash()

	offset := uint32(0x12000)
	sim.Poke(offset, getRandomBuf(int(f.BlockSize())))
	sim.Poke(offset+f.BlockSize(), make([]byte, 16))

	if err := f.EraseBlock(offset); err != nil {
		t.Fatal(err)
	}
	if err := f.WaitReady(); err != nil {
		t.Fatal(err)
	}

	rb := make([]byte, f.BlockSize())
	if _, err := f.Read(offset, rb); err != nil {
		t.Fatal(err)
	}
	for i, m := range rb {
		if m != 0xff {
			t.Fatalf("Byte %d not erased: %02x", i, m)
		}
	}

	/* Neighbours are untouched */
	if !bytes.Equal(sim.Peek(offset+f.BlockSize(), 16), make([]byte, 16)) {
		t.Error("Next block was erased as well")
	}
}

func TestWriteBlock(t *testing.T) {
	f, sim := newTestFlash()

	offset := uint32(0x44000)
	sim.Poke(offset, bytes.Repeat([]byte{0}, int(f.BlockSize())))

	block := getRandomBuf(int(f.BlockSize()))
	if err := f.WriteBlock(offset, Words(block)); err != nil {
		t.Fatal(err)
	}

	/* WriteBlock is synchronous, no extra wait needed */
	if !bytes.Equal(sim.Peek(offset, f.BlockSize()), block) {
		t.Error("Block not written correctly")
	}

	if sim.Commands(nvmctrl.CmdEraseBlock) != 1 {
		t.Error("Expected one block erase, got", sim.Commands(nvmctrl.CmdEraseBlock))
	}
	if n := sim.Commands(nvmctrl.CmdWritePage); n != int(f.BlockSize()/f.PageSize()) {
		t.Error("Unexpected number of page writes:", n)
	}
}

func TestBankSwap(t *testing.T) {
	f, sim := newTestFlash()

	if f.Bank() != 0 {
		t.Error("Fresh device should report bank 0")
	}

	block := getRandomBuf(int(f.BlockSize()))
	if err := f.WriteBlock(f.Size()/2, Words(block)); err != nil {
		t.Fatal(err)
	}

	if err := f.SwapBanks(); err != nil {
		t.Fatal(err)
	}

	if sim.Resets != 1 {
		t.Error("Swap did not reset the chip")
	}
	if f.Bank() != 1 {
		t.Error("Bank did not change after swap")
	}
	if !bytes.Equal(sim.Peek(0, f.BlockSize()), block) {
		t.Error("Secondary bank is not mapped first after swap")
	}
}

func TestAddressError(t *testing.T) {
	f, _ := newTestFlash()

	if err := f.EraseBlock(f.Size() + f.BlockSize()); err != nil {
		t.Fatal(err)
	}

	if err := f.WaitReady(); !errors.Is(err, nvmctrl.ErrorAddress) {
		t.Error("Expected address error, got", err)
	}

	/* Flags are cleared once reported */
	if err := f.WaitReady(); err != nil {
		t.Error("Error reported twice:", err)
	}
}

func TestWordsBytes(t *testing.T) {
	w := Words([]byte{1, 2, 3, 4, 5, 6, 7, 8, 9})
	if len(w) != 2 || w[0] != 0x04030201 || w[1] != 0x08070605 {
		t.Errorf("Words conversion wrong: %08x", w)
	}

	if !bytes.Equal(Bytes(w), []byte{1, 2, 3, 4, 5, 6, 7, 8}) {
		t.Error("Bytes conversion wrong")
	}
}
