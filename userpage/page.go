package userpage

import "encoding/binary"

const (
	Size  = 512
	Words = Size / 4

	// Magic in word MagicWord marks a page that was already checked and
	// repaired by Update.
	Magic     uint32 = 0xa5f12945
	MagicWord        = 8

	blankWord = 4
)

// Page is a copy of the user page. The first eight words hold the factory
// calibration which the chip reads at power on.
type Page [Size]byte

func (p *Page) Word(i int) uint32 {
	return binary.LittleEndian.Uint32(p[i*4:])
}

func (p *Page) SetWord(i int, value uint32) {
	binary.LittleEndian.PutUint32(p[i*4:], value)
}

func (p *Page) Byte(i int) byte {
	return p[i]
}

func (p *Page) SetByte(i int, value byte) {
	p[i] = value
}

func (p *Page) field(word int, pos uint, width uint) uint32 {
	return (p.Word(word) >> pos) & (1<<width - 1)
}

func (p *Page) setField(word int, pos uint, width uint, value uint32) {
	mask := uint32(1<<width-1) << pos
	p.SetWord(word, p.Word(word)&^mask|(value<<pos)&mask)
}

// BootProt protects (15-BootProt)*8kB at the start of flash.
func (p *Page) BootProt() uint8 {
	return uint8(p.field(0, 26, 4))
}

func (p *Page) SetBootProt(value uint8) {
	p.setField(0, 26, 4, uint32(value))
}

func (p *Page) EEPROMBlocks() uint8 {
	return uint8(p.field(1, 0, 4))
}

func (p *Page) SetEEPROMBlocks(value uint8) {
	p.setField(1, 0, 4, uint32(value))
}

// EEPROMPageSize is the page size code, pages are 4<<code bytes.
func (p *Page) EEPROMPageSize() uint8 {
	return uint8(p.field(1, 4, 3))
}

func (p *Page) SetEEPROMPageSize(value uint8) {
	p.setField(1, 4, 3, uint32(value))
}

func (p *Page) Updated() bool {
	return p.Word(MagicWord) == Magic
}

/* Values read from a working device, other devices might have been
 * calibrated differently. Only used when the page was found erased. */
var factoryWords = [...]uint32{
	0xfe9a9239,
	0xaeecff80,
	0xffffffff,
	0xffffffff,
	0x00804010,
}

func FactoryDefaults() Page {
	var p Page
	for i := range p {
		p[i] = 0xff
	}
	for i, m := range factoryWords {
		p.SetWord(i, m)
	}
	return p
}
