package bus

import (
	"io"

	"github.com/anthropics/gbcore/internal/cart"
	"github.com/anthropics/gbcore/internal/ppu"
	"github.com/anthropics/gbcore/internal/timer"
)

// Bus wires the CPU-visible 16-bit address space to the cartridge, work
// RAM, high RAM, PPU, timer, and the joypad/serial IO registers. Guest
// access (CPU loads/stores) goes through Read/Write, which implements the
// trap table: ROM writes are routed to the cartridge's mapper, DIV/LY
// writes reset their counters, TAC writes recompute the timer divisor, and
// 0xFF46 triggers an OAM DMA. ReadPriv/WritePriv bypass that table for the
// interrupt controller, which must touch IF/IE without side effects.
type Bus struct {
	cart cart.Cartridge

	// Work RAM 0xC000-0xDFFF; Echo RAM 0xE000-0xFDFF mirrors 0xC000-0xDDFF.
	wram [0x2000]byte

	// High RAM 0xFF80-0xFFFE.
	hram [0x7F]byte

	ppu *ppu.PPU
	tmr *timer.Timer

	ie    byte // 0xFFFF
	ifReg byte // 0xFF0F, lower 5 bits used

	joypSelect byte // last written 0xFF00 bits 5-4
	joypad     byte // pressed-button bitmask, see Joyp* constants
	joypLower4 byte // last computed active-low lower nibble, for edge detection

	sb byte      // 0xFF01
	sc byte      // 0xFF02
	sw io.Writer // optional sink for completed serial transfers

	dma byte // 0xFF46, last value written

	bootROM     []byte
	bootEnabled bool

	// Audio and other unmodeled IO registers (0xFF10-0xFF3F, 0xFF4C-0xFF7F
	// minus 0xFF50) are backed by a plain byte store: no synthesis, but
	// guest reads/writes round-trip so ROMs that probe or save/restore
	// these registers don't observe a stuck bus.
	ioFallback [0x100]byte
}

// New constructs a Bus around a cartridge built from the ROM bytes.
func New(rom []byte) *Bus {
	return NewWithCartridge(cart.NewCartridge(rom))
}

// NewWithCartridge wires a provided cartridge implementation.
func NewWithCartridge(c cart.Cartridge) *Bus {
	b := &Bus{cart: c}
	b.ppu = ppu.New(func(bit int) { b.ifReg |= 1 << bit })
	b.tmr = timer.New(func() { b.ifReg |= 1 << 2 })
	return b
}

// PPU returns the bus's PPU for renderers that need framebuffer access.
func (b *Bus) PPU() *ppu.PPU { return b.ppu }

// Cart returns the underlying cartridge.
func (b *Bus) Cart() cart.Cartridge { return b.cart }

// Read implements guest (CPU) loads. Reads have no side effects; VRAM/OAM
// reads return 0xFF while the PPU mode blocks them, and 0x0000-0x00FF reads
// the boot ROM while it is mapped.
func (b *Bus) Read(addr uint16) byte {
	switch {
	case addr < 0x8000:
		if b.bootEnabled && addr < 0x0100 && len(b.bootROM) >= 0x100 {
			return b.bootROM[addr]
		}
		return b.cart.Read(addr)
	case addr >= 0x8000 && addr <= 0x9FFF:
		return b.ppu.CPURead(addr)
	case addr >= 0xA000 && addr <= 0xBFFF:
		return b.cart.Read(addr)
	case addr >= 0xC000 && addr <= 0xDFFF:
		return b.wram[addr-0xC000]
	case addr >= 0xE000 && addr <= 0xFDFF:
		return b.wram[addr-0x2000-0xC000]
	case addr >= 0xFE00 && addr <= 0xFE9F:
		return b.ppu.CPURead(addr)
	case addr >= 0xFEA0 && addr <= 0xFEFF:
		return 0xFF // unusable region
	case addr == 0xFF00:
		return b.readJoyp()
	case addr == 0xFF01:
		return b.sb
	case addr == 0xFF02:
		return 0x7E | (b.sc & 0x81)
	case addr == 0xFF04:
		return b.tmr.DIV
	case addr == 0xFF05:
		return b.tmr.TIMA
	case addr == 0xFF06:
		return b.tmr.TMA
	case addr == 0xFF07:
		return 0xF8 | (b.tmr.TAC & 0x07)
	case addr == 0xFF0F:
		return 0xE0 | (b.ifReg & 0x1F)
	case addr == 0xFF40, addr == 0xFF41, addr == 0xFF42, addr == 0xFF43,
		addr == 0xFF44, addr == 0xFF45,
		addr == 0xFF47, addr == 0xFF48, addr == 0xFF49,
		addr == 0xFF4A, addr == 0xFF4B:
		return b.ppu.CPURead(addr)
	case addr == 0xFF46:
		return b.dma
	case addr == 0xFF50:
		return 0xFF
	case addr >= 0xFF80 && addr <= 0xFFFE:
		return b.hram[addr-0xFF80]
	case addr == 0xFFFF:
		return b.ie
	default:
		return b.ioFallback[addr-0xFF00]
	}
}

// Write implements guest (CPU) stores, including the trap table: ROM
// writes go to the cartridge mapper, DIV/LY resets, TAC recompute, and
// OAM DMA trigger.
func (b *Bus) Write(addr uint16, value byte) {
	switch {
	case addr < 0x8000:
		b.cart.Write(addr, value)
	case addr >= 0x8000 && addr <= 0x9FFF:
		b.ppu.CPUWrite(addr, value)
	case addr >= 0xA000 && addr <= 0xBFFF:
		b.cart.Write(addr, value)
	case addr >= 0xC000 && addr <= 0xDFFF:
		b.wram[addr-0xC000] = value
	case addr >= 0xE000 && addr <= 0xFDFF:
		b.wram[addr-0x2000-0xC000] = value
	case addr >= 0xFE00 && addr <= 0xFE9F:
		b.ppu.CPUWrite(addr, value)
	case addr >= 0xFEA0 && addr <= 0xFEFF:
		// unusable, writes ignored
	case addr == 0xFF00:
		b.joypSelect = value & 0x30
		b.updateJoypadIRQ()
	case addr == 0xFF01:
		b.sb = value
	case addr == 0xFF02:
		b.sc = value & 0x81
		if b.sc&0x80 != 0 {
			if b.sw != nil {
				_, _ = b.sw.Write([]byte{b.sb})
			}
			b.ifReg |= 1 << 3
			b.sc &^= 0x80
		}
	case addr == 0xFF04:
		b.tmr.WriteDIV()
	case addr == 0xFF05:
		b.tmr.WriteTIMA(value)
	case addr == 0xFF06:
		b.tmr.WriteTMA(value)
	case addr == 0xFF07:
		b.tmr.WriteTAC(value)
	case addr == 0xFF0F:
		b.ifReg = value & 0x1F
	case addr == 0xFF40, addr == 0xFF41, addr == 0xFF42, addr == 0xFF43,
		addr == 0xFF44, addr == 0xFF45,
		addr == 0xFF47, addr == 0xFF48, addr == 0xFF49,
		addr == 0xFF4A, addr == 0xFF4B:
		b.ppu.CPUWrite(addr, value)
	case addr == 0xFF46:
		b.runDMA(value)
	case addr == 0xFF50:
		if value != 0x00 {
			b.bootEnabled = false
		}
	case addr >= 0xFF80 && addr <= 0xFFFE:
		b.hram[addr-0xFF80] = value
	case addr == 0xFFFF:
		b.ie = value
	default:
		b.ioFallback[addr-0xFF00] = value
	}
}

// ReadPriv gives the interrupt controller trap-free access. Reads have no
// traps to begin with, so this is just Read.
func (b *Bus) ReadPriv(addr uint16) byte { return b.Read(addr) }

// WritePriv gives the interrupt controller trap-free access to IF/IE; any
// other address falls back to the guest path, since nothing else needs a
// privileged store through the bus (the PPU and timer mutate their own
// state directly rather than looping back through Write).
func (b *Bus) WritePriv(addr uint16, v byte) {
	switch addr {
	case 0xFF0F:
		b.ifReg = v & 0x1F
	case 0xFFFF:
		b.ie = v
	default:
		b.Write(addr, v)
	}
}

// runDMA performs the synchronous 160-byte OAM DMA transfer triggered by a
// write to 0xFF46. The guest sees no extra cycles charged for this beyond
// the originating instruction; the scheduler does not model DMA timing.
func (b *Bus) runDMA(value byte) {
	b.dma = value
	src := uint16(value) << 8
	for i := 0; i < 0xA0; i++ {
		b.ppu.WriteOAM(i, b.Read(src+uint16(i)))
	}
}

// Tick advances the timer and PPU by cycles CPU cycles.
func (b *Bus) Tick(cycles int) {
	b.tmr.Tick(cycles)
	b.ppu.Tick(cycles)
}

// Joypad button bitmasks for SetJoypadState. Bits set mean "pressed".
const (
	JoypRight     = 1 << 0
	JoypLeft      = 1 << 1
	JoypUp        = 1 << 2
	JoypDown      = 1 << 3
	JoypA         = 1 << 4
	JoypB         = 1 << 5
	JoypSelectBtn = 1 << 6
	JoypStart     = 1 << 7
)

// SetJoypadState sets which buttons are currently pressed (Joyp* mask).
func (b *Bus) SetJoypadState(mask byte) {
	b.joypad = mask
	b.updateJoypadIRQ()
}

// SetSerialWriter sets a sink that receives bytes written via the serial port.
func (b *Bus) SetSerialWriter(w io.Writer) { b.sw = w }

// SetBootROM loads a DMG boot ROM to overlay 0x0000-0x00FF until disabled
// by a write to 0xFF50.
func (b *Bus) SetBootROM(data []byte) {
	b.bootROM = nil
	b.bootEnabled = false
	if len(data) >= 0x100 {
		b.bootROM = make([]byte, 0x100)
		copy(b.bootROM, data[:0x100])
		b.bootEnabled = true
	}
}

func (b *Bus) readJoyp() byte {
	res := byte(0xC0 | (b.joypSelect & 0x30) | 0x0F)
	if b.joypSelect&0x10 == 0 {
		if b.joypad&JoypRight != 0 {
			res &^= 0x01
		}
		if b.joypad&JoypLeft != 0 {
			res &^= 0x02
		}
		if b.joypad&JoypUp != 0 {
			res &^= 0x04
		}
		if b.joypad&JoypDown != 0 {
			res &^= 0x08
		}
	}
	if b.joypSelect&0x20 == 0 {
		if b.joypad&JoypA != 0 {
			res &^= 0x01
		}
		if b.joypad&JoypB != 0 {
			res &^= 0x02
		}
		if b.joypad&JoypSelectBtn != 0 {
			res &^= 0x04
		}
		if b.joypad&JoypStart != 0 {
			res &^= 0x08
		}
	}
	return res
}

// updateJoypadIRQ recomputes JOYP's active-low lower nibble and raises IF
// bit 4 on any 1->0 transition (a button becoming selected-and-pressed).
func (b *Bus) updateJoypadIRQ() {
	newLower := byte(0x0F)
	if b.joypSelect&0x10 == 0 {
		if b.joypad&JoypRight != 0 {
			newLower &^= 0x01
		}
		if b.joypad&JoypLeft != 0 {
			newLower &^= 0x02
		}
		if b.joypad&JoypUp != 0 {
			newLower &^= 0x04
		}
		if b.joypad&JoypDown != 0 {
			newLower &^= 0x08
		}
	}
	if b.joypSelect&0x20 == 0 {
		if b.joypad&JoypA != 0 {
			newLower &^= 0x01
		}
		if b.joypad&JoypB != 0 {
			newLower &^= 0x02
		}
		if b.joypad&JoypSelectBtn != 0 {
			newLower &^= 0x04
		}
		if b.joypad&JoypStart != 0 {
			newLower &^= 0x08
		}
	}
	falling := b.joypLower4 &^ newLower
	if falling != 0 {
		b.ifReg |= 1 << 4
	}
	b.joypLower4 = newLower
}
