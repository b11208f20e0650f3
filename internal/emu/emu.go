// Package emu is the scheduler: it owns the CPU/bus/timer/interrupt/PPU
// quartet, drives the fixed per-step algorithm one frame at a time, and is
// the seam a host (CLI, ebiten UI, test harness) loads ROMs and pumps
// frames through.
package emu

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/anthropics/gbcore/internal/bus"
	"github.com/anthropics/gbcore/internal/cart"
	"github.com/anthropics/gbcore/internal/cpu"
	"github.com/anthropics/gbcore/internal/interrupt"
)

// cyclesPerFrame is CPU_CLOCK_SPEED/FRAME_RATE = 4,194,304/60.
const cyclesPerFrame = 4194304 / 60

// RomLoadError is returned when a ROM fails to load: missing file, too
// small to contain a header, or any other reason a cartridge could not be
// constructed.
type RomLoadError struct {
	Path   string
	Reason string
}

func (e *RomLoadError) Error() string {
	return fmt.Sprintf("failed to load ROM %q: %s", e.Path, e.Reason)
}

// Buttons is the joypad state a host polls once per frame and hands to
// SetButtons before calling RunFrame.
type Buttons struct {
	A, B, Start, Select   bool
	Up, Down, Left, Right bool
}

func (b Buttons) mask() byte {
	var m byte
	if b.Right {
		m |= bus.JoypRight
	}
	if b.Left {
		m |= bus.JoypLeft
	}
	if b.Up {
		m |= bus.JoypUp
	}
	if b.Down {
		m |= bus.JoypDown
	}
	if b.A {
		m |= bus.JoypA
	}
	if b.B {
		m |= bus.JoypB
	}
	if b.Select {
		m |= bus.JoypSelectBtn
	}
	if b.Start {
		m |= bus.JoypStart
	}
	return m
}

// Machine wires together one cartridge's worth of CPU/bus state and runs
// the scheduler loop described by the per-step algorithm: step the CPU,
// latch any pending EI/DI toggle, advance timer+PPU by the cycles spent,
// then let the interrupt controller service a pending source (charging its
// 20 cycles too) before looping.
type Machine struct {
	cfg    Config
	cpu    *cpu.CPU
	bus    *bus.Bus
	header *cart.Header
}

// New constructs a Machine with no cartridge loaded; call LoadCartridge or
// LoadROMFromFile before RunFrame.
func New(cfg Config) *Machine {
	return &Machine{cfg: cfg}
}

// LoadCartridge builds a fresh bus/CPU around rom. If bootROM is non-empty
// it is mapped over 0x0000-0x00FF until the guest disables it (0xFF50);
// otherwise the CPU starts at 0x0100 in the typical post-boot register
// state of spec.md §6.
func (m *Machine) LoadCartridge(rom []byte, bootROM []byte) error {
	header, err := cart.ParseHeader(rom)
	if err != nil {
		return &RomLoadError{Reason: err.Error()}
	}

	b := bus.NewWithCartridge(cart.NewCartridge(rom))
	c := cpu.New(b)

	if len(bootROM) > 0 {
		b.SetBootROM(bootROM)
		c.SetPC(0x0000)
	} else {
		c.ResetNoBoot()
		c.SetPC(0x0100)
		applyPostBootRegisters(b)
	}

	m.bus = b
	m.cpu = c
	m.header = header

	if m.cfg.Trace {
		log.Printf("loaded cartridge: title=%q type=%s(%#02x) rom=%dKB ram=%dKB",
			header.Title, header.CartTypeStr, header.CartType,
			header.ROMSizeBytes/1024, header.RAMSizeBytes/1024)
	}
	return nil
}

// LoadROMFromFile reads rom from disk and loads it with no boot ROM.
func (m *Machine) LoadROMFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &RomLoadError{Path: path, Reason: err.Error()}
	}
	if err := m.LoadCartridge(data, nil); err != nil {
		if rle, ok := err.(*RomLoadError); ok {
			rle.Path = path
			return rle
		}
		return err
	}
	return nil
}

// applyPostBootRegisters writes the post-bootrom IO register image of
// spec.md §6, the state the real DMG boot ROM leaves behind at 0x0100.
func applyPostBootRegisters(b *bus.Bus) {
	regs := []struct {
		addr uint16
		val  byte
	}{
		{0xFF05, 0x00}, {0xFF06, 0x00}, {0xFF07, 0x00},
		{0xFF10, 0x80}, {0xFF11, 0xBF}, {0xFF12, 0xF3}, {0xFF14, 0xBF},
		{0xFF16, 0x3F}, {0xFF17, 0x00}, {0xFF19, 0xBF},
		{0xFF1A, 0x7F}, {0xFF1B, 0xFF}, {0xFF1C, 0x9F}, {0xFF1E, 0xBF},
		{0xFF20, 0xFF}, {0xFF21, 0x00}, {0xFF22, 0x00}, {0xFF23, 0xBF},
		{0xFF24, 0x77}, {0xFF25, 0xF3}, {0xFF26, 0xF1},
		{0xFF40, 0x91}, {0xFF42, 0x00}, {0xFF43, 0x00}, {0xFF45, 0x00},
		{0xFF47, 0xFC}, {0xFF48, 0xFF}, {0xFF49, 0xFF}, {0xFF4A, 0x00}, {0xFF4B, 0x00},
		{0xFFFF, 0x00},
	}
	for _, r := range regs {
		b.Write(r.addr, r.val)
	}
}

// RunFrame advances the machine by one frame (≈69,905 cycles at 60fps),
// implementing spec.md §4.6's per-step algorithm: CPU step, pending-IME
// latch, timer+PPU advance, interrupt service (charging its 20 cycles
// too). It returns the CPU's error the instant Step reports one, leaving
// the framebuffer exactly as last rendered.
func (m *Machine) RunFrame(input Buttons) error {
	m.bus.SetJoypadState(input.mask())

	var total int
	for total < cyclesPerFrame {
		n, err := m.cpu.Step()
		if err != nil {
			return err
		}
		m.cpu.TickIMEPending()
		m.bus.Tick(n)
		total += n

		if fired, intCycles := interrupt.Service(m.bus, m.cpu); fired {
			m.bus.Tick(intCycles)
			total += intCycles
		}
	}
	return nil
}

// StepFrameNoRender runs one frame's worth of cycles without any
// host-facing concern beyond advancing state; the PPU still composites
// into its framebuffer as a side effect of bus.Tick; callers that don't
// care about pixels (serial-only compliance harnesses) just never read
// Framebuffer.
func (m *Machine) StepFrameNoRender() error {
	return m.RunFrame(Buttons{})
}

// Framebuffer returns the PPU's most recently composited frame.
func (m *Machine) Framebuffer() *[144][160][3]byte { return m.bus.PPU().Framebuffer() }

// SetSerialWriter attaches a sink for bytes written through the serial
// port (0xFF01/0xFF02), including Blargg-style debug output.
func (m *Machine) SetSerialWriter(w io.Writer) {
	m.bus.SetSerialWriter(w)
}

// Header returns the parsed cartridge header of the loaded ROM.
func (m *Machine) Header() *cart.Header { return m.header }

// Bus exposes the underlying bus for tools that need direct access (e.g.
// the CLI's headless CRC32/PNG dump).
func (m *Machine) Bus() *bus.Bus { return m.bus }
