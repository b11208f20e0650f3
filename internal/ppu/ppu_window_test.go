package ppu

import "testing"

// advanceLines ticks the PPU forward by n full visible lines (456 dots each).
func advanceLines(p *PPU, n int) { p.Tick(456 * n) }

func TestWindowOverridesBackgroundAfterActivation(t *testing.T) {
	p := New(nil)
	p.vram[0x1800] = 1    // BG map (0x9800) entry 0 -> tile 1 (blank)
	p.vram[0x1C00] = 0    // window map (0x9C00) entry 0 -> tile 0 (row 1 solid)
	p.vram[0x0002] = 0xFF // tile 0 row 1, lo plane (window line 1 on LY=1 with WY=0)
	p.vram[0x0003] = 0xFF // tile 0 row 1, hi plane -> ci=3 across the row
	// tile 1 (0x8010/0x8011) left zero-valued -> ci=0 (blank)

	p.CPUWrite(0xFF47, 0xE4) // BGP: identity index->shade mapping
	p.CPUWrite(0xFF4A, 0)    // WY=0
	p.CPUWrite(0xFF4B, 7)    // WX=7 -> window visible from x=0
	p.CPUWrite(0xFF40, 0x80|0x01|0x10|0x20|0x40)

	// Row 0 is never composited: the rollover that would render it (LY
	// wrapping from 153 to 0) takes the no-render wrap branch, so the first
	// rendered row is LY=1.
	advanceLines(p, 1)

	fb := p.Framebuffer()
	if fb[1][0] != shades[3] {
		t.Fatalf("expected window pixel (black) at (1,0), got %v", fb[1][0])
	}
}

func TestWindowNotVisibleBeforeWY(t *testing.T) {
	p := New(nil)
	p.vram[0x1800] = 1
	p.vram[0x1C00] = 0
	p.vram[0x0000] = 0xFF
	p.vram[0x0001] = 0xFF

	p.CPUWrite(0xFF47, 0xE4)
	p.CPUWrite(0xFF4A, 10) // WY=10, window not visible on line 1
	p.CPUWrite(0xFF4B, 7)
	p.CPUWrite(0xFF40, 0x80|0x01|0x10|0x20|0x40)

	advanceLines(p, 1)

	fb := p.Framebuffer()
	if fb[1][0] == shades[3] {
		t.Fatalf("window should not be visible on line 1 when WY=10")
	}
}

func TestWindowNotVisibleWhenWXTooLarge(t *testing.T) {
	p := New(nil)
	p.vram[0x1800] = 1
	p.vram[0x1C00] = 0
	p.vram[0x0000] = 0xFF
	p.vram[0x0001] = 0xFF

	p.CPUWrite(0xFF47, 0xE4)
	p.CPUWrite(0xFF4A, 0)
	p.CPUWrite(0xFF4B, 200) // WX far off-screen -> window column never reached
	p.CPUWrite(0xFF40, 0x80|0x01|0x10|0x20|0x40)

	advanceLines(p, 1)

	fb := p.Framebuffer()
	for x := 0; x < 160; x++ {
		if fb[1][x] == shades[3] {
			t.Fatalf("expected no window pixels at x=%d when WX=200", x)
		}
	}
}
