package ppu

import "sort"

// InterruptRequester is a callback signature to request IF bits (0:VBlank, 1:STAT, etc.).
type InterruptRequester func(bit int)

// PPU models VRAM/OAM, LCDC/STAT regs, LY/LYC, and basic timing.
// It exposes CPU-facing Read/Write for VRAM/OAM and PPU IO regs.
type PPU struct {
	// memory
	vram [0x2000]byte // 0x8000–0x9FFF
	oam  [0xA0]byte   // 0xFE00–0xFE9F

	// regs
	lcdc byte // FF40
	stat byte // FF41 (mode bits 0-1, coincidence flag bit2, enables bits3-6)
	scy  byte // FF42
	scx  byte // FF43
	ly   byte // FF44
	lyc  byte // FF45
	bgp  byte // FF47
	obp0 byte // FF48
	obp1 byte // FF49
	wy   byte // FF4A
	wx   byte // FF4B

	dot int // dots within current line [0..455]

	fb [144][160][3]byte // composited RGB framebuffer, row-major by LY

	req InterruptRequester
}

func New(req InterruptRequester) *PPU { return &PPU{req: req} }

// Read satisfies VRAMReader so the PPU can feed its own VRAM to the
// scanline fetcher helpers.
func (p *PPU) Read(addr uint16) byte {
	if addr >= 0x8000 && addr <= 0x9FFF {
		return p.vram[addr-0x8000]
	}
	return 0xFF
}

// Framebuffer returns the most recently composited frame, 144 rows of 160
// RGB pixels indexed [y][x].
func (p *PPU) Framebuffer() *[144][160][3]byte { return &p.fb }

// WriteOAM stores directly into OAM, bypassing the CPU-visible mode gating
// in CPUWrite. OAM DMA uses this: the 160-byte copy is not a guest access.
func (p *PPU) WriteOAM(idx int, v byte) { p.oam[idx] = v }

// CPURead returns bytes for VRAM, OAM, and PPU IO registers. Returns 0xFF for others.
func (p *PPU) CPURead(addr uint16) byte {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
		// VRAM is inaccessible to CPU during mode 3 (return 0xFF)
		if (p.stat & 0x03) == 3 {
			return 0xFF
		}
		return p.vram[addr-0x8000]
	case addr >= 0xFE00 && addr <= 0xFE9F:
		// OAM is inaccessible during modes 2 and 3
		m := p.stat & 0x03
		if m == 2 || m == 3 {
			return 0xFF
		}
		return p.oam[addr-0xFE00]
	case addr == 0xFF40:
		return p.lcdc
	case addr == 0xFF41:
		// On DMG, bit7 reads as 1; bit6..3 are enables; bit2 coincidence; bit1..0 mode
		return 0x80 | (p.stat & 0x7F)
	case addr == 0xFF42:
		return p.scy
	case addr == 0xFF43:
		return p.scx
	case addr == 0xFF44:
		return p.ly
	case addr == 0xFF45:
		return p.lyc
	case addr == 0xFF47:
		return p.bgp
	case addr == 0xFF48:
		return p.obp0
	case addr == 0xFF49:
		return p.obp1
	case addr == 0xFF4A:
		return p.wy
	case addr == 0xFF4B:
		return p.wx
	default:
		return 0xFF
	}
}

// CPUWrite handles writes to VRAM, OAM, and PPU IO regs. Others are ignored here.
func (p *PPU) CPUWrite(addr uint16, value byte) {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
		if (p.stat & 0x03) == 3 {
			return
		}
		p.vram[addr-0x8000] = value
	case addr >= 0xFE00 && addr <= 0xFE9F:
		m := p.stat & 0x03
		if m == 2 || m == 3 {
			return
		}
		p.oam[addr-0xFE00] = value
	case addr == 0xFF40:
		prev := p.lcdc
		p.lcdc = value
		if (p.lcdc&0x80) == 0 && (prev&0x80) != 0 {
			// Turning LCD off resets LY and forces STAT mode bits to 1
			p.ly = 0
			p.dot = 0
			p.setMode(1)
			p.updateLYC()
		} else if (p.lcdc&0x80) != 0 && (prev&0x80) == 0 {
			// Turning LCD on: start at LY=0, mode 2 (OAM)
			p.ly = 0
			p.dot = 0
			p.setMode(2)
			p.updateLYC()
		}
	case addr == 0xFF41:
		p.stat = (p.stat & 0x07) | (value & 0x78)
	case addr == 0xFF42:
		p.scy = value
	case addr == 0xFF43:
		p.scx = value
	case addr == 0xFF44:
		p.ly = 0
		p.dot = 0
		p.updateLYC()
		if (p.lcdc & 0x80) != 0 {
			p.setMode(2)
		}
	case addr == 0xFF45:
		p.lyc = value
		p.updateLYC()
	case addr == 0xFF47:
		p.bgp = value
	case addr == 0xFF48:
		p.obp0 = value
	case addr == 0xFF49:
		p.obp1 = value
	case addr == 0xFF4A:
		p.wy = value
	case addr == 0xFF4B:
		p.wx = value
	}
}

// Tick advances PPU state by the given number of dots (CPU cycles).
func (p *PPU) Tick(cycles int) {
	if cycles <= 0 {
		return
	}
	for i := 0; i < cycles; i++ {
		if (p.lcdc & 0x80) == 0 { // LCD off
			continue
		}
		p.dot++
		// Mode scheduling
		var mode byte
		if p.ly >= 144 {
			mode = 1
		} else {
			switch {
			case p.dot < 80:
				mode = 2
			case p.dot < 80+172:
				mode = 3
			default:
				mode = 0
			}
		}
		p.setMode(mode)

		if p.dot >= 456 {
			p.dot = 0
			p.ly++
			if p.ly == 144 {
				// Enter VBlank
				if p.req != nil {
					p.req(0)
				} // VBlank IF
				if (p.stat & (1 << 4)) != 0 {
					if p.req != nil {
						p.req(1)
					}
				} // STAT VBlank
			} else if p.ly > 153 {
				p.ly = 0
			} else if p.ly < 144 {
				p.renderScanline(p.ly)
			}
			p.updateLYC()
			// Set mode for new line start (dot=0)
			if p.ly >= 144 {
				p.setMode(1)
			} else {
				p.setMode(2)
			}
		}
	}
}

func (p *PPU) setMode(mode byte) {
	prev := p.stat & 0x03
	if prev == mode {
		return
	}
	p.stat = (p.stat &^ 0x03) | (mode & 0x03)
	switch mode {
	case 0: // HBlank
		if (p.stat & (1 << 3)) != 0 {
			if p.req != nil {
				p.req(1)
			}
		}
	case 2: // OAM
		if (p.stat & (1 << 5)) != 0 {
			if p.req != nil {
				p.req(1)
			}
		}
	}
}

func (p *PPU) updateLYC() {
	if p.ly == p.lyc {
		p.stat |= 1 << 2
		if (p.stat & (1 << 6)) != 0 {
			if p.req != nil {
				p.req(1)
			}
		}
	} else {
		p.stat &^= 1 << 2
	}
}

// Expose palettes and scroll for renderer convenience (optional helpers)
func (p *PPU) BGP() byte  { return p.bgp }
func (p *PPU) OBP0() byte { return p.obp0 }
func (p *PPU) OBP1() byte { return p.obp1 }
func (p *PPU) LCDC() byte { return p.lcdc }
func (p *PPU) SCY() byte  { return p.scy }
func (p *PPU) SCX() byte  { return p.scx }
func (p *PPU) WY() byte   { return p.wy }
func (p *PPU) WX() byte   { return p.wx }

// renderScanline composites background, window, and sprites for one line
// into the framebuffer. Called once per line, right after LY advances to it.
func (p *PPU) renderScanline(ly byte) {
	var bgIdx [160]byte
	if p.lcdc&0x01 != 0 {
		mapBase := uint16(0x9800)
		if p.lcdc&0x08 != 0 {
			mapBase = 0x9C00
		}
		tileData8000 := p.lcdc&0x10 != 0
		bgIdx = RenderBGScanlineUsingFetcher(p, mapBase, tileData8000, p.scx, p.scy, ly)

		if p.lcdc&0x20 != 0 && p.wy <= ly {
			winMapBase := uint16(0x9800)
			if p.lcdc&0x40 != 0 {
				winMapBase = 0x9C00
			}
			wxStart := int(p.wx) - 7
			winLine := ly - p.wy
			winIdx := RenderWindowScanlineUsingFetcher(p, winMapBase, tileData8000, wxStart, winLine)
			start := wxStart
			if start < 0 {
				start = 0
			}
			for x := start; x < 160; x++ {
				bgIdx[x] = winIdx[x]
			}
		}
	}

	var out [160][3]byte
	for x := 0; x < 160; x++ {
		out[x] = shades[paletteShade(p.bgp, bgIdx[x])]
	}

	if p.lcdc&0x02 != 0 {
		p.renderSprites(ly, bgIdx, &out)
	}

	p.fb[ly] = out
}

// spritesOnLine scans OAM for entries visible on ly, resolving raw OAM
// Y/X to screen-space coordinates.
func (p *PPU) spritesOnLine(ly byte) []Sprite {
	height := 8
	if p.lcdc&0x04 != 0 {
		height = 16
	}
	var out []Sprite
	for i := 0; i < 40; i++ {
		b := i * 4
		y := int(p.oam[b]) - 16
		x := int(p.oam[b+1]) - 8
		if int(ly) < y || int(ly) >= y+height {
			continue
		}
		out = append(out, Sprite{X: x, Y: y, Tile: p.oam[b+2], Attr: p.oam[b+3], OAMIndex: i})
	}
	return out
}

// renderSprites composites the sprite layer directly into out, resolving
// OBP0/OBP1 per sprite (ComposeSpriteLine alone cannot, since it returns
// only color indices and is kept as the spec-traced pure helper).
func (p *PPU) renderSprites(ly byte, bgIdx [160]byte, out *[160][3]byte) {
	tall := p.lcdc&0x04 != 0
	sprites := p.spritesOnLine(ly)
	sort.SliceStable(sprites, func(i, j int) bool { return sprites[i].OAMIndex < sprites[j].OAMIndex })

	height := 8
	if tall {
		height = 16
	}
	var drawn [160]bool

	for _, s := range sprites {
		row := int(ly) - s.Y
		yFlip := s.Attr&0x40 != 0
		if yFlip {
			row = height - 1 - row
		}
		tile := s.Tile
		if tall {
			tile &^= 0x01
			if row >= 8 {
				tile |= 0x01
				row -= 8
			}
		}
		base := uint16(tile) * 16
		lo := p.vram[base+uint16(row)*2]
		hi := p.vram[base+uint16(row)*2+1]
		xFlip := s.Attr&0x20 != 0
		behind := s.Attr&0x80 != 0
		pal := p.obp0
		if s.Attr&0x10 != 0 {
			pal = p.obp1
		}

		for col := 0; col < 8; col++ {
			px := s.X + col
			if px < 0 || px >= 160 || drawn[px] {
				continue
			}
			bit := 7 - col
			if xFlip {
				bit = col
			}
			ci := ((hi>>uint(bit))&1)<<1 | ((lo >> uint(bit)) & 1)
			if ci == 0 {
				continue
			}
			if behind && bgIdx[px] != 0 {
				continue
			}
			out[px] = shades[paletteShade(pal, ci)]
			drawn[px] = true
		}
	}
}
