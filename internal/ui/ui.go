// Package ui hosts the emulator in an ebiten window: it blits the core's
// framebuffer once per Draw and polls the keyboard for the 8 joypad buttons
// once per Update, handing them to the scheduler via RunFrame.
package ui

import (
	"github.com/anthropics/gbcore/internal/emu"
	"github.com/hajimehoshi/ebiten/v2"
)

const (
	screenW = 160
	screenH = 144
)

// Game adapts a Machine to the ebiten.Game interface. It carries no menu,
// audio, or save-state state: one RunFrame per Update, one blit per Draw.
type Game struct {
	m     *emu.Machine
	tex   *ebiten.Image
	scale int
	rgba  []byte
}

// NewGame wraps m for display at the given integer window scale.
func NewGame(m *emu.Machine, scale int) *Game {
	if scale < 1 {
		scale = 1
	}
	return &Game{
		m:     m,
		scale: scale,
		rgba:  make([]byte, screenW*screenH*4),
	}
}

// Run opens the window and blocks until it's closed or the machine returns
// a fatal error from inside RunFrame (an illegal opcode).
func (g *Game) Run(title string) error {
	ebiten.SetWindowTitle(title)
	ebiten.SetWindowSize(screenW*g.scale, screenH*g.scale)
	return ebiten.RunGame(g)
}

func pollButtons() emu.Buttons {
	return emu.Buttons{
		Up:     ebiten.IsKeyPressed(ebiten.KeyUp),
		Down:   ebiten.IsKeyPressed(ebiten.KeyDown),
		Left:   ebiten.IsKeyPressed(ebiten.KeyLeft),
		Right:  ebiten.IsKeyPressed(ebiten.KeyRight),
		A:      ebiten.IsKeyPressed(ebiten.KeyZ),
		B:      ebiten.IsKeyPressed(ebiten.KeyX),
		Start:  ebiten.IsKeyPressed(ebiten.KeyEnter),
		Select: ebiten.IsKeyPressed(ebiten.KeyShiftRight),
	}
}

// Update advances the emulator by exactly one frame.
func (g *Game) Update() error {
	return g.m.RunFrame(pollButtons())
}

// Draw converts the core's packed-RGB framebuffer to ebiten's RGBA pixel
// format and blits it.
func (g *Game) Draw(screen *ebiten.Image) {
	if g.tex == nil {
		g.tex = ebiten.NewImage(screenW, screenH)
	}
	fb := g.m.Framebuffer()
	for y := 0; y < screenH; y++ {
		for x := 0; x < screenW; x++ {
			px := fb[y][x]
			i := (y*screenW + x) * 4
			g.rgba[i+0] = px[0]
			g.rgba[i+1] = px[1]
			g.rgba[i+2] = px[2]
			g.rgba[i+3] = 0xFF
		}
	}
	g.tex.WritePixels(g.rgba)
	screen.DrawImage(g.tex, nil)
}

// Layout pins the logical screen to the DMG's native resolution; ebiten
// scales it to the window size set in Run.
func (g *Game) Layout(outsideWidth, outsideHeight int) (int, int) {
	return screenW, screenH
}
