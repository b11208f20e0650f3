// Command emulator is the CLI entry point: emulator <rom_path> [flags].
// It loads a cartridge, runs it either in a display window (ebiten) or
// headless for a fixed frame count, and exits nonzero on ROM-load failure
// or illegal opcode per spec.md §6/§7.
package main

import (
	"flag"
	"fmt"
	"hash/crc32"
	"image"
	"image/png"
	"log"
	"os"
	"strings"
	"time"

	"github.com/anthropics/gbcore/internal/emu"
	"github.com/anthropics/gbcore/internal/ui"
)

type cliFlags struct {
	romPath string
	bootROM string
	scale   int
	title   string
	trace   bool

	headless bool
	frames   int
	pngOut   string
	expect   string // expected framebuffer CRC32 hex
}

func parseFlags() cliFlags {
	var f cliFlags
	flag.StringVar(&f.bootROM, "bootrom", "", "optional DMG boot ROM")
	flag.IntVar(&f.scale, "scale", 3, "window scale")
	flag.StringVar(&f.title, "title", "gbcore", "window title")
	flag.BoolVar(&f.trace, "trace", false, "log the loaded cartridge header")

	flag.BoolVar(&f.headless, "headless", false, "run without a window")
	flag.IntVar(&f.frames, "frames", 300, "frames to run in headless mode")
	flag.StringVar(&f.pngOut, "outpng", "", "write last framebuffer to PNG at path")
	flag.StringVar(&f.expect, "expect", "", "assert framebuffer CRC32 (hex)")
	flag.Parse()

	f.romPath = flag.Arg(0)
	return f
}

// runHeadless drives frames to completion without a host window, following
// the teacher's CLI harness so spec.md §8's end-to-end scenarios are
// checkable by CRC32/PNG dump instead of a display.
func runHeadless(m *emu.Machine, frames int, pngPath, expectCRC string) error {
	if frames <= 0 {
		frames = 1
	}

	start := time.Now()
	for i := 0; i < frames; i++ {
		if err := m.StepFrameNoRender(); err != nil {
			return err
		}
	}
	dur := time.Since(start)

	fb := m.Framebuffer()
	pix := flattenFramebuffer(fb)
	crc := crc32.ChecksumIEEE(pix)
	fps := float64(frames) / dur.Seconds()

	log.Printf("headless: frames=%d elapsed=%s fps=%.2f fb_crc32=%08x",
		frames, dur.Truncate(time.Millisecond), fps, crc)

	if pngPath != "" {
		if err := saveFramePNG(pix, 160, 144, pngPath); err != nil {
			return fmt.Errorf("write PNG: %w", err)
		}
		log.Printf("wrote %s", pngPath)
	}

	if expectCRC != "" {
		want := strings.TrimPrefix(strings.ToLower(expectCRC), "0x")
		got := fmt.Sprintf("%08x", crc)
		if got != want {
			return fmt.Errorf("checksum mismatch: got %s, want %s", got, want)
		}
	}
	return nil
}

// flattenFramebuffer converts the core's [144][160][3]byte RGB grid to a
// packed RGBA byte slice, the shape image.RGBA and crc32 both expect.
func flattenFramebuffer(fb *[144][160][3]byte) []byte {
	out := make([]byte, 144*160*4)
	i := 0
	for y := 0; y < 144; y++ {
		for x := 0; x < 160; x++ {
			px := fb[y][x]
			out[i+0] = px[0]
			out[i+1] = px[1]
			out[i+2] = px[2]
			out[i+3] = 0xFF
			i += 4
		}
	}
	return out
}

func saveFramePNG(pix []byte, w, h int, path string) error {
	img := &image.RGBA{
		Pix:    make([]byte, len(pix)),
		Stride: 4 * w,
		Rect:   image.Rect(0, 0, w, h),
	}
	copy(img.Pix, pix)
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

func mustRead(path string) []byte {
	if path == "" {
		return nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("read %s: %v", path, err)
	}
	return b
}

func main() {
	f := parseFlags()
	if f.romPath == "" {
		fmt.Fprintln(os.Stderr, "usage: emulator <rom_path> [flags]")
		os.Exit(1)
	}

	rom, err := os.ReadFile(f.romPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, &emu.RomLoadError{Path: f.romPath, Reason: err.Error()})
		os.Exit(1)
	}
	boot := mustRead(f.bootROM)

	m := emu.New(emu.Config{Trace: f.trace})
	if err := m.LoadCartridge(rom, boot); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	m.SetSerialWriter(os.Stdout)

	if h := m.Header(); h != nil {
		log.Printf("ROM: %q type=%s(%#02x) rom=%dKB ram=%dKB",
			h.Title, h.CartTypeStr, h.CartType, h.ROMSizeBytes/1024, h.RAMSizeBytes/1024)
	}

	if f.headless {
		if err := runHeadless(m, f.frames, f.pngOut, f.expect); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	app := ui.NewGame(m, f.scale)
	if err := app.Run(f.title); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
