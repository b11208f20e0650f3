package emu

// Config contains settings that affect emulation behavior.
type Config struct {
	Trace          bool // log the loaded cartridge header
	HeadlessFrames int  // not read by Machine or cmd/emulator; the CLI takes its headless frame count from -frames
}
