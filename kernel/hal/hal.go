package hal

import (
	"groveos/bootinfo"
	"groveos/kernel/driver/tty"
	"groveos/kernel/driver/video/console"
	"groveos/kernel/driver/video/console/font"
)

var (
	fbConsole = &console.Fb{}

	// ActiveTerminal points to the currently active terminal.
	ActiveTerminal = &tty.Vt{}
)

// InitTerminal provides a basic terminal to allow the kernel to emit some
// output till everything is properly set up. It must be called after
// bootinfo.Set. The console starts with the fallback glyph size baked
// into console.Fb; SetConsoleFont upgrades it once a PSF font has been
// read off disk.
func InitTerminal() {
	info := bootinfo.Active()

	fbConsole.Init(uint16(info.FramebufferWidth), uint16(info.FramebufferHeight), info.Framebuffer)
	ActiveTerminal.AttachTo(fbConsole)
}

// SetConsoleFont switches the active console to the supplied font and
// reattaches the terminal so its cached dimensions stay in sync with the
// new glyph size.
func SetConsoleFont(f *font.Font) {
	fbConsole.SetFont(f)
	ActiveTerminal.AttachTo(fbConsole)
}
