// Package term provides the small terminal-detection helper the engine
// uses to decide whether command output should be teed to the controlling
// terminal in addition to the per-node log file. Grounded on
// cmd/distri/batch.go's isTerminal, which performs the same ioctl check
// before deciding whether to draw a live status line.
package term

import (
	"os"

	"golang.org/x/sys/unix"
)

// IsTerminal reports whether f is attached to a terminal, via
// TCGETS/TIOCGWINSZ-style termios ioctl the way distri's batch scheduler
// checks os.Stdout before enabling its live status line.
func IsTerminal(f *os.File) bool {
	_, err := unix.IoctlGetTermios(int(f.Fd()), unix.TCGETS)
	return err == nil
}
