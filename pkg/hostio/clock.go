// Package hostio supplies the concrete Clock/Keyboard/ConsoleSink
// adapters cmd/emu wires into pkg/platform.Machine: a wall-clock,
// a raw-mode non-blocking terminal keyboard reader, and a buffered
// stdout console. See spec.md §6 and
// _examples/original_source/main/port-posix.c for the termios-based
// original this package's keyboard handling is grounded on.
package hostio

import "time"

// SystemClock implements platform.Clock via the host's wall clock.
type SystemClock struct{}

func (SystemClock) NowMicros() uint64 {
	return uint64(time.Now().UnixMicro())
}
