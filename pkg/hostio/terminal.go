package hostio

import (
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// TerminalKeyboard puts the controlling TTY into raw, non-blocking
// mode and polls it from a background goroutine into a single-byte
// buffer guarded by a mutex, exposing Available()/ReadByte() as a
// non-blocking probe/read pair — the Go-ecosystem shape of
// _examples/original_source/main/port-posix.c's termios-based
// CaptureKeyboardInput/IsKBHit/ReadKBByte, following the pattern
// IntuitionAmiga-IntuitionEngine/terminal_host.go uses for the same
// job.
//
// The background goroutine only ever publishes into the guarded
// buffer; it never touches hart or cache state, keeping the hart loop
// itself single-threaded per spec.md §5.
type TerminalKeyboard struct {
	fd       int
	oldState *term.State

	mu        sync.Mutex
	available bool
	byte_     byte

	stop chan struct{}
	done chan struct{}
}

// NewTerminalKeyboard puts stdin into raw, non-blocking mode and
// starts the background reader. Call Close to restore the terminal.
func NewTerminalKeyboard() (*TerminalKeyboard, error) {
	fd := int(os.Stdin.Fd())

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("hostio: terminal: make raw: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = term.Restore(fd, oldState)
		return nil, fmt.Errorf("hostio: terminal: set nonblocking: %w", err)
	}

	k := &TerminalKeyboard{
		fd:       fd,
		oldState: oldState,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go k.pollLoop()
	return k, nil
}

func (k *TerminalKeyboard) pollLoop() {
	defer close(k.done)
	buf := make([]byte, 1)
	for {
		select {
		case <-k.stop:
			return
		default:
		}

		n, err := unix.Read(k.fd, buf)
		if n > 0 {
			k.mu.Lock()
			k.available = true
			k.byte_ = buf[0]
			k.mu.Unlock()
			continue
		}
		if err != nil && err != unix.EAGAIN && err != unix.EWOULDBLOCK {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Available reports whether a keyboard byte is waiting to be read.
func (k *TerminalKeyboard) Available() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.available
}

// ReadByte consumes and returns the waiting byte. Calling it when
// Available reports false returns zero.
func (k *TerminalKeyboard) ReadByte() byte {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.available {
		return 0
	}
	k.available = false
	return k.byte_
}

// Close stops the background reader and restores the terminal to its
// original mode.
func (k *TerminalKeyboard) Close() error {
	close(k.stop)
	<-k.done
	return term.Restore(k.fd, k.oldState)
}
