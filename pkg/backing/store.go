// Package backing implements the two Store backends the line cache
// sits in front of: an in-memory buffer with optional injected
// latency, and a file-backed store whose ReadAt/WriteAt calls mirror
// the original firmware's lseek-then-read/write against a stand-in
// PSRAM file (see _examples/original_source/main/port-posix.c's
// psram_read/psram_write).
package backing

import (
	"fmt"
	"os"
	"time"
)

// Store is a byte-addressable backing device. Implementations model
// a slow, off-chip, one-transaction-at-a-time bus: callers (pkg/cache)
// never issue a second ReadAt/WriteAt before the first returns, and
// this package makes no attempt to be safe for concurrent use.
type Store interface {
	ReadAt(addr uint32, buf []byte) error
	WriteAt(addr uint32, buf []byte) error
	Size() uint32
}

// Memory is an in-process Store backed by a plain byte slice. Latency,
// when non-zero, is slept on every ReadAt/WriteAt call to stand in for
// the round-trip cost a real serial PSRAM device would impose, so the
// line cache's hit rate shows up as wall-clock time. The tests in this
// repository leave it at zero.
type Memory struct {
	buf     []byte
	Latency time.Duration
}

// NewMemory allocates a Memory store of the given size, zero-filled.
func NewMemory(size uint32) *Memory {
	return &Memory{buf: make([]byte, size)}
}

func (m *Memory) Size() uint32 { return uint32(len(m.buf)) }

func (m *Memory) ReadAt(addr uint32, buf []byte) error {
	if err := m.bounds(addr, len(buf)); err != nil {
		return err
	}
	if m.Latency > 0 {
		time.Sleep(m.Latency)
	}
	copy(buf, m.buf[addr:])
	return nil
}

func (m *Memory) WriteAt(addr uint32, buf []byte) error {
	if err := m.bounds(addr, len(buf)); err != nil {
		return err
	}
	if m.Latency > 0 {
		time.Sleep(m.Latency)
	}
	copy(m.buf[addr:], buf)
	return nil
}

func (m *Memory) bounds(addr uint32, n int) error {
	if uint64(addr)+uint64(n) > uint64(len(m.buf)) {
		return fmt.Errorf("backing: memory: out of range [%#x, %#x) of %#x", addr, uint64(addr)+uint64(n), len(m.buf))
	}
	return nil
}

// File is a Store backed by an *os.File, using Go's positional I/O
// (ReadAt/WriteAt) as the idiomatic equivalent of the original
// firmware's lseek+read/write pair against /tmp/ram. cmd/emu uses this
// against a temp file so repeated runs don't require re-copying a
// multi-megabyte in-process buffer.
type File struct {
	f    *os.File
	size uint32
}

// NewFile wraps f as a Store of the given size. The caller is
// responsible for f already being sized (e.g. via Truncate) and for
// closing it when done.
func NewFile(f *os.File, size uint32) *File {
	return &File{f: f, size: size}
}

func (f *File) Size() uint32 { return f.size }

func (f *File) ReadAt(addr uint32, buf []byte) error {
	if err := f.bounds(addr, len(buf)); err != nil {
		return err
	}
	if _, err := f.f.ReadAt(buf, int64(addr)); err != nil {
		return fmt.Errorf("backing: file: read at %#x: %w", addr, err)
	}
	return nil
}

func (f *File) WriteAt(addr uint32, buf []byte) error {
	if err := f.bounds(addr, len(buf)); err != nil {
		return err
	}
	if _, err := f.f.WriteAt(buf, int64(addr)); err != nil {
		return fmt.Errorf("backing: file: write at %#x: %w", addr, err)
	}
	return nil
}

func (f *File) bounds(addr uint32, n int) error {
	if uint64(addr)+uint64(n) > uint64(f.size) {
		return fmt.Errorf("backing: file: out of range [%#x, %#x) of %#x", addr, uint64(addr)+uint64(n), f.size)
	}
	return nil
}
