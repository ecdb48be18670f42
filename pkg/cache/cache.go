// Package cache implements the write-allocate, write-back, set-
// associative line cache that sits between the interpreter's memory
// bus and the slow backing store (pkg/backing). See spec.md §4.2.
package cache

import (
	"fmt"

	"github.com/bassosimone/rv32ima/pkg/backing"
)

// Defaults per spec.md §4.2: a 32 KiB cache, 64-byte lines, 4-way
// associative.
const (
	DefaultLineSize = 64
	DefaultWays     = 4
	DefaultSets     = 128
)

// BackingStoreError wraps a failure from the underlying backing.Store.
// It is host-fatal: pkg/cache never retries or silently drops a
// backing-store failure, and Cache.Read/Write report it by panicking
// with this type rather than returning it as an ordinary error, since
// neither cpu.Bus nor the guest ISA has any representation for "the
// memory device itself is broken". pkg/platform recovers this panic
// at the top of its run loop.
type BackingStoreError struct {
	Err error
}

func (e *BackingStoreError) Error() string { return fmt.Sprintf("cache: backing store: %v", e.Err) }
func (e *BackingStoreError) Unwrap() error { return e.Err }

type line struct {
	set   int // fixed at construction; which set this way belongs to
	tag   uint32
	valid bool
	dirty bool
	touch uint64
	data  []byte
}

// Cache is a write-allocate, write-back, set-associative cache over a
// backing.Store. It is not safe for concurrent use — the interpreter
// drives it from a single goroutine, matching the single-hart,
// one-transaction-at-a-time contract spec.md §4.1 describes for the
// store beneath it.
type Cache struct {
	store    backing.Store
	sets     int
	ways     int
	lineSize int

	lines []line // len == sets*ways, row-major by set

	touch    uint64
	hits     uint64
	accesses uint64
}

// New constructs a Cache of the given geometry over store. A zero
// value for any of sets/ways/lineSize selects the spec.md default.
func New(store backing.Store, sets, ways, lineSize int) *Cache {
	if sets <= 0 {
		sets = DefaultSets
	}
	if ways <= 0 {
		ways = DefaultWays
	}
	if lineSize <= 0 {
		lineSize = DefaultLineSize
	}
	lines := make([]line, sets*ways)
	for i := range lines {
		lines[i].data = make([]byte, lineSize)
		lines[i].set = i / ways
	}
	return &Cache{store: store, sets: sets, ways: ways, lineSize: lineSize, lines: lines}
}

// Read fills out (len 1, 2, or 4) from addr, splitting transparently
// across a line boundary if the access straddles one.
func (c *Cache) Read(addr uint32, out []byte) error {
	return c.access(addr, out, false)
}

// Write stores in (len 1, 2, or 4) to addr, splitting transparently
// across a line boundary if the access straddles one.
func (c *Cache) Write(addr uint32, in []byte) error {
	return c.access(addr, in, true)
}

// access counts exactly one access per call regardless of how many
// lines it ends up touching, so Stats().accesses reflects the number
// of Read/Write calls (spec.md §8 property 4), not the number of
// lines a straddling access happens to split across.
func (c *Cache) access(addr uint32, buf []byte, write bool) error {
	c.accesses++

	lineSize := uint32(c.lineSize)
	offset := addr % lineSize
	if offset+uint32(len(buf)) <= lineSize {
		return c.accessWithinLine(addr, buf, write)
	}

	// Misaligned access straddling a line boundary: split byte-at-a-
	// time and reassemble little-endian. The cache is where line
	// boundaries are known, so this split happens here rather than in
	// the bus adapter above it. The split access counts as a single hit,
	// and only when every byte found its line resident, so hits never
	// exceeds accesses.
	hitsBefore := c.hits
	for i := range buf {
		if err := c.accessWithinLine(addr+uint32(i), buf[i:i+1], write); err != nil {
			return err
		}
	}
	if c.hits-hitsBefore == uint64(len(buf)) {
		c.hits = hitsBefore + 1
	} else {
		c.hits = hitsBefore
	}
	return nil
}

func (c *Cache) accessWithinLine(addr uint32, buf []byte, write bool) error {
	lineSize := uint32(c.lineSize)
	lineNo := addr / lineSize
	offset := int(addr % lineSize)
	set := int(lineNo) % c.sets
	tag := lineNo / uint32(c.sets)

	c.touch++

	ln, err := c.lookupOrFill(set, tag, lineNo)
	if err != nil {
		return err
	}

	ln.touch = c.touch
	if write {
		ln.dirty = true
		copy(ln.data[offset:], buf)
	} else {
		copy(buf, ln.data[offset:offset+len(buf)])
	}
	return nil
}

// lookupOrFill returns the line for (set, tag), counting a hit if
// already resident, or evicting and filling a way otherwise.
func (c *Cache) lookupOrFill(set int, tag uint32, lineNo uint32) (*line, error) {
	ways := c.lines[set*c.ways : set*c.ways+c.ways]

	for i := range ways {
		if ways[i].valid && ways[i].tag == tag {
			c.hits++
			return &ways[i], nil
		}
	}

	victim := &ways[0]
	for i := range ways {
		if ways[i].touch < victim.touch {
			victim = &ways[i]
		}
	}

	if victim.valid && victim.dirty {
		if err := c.writeBack(victim); err != nil {
			return nil, err
		}
	}

	victim.tag = tag
	victim.valid = true
	victim.dirty = false
	base := lineNo * uint32(c.lineSize)
	if err := c.store.ReadAt(base, victim.data); err != nil {
		panic(&BackingStoreError{Err: err})
	}
	return victim, nil
}

// writeBack evicts a dirty line back to the backing store. Its tag and
// set still identify the old resident line at the time of the call.
func (c *Cache) writeBack(ln *line) error {
	lineNo := ln.tag*uint32(c.sets) + uint32(ln.set)
	base := lineNo * uint32(c.lineSize)
	if err := c.store.WriteAt(base, ln.data); err != nil {
		panic(&BackingStoreError{Err: err})
	}
	ln.dirty = false
	return nil
}

// Flush writes every dirty line back to the backing store, without
// invalidating them — a clean line stays resident and hot.
func (c *Cache) Flush() error {
	for i := range c.lines {
		if c.lines[i].valid && c.lines[i].dirty {
			if err := c.writeBack(&c.lines[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

// Stats returns cumulative hit and access counts since construction.
func (c *Cache) Stats() (hits, accesses uint64) {
	return c.hits, c.accesses
}
