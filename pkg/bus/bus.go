// Package bus adapts the interpreter's narrow Bus capability
// (pkg/cpu.Bus) onto the two real backends behind it: the RAM window,
// served by pkg/cache, and the MMIO window, served by callbacks the
// platform glue installs. See spec.md §4.3.
package bus

import (
	"encoding/binary"

	"github.com/bassosimone/rv32ima/pkg/cache"
	"github.com/bassosimone/rv32ima/pkg/cpu"
)

// MMIO window bounds, inclusive, per spec.md §4.3 and §6.
const (
	MMIOStart = 0x10000000
	MMIOEnd   = 0x11FFFFFF
)

// Hooks is the set of callbacks the platform glue installs to service
// the MMIO window and CSRs this package does not itself own.
type Hooks struct {
	ControlLoad  func(addr uint32) (uint32, bool)
	ControlStore func(addr uint32, v uint32) (handled bool, err error)
	CSRRead      func(csr uint32) (uint32, bool)
	CSRWrite     func(csr uint32, v uint32) bool
}

// Bus implements cpu.Bus, routing every access by address: the RAM
// window (ramBase, ramBase+ramSize) to cache (translated by
// subtracting ramBase), the MMIO window to Hooks, and anything else to
// cpu.ErrAccessFault.
type Bus struct {
	cache   *cache.Cache
	ramBase uint32
	ramSize uint32
	hooks   Hooks
}

// New returns a Bus serving ramSize bytes of RAM starting at guest
// physical address ramBase through c, and delegating MMIO to hooks.
func New(c *cache.Cache, ramBase, ramSize uint32, hooks Hooks) *Bus {
	return &Bus{cache: c, ramBase: ramBase, ramSize: ramSize, hooks: hooks}
}

func (b *Bus) inRAM(addr uint32, n uint32) bool {
	return addr >= b.ramBase && uint64(addr)+uint64(n) <= uint64(b.ramBase)+uint64(b.ramSize)
}

func inMMIO(addr uint32) bool {
	return addr >= MMIOStart && addr <= MMIOEnd
}

func (b *Bus) Load1(addr uint32) (uint8, error) {
	if b.inRAM(addr, 1) {
		var buf [1]byte
		if err := b.cache.Read(addr-b.ramBase, buf[:]); err != nil {
			return 0, err
		}
		return buf[0], nil
	}
	if inMMIO(addr) {
		if v, ok := b.hooks.ControlLoad(addr); ok {
			return uint8(v), nil
		}
	}
	return 0, cpu.ErrAccessFault
}

func (b *Bus) Load2(addr uint32) (uint16, error) {
	if b.inRAM(addr, 2) {
		var buf [2]byte
		if err := b.cache.Read(addr-b.ramBase, buf[:]); err != nil {
			return 0, err
		}
		return binary.LittleEndian.Uint16(buf[:]), nil
	}
	if inMMIO(addr) {
		if v, ok := b.hooks.ControlLoad(addr); ok {
			return uint16(v), nil
		}
	}
	return 0, cpu.ErrAccessFault
}

func (b *Bus) Load4(addr uint32) (uint32, error) {
	if b.inRAM(addr, 4) {
		var buf [4]byte
		if err := b.cache.Read(addr-b.ramBase, buf[:]); err != nil {
			return 0, err
		}
		return binary.LittleEndian.Uint32(buf[:]), nil
	}
	if inMMIO(addr) {
		if v, ok := b.hooks.ControlLoad(addr); ok {
			return v, nil
		}
	}
	return 0, cpu.ErrAccessFault
}

func (b *Bus) Store1(addr uint32, v uint8) error {
	if b.inRAM(addr, 1) {
		return b.cache.Write(addr-b.ramBase, []byte{v})
	}
	if inMMIO(addr) {
		if handled, err := b.hooks.ControlStore(addr, uint32(v)); handled {
			return err
		}
	}
	return cpu.ErrAccessFault
}

func (b *Bus) Store2(addr uint32, v uint16) error {
	if b.inRAM(addr, 2) {
		var buf [2]byte
		binary.LittleEndian.PutUint16(buf[:], v)
		return b.cache.Write(addr-b.ramBase, buf[:])
	}
	if inMMIO(addr) {
		if handled, err := b.hooks.ControlStore(addr, uint32(v)); handled {
			return err
		}
	}
	return cpu.ErrAccessFault
}

func (b *Bus) Store4(addr uint32, v uint32) error {
	if b.inRAM(addr, 4) {
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], v)
		return b.cache.Write(addr-b.ramBase, buf[:])
	}
	if inMMIO(addr) {
		if handled, err := b.hooks.ControlStore(addr, v); handled {
			return err
		}
	}
	return cpu.ErrAccessFault
}

func (b *Bus) CSRRead(csr uint32) (uint32, bool) {
	return b.hooks.CSRRead(csr)
}

func (b *Bus) CSRWrite(csr uint32, v uint32) bool {
	return b.hooks.CSRWrite(csr, v)
}
