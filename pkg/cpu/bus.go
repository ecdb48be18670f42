package cpu

import "errors"

// Bus is the capability the interpreter needs from its memory system:
// width-correct little-endian loads/stores over the RAM/MMIO address
// space (satisfied by pkg/bus.Bus), and two hooks for CSRs this
// implementation does not own itself (satisfied by the platform glue).
//
// A concrete Bus value is passed once into Step; the interpreter is
// generic over it and needs no dynamic dispatch beyond this interface.
//
// The only error a Bus implementation should return from Load/Store is
// ErrAccessFault (turned into a guest trap) or a *HaltRequest from
// Store (turned into a StepCode). A backing store that fails for a
// real I/O reason is host-fatal and has no guest-visible
// representation — pkg/cache reports that by panicking with a
// *cache.BackingStoreError, which pkg/platform recovers at the top of
// its run loop.
type Bus interface {
	Load1(addr uint32) (uint8, error)
	Load2(addr uint32) (uint16, error)
	Load4(addr uint32) (uint32, error)

	Store1(addr uint32, v uint8) error
	Store2(addr uint32, v uint16) error
	Store4(addr uint32, v uint32) error

	// CSRRead/CSRWrite delegate any CSR this package does not itself
	// implement (the debug/keyboard CSRs in 0x136-0x140) to the
	// platform glue. CSRRead's ok result is false for genuinely
	// unknown CSRs, which raises an illegal-instruction trap.
	CSRRead(csr uint32) (value uint32, ok bool)
	CSRWrite(csr uint32, value uint32) (ok bool)
}

// ErrAccessFault is returned by a Bus implementation when the guest
// physical address falls outside both the RAM window and the MMIO
// window. The interpreter turns it into a synchronous access-fault
// trap; it is never surfaced to the host.
var ErrAccessFault = errors.New("cpu: access fault")
