// Package platform wires the interpreter, bus, and cache into a
// runnable machine, and supplies the UART/syscon/debug-CSR glue a real
// RV32IMA guest (e.g. a Linux kernel) expects to find at the addresses
// spec.md §6 documents. See spec.md §4.5.
package platform

import (
	"bufio"
	"errors"
	"fmt"
	"log"

	"github.com/bassosimone/rv32ima/pkg/backing"
	"github.com/bassosimone/rv32ima/pkg/bus"
	"github.com/bassosimone/rv32ima/pkg/cache"
	"github.com/bassosimone/rv32ima/pkg/cpu"
)

// Guest physical address map, spec.md §6.
const (
	RAMImageOffset = 0x80000000
	DefaultRAMSize = 8 << 20 // 8 MiB

	uartData = 0x10000000
	uartLSR  = 0x10000005

	// syscon is implementation-defined within the MMIO window (spec.md
	// names the behaviour but not the address); chosen to match the
	// address mini-rv32ima itself uses for its SYSCON register.
	sysconAddr = 0x11100000

	sysconReset    = 0x7777
	sysconPowerOff = 0x5555
)

// Implementation-defined debug/keyboard CSRs, spec.md §3/§4.5.
const (
	csrDebugDecimal = 0x136
	csrDebugHex     = 0x137
	csrDebugString  = 0x138
	csrDebugPutc    = 0x139
	csrDebugKeyIn   = 0x140
)

// Clock supplies wall-clock microseconds, used to drive the hart's
// Δt computation. hostio.SystemClock is the real implementation;
// tests supply a fake.
type Clock interface {
	NowMicros() uint64
}

// Keyboard is the non-blocking keyboard probe/read pair the UART and
// debug-CSR keyboard hooks both read from.
type Keyboard interface {
	Available() bool
	ReadByte() byte
}

// ConsoleSink receives UART output bytes.
type ConsoleSink interface {
	WriteByte(b byte) error
}

// ErrKernelTooLarge is returned by LoadImage when the kernel image
// does not fit ahead of the device-tree blob within RAMSize.
var ErrKernelTooLarge = errors.New("platform: kernel image exceeds RAM size")

// LoadImage copies kernel to backing-store offset 0 and dtb to offset
// ramSize-len(dtb), per spec.md §6 and
// _examples/original_source/main/port-posix.c's load_images. Returns
// the two lengths actually written.
func LoadImage(store backing.Store, ramSize uint32, kernel, dtb []byte) (kernelLen, dtbLen uint32, err error) {
	if uint32(len(kernel))+uint32(len(dtb)) > ramSize {
		return 0, 0, ErrKernelTooLarge
	}
	if err := store.WriteAt(0, kernel); err != nil {
		return 0, 0, fmt.Errorf("platform: load kernel: %w", err)
	}
	dtbOff := ramSize - uint32(len(dtb))
	if err := store.WriteAt(dtbOff, dtb); err != nil {
		return 0, 0, fmt.Errorf("platform: load dtb: %w", err)
	}
	return uint32(len(kernel)), uint32(len(dtb)), nil
}

// Machine owns one hart, its bus, and the platform glue state (UART,
// syscon, debug CSRs) a guest kernel observes through MMIO and CSR
// accesses.
type Machine struct {
	Hart  *cpu.Hart
	Bus   *bus.Bus
	Cache *cache.Cache
	Store backing.Store

	RAMSize uint32
	dtbLen  uint32

	Clock    Clock
	Keyboard Keyboard
	Console  ConsoleSink

	// TimeCompressionDivisor scales wall-clock microseconds down
	// before they reach the hart, matching the original firmware's
	// elapsedUs = now()/6 - last. Defaults to 6; tunable per
	// DESIGN.md's Open Question resolution.
	TimeCompressionDivisor uint64

	lastTimeUs uint64
}

// New assembles a Machine over store, with ramSize bytes of guest RAM
// at RAMImageOffset and dtbLen bytes reserved at the top of RAM for
// the device tree blob (used by Run's reset path to re-derive a1).
func New(store backing.Store, ramSize, dtbLen uint32, clock Clock, kb Keyboard, console ConsoleSink) *Machine {
	c := cache.New(store, 0, 0, 0)
	m := &Machine{
		Cache:                  c,
		Store:                  store,
		RAMSize:                ramSize,
		dtbLen:                 dtbLen,
		Clock:                  clock,
		Keyboard:               kb,
		Console:                console,
		TimeCompressionDivisor: 6,
	}
	m.Bus = bus.New(c, RAMImageOffset, ramSize, bus.Hooks{
		ControlLoad:  m.controlLoad,
		ControlStore: m.controlStore,
		CSRRead:      m.csrRead,
		CSRWrite:     m.csrWrite,
	})
	dtbAddr := RAMImageOffset + ramSize - dtbLen
	m.Hart = cpu.NewHart(RAMImageOffset, dtbAddr)
	return m
}

func (m *Machine) controlLoad(addr uint32) (uint32, bool) {
	switch addr {
	case uartLSR:
		var ready uint32
		if m.Keyboard != nil && m.Keyboard.Available() {
			ready = 1
		}
		return 0x60 | ready, true
	case uartData:
		if m.Keyboard != nil && m.Keyboard.Available() {
			return uint32(m.Keyboard.ReadByte()), true
		}
		return 0, true
	}
	return 0, false
}

func (m *Machine) controlStore(addr uint32, v uint32) (bool, error) {
	switch addr {
	case uartData:
		if m.Console != nil {
			if err := m.Console.WriteByte(byte(v)); err != nil {
				return true, fmt.Errorf("platform: console write: %w", err)
			}
		}
		return true, nil
	case sysconAddr:
		switch v {
		case sysconPowerOff:
			return true, &cpu.HaltRequest{Code: cpu.StepPowerOff}
		case sysconReset:
			return true, &cpu.HaltRequest{Code: cpu.StepReset}
		}
		return true, nil
	}
	return false, nil
}

func (m *Machine) csrRead(csr uint32) (uint32, bool) {
	if csr == csrDebugKeyIn {
		if m.Keyboard != nil && m.Keyboard.Available() {
			return uint32(m.Keyboard.ReadByte()), true
		}
		return 0xffffffff, true // -1
	}
	return 0, false
}

func (m *Machine) csrWrite(csr uint32, value uint32) bool {
	switch csr {
	case csrDebugDecimal:
		fmt.Fprintf(consoleWriter{m}, "%d", int32(value))
		return true
	case csrDebugHex:
		fmt.Fprintf(consoleWriter{m}, "%08x", value)
		return true
	case csrDebugString:
		m.printGuestString(value)
		return true
	case csrDebugPutc:
		if m.Console != nil {
			m.Console.WriteByte(byte(value))
		}
		return true
	}
	return false
}

// printGuestString walks guest RAM starting at the physical address
// value (translated to a RAM offset by subtracting RAMImageOffset; an
// address below RAM prints nothing) until a NUL byte or the end of RAM,
// writing every byte to the console.
func (m *Machine) printGuestString(value uint32) {
	if value < RAMImageOffset {
		return
	}
	off := value - RAMImageOffset
	var buf [1]byte
	for off < m.RAMSize {
		if err := m.Cache.Read(off, buf[:]); err != nil {
			return
		}
		if buf[0] == 0 {
			return
		}
		if m.Console != nil {
			m.Console.WriteByte(buf[0])
		}
		off++
	}
}

// consoleWriter adapts Machine's byte-oriented console sink to
// io.Writer so fmt.Fprintf can be used for the decimal/hex debug CSRs.
type consoleWriter struct{ m *Machine }

func (w consoleWriter) Write(p []byte) (int, error) {
	if w.m.Console == nil {
		return len(p), nil
	}
	for _, b := range p {
		if err := w.m.Console.WriteByte(b); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// postExec is the seam every StepCode passes through before Run's
// switch sees it, mirroring the original firmware's MINIRV32_POSTEXEC
// hook. Its only job today is documenting that StepBreakpoint is a
// deliberate, expected exit some guest userspace programs take (the
// original's own comment: "weird opcode emitted by duktape on exit"),
// not a failure the platform needs to react to.
func (m *Machine) postExec(code cpu.StepCode) cpu.StepCode {
	return code
}

// Run drives the hart until the guest powers off (StepPowerOff), at
// which point it returns nil. A reset request (StepReset) reloads the
// image and restarts the hart from scratch; this loop never returns
// for that case on its own — it keeps running post-reset.
//
// A host-fatal backing-store failure (pkg/cache.BackingStoreError)
// is recovered here, logged with a full state dump, and returned as
// an error — there is no guest-visible encoding for it.
func (m *Machine) Run(kernel, dtb []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if bse, ok := r.(*cache.BackingStoreError); ok {
				log.Printf("fatal: backing store failure: %v\n%s", bse, m.Hart)
				err = bse
				return
			}
			panic(r)
		}
	}()

	if _, _, lerr := LoadImage(m.Store, m.RAMSize, kernel, dtb); lerr != nil {
		return lerr
	}

	const stepBudget = 1024
	for {
		nowUs := m.Clock.NowMicros() / m.TimeCompressionDivisor
		delta := nowUs - m.lastTimeUs
		m.lastTimeUs = nowUs

		code := m.postExec(m.Hart.Step(m.Bus, delta, stepBudget))
		switch code {
		case cpu.StepContinue, cpu.StepBreakpoint:
			// keep running
		case cpu.StepWFI:
			sleepWFI()
		case cpu.StepPowerOff:
			if err := m.Cache.Flush(); err != nil {
				return err
			}
			log.Printf("power-off\n%s", m.Hart)
			return nil
		case cpu.StepReset:
			// Drop every cached line, dirty ones included, so the guest
			// sees the freshly reloaded image rather than pre-reset data.
			m.Cache = cache.New(m.Store, 0, 0, 0)
			m.Bus = bus.New(m.Cache, RAMImageOffset, m.RAMSize, bus.Hooks{
				ControlLoad:  m.controlLoad,
				ControlStore: m.controlStore,
				CSRRead:      m.csrRead,
				CSRWrite:     m.csrWrite,
			})
			if _, _, lerr := LoadImage(m.Store, m.RAMSize, kernel, dtb); lerr != nil {
				return lerr
			}
			dtbAddr := RAMImageOffset + m.RAMSize - m.dtbLen
			m.Hart.Reset(RAMImageOffset, dtbAddr)
			m.lastTimeUs = 0
		default:
			log.Printf("unknown failure: step returned %#x\n%s", uint32(code), m.Hart)
		}
	}
}

// DumpState writes a postmortem-friendly dump of hart and cache state
// to w and flushes it. cmd/emu calls it on SIGINT; Run's own
// power-off/unknown-failure paths log the hart dump alone, without the
// cache counts.
func (m *Machine) DumpState(w *bufio.Writer) {
	hits, accesses := m.Cache.Stats()
	fmt.Fprint(w, m.Hart.String())
	fmt.Fprintf(w, "cache: %d/%d hits\n", hits, accesses)
	w.Flush()
}
