package cpu

import "fmt"

// StepCode is the outcome of a Step call, mirroring the small set of
// conditions the platform glue's main loop must react to. Every other
// synchronous or asynchronous trap is handled entirely inside the
// guest (delivered through mtvec) and never surfaces here.
type StepCode uint32

const (
	StepContinue   StepCode = 0      // instruction budget exhausted, keep running
	StepWFI        StepCode = 1      // hart entered WFI; caller should sleep, then resume
	StepBreakpoint StepCode = 3      // EBREAK retired; benign, resume immediately
	StepPowerOff   StepCode = 0x5555 // syscon requested power-off
	StepReset      StepCode = 0x7777 // syscon requested reset
)

// HaltRequest is returned by a Bus store implementation to short-
// circuit the current Step call with a specific StepCode, used by the
// platform glue's syscon handler to signal power-off/reset without
// overloading the bus's normal error channel for access faults.
type HaltRequest struct {
	Code StepCode
}

func (e *HaltRequest) Error() string {
	return fmt.Sprintf("cpu: halt request %#x", uint32(e.Code))
}

// Step advances the hart by up to maxInstructions instructions, first
// advancing the hart's Time by deltaUs microseconds. It returns as
// soon as one of WFI, EBREAK, or a syscon halt request is encountered,
// or once the instruction budget is exhausted.
//
// A host-fatal backing-store failure is never represented in
// StepCode: the bus implementation panics instead, and pkg/platform
// recovers that panic above its call to Step, since there is no
// guest-visible encoding for "the memory device itself is broken".
func (h *Hart) Step(bus Bus, deltaUs uint64, maxInstructions int) StepCode {
	h.Time += deltaUs

	if h.WFI {
		if _, pending := h.pendingInterrupt(); !pending {
			return StepWFI
		}
		h.WFI = false
	}

	for i := 0; i < maxInstructions; i++ {
		if cause, pending := h.pendingInterrupt(); pending && h.interruptsGloballyEnabled() {
			h.enterTrap(cause, 0, true)
			continue
		}

		if h.PC%4 != 0 {
			h.enterTrap(causeInstructionAddressMisaligned, h.PC, false)
			h.Cycle++
			continue
		}

		word, err := bus.Load4(h.PC)
		if err != nil {
			h.enterTrap(causeInstructionAccessFault, h.PC, false)
			h.Cycle++
			continue
		}

		res := h.execute(bus, decode(word))
		h.Cycle++

		if res.halted {
			return res.code
		}
		if h.WFI {
			return StepWFI
		}
	}

	return StepContinue
}
