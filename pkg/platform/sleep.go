package platform

import "time"

// wfiSleep is how long Run sleeps the host thread when the hart
// enters WFI with nothing pending, per spec.md §4.5's "~10ms" figure —
// long enough to avoid a busy-spin, short enough that a timer or
// external interrupt still feels responsive to the guest.
const wfiSleep = 10 * time.Millisecond

func sleepWFI() {
	time.Sleep(wfiSleep)
}
