//go:build !tinygo

package core

// interruptState stands in for the saved PRIMASK on the host
type interruptState uintptr

// disableInterrupts is a no-op on regular Go (for testing)
func disableInterrupts() interruptState {
	return 0
}

// restoreInterrupts is a no-op on regular Go (for testing)
func restoreInterrupts(state interruptState) {}
