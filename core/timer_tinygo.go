//go:build tinygo

package core

import "runtime/volatile"

// getSystemTicks returns the tick value last published by the main loop.
// A single word load is atomic on Cortex-M0+.
func getSystemTicks() uint32 {
	return volatile.LoadUint32(&systemTicks)
}

// setSystemTicks publishes a new tick value
func setSystemTicks(ticks uint32) {
	volatile.StoreUint32(&systemTicks, ticks)
}
