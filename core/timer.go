package core

// The RP2040 timer counts microseconds.
const (
	TimerFreq = 1000000
)

var (
	systemTicks  uint32
	uptimeSource func() uint64
)

// GetTime returns the current system time in timer ticks
func GetTime() uint32 {
	return getSystemTicks()
}

// SetTime sets the current system time (for testing/hardware integration)
func SetTime(ticks uint32) {
	setSystemTicks(ticks)
}

// SetUptimeSource registers a free-running 64-bit microsecond counter.
// Interrupt handlers timestamp through it, so it must be safe to call from
// any context.
func SetUptimeSource(src func() uint64) {
	uptimeSource = src
}

// GetUptime returns 64-bit uptime in timer ticks
func GetUptime() uint64 {
	if uptimeSource != nil {
		return uptimeSource()
	}
	return uint64(GetTime())
}

// TimerFromUS converts microseconds to timer ticks
func TimerFromUS(us uint32) uint32 {
	return uint32(uint64(us) * TimerFreq / 1000000)
}

// TimerInit starts the scheduler clock at the current time.
func TimerInit() {
	currentTime = GetTime()
}

// ProcessTimers processes scheduled timers
func ProcessTimers() {
	currentTime = GetTime()
	TimerDispatch()
}
