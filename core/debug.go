package core

import "pioscope/protocol"

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

// AcquisitionEvent captures one control-plane event for post-mortem analysis
type AcquisitionEvent struct {
	EventType uint8  // Event type code
	Clock     uint32 // System clock at event
	Value1    uint32 // Context-dependent value
	Value2    uint32 // Context-dependent value
}

// Event type codes
const (
	EvtArm         = 1  // armed; v1=target, v2=roles loaded
	EvtArmIgnored  = 2  // arm while busy; v1=state
	EvtArmRejected = 3  // arm refused; v1=error code
	EvtTrigger     = 4  // capture started; v1=target
	EvtComplete    = 5  // target reached; v1=samples, v2=elapsed us
	EvtClamp       = 6  // count clamped; v1=requested, v2=capacity
	EvtCycleClamp  = 7  // phase saturated; v1=role index, v2=phase
	EvtAbort       = 8  // capture abandoned; v1=samples so far
	EvtTimeout     = 9  // capture timed out; v1=samples so far
	EvtReadout     = 10 // buffer sent; v1=bytes, v2=crc
	EvtReadoutFail = 11 // transport error; v1=bytes
	EvtOverflow    = 12 // register window overflow; v1=offset
)

const (
	EventRingSize = 32  // Keep last 32 events for post-mortem
	LogRingSize   = 512 // Interrupt-side log text awaiting the writer
	logLineMax    = 96
)

var (
	// debugPrintln is the global debug print function (can be set by platform code)
	debugPrintln DebugWriter = func(s string) {} // No-op by default

	// debugEnabled controls whether debug output is active
	debugEnabled bool = true

	eventRing     [EventRingSize]AcquisitionEvent
	eventRingHead uint8

	// logRing carries text from interrupt handlers to the main loop
	logRing     = protocol.NewFifoBuffer(LogRingSize)
	logLine     [logLineMax]byte
	logReported uint32
)

// SetDebugWriter sets the platform-specific debug output function
// This allows platforms to redirect debug output to UART, USB, etc.
func SetDebugWriter(writer DebugWriter) {
	debugPrintln = writer
}

// SetDebugEnabled enables or disables debug output
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

// DebugPrintln writes a debug message using the platform-specific writer.
// Main loop only; the writer may block.
func DebugPrintln(msg string) {
	if debugEnabled && debugPrintln != nil {
		debugPrintln(msg)
	}
}

// Log queues a message from any context, interrupt handlers included.
// Messages that do not fit are dropped and counted. Interrupt handlers must
// pass constant strings: the heap is off limits there.
func Log(msg string) {
	if !debugEnabled {
		return
	}
	state := disableInterrupts()
	logRing.WriteRecord(msg)
	restoreInterrupts(state)
}

// FlushLog hands queued messages to the debug writer, then reports any
// lost to a full ring since the last flush. Call from the main loop.
func FlushLog() {
	for {
		state := disableInterrupts()
		n, ok := logRing.ReadLine(logLine[:])
		var msg string
		if ok {
			msg = string(logLine[:n])
		}
		restoreInterrupts(state)
		if !ok {
			break
		}
		DebugPrintln(msg)
	}

	state := disableInterrupts()
	dropped := logRing.Dropped()
	restoreInterrupts(state)
	if dropped != logReported {
		DebugPrintln("log: " + utoa(dropped-logReported) + " messages dropped")
		logReported = dropped
	}
}

// RecordEvent captures an event in the ring buffer.
// Non-blocking and safe from interrupt handlers.
func RecordEvent(eventType uint8, value1, value2 uint32) {
	state := disableInterrupts()
	idx := eventRingHead
	eventRing[idx] = AcquisitionEvent{
		EventType: eventType,
		Clock:     GetTime(),
		Value1:    value1,
		Value2:    value2,
	}
	eventRingHead = (idx + 1) % EventRingSize
	restoreInterrupts(state)
}

// LastEvent returns the most recent event of the given type.
func LastEvent(eventType uint8) (AcquisitionEvent, bool) {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	for i := uint8(1); i <= EventRingSize; i++ {
		idx := (eventRingHead + EventRingSize - i) % EventRingSize
		if eventRing[idx].EventType == eventType {
			return eventRing[idx], true
		}
	}
	return AcquisitionEvent{}, false
}

func eventName(code uint8) string {
	switch code {
	case EvtArm:
		return "ARM"
	case EvtArmIgnored:
		return "ARM_IGNORED"
	case EvtArmRejected:
		return "ARM_REJECTED"
	case EvtTrigger:
		return "TRIGGER"
	case EvtComplete:
		return "COMPLETE"
	case EvtClamp:
		return "CLAMP"
	case EvtCycleClamp:
		return "CYCLE_CLAMP"
	case EvtAbort:
		return "ABORT"
	case EvtTimeout:
		return "TIMEOUT"
	case EvtReadout:
		return "READOUT"
	case EvtReadoutFail:
		return "READOUT_FAIL"
	case EvtOverflow:
		return "OVERFLOW!"
	}
	return "UNKNOWN"
}

// DumpEvents outputs the event ring, oldest first
func DumpEvents() {
	if debugPrintln == nil {
		return
	}

	debugPrintln("[EVENTS] === Event Ring Dump ===")
	start := eventRingHead
	for i := uint8(0); i < EventRingSize; i++ {
		idx := (start + i) % EventRingSize
		evt := eventRing[idx]
		if evt.EventType == 0 {
			continue
		}
		debugPrintln("[EVENTS] " + eventName(evt.EventType) +
			" clock=" + utoa(evt.Clock) +
			" v1=" + utoa(evt.Value1) +
			" v2=" + utoa(evt.Value2))
	}
	debugPrintln("[EVENTS] === End Dump ===")
}
