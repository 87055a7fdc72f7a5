package core

import "math"

const phaseHighBit = 0x80000000

// DecodeDuration converts a raw counter sample into a phase duration in
// ticks of the decode scale. The counter counts high phases down from all
// ones and low phases down from 0x7FFFFFFF, so bit 31 tells them apart and
// is carried into the result. Arithmetic wraps like the 32-bit hardware.
func DecodeDuration(raw, scale uint32) uint32 {
	ticks := raw - 1
	if ticks&phaseHighBit != 0 {
		return scale*(math.MaxUint32-ticks) + phaseHighBit
	}
	return scale * (math.MaxInt32 - ticks)
}

// IsHighPhase reports whether a decoded duration is a high phase.
func IsHighPhase(decoded uint32) bool {
	return decoded&phaseHighBit != 0
}

// DecodeDurations decodes samples in place.
func DecodeDurations(samples []uint32, scale uint32) {
	for i, raw := range samples {
		samples[i] = DecodeDuration(raw, scale)
	}
}
