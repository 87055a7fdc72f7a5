package core

import (
	"encoding/binary"

	"tinygo.org/x/drivers"
)

// Readout sends a finished buffer in one blocking full-duplex exchange and
// returns the number of bytes moved. Whatever the host clocks back is
// written over the buffer.
func Readout(link drivers.SPI, payload []byte) (int, error) {
	if len(payload) == 0 {
		return 0, nil
	}
	if err := link.Tx(payload, payload); err != nil {
		return 0, err
	}
	return len(payload), nil
}

// DurationLog is a readout link that prints decoded durations to the debug
// writer instead of clocking them out. Used by images without a host on the
// byte link.
type DurationLog struct {
	// Num/Den scale decoded ticks for display; a zero Den means 1/1.
	Num, Den uint32
}

// Tx prints every little-endian word of w as a "High:"/"Low:" line. r, if
// given, receives a copy of w.
func (d *DurationLog) Tx(w, r []byte) error {
	num, den := uint64(d.Num), uint64(d.Den)
	if den == 0 {
		num, den = 1, 1
	}
	for i := 0; i+4 <= len(w); i += 4 {
		v := binary.LittleEndian.Uint32(w[i:])
		label := "Low:  "
		if IsHighPhase(v) {
			label = "High: "
			v &^= phaseHighBit
		}
		DebugPrintln(label + utoa64(uint64(v)*num/den) + " " + itoa(i/4))
	}
	if len(w) > 0 && len(r) >= len(w) && &r[0] != &w[0] {
		copy(r, w)
	}
	return nil
}

// Transfer echoes b.
func (d *DurationLog) Transfer(b byte) (byte, error) {
	return b, nil
}
