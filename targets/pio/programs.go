//go:build rp2040

package pio

import (
	"pioscope/core"

	rp2pio "github.com/tinygo-org/pio/rp2-pio"
)

// Waveform programs. The high count waits in the TX FIFO, the low count in
// ISR; each phase costs its count plus three cycles.
//
//	    pull block
//	.wrap_target
//	    mov x, osr
//	    set pins, 1
//	hi: jmp x--, hi
//	    mov x, isr
//	    set pins, 0
//	lo: jmp x--, lo
//	.wrap
//
// The delayed variant first spins on Y, preloaded with the delay count,
// which costs the count plus two cycles before the pull.
func buildWaveformProgram(delayed bool) (program []uint16, wrapTarget uint8) {
	asm := rp2pio.AssemblerV0{SidesetBits: 0}
	var base uint8
	if delayed {
		program = append(program, asm.Jmp(0, rp2pio.JmpYNZeroDec).Encode()) // wait: jmp y--, wait
		base = 1
	}
	program = append(program,
		asm.Pull(false, true).Encode(),                       // pull block
		rp2pio.EncodeMov(rp2pio.SrcDestX, rp2pio.SrcDestOSR), // mov x, osr
		asm.Set(rp2pio.SetDestPins, 1).Encode(),              // set pins, 1
		asm.Jmp(base+3, rp2pio.JmpXNZeroDec).Encode(),        // hi: jmp x--, hi
		rp2pio.EncodeMov(rp2pio.SrcDestX, rp2pio.SrcDestISR), // mov x, isr
		asm.Set(rp2pio.SetDestPins, 0).Encode(),              // set pins, 0
		asm.Jmp(base+6, rp2pio.JmpXNZeroDec).Encode(),        // lo: jmp x--, lo
	)
	return program, base + 1
}

// Edge counter. After the first full rising edge it times each phase of
// the input by counting X down, two cycles per count, and pushes the
// remainder. High phases start from all ones, low phases from Y, which is
// preloaded with 0x7fffffff, so bit 31 of every sample tags its phase.
//
//	    wait 0 pin 0
//	    wait 1 pin 0
//	.wrap_target
//	    mov x, ~null
//	hi: jmp x--, test
//	test:
//	    jmp pin, hi
//	    mov isr, x
//	    push noblock
//	    mov x, y
//	lo: jmp pin, done
//	    jmp x--, lo
//	done:
//	    mov isr, x
//	    push noblock
//	.wrap
func buildCounterProgram() (program []uint16, wrapTarget uint8) {
	asm := rp2pio.AssemblerV0{SidesetBits: 0}
	program = []uint16{
		rp2pio.EncodeWaitPin(false, 0),                           // 0: wait 0 pin 0
		rp2pio.EncodeWaitPin(true, 0),                            // 1: wait 1 pin 0
		rp2pio.EncodeMovNot(rp2pio.SrcDestX, rp2pio.SrcDestNull), // 2: mov x, ~null
		asm.Jmp(4, rp2pio.JmpXNZeroDec).Encode(),                 // 3: jmp x--, 4
		asm.Jmp(3, rp2pio.JmpPinInput).Encode(),                  // 4: jmp pin, 3
		rp2pio.EncodeMov(rp2pio.SrcDestISR, rp2pio.SrcDestX),     // 5: mov isr, x
		rp2pio.EncodePush(false, false),                          // 6: push noblock
		rp2pio.EncodeMov(rp2pio.SrcDestX, rp2pio.SrcDestY),       // 7: mov x, y
		asm.Jmp(10, rp2pio.JmpPinInput).Encode(),                 // 8: jmp pin, 10
		asm.Jmp(8, rp2pio.JmpXNZeroDec).Encode(),                 // 9: jmp x--, 8
		rp2pio.EncodeMov(rp2pio.SrcDestISR, rp2pio.SrcDestX),     // 10: mov isr, x
		rp2pio.EncodePush(false, false),                          // 11: push noblock
	}
	return program, 2
}

type program struct {
	code       []uint16
	wrapTarget uint8
}

// programs holds every program kind, assembled once at startup. Loading
// happens on arm in bus interrupt context, where the heap is off limits.
var programs [3]program

func init() {
	for kind := range programs {
		p := &programs[kind]
		switch core.ProgramKind(kind) {
		case core.ProgramPlain:
			p.code, p.wrapTarget = buildWaveformProgram(false)
		case core.ProgramDelayed:
			p.code, p.wrapTarget = buildWaveformProgram(true)
		case core.ProgramCounter:
			p.code, p.wrapTarget = buildCounterProgram()
		}
	}
}

// programFor returns the instructions and wrap target for kind.
func programFor(kind core.ProgramKind) ([]uint16, uint8) {
	if int(kind) >= len(programs) {
		kind = core.ProgramPlain
	}
	p := &programs[kind]
	return p.code, p.wrapTarget
}
