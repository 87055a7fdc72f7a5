//go:build rp2040

package pio

import (
	"device/rp"
	"errors"
	"machine"
	"runtime/volatile"

	"pioscope/core"

	rp2pio "github.com/tinygo-org/pio/rp2-pio"
)

var ErrSlotClaimed = errors.New("PIO state machine already claimed")

var (
	// State machine ownership. RP2040 has 2 PIO blocks with 4 state
	// machines each.
	claimed = [2][4]bool{}

	// Clock divider per state machine, applied at every load
	clockDivs = [2][4]uint16{}
)

// Sequencer implements core.SequencerDriver on the RP2040 PIO blocks.
type Sequencer struct{}

// NewSequencer returns the PIO sequencer driver.
func NewSequencer() *Sequencer {
	return &Sequencer{}
}

func block(n uint8) *rp2pio.PIO {
	if n == 0 {
		return rp2pio.PIO0
	}
	return rp2pio.PIO1
}

func stateMachine(slot core.SlotID) rp2pio.StateMachine {
	return block(slot.Block).StateMachine(slot.SM)
}

// Claim reserves a state machine for the lifetime of the image and sets its
// clock divider. Programs come and go; the claim stays.
func (s *Sequencer) Claim(slot core.SlotID, clockDiv uint16) error {
	if claimed[slot.Block][slot.SM] {
		return ErrSlotClaimed
	}
	if !stateMachine(slot).TryClaim() {
		return ErrSlotClaimed
	}
	claimed[slot.Block][slot.SM] = true
	if clockDiv == 0 {
		clockDiv = 1
	}
	clockDivs[slot.Block][slot.SM] = clockDiv
	return nil
}

// LoadProgram places kind's program in instruction memory and configures
// the state machine around it, leaving it disabled.
func (s *Sequencer) LoadProgram(slot core.SlotID, kind core.ProgramKind, pin core.GPIOPin) (uint8, error) {
	pio := block(slot.Block)
	sm := stateMachine(slot)
	program, wrapTarget := programFor(kind)

	offset, err := pio.AddProgram(program, -1)
	if err != nil {
		return 0, err
	}

	p := machine.Pin(pin)
	p.Configure(machine.PinConfig{Mode: pio.PinMode()})

	cfg := rp2pio.DefaultStateMachineConfig()
	cfg.SetWrap(offset+uint8(len(program))-1, offset+wrapTarget)
	cfg.SetClkDivIntFrac(clockDivs[slot.Block][slot.SM], 0)

	if kind == core.ProgramCounter {
		cfg.SetInPins(p)
		cfg.SetJmpPin(p)
		// No RX join: it would disable the TX FIFO the Y seed arrives
		// through. DMA keeps the 4-deep RX FIFO drained.
		cfg.SetInShift(false, false, 32)
	} else {
		cfg.SetSetPins(p, 1)
		cfg.SetOutShift(true, false, 32)
	}

	sm.Init(offset, cfg)

	if kind == core.ProgramCounter {
		sm.SetPindirsConsecutive(p, 1, false)
	} else {
		sm.SetPindirsConsecutive(p, 1, true)
		sm.SetPinsConsecutive(p, 1, false)
	}
	return offset, nil
}

// UnloadProgram stops the state machine and frees the instruction memory
// it ran from.
func (s *Sequencer) UnloadProgram(slot core.SlotID, kind core.ProgramKind, offset uint8) {
	sm := stateMachine(slot)
	sm.SetEnabled(false)
	sm.ClearFIFOs()
	sm.Restart()

	program, _ := programFor(kind)
	block(slot.Block).ClearProgramSection(offset, uint8(len(program)))
}

// Put writes one word to the TX FIFO.
func (s *Sequencer) Put(slot core.SlotID, value uint32) {
	stateMachine(slot).TxPut(value)
}

// Exec runs one instruction immediately.
func (s *Sequencer) Exec(slot core.SlotID, op core.ExecOp) {
	var instr uint16
	switch op {
	case core.ExecPull:
		instr = rp2pio.EncodePull(false, false)
	case core.ExecOutY:
		instr = rp2pio.EncodeOut(rp2pio.SrcDestY, 32)
	case core.ExecOutISR:
		instr = rp2pio.EncodeOut(rp2pio.SrcDestISR, 32)
	}
	stateMachine(slot).Exec(instr)
}

// SetEnabled starts or stops one state machine.
func (s *Sequencer) SetEnabled(slot core.SlotID, enabled bool) {
	stateMachine(slot).SetEnabled(enabled)
}

// EnableInSync starts the state machines in mask on the same cycle, with
// their clock dividers restarted together.
func (s *Sequencer) EnableInSync(n uint8, mask uint8) {
	m := uint32(mask & 0xf)
	block(n).HW().CTRL.SetBits(m<<rp.PIO0_CTRL_SM_ENABLE_Pos | m<<rp.PIO0_CTRL_CLKDIV_RESTART_Pos)
}

// RxReg returns the RX FIFO register of a state machine, the source of a
// block transfer.
func RxReg(slot core.SlotID) *volatile.Register32 {
	return stateMachine(slot).RxReg()
}

// RxDREQ returns the DMA request line paced by a state machine's RX FIFO.
func RxDREQ(slot core.SlotID) uint32 {
	const (
		dreqPIO0RX0 = 0x4
		dreqPIO1RX0 = 0xc
	)
	if slot.Block == 0 {
		return dreqPIO0RX0 + uint32(slot.SM)
	}
	return dreqPIO1RX0 + uint32(slot.SM)
}

// ReadY copies a stopped state machine's Y register out through its RX
// FIFO. For bench checks of the preload; the FIFO must have room.
func ReadY(slot core.SlotID) uint32 {
	sm := stateMachine(slot)
	sm.Exec(rp2pio.EncodeMov(rp2pio.SrcDestISR, rp2pio.SrcDestY))
	sm.Exec(rp2pio.EncodePush(false, false))
	return sm.RxGet()
}
