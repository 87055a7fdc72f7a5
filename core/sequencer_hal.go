package core

// SlotID names one sequencer state machine.
type SlotID struct {
	Block uint8 // PIO block
	SM    uint8 // State machine within the block
}

// ProgramKind selects one of the sequencer programs.
type ProgramKind uint8

const (
	ProgramPlain   ProgramKind = iota // two-phase high/low loop
	ProgramDelayed                    // one-shot delay from Y, then the loop
	ProgramCounter                    // edge-to-edge duration counter; Y seeded through TX
)

func (k ProgramKind) String() string {
	switch k {
	case ProgramPlain:
		return "plain"
	case ProgramDelayed:
		return "delayed"
	case ProgramCounter:
		return "counter"
	}
	return "unknown"
}

// ExecOp is an instruction injected into a stopped state machine to move a
// TX FIFO word into a scratch register.
type ExecOp uint8

const (
	ExecPull   ExecOp = iota // pull noblock: TX FIFO -> OSR
	ExecOutY                 // out y, 32: OSR -> Y
	ExecOutISR               // out isr, 32: OSR -> ISR
)

// SequencerDriver is the abstract PIO interface core code uses. Every method
// is called with the target state machine disabled unless noted, and none of
// them block: arm runs in bus interrupt context.
type SequencerDriver interface {
	// LoadProgram writes the program into instruction memory and configures
	// the slot's state machine for pin, leaving it disabled. The TX FIFO
	// must stay usable: every preload goes through it, the counter's Y seed
	// included, so a counter slot must not join its FIFOs for RX.
	LoadProgram(slot SlotID, kind ProgramKind, pin GPIOPin) (offset uint8, err error)

	// UnloadProgram frees the instruction memory taken at offset.
	UnloadProgram(slot SlotID, kind ProgramKind, offset uint8)

	// Put writes one word into the slot's TX FIFO.
	Put(slot SlotID, value uint32)

	// Exec runs one instruction immediately.
	Exec(slot SlotID, op ExecOp)

	// SetEnabled starts or stops one state machine. Safe from interrupts.
	SetEnabled(slot SlotID, enabled bool)

	// EnableInSync starts the state machines in mask on one block in the
	// same clock cycle with their clock dividers restarted. Safe from
	// interrupts.
	EnableInSync(block uint8, mask uint8)
}
