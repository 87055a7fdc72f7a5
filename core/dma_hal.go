package core

// BlockTransfer moves words from a sequencer RX FIFO into memory without
// CPU involvement, paced by the FIFO's data request.
type BlockTransfer interface {
	// Start begins a transfer of len(dst) words from src, incrementing the
	// destination only. Must not block.
	Start(dst []uint32, src SlotID) error

	// Busy reports whether the transfer is still running.
	Busy() bool

	// Remaining returns the number of words not yet transferred.
	Remaining() uint32

	// Abort stops the transfer and waits for in-flight words to drain.
	Abort()
}
