package core

import "sync/atomic"

// Progress is the sample counter shared between the capture path and the
// main loop. Only the capture path writes it.
type Progress struct {
	counter uint32
	target  uint32
}

// Counter returns the number of samples captured so far.
func (p *Progress) Counter() uint32 { return atomic.LoadUint32(&p.counter) }

// Target returns the number of samples the capture wants.
func (p *Progress) Target() uint32 { return atomic.LoadUint32(&p.target) }

// Done reports whether the counter reached a non-zero target.
func (p *Progress) Done() bool {
	t := p.Target()
	return t != 0 && p.Counter() >= t
}

func (p *Progress) reset(target uint32) {
	atomic.StoreUint32(&p.counter, 0)
	atomic.StoreUint32(&p.target, target)
}

func (p *Progress) set(n uint32) { atomic.StoreUint32(&p.counter, n) }

// CaptureStrategy fills a result buffer during one arm cycle.
type CaptureStrategy interface {
	// Name identifies the strategy in logs.
	Name() string

	// Clamp limits a requested sample count to what one capture holds and
	// reports whether it had to. Interrupt context.
	Clamp(count uint32) (uint32, bool)

	// Begin prepares for a capture of p.Target() samples. It runs just
	// before the sequencers are enabled, possibly in interrupt context.
	Begin(p *Progress) error

	// Sample handles one sample-clock edge and reports whether the target
	// was reached. Interrupt context.
	Sample(p *Progress) bool

	// Complete polls for completion from the main loop.
	Complete(p *Progress) bool

	// Cancel stops any transfer in flight and returns how many samples
	// landed.
	Cancel(p *Progress) uint32

	// Finish post-processes the first n samples in place.
	Finish(n uint32)

	// Bytes returns the first n samples for readout, aliasing the buffer.
	Bytes(n uint32) []byte
}
