package core

// DMATimed captures edge-to-edge durations pushed by a counter program,
// moved from its RX FIFO by a block transfer. Samples are decoded in place
// once the transfer completes.
type DMATimed struct {
	dma   BlockTransfer
	src   SlotID
	scale uint32
	buf   *ResultBuffer[uint32]
}

// NewDMATimed creates a strategy reading src into buf.
func NewDMATimed(dma BlockTransfer, src SlotID, scale uint32, buf *ResultBuffer[uint32]) *DMATimed {
	return &DMATimed{dma: dma, src: src, scale: scale, buf: buf}
}

func (d *DMATimed) Name() string                      { return "dma" }
func (d *DMATimed) Clamp(count uint32) (uint32, bool) { return d.buf.Clamp(count) }

// Begin arms the transfer: destination the buffer, source the FIFO, count
// the target.
func (d *DMATimed) Begin(p *Progress) error {
	return d.dma.Start(d.buf.data[:p.Target()], d.src)
}

func (d *DMATimed) Sample(*Progress) bool { return false }

func (d *DMATimed) Complete(p *Progress) bool {
	if d.dma.Busy() {
		return false
	}
	p.set(p.Target() - d.dma.Remaining())
	return true
}

func (d *DMATimed) Cancel(p *Progress) uint32 {
	d.dma.Abort()
	n := p.Target() - d.dma.Remaining()
	p.set(n)
	return n
}

func (d *DMATimed) Finish(n uint32) {
	DecodeDurations(d.buf.Samples(n), d.scale)
}

func (d *DMATimed) Bytes(n uint32) []byte {
	return d.buf.Bytes(n)
}
