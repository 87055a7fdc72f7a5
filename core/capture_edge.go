package core

// EdgeSampled captures one scalar per falling edge of the sample clock.
// The scalar comes from a free-running converter kept fresh in the
// background, so the edge handler is a load and a store.
type EdgeSampled struct {
	source ScalarSource
	buf    *ResultBuffer[uint16]
}

// NewEdgeSampled creates an edge-sampled strategy filling buf from source.
func NewEdgeSampled(source ScalarSource, buf *ResultBuffer[uint16]) *EdgeSampled {
	return &EdgeSampled{source: source, buf: buf}
}

func (e *EdgeSampled) Name() string                      { return "edge" }
func (e *EdgeSampled) Clamp(count uint32) (uint32, bool) { return e.buf.Clamp(count) }
func (e *EdgeSampled) Begin(*Progress) error             { return nil }

// Sample stores the latest scalar at buffer[counter]. Edges past the target
// are ignored so the counter never exceeds it.
func (e *EdgeSampled) Sample(p *Progress) bool {
	n := p.Counter()
	target := p.Target()
	if n >= target {
		return false
	}
	e.buf.data[n] = e.source.Latest()
	n++
	p.set(n)
	return n == target
}

func (e *EdgeSampled) Complete(p *Progress) bool {
	return p.Done()
}

func (e *EdgeSampled) Cancel(p *Progress) uint32 {
	return p.Counter()
}

func (e *EdgeSampled) Finish(uint32) {}

func (e *EdgeSampled) Bytes(n uint32) []byte {
	return e.buf.Bytes(n)
}
