package core

import (
	"errors"
	"strings"
)

// fakeSequencer records every call as a line of text. It also models the
// 4-deep TX FIFO and the scratch registers a preload goes through: a put to
// a full FIFO is lost, and a pull from an empty one copies X.
type fakeSequencer struct {
	ops       []string
	nextOff   uint8
	enabled   map[SlotID]bool
	loaded    map[SlotID]ProgramKind
	failLoad  bool
	loads     int
	unloads   int
	syncMasks []uint8

	tx  map[SlotID][]uint32
	osr map[SlotID]uint32
	y   map[SlotID]uint32
	isr map[SlotID]uint32
}

const fakeFIFODepth = 4

func newFakeSequencer() *fakeSequencer {
	return &fakeSequencer{
		enabled: make(map[SlotID]bool),
		loaded:  make(map[SlotID]ProgramKind),
		tx:      make(map[SlotID][]uint32),
		osr:     make(map[SlotID]uint32),
		y:       make(map[SlotID]uint32),
		isr:     make(map[SlotID]uint32),
	}
}

func slotName(s SlotID) string {
	return "pio" + itoa(int(s.Block)) + "." + itoa(int(s.SM))
}

func (f *fakeSequencer) LoadProgram(slot SlotID, kind ProgramKind, pin GPIOPin) (uint8, error) {
	if f.failLoad {
		return 0, errors.New("no room")
	}
	off := f.nextOff
	f.nextOff += 8
	f.loads++
	f.loaded[slot] = kind
	f.ops = append(f.ops, "load "+slotName(slot)+" "+kind.String()+" pin"+itoa(int(pin)))
	return off, nil
}

func (f *fakeSequencer) UnloadProgram(slot SlotID, kind ProgramKind, offset uint8) {
	f.unloads++
	delete(f.loaded, slot)
	delete(f.tx, slot)
	f.ops = append(f.ops, "unload "+slotName(slot)+" "+kind.String()+" @"+itoa(int(offset)))
}

func (f *fakeSequencer) Put(slot SlotID, value uint32) {
	f.ops = append(f.ops, "put "+slotName(slot)+" "+utoa(value))
	if len(f.tx[slot]) < fakeFIFODepth {
		f.tx[slot] = append(f.tx[slot], value)
	}
}

func (f *fakeSequencer) Exec(slot SlotID, op ExecOp) {
	name := [...]string{"pull", "out y", "out isr"}[op]
	f.ops = append(f.ops, "exec "+slotName(slot)+" "+name)
	switch op {
	case ExecPull:
		if q := f.tx[slot]; len(q) > 0 {
			f.osr[slot] = q[0]
			f.tx[slot] = q[1:]
		} else {
			f.osr[slot] = 0 // X, never written by a preload
		}
	case ExecOutY:
		f.y[slot] = f.osr[slot]
	case ExecOutISR:
		f.isr[slot] = f.osr[slot]
	}
}

func (f *fakeSequencer) SetEnabled(slot SlotID, enabled bool) {
	f.enabled[slot] = enabled
	if enabled {
		f.ops = append(f.ops, "enable "+slotName(slot))
	}
}

func (f *fakeSequencer) EnableInSync(block uint8, mask uint8) {
	f.syncMasks = append(f.syncMasks, mask)
	for sm := uint8(0); sm < 4; sm++ {
		if mask&(1<<sm) != 0 {
			f.enabled[SlotID{Block: block, SM: sm}] = true
		}
	}
	f.ops = append(f.ops, "sync pio"+itoa(int(block))+" mask"+itoa(int(mask)))
}

func (f *fakeSequencer) anyEnabled() bool {
	for _, on := range f.enabled {
		if on {
			return true
		}
	}
	return false
}

func (f *fakeSequencer) opsWith(prefix string) []string {
	var out []string
	for _, op := range f.ops {
		if strings.HasPrefix(op, prefix) {
			out = append(out, op)
		}
	}
	return out
}

// fakeGPIO tracks output levels.
type fakeGPIO struct {
	levels  map[GPIOPin]bool
	toggles map[GPIOPin]int
}

func newFakeGPIO() *fakeGPIO {
	return &fakeGPIO{levels: make(map[GPIOPin]bool), toggles: make(map[GPIOPin]int)}
}

func (g *fakeGPIO) ConfigureOutput(pin GPIOPin) error { return nil }

func (g *fakeGPIO) SetPin(pin GPIOPin, value bool) error {
	if g.levels[pin] != value {
		g.toggles[pin]++
	}
	g.levels[pin] = value
	return nil
}

func (g *fakeGPIO) GetPin(pin GPIOPin) (bool, error) { return g.levels[pin], nil }

// fakeLink is a drivers.SPI recording each exchange.
type fakeLink struct {
	calls int
	lens  []int
	last  []byte
	fill  byte
	err   error
}

func (l *fakeLink) Tx(w, r []byte) error {
	l.calls++
	l.lens = append(l.lens, len(w))
	l.last = append([]byte(nil), w...)
	if l.err != nil {
		return l.err
	}
	for i := range r {
		r[i] = l.fill
	}
	return nil
}

func (l *fakeLink) Transfer(b byte) (byte, error) { return l.fill, nil }

// fakeDMA completes when the test says so.
type fakeDMA struct {
	dst     []uint32
	src     SlotID
	busy    bool
	done    uint32
	starts  int
	aborted bool
	err     error
}

func (d *fakeDMA) Start(dst []uint32, src SlotID) error {
	if d.err != nil {
		return d.err
	}
	d.dst = dst
	d.src = src
	d.busy = true
	d.done = 0
	d.starts++
	return nil
}

func (d *fakeDMA) Busy() bool { return d.busy }

func (d *fakeDMA) Remaining() uint32 { return uint32(len(d.dst)) - d.done }

func (d *fakeDMA) Abort() {
	d.aborted = true
	d.busy = false
}

// deliver writes raw words as the FIFO would and finishes when full.
func (d *fakeDMA) deliver(words ...uint32) {
	for _, w := range words {
		if d.done >= uint32(len(d.dst)) {
			return
		}
		d.dst[d.done] = w
		d.done++
	}
	if d.done == uint32(len(d.dst)) {
		d.busy = false
	}
}

// rampSource returns an incrementing scalar.
type rampSource struct{ next uint16 }

func (r *rampSource) Latest() uint16 {
	v := r.next
	r.next++
	return v
}

// nullSequencer accepts everything and records nothing.
type nullSequencer struct{}

func (nullSequencer) LoadProgram(SlotID, ProgramKind, GPIOPin) (uint8, error) { return 0, nil }
func (nullSequencer) UnloadProgram(SlotID, ProgramKind, uint8)                {}
func (nullSequencer) Put(SlotID, uint32)                                      {}
func (nullSequencer) Exec(SlotID, ExecOp)                                     {}
func (nullSequencer) SetEnabled(SlotID, bool)                                 {}
func (nullSequencer) EnableInSync(uint8, uint8)                               {}
