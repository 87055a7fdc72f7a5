package core

import (
	"errors"
	"math"
)

var ErrBadTickRate = errors.New("tick rate denominator is zero")

// Sequencer program latencies in cycles. The delayed program spends two
// cycles leaving its delay loop; each phase of the high/low loop spends
// three outside its countdown.
const (
	DelayEntryLatency = 2
	LoopLatency       = 3
)

// counterSeed is preloaded into Y for the counter program. Low phases count
// down from it, high phases from all ones, so bit 31 tags the phase.
const counterSeed = 0x7FFFFFFF

// TickRate converts parameter units to sequencer cycles as Num/Den. A
// 125 MHz system clock divided by 25 gives 5 cycles per microsecond.
type TickRate struct {
	Num uint32
	Den uint32
}

// Cycles converts v, saturating at the largest count a register holds.
func (r TickRate) Cycles(v uint32) (uint32, bool) {
	c := uint64(v) * uint64(r.Num) / uint64(r.Den)
	if c > math.MaxUint32 {
		return math.MaxUint32, true
	}
	return uint32(c), false
}

// Phase names one timed segment of a waveform.
type Phase uint8

const (
	PhaseDelay Phase = iota
	PhaseHigh
	PhaseLow
)

// Timing is the register plan for one waveform.
type Timing struct {
	Program ProgramKind
	Delay   uint32 // Y preload; only for ProgramDelayed
	High    uint32 // staged in the TX FIFO
	Low     uint32 // ISR preload
	Clamped uint8  // bit per Phase that saturated
}

func (t *Timing) flag(ph Phase, over bool) {
	if over {
		t.Clamped |= 1 << ph
	}
}

// subLatency removes fixed latency, saturating at zero.
func subLatency(c, latency uint32) (uint32, bool) {
	if c < latency {
		return 0, true
	}
	return c - latency, false
}

// PlanWaveform converts p into cycle counts. A zero delay selects the plain
// program. No phase wraps: values that do not fit saturate and the phase is
// flagged in Clamped.
func PlanWaveform(p ParameterSet, rate TickRate) (Timing, error) {
	if rate.Den == 0 {
		return Timing{}, ErrBadTickRate
	}

	var t Timing
	delay, over := rate.Cycles(p.DelayUS)
	t.flag(PhaseDelay, over)
	high, over := rate.Cycles(p.HighUS)
	t.flag(PhaseHigh, over)
	low, over := rate.Cycles(p.LowUS)
	t.flag(PhaseLow, over)

	if p.DelayUS == 0 {
		t.Program = ProgramPlain
	} else {
		t.Program = ProgramDelayed
		t.Delay, over = subLatency(delay, DelayEntryLatency)
		t.flag(PhaseDelay, over)
	}
	t.High, over = subLatency(high, LoopLatency)
	t.flag(PhaseHigh, over)
	t.Low, over = subLatency(low, LoopLatency)
	t.flag(PhaseLow, over)

	return t, nil
}

// RoleKind tells the loader what a sequencer slot does.
type RoleKind uint8

const (
	RoleWaveform RoleKind = iota // drives a clock/gate pin
	RoleCounter                  // times edges on an input pin
)

// Role binds a parameter block to a sequencer slot and pin.
type Role struct {
	Name  string
	Kind  RoleKind
	Slot  SlotID
	Pin   GPIOPin
	Block int // parameter block; ignored for counters
}

// Loader places waveform programs on sequencer slots and loads their
// registers.
type Loader struct {
	arena *ProgramArena
	seq   SequencerDriver
	rate  TickRate
}

// NewLoader creates a loader converting with rate.
func NewLoader(arena *ProgramArena, rate TickRate) *Loader {
	return &Loader{arena: arena, seq: arena.seq, rate: rate}
}

// Rate returns the conversion in use.
func (l *Loader) Rate() TickRate {
	return l.rate
}

// Load puts role's program on its slot and preloads it from p. The state
// machine is left disabled unless enable is set. The lease is the only way
// to unload the program again.
//
// Register order matters: with a delay, the delay goes through OSR into Y;
// low goes through OSR into ISR; high is left in the TX FIFO for the
// program's first pull.
func (l *Loader) Load(role Role, p ParameterSet, enable bool) (*ProgramLease, Timing, error) {
	if role.Kind == RoleCounter {
		lease, err := l.loadCounter(role, enable)
		return lease, Timing{Program: ProgramCounter}, err
	}

	t, err := PlanWaveform(p, l.rate)
	if err != nil {
		return nil, t, err
	}

	lease, err := l.arena.Acquire(role.Slot, t.Program, role.Pin)
	if err != nil {
		return nil, t, err
	}

	slot := role.Slot
	if t.Program == ProgramDelayed {
		l.seq.Put(slot, t.Delay)
		l.seq.Exec(slot, ExecPull)
		l.seq.Exec(slot, ExecOutY)
	}
	l.seq.Put(slot, t.Low)
	l.seq.Exec(slot, ExecPull)
	l.seq.Exec(slot, ExecOutISR)
	l.seq.Put(slot, t.High)

	if enable {
		l.seq.SetEnabled(slot, true)
	}
	return lease, t, nil
}

func (l *Loader) loadCounter(role Role, enable bool) (*ProgramLease, error) {
	lease, err := l.arena.Acquire(role.Slot, ProgramCounter, role.Pin)
	if err != nil {
		return nil, err
	}
	l.seq.Put(role.Slot, counterSeed)
	l.seq.Exec(role.Slot, ExecPull)
	l.seq.Exec(role.Slot, ExecOutY)
	if enable {
		l.seq.SetEnabled(role.Slot, true)
	}
	return lease, nil
}
