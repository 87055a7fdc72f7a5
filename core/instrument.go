package core

import (
	"errors"
	"sync/atomic"

	"pioscope/protocol"

	"tinygo.org/x/drivers"
)

var (
	ErrBusy         = errors.New("instrument is not disarmed")
	ErrZeroCount    = errors.New("sample count is zero")
	ErrNoStrategy   = errors.New("no capture strategy")
	ErrNoReadout    = errors.New("no readout link")
	ErrTooManyRoles = errors.New("more roles than program slots")
	ErrTargetBlock  = errors.New("target block out of range")
)

// ArmState is the acquisition lifecycle.
type ArmState uint32

const (
	Disarmed ArmState = iota
	Armed
	Capturing
)

func (s ArmState) String() string {
	switch s {
	case Disarmed:
		return "disarmed"
	case Armed:
		return "armed"
	case Capturing:
		return "capturing"
	}
	return "unknown"
}

// Pending main-loop reports raised from interrupt context.
const (
	noteArmed = 1 << iota
	noteRejected
	noteCountClamped
	noteCycleClamped
)

// Config describes one instrument image.
type Config struct {
	Roles       []Role            // at most ArenaSlots
	Regions     []protocol.Region // select codes of the register window
	TargetBlock int               // block whose count sets the sample target
	Rate        TickRate
	SelfTrigger bool   // start capturing at arm instead of on Trigger
	AutoRearm   bool   // arm again after each readout
	TimeoutUS   uint32 // abandon a capture after this long; 0 disables

	ActivePin GPIOPin // high from trigger to completion
	ArmedPin  GPIOPin // high while programs are resident
	EdgePin   GPIOPin // toggled on every sample edge
}

// Drivers are the hardware collaborators of an instrument.
type Drivers struct {
	Sequencer SequencerDriver
	GPIO      GPIODriver
	Readout   drivers.SPI
}

// Instrument owns the acquisition state of one image. Each field has a
// single writer:
//
//   - the bus interrupt writes parameters and arms
//   - the trigger and sample-edge interrupts move Armed to Capturing and
//     advance the counter
//   - the main loop (Poll) tears down, reads out and publishes status
//
// No method blocks; interrupt-side methods do not allocate.
type Instrument struct {
	cfg      Config
	params   *ParameterStore
	decoder  *protocol.Decoder
	commands *CommandRegistry
	arena    *ProgramArena
	loader   *Loader
	seq      SequencerDriver
	strategy CaptureStrategy
	readout  drivers.SPI

	state    uint32
	progress Progress
	leases   [ArenaSlots]*ProgramLease
	timings  [ArenaSlots]Timing
	nLeases  int

	requested uint32
	complete  uint32
	abort     uint32
	timedOut  uint32
	reading   uint32
	notes     uint32

	t0, t1 uint64

	active indicator
	armed  indicator
	edge   indicator

	timeout Timer

	flags      uint8
	busFlags   uint8 // raised by the decoder, carried into the next cycle
	lastErr    ErrorCode
	captures   uint16
	elapsed    uint32
	bytesSent  uint32
	readoutCRC uint16

	statusOut   *protocol.ScratchOutput
	statusBlock [StatusSize]byte
}

// NewInstrument wires an instrument. params must already hold the boot
// defaults.
func NewInstrument(cfg Config, params *ParameterStore, strategy CaptureStrategy, d Drivers) (*Instrument, error) {
	if strategy == nil {
		return nil, ErrNoStrategy
	}
	if d.Readout == nil {
		return nil, ErrNoReadout
	}
	if len(cfg.Roles) > ArenaSlots {
		return nil, ErrTooManyRoles
	}
	if cfg.TargetBlock < 0 || cfg.TargetBlock >= len(params.Blocks()) {
		return nil, ErrTargetBlock
	}
	for _, r := range cfg.Roles {
		if r.Kind == RoleWaveform && (r.Block < 0 || r.Block >= len(params.Blocks())) {
			return nil, ErrNoSuchBlock
		}
	}

	arena := NewProgramArena(d.Sequencer)
	in := &Instrument{
		cfg:       cfg,
		params:    params,
		commands:  NewCommandRegistry(),
		arena:     arena,
		loader:    NewLoader(arena, cfg.Rate),
		seq:       d.Sequencer,
		strategy:  strategy,
		readout:   d.Readout,
		active:    indicator{gpio: d.GPIO, pin: cfg.ActivePin},
		armed:     indicator{gpio: d.GPIO, pin: cfg.ArmedPin},
		edge:      indicator{gpio: d.GPIO, pin: cfg.EdgePin},
		statusOut: protocol.NewScratchOutput(),
	}
	in.timeout.Handler = in.onTimeout

	in.commands.Register(protocol.CmdArm, "arm", func() { in.Arm() })
	in.commands.Register(protocol.CmdAbort, "abort", in.RequestAbort)

	dec, err := protocol.NewDecoder(params.Window(), cfg.Regions, in.commands)
	if err != nil {
		return nil, err
	}
	in.decoder = dec

	for _, p := range []*indicator{&in.active, &in.armed, &in.edge} {
		if err := p.configure(); err != nil {
			return nil, err
		}
	}
	in.RefreshStatus()
	return in, nil
}

// State returns the current lifecycle state.
func (in *Instrument) State() ArmState {
	return ArmState(atomic.LoadUint32(&in.state))
}

func (in *Instrument) setState(s ArmState) {
	atomic.StoreUint32(&in.state, uint32(s))
}

// Progress returns the live sample counter.
func (in *Instrument) Progress() *Progress {
	return &in.progress
}

// Params returns the parameter store.
func (in *Instrument) Params() *ParameterStore {
	return in.params
}

// Commands returns the bus command registry.
func (in *Instrument) Commands() *CommandRegistry {
	return in.commands
}

// Timing returns the register plan loaded for role i at the last arm.
func (in *Instrument) Timing(i int) Timing {
	return in.timings[i]
}

func (in *Instrument) note(n uint32) {
	state := disableInterrupts()
	in.notes |= n
	restoreInterrupts(state)
}

func (in *Instrument) setFlag(f uint8) {
	state := disableInterrupts()
	in.flags |= f
	restoreInterrupts(state)
}

// HandleBusWord feeds one received bus byte to the register decoder.
// Bus interrupt context.
func (in *Instrument) HandleBusWord(w protocol.BusWord) {
	if err := in.decoder.Receive(w); err == protocol.ErrWindowOverflow {
		in.setFlag(FlagWindowOverflow)
		in.busFlags |= FlagWindowOverflow
		in.lastErr = ErrCodeWindow
		RecordEvent(EvtOverflow, uint32(in.decoder.Offset()), 0)
		Log("register write past end of window ignored")
	}
}

// Arm loads every role's program disabled, latches the sample target and
// moves to Armed, or straight to Capturing for self-triggered images.
// Arm while not disarmed is ignored. Bus interrupt context.
func (in *Instrument) Arm() error {
	if in.State() != Disarmed || atomic.LoadUint32(&in.reading) != 0 {
		in.setFlag(FlagArmIgnored)
		in.lastErr = ErrCodeBusy
		RecordEvent(EvtArmIgnored, uint32(in.State()), 0)
		Log("arm ignored: capture in progress")
		return ErrBusy
	}

	in.flags = in.busFlags
	in.busFlags = 0
	requested := in.params.Block(in.cfg.TargetBlock).Count
	if requested == 0 {
		in.lastErr = ErrCodeZeroCount
		RecordEvent(EvtArmRejected, uint32(ErrCodeZeroCount), 0)
		Log("arm rejected: zero count")
		return ErrZeroCount
	}

	target, clamped := in.strategy.Clamp(requested)
	if clamped {
		in.setFlag(FlagCountClamped)
		RecordEvent(EvtClamp, requested, target)
		in.note(noteCountClamped)
	}

	for i, role := range in.cfg.Roles {
		lease, timing, err := in.loader.Load(role, in.params.Block(role.Block), false)
		if err != nil {
			in.releaseAll()
			in.lastErr = ErrCodeLoad
			RecordEvent(EvtArmRejected, uint32(ErrCodeLoad), uint32(i))
			in.note(noteRejected)
			return err
		}
		in.leases[i] = lease
		in.timings[i] = timing
		in.nLeases = i + 1
		if timing.Clamped != 0 {
			in.setFlag(FlagCycleClamped)
			RecordEvent(EvtCycleClamp, uint32(i), uint32(timing.Clamped))
			in.note(noteCycleClamped)
		}
	}

	in.lastErr = ErrCodeNone
	in.requested = requested
	in.progress.reset(target)
	atomic.StoreUint32(&in.complete, 0)
	atomic.StoreUint32(&in.abort, 0)
	atomic.StoreUint32(&in.timedOut, 0)

	in.edge.set(false)
	in.armed.set(true)
	RecordEvent(EvtArm, target, uint32(in.nLeases))
	in.note(noteArmed)

	in.setState(Armed)
	if in.cfg.SelfTrigger {
		in.start()
	}
	return nil
}

// Trigger starts an armed capture: counter to zero, timestamp, timeout,
// then every slot enabled in lock-step. Ignored unless Armed. Trigger
// interrupt context.
func (in *Instrument) Trigger() bool {
	if in.State() != Armed {
		return false
	}
	in.start()
	return true
}

func (in *Instrument) start() {
	target := in.progress.Target()
	in.progress.reset(target)
	in.t0 = GetUptime()
	in.active.set(true)

	if err := in.strategy.Begin(&in.progress); err != nil {
		in.lastErr = ErrCodeStart
		in.active.set(false)
		atomic.StoreUint32(&in.abort, 1)
		return
	}
	if in.cfg.TimeoutUS != 0 {
		in.timeout.WakeTime = GetTime() + TimerFromUS(in.cfg.TimeoutUS)
		ScheduleTimer(&in.timeout)
	}
	in.setState(Capturing)
	in.enableRoles()
	RecordEvent(EvtTrigger, target, 0)
}

// enableRoles starts counters before waveforms so a counter sees the first
// edge it is meant to time.
func (in *Instrument) enableRoles() {
	for _, kind := range [2]RoleKind{RoleCounter, RoleWaveform} {
		var masks [2]uint8
		for i := 0; i < in.nLeases; i++ {
			if in.cfg.Roles[i].Kind != kind {
				continue
			}
			slot := in.leases[i].Slot()
			masks[slot.Block&1] |= 1 << slot.SM
		}
		for block, mask := range masks {
			if mask != 0 {
				in.seq.EnableInSync(uint8(block), mask)
			}
		}
	}
}

func (in *Instrument) stopRoles() {
	for i := 0; i < in.nLeases; i++ {
		if in.leases[i].Live() {
			in.seq.SetEnabled(in.leases[i].Slot(), false)
		}
	}
}

func (in *Instrument) releaseAll() {
	for i := 0; i < in.nLeases; i++ {
		if in.leases[i].Live() {
			in.seq.SetEnabled(in.leases[i].Slot(), false)
			in.leases[i].Release()
		}
		in.leases[i] = nil
	}
	in.nLeases = 0
}

// OnSampleEdge records one sample. On the sample that reaches the target
// it stops the sequencers and timestamps completion; teardown and readout
// are left to Poll. Sample-edge interrupt context.
func (in *Instrument) OnSampleEdge() {
	if in.State() != Capturing || atomic.LoadUint32(&in.complete) != 0 {
		return
	}
	in.edge.toggle()
	if in.strategy.Sample(&in.progress) {
		in.stopRoles()
		in.t1 = GetUptime()
		in.active.set(false)
		atomic.StoreUint32(&in.complete, 1)
	}
}

// RequestAbort asks the main loop to abandon the current capture without
// reading it out. A capture that already reached its target is read out
// regardless. Safe from any context.
func (in *Instrument) RequestAbort() {
	if in.State() != Disarmed && atomic.LoadUint32(&in.complete) == 0 {
		atomic.StoreUint32(&in.abort, 1)
	}
}

func (in *Instrument) onTimeout(*Timer) uint8 {
	if in.State() != Disarmed && atomic.LoadUint32(&in.complete) == 0 {
		atomic.StoreUint32(&in.timedOut, 1)
		atomic.StoreUint32(&in.abort, 1)
	}
	return SF_DONE
}

// Disarm stops every slot, unloads every program through its lease and
// returns to Disarmed. It reports whether there was anything to tear down;
// disarming a disarmed instrument is a no-op.
func (in *Instrument) Disarm() bool {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	if in.State() == Disarmed && in.nLeases == 0 {
		return false
	}
	in.releaseAll()
	CancelTimer(&in.timeout)
	in.active.set(false)
	in.armed.set(false)
	in.edge.set(false)
	in.setState(Disarmed)
	return true
}

// Poll advances the main-loop side of the lifecycle: it reports interrupt
// events, handles abort and timeout, and on completion tears down, decodes
// and reads out exactly once. Completion wins over a pending abort.
func (in *Instrument) Poll() {
	in.report()

	switch {
	case in.State() == Disarmed:
	case in.State() == Capturing && in.captureDone():
		in.finish()
	case atomic.LoadUint32(&in.abort) != 0:
		in.cancel()
	}
	in.RefreshStatus()
}

// captureDone reports completion, latching it the first time the strategy
// sees its target reached.
func (in *Instrument) captureDone() bool {
	if atomic.LoadUint32(&in.complete) != 0 {
		return true
	}
	if !in.strategy.Complete(&in.progress) {
		return false
	}
	in.stopRoles()
	in.t1 = GetUptime()
	in.active.set(false)
	atomic.StoreUint32(&in.complete, 1)
	return true
}

func (in *Instrument) finish() {
	n := in.progress.Counter()
	atomic.StoreUint32(&in.reading, 1)
	in.Disarm()

	in.elapsed = uint32(in.t1 - in.t0)
	in.captures++
	RecordEvent(EvtComplete, n, in.elapsed)
	DebugPrintln("capture complete: " + utoa(n) + " samples in " + utoa(in.elapsed) + " us")

	in.strategy.Finish(n)
	payload := in.strategy.Bytes(n)
	in.readoutCRC = protocol.CRC16(payload)

	sent, err := Readout(in.readout, payload)
	in.bytesSent = uint32(sent)
	atomic.StoreUint32(&in.reading, 0)
	if err != nil {
		in.setFlag(FlagReadoutFailed)
		in.lastErr = ErrCodeReadout
		RecordEvent(EvtReadoutFail, uint32(len(payload)), 0)
		DebugPrintln("readout failed: " + err.Error())
	} else {
		RecordEvent(EvtReadout, uint32(sent), uint32(in.readoutCRC))
		DebugPrintln("sent " + itoa(sent) + " bytes")
	}

	if in.cfg.AutoRearm {
		state := disableInterrupts()
		in.Arm()
		restoreInterrupts(state)
	}
}

func (in *Instrument) cancel() {
	n := in.strategy.Cancel(&in.progress)
	in.Disarm()

	if atomic.LoadUint32(&in.timedOut) != 0 {
		in.setFlag(FlagTimedOut)
		RecordEvent(EvtTimeout, n, 0)
		DebugPrintln("capture timed out after " + utoa(n) + " samples")
	} else {
		in.setFlag(FlagAborted)
		RecordEvent(EvtAbort, n, 0)
		DebugPrintln("capture aborted after " + utoa(n) + " samples")
	}
	atomic.StoreUint32(&in.abort, 0)
	atomic.StoreUint32(&in.timedOut, 0)
}

// report prints what interrupt handlers noted since the last call.
func (in *Instrument) report() {
	state := disableInterrupts()
	notes := in.notes
	in.notes = 0
	restoreInterrupts(state)

	if notes == 0 {
		return
	}
	if notes&noteRejected != 0 {
		DebugPrintln("arm rejected: error " + itoa(int(in.lastErr)))
	}
	if notes&noteArmed != 0 {
		DebugPrintln("armed: " + in.strategy.Name() + " capture of " + utoa(in.progress.Target()) + " samples")
		for i, role := range in.cfg.Roles {
			if role.Kind == RoleCounter {
				DebugPrintln(role.Name + ": counter")
				continue
			}
			p := in.params.Block(role.Block)
			t := in.timings[i]
			DebugPrintln(role.Name + ": " + utoa(p.DelayUS) + " " + utoa(p.HighUS) + " " +
				utoa(p.LowUS) + " " + utoa(p.Count) + " (" + t.Program.String() + ")")
		}
	}
	if notes&noteCountClamped != 0 {
		DebugPrintln("count " + utoa(in.requested) + " clamped to " + utoa(in.progress.Target()))
	}
	if notes&noteCycleClamped != 0 {
		DebugPrintln("waveform phase saturated")
	}
}

// Status returns a snapshot for host read-back.
func (in *Instrument) Status() Status {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	return Status{
		State:      in.State(),
		Flags:      in.flags,
		LastError:  in.lastErr,
		Captures:   in.captures,
		Counter:    in.progress.Counter(),
		Target:     in.progress.Target(),
		ElapsedUS:  in.elapsed,
		BytesSent:  in.bytesSent,
		ReadoutCRC: in.readoutCRC,
	}
}

// RefreshStatus re-encodes the status block served to bus read requests.
// Main loop only.
func (in *Instrument) RefreshStatus() {
	s := in.Status()
	in.statusOut.Reset()
	s.Encode(in.statusOut)

	state := disableInterrupts()
	copy(in.statusBlock[:], in.statusOut.Result())
	restoreInterrupts(state)
}

// StatusBytes returns the last encoded status block. Bus interrupt context.
func (in *Instrument) StatusBytes() []byte {
	return in.statusBlock[:]
}
