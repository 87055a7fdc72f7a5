package core

import (
	"encoding/binary"
	"errors"
	"testing"

	"pioscope/protocol"
)

const (
	selectReader = 0x10
	selectDriver = 0x11
)

type rig struct {
	in   *Instrument
	seq  *fakeSequencer
	gpio *fakeGPIO
	link *fakeLink
	dma  *fakeDMA
}

// newScopeRig builds the two-waveform edge-sampled image.
func newScopeRig(t *testing.T, capacity int, timeoutUS uint32) *rig {
	t.Helper()
	resetTimers()
	t.Cleanup(resetTimers)

	store, err := NewParameterStore(32, scopeBlocks())
	if err != nil {
		t.Fatalf("NewParameterStore: %v", err)
	}
	cfg := Config{
		Roles: []Role{
			{Name: "driver", Kind: RoleWaveform, Slot: SlotID{Block: 1, SM: 1}, Pin: 17, Block: 0},
			{Name: "reader", Kind: RoleWaveform, Slot: SlotID{Block: 1, SM: 0}, Pin: 16, Block: 1},
		},
		Regions:     []protocol.Region{{Code: selectReader, Base: 0x10}, {Code: selectDriver, Base: 0x00}},
		TargetBlock: 1,
		Rate:        fiveCyclesPerUS,
		TimeoutUS:   timeoutUS,
		ActivePin:   25,
		ArmedPin:    NoPin,
		EdgePin:     18,
	}
	r := &rig{seq: newFakeSequencer(), gpio: newFakeGPIO(), link: &fakeLink{}}
	strategy := NewEdgeSampled(&rampSource{}, NewResultBuffer[uint16](capacity))
	r.in, err = NewInstrument(cfg, store, strategy, Drivers{Sequencer: r.seq, GPIO: r.gpio, Readout: r.link})
	if err != nil {
		t.Fatalf("NewInstrument: %v", err)
	}
	return r
}

// newCounterRig builds the counter image timed by a block transfer.
func newCounterRig(t *testing.T, selfTrigger, autoRearm bool) *rig {
	t.Helper()
	resetTimers()
	t.Cleanup(resetTimers)

	store, err := NewParameterStore(16, []BlockLayout{
		{Name: "clock", Offsets: [numFields]int{FieldCount: 0, FieldDelay: 4, FieldHigh: 8, FieldLow: 12}},
	})
	if err != nil {
		t.Fatalf("NewParameterStore: %v", err)
	}
	cfg := Config{
		Roles: []Role{
			{Name: "clock", Kind: RoleWaveform, Slot: SlotID{Block: 0, SM: 1}, Pin: 16, Block: 0},
			{Name: "counter", Kind: RoleCounter, Slot: SlotID{Block: 0, SM: 0}, Pin: 17},
		},
		Regions:     []protocol.Region{{Code: 0x00, Base: 0}},
		Rate:        fiveCyclesPerUS,
		SelfTrigger: selfTrigger,
		AutoRearm:   autoRearm,
		ActivePin:   14,
		ArmedPin:    NoPin,
		EdgePin:     NoPin,
	}
	r := &rig{seq: newFakeSequencer(), gpio: newFakeGPIO(), link: &fakeLink{}, dma: &fakeDMA{}}
	strategy := NewDMATimed(r.dma, SlotID{Block: 0, SM: 0}, 50, NewResultBuffer[uint32](64))
	r.in, err = NewInstrument(cfg, store, strategy, Drivers{Sequencer: r.seq, GPIO: r.gpio, Readout: r.link})
	if err != nil {
		t.Fatalf("NewInstrument: %v", err)
	}
	return r
}

func (r *rig) send(code byte, payload []byte) {
	r.in.HandleBusWord(protocol.Command(code))
	for _, w := range protocol.Payload(payload...) {
		r.in.HandleBusWord(w)
	}
}

func (r *rig) write(code byte, block int, p ParameterSet) {
	r.send(code, r.in.Params().Blocks()[block].Encode(p))
}

func (r *rig) arm() { r.send(protocol.CmdArm, nil) }

func (r *rig) edges(n int) {
	for i := 0; i < n; i++ {
		r.in.OnSampleEdge()
	}
}

func TestEdgeSampledCapture(t *testing.T) {
	r := newScopeRig(t, 64, 0)
	p := ParameterSet{Count: 10, HighUS: 100, LowUS: 200}
	r.write(selectDriver, 0, p)
	r.write(selectReader, 1, p)

	r.arm()
	if r.in.State() != Armed {
		t.Fatalf("Expected armed, got %v", r.in.State())
	}
	if r.seq.loads != 2 || r.seq.anyEnabled() {
		t.Fatalf("Expected two programs loaded disabled, loads=%d", r.seq.loads)
	}
	if tm := r.in.Timing(1); tm.Program != ProgramPlain || tm.High != 497 || tm.Low != 997 {
		t.Errorf("Unexpected reader timing %+v", tm)
	}

	if !r.in.Trigger() {
		t.Fatal("Trigger ignored while armed")
	}
	if r.in.State() != Capturing {
		t.Fatalf("Expected capturing, got %v", r.in.State())
	}
	if len(r.seq.syncMasks) != 1 || r.seq.syncMasks[0] != 0x3 {
		t.Errorf("Expected both block 1 slots enabled together, got %v", r.seq.syncMasks)
	}
	if r.in.Trigger() {
		t.Error("Second trigger must be ignored")
	}

	r.edges(12)
	if got := r.in.Progress().Counter(); got != 10 {
		t.Errorf("Counter must stop at the target, got %d", got)
	}
	if r.seq.anyEnabled() {
		t.Error("Sequencers must stop on the final sample")
	}

	r.in.Poll()
	r.in.Poll()
	if r.link.calls != 1 || r.link.lens[0] != 20 {
		t.Fatalf("Expected one 20-byte readout, got %d calls %v", r.link.calls, r.link.lens)
	}
	for i := 0; i < 10; i++ {
		if v := binary.LittleEndian.Uint16(r.link.last[2*i:]); v != uint16(i) {
			t.Errorf("Sample %d: expected %d, got %d", i, i, v)
		}
	}
	if r.in.State() != Disarmed {
		t.Errorf("Expected disarmed after readout, got %v", r.in.State())
	}
	if r.seq.unloads != r.seq.loads {
		t.Errorf("Every load needs one unload: %d loads, %d unloads", r.seq.loads, r.seq.unloads)
	}
	if r.gpio.levels[25] {
		t.Error("Active pin left high")
	}
	if r.gpio.toggles[18] != 10 {
		t.Errorf("Expected edge pin toggled per sample, got %d", r.gpio.toggles[18])
	}

	st := r.in.Status()
	if st.Captures != 1 || st.BytesSent != 20 || st.ReadoutCRC != protocol.CRC16(r.link.last) {
		t.Errorf("Unexpected status %+v", st)
	}
}

func TestDMATimedCapture(t *testing.T) {
	r := newCounterRig(t, false, false)
	r.write(0x00, 0, ParameterSet{Count: 10, HighUS: 100, LowUS: 200})

	r.arm()
	r.in.Trigger()
	if len(r.dma.dst) != 10 || r.dma.src != (SlotID{Block: 0, SM: 0}) {
		t.Fatalf("Expected a 10-word transfer from the counter, got %d", len(r.dma.dst))
	}
	if want := []string{"sync pio0 mask1", "sync pio0 mask2"}; len(r.seq.opsWith("sync")) != 2 ||
		r.seq.opsWith("sync")[0] != want[0] || r.seq.opsWith("sync")[1] != want[1] {
		t.Errorf("Counter must start before the clock, got %v", r.seq.opsWith("sync"))
	}

	r.in.Poll()
	if r.in.State() != Capturing {
		t.Fatalf("Poll must wait for the transfer, got %v", r.in.State())
	}

	words := make([]uint32, 10)
	for i := range words {
		if i%2 == 0 {
			words[i] = 0xFFFFFFF0
		} else {
			words[i] = 0x7FFFFFF0
		}
	}
	r.dma.deliver(words...)
	r.in.Poll()

	if r.link.calls != 1 || r.link.lens[0] != 40 {
		t.Fatalf("Expected one 40-byte readout, got %d calls %v", r.link.calls, r.link.lens)
	}
	first := binary.LittleEndian.Uint32(r.link.last)
	second := binary.LittleEndian.Uint32(r.link.last[4:])
	if first != 50*16+phaseHighBit || second != 50*16 {
		t.Errorf("Expected decoded durations, got %#x %#x", first, second)
	}
	if r.in.State() != Disarmed {
		t.Errorf("Expected disarmed, got %v", r.in.State())
	}
}

func TestSelfTriggerAutoRearm(t *testing.T) {
	r := newCounterRig(t, true, true)
	r.write(0x00, 0, ParameterSet{Count: 4, HighUS: 10, LowUS: 10})

	r.arm()
	if r.in.State() != Capturing || r.dma.starts != 1 {
		t.Fatalf("Expected capture to start at arm, got %v with %d starts", r.in.State(), r.dma.starts)
	}
	r.dma.deliver(1, 2, 3, 4)
	r.in.Poll()

	if r.link.calls != 1 {
		t.Fatalf("Expected one readout, got %d", r.link.calls)
	}
	if r.in.State() != Capturing || r.dma.starts != 2 {
		t.Errorf("Expected a new capture after readout, got %v with %d starts", r.in.State(), r.dma.starts)
	}
	if r.seq.loads-r.seq.unloads != 2 {
		t.Errorf("Expected exactly the rearmed programs resident, loads=%d unloads=%d", r.seq.loads, r.seq.unloads)
	}
}

func TestCountClampedToCapacity(t *testing.T) {
	r := newScopeRig(t, 64, 0)
	r.write(selectReader, 1, ParameterSet{Count: 1000000, HighUS: 10, LowUS: 10})

	r.arm()
	if got := r.in.Progress().Target(); got != 64 {
		t.Fatalf("Expected target clamped to 64, got %d", got)
	}
	if r.in.Status().Flags&FlagCountClamped == 0 {
		t.Error("Expected count-clamped flag")
	}
	r.in.Trigger()
	r.edges(100)
	r.in.Poll()
	if r.link.calls != 1 || r.link.lens[0] != 128 {
		t.Errorf("Expected one 128-byte readout, got %v", r.link.lens)
	}
}

func TestArmIgnoredWhileBusy(t *testing.T) {
	r := newScopeRig(t, 64, 0)
	r.write(selectReader, 1, ParameterSet{Count: 5, HighUS: 10, LowUS: 10})

	r.arm()
	r.in.Trigger()
	r.edges(2)
	r.arm()

	if r.in.State() != Capturing {
		t.Fatalf("Arm must not disturb a capture, got %v", r.in.State())
	}
	if r.seq.loads != 2 {
		t.Errorf("Arm while busy must not load, got %d loads", r.seq.loads)
	}
	st := r.in.Status()
	if st.Flags&FlagArmIgnored == 0 || st.LastError != ErrCodeBusy {
		t.Errorf("Expected arm-ignored status, got %+v", st)
	}
	if r.in.Progress().Counter() != 2 {
		t.Errorf("Counter disturbed by ignored arm: %d", r.in.Progress().Counter())
	}
}

func TestArmZeroCount(t *testing.T) {
	r := newScopeRig(t, 64, 0)
	if err := r.in.Arm(); err != ErrZeroCount {
		t.Fatalf("Expected ErrZeroCount, got %v", err)
	}
	if r.in.State() != Disarmed || r.seq.loads != 0 {
		t.Errorf("Zero count must not arm, state=%v loads=%d", r.in.State(), r.seq.loads)
	}
	if r.in.Status().LastError != ErrCodeZeroCount {
		t.Errorf("Expected zero-count error code, got %d", r.in.Status().LastError)
	}
}

func TestArmLoadFailureReleases(t *testing.T) {
	r := newScopeRig(t, 64, 0)
	r.write(selectReader, 1, ParameterSet{Count: 5, HighUS: 10, LowUS: 10})
	r.seq.failLoad = true

	if err := r.in.Arm(); !errors.Is(err, ErrLoadFailed) {
		t.Fatalf("Expected ErrLoadFailed, got %v", err)
	}
	if r.in.State() != Disarmed || r.in.arena.Live() != 0 {
		t.Errorf("Failed arm must leave nothing resident")
	}
}

func TestDisarmIdempotent(t *testing.T) {
	r := newScopeRig(t, 64, 0)
	if r.in.Disarm() {
		t.Error("Disarm of a disarmed instrument reported work")
	}
	if r.seq.unloads != 0 {
		t.Errorf("Disarm must not unload when idle, got %d", r.seq.unloads)
	}

	r.write(selectReader, 1, ParameterSet{Count: 5, HighUS: 10, LowUS: 10})
	r.arm()
	if !r.in.Disarm() {
		t.Error("Disarm of an armed instrument reported no work")
	}
	if r.in.Disarm() {
		t.Error("Second disarm reported work")
	}
	if r.seq.unloads != 2 {
		t.Errorf("Expected two unloads, got %d", r.seq.unloads)
	}
}

func TestAbortDuringCapture(t *testing.T) {
	r := newScopeRig(t, 64, 0)
	r.write(selectReader, 1, ParameterSet{Count: 10, HighUS: 10, LowUS: 10})
	r.arm()
	r.in.Trigger()
	r.edges(3)

	r.send(protocol.CmdAbort, nil)
	r.in.Poll()

	if r.in.State() != Disarmed {
		t.Fatalf("Expected disarmed after abort, got %v", r.in.State())
	}
	if r.link.calls != 0 {
		t.Error("Aborted capture must not be read out")
	}
	if r.in.Status().Flags&FlagAborted == 0 {
		t.Error("Expected aborted flag")
	}
	if r.seq.unloads != 2 {
		t.Errorf("Expected programs unloaded, got %d", r.seq.unloads)
	}
	if ev, ok := LastEvent(EvtAbort); !ok || ev.Value1 != 3 {
		t.Errorf("Expected abort event after 3 samples, got %+v", ev)
	}
}

func TestCaptureTimeout(t *testing.T) {
	r := newScopeRig(t, 64, 1000)
	SetTime(0)
	r.write(selectReader, 1, ParameterSet{Count: 10, HighUS: 10, LowUS: 10})
	r.arm()
	r.in.Trigger()

	SetTime(500)
	ProcessTimers()
	r.in.Poll()
	if r.in.State() != Capturing {
		t.Fatalf("Timed out early, state %v", r.in.State())
	}

	SetTime(1500)
	ProcessTimers()
	r.in.Poll()
	if r.in.State() != Disarmed {
		t.Fatalf("Expected disarmed after timeout, got %v", r.in.State())
	}
	if r.in.Status().Flags&FlagTimedOut == 0 {
		t.Error("Expected timed-out flag")
	}
	if r.link.calls != 0 {
		t.Error("Timed-out capture must not be read out")
	}
}

func TestReadoutFailure(t *testing.T) {
	r := newScopeRig(t, 64, 0)
	r.link.err = errors.New("bus stuck")
	r.write(selectReader, 1, ParameterSet{Count: 2, HighUS: 10, LowUS: 10})
	r.arm()
	r.in.Trigger()
	r.edges(2)
	r.in.Poll()

	st := r.in.Status()
	if st.Flags&FlagReadoutFailed == 0 || st.LastError != ErrCodeReadout {
		t.Errorf("Expected readout failure in status, got %+v", st)
	}
	if r.in.State() != Disarmed {
		t.Errorf("Expected disarmed, got %v", r.in.State())
	}

	r.link.err = nil
	r.arm()
	if r.in.State() != Armed {
		t.Errorf("Expected rearm after a failed readout, got %v", r.in.State())
	}
}

func TestWindowOverflowFlag(t *testing.T) {
	r := newScopeRig(t, 64, 0)
	r.send(selectReader, make([]byte, 17))

	if r.in.Status().Flags&FlagWindowOverflow == 0 {
		t.Fatal("Expected window overflow flag")
	}
	r.write(selectReader, 1, ParameterSet{Count: 2, HighUS: 10, LowUS: 10})
	r.arm()
	if r.in.Status().Flags&FlagWindowOverflow == 0 {
		t.Error("Overflow must stay visible in the next cycle")
	}
}

func TestStatusBytes(t *testing.T) {
	r := newScopeRig(t, 64, 0)
	r.write(selectReader, 1, ParameterSet{Count: 3, HighUS: 10, LowUS: 10})
	r.arm()
	r.in.Poll()

	b := r.in.StatusBytes()
	if len(b) != StatusSize {
		t.Fatalf("Expected %d bytes, got %d", StatusSize, len(b))
	}
	if binary.LittleEndian.Uint16(b) != StatusMagic {
		t.Errorf("Bad magic % x", b[:2])
	}
	if ArmState(b[2]) != Armed {
		t.Errorf("Expected armed in status block, got %d", b[2])
	}
	if binary.LittleEndian.Uint32(b[12:]) != 3 {
		t.Errorf("Expected target 3, got %d", binary.LittleEndian.Uint32(b[12:]))
	}
	if crc := binary.LittleEndian.Uint16(b[StatusSize-2:]); crc != protocol.CRC16(b[:StatusSize-2]) {
		t.Errorf("Status CRC mismatch: %#x", crc)
	}
}

func TestNewInstrumentValidates(t *testing.T) {
	store, _ := NewParameterStore(32, scopeBlocks())
	strategy := NewEdgeSampled(&rampSource{}, NewResultBuffer[uint16](4))
	d := Drivers{Sequencer: newFakeSequencer(), Readout: &fakeLink{}}

	if _, err := NewInstrument(Config{}, store, nil, d); err != ErrNoStrategy {
		t.Errorf("Expected ErrNoStrategy, got %v", err)
	}
	if _, err := NewInstrument(Config{}, store, strategy, Drivers{}); err != ErrNoReadout {
		t.Errorf("Expected ErrNoReadout, got %v", err)
	}
	if _, err := NewInstrument(Config{Roles: make([]Role, 3)}, store, strategy, d); err != ErrTooManyRoles {
		t.Errorf("Expected ErrTooManyRoles, got %v", err)
	}
	if _, err := NewInstrument(Config{TargetBlock: 2}, store, strategy, d); err != ErrTargetBlock {
		t.Errorf("Expected ErrTargetBlock, got %v", err)
	}
}

func TestTimeoutStartsAtTrigger(t *testing.T) {
	r := newScopeRig(t, 64, 1000)
	SetTime(0)
	r.write(selectReader, 1, ParameterSet{Count: 4, HighUS: 10, LowUS: 10})
	r.arm()

	SetTime(1500)
	ProcessTimers()
	r.in.Poll()
	if r.in.State() != Armed {
		t.Fatalf("Waiting for a trigger must not time out, got %v", r.in.State())
	}
	if !r.in.Trigger() {
		t.Fatal("Late trigger ignored")
	}

	SetTime(2000)
	ProcessTimers()
	r.in.Poll()
	if r.in.State() != Capturing {
		t.Fatalf("Timed out before a full period after trigger, got %v", r.in.State())
	}

	SetTime(2600)
	ProcessTimers()
	r.in.Poll()
	if r.in.State() != Disarmed || r.in.Status().Flags&FlagTimedOut == 0 {
		t.Errorf("Expected timeout 1ms after trigger, got %v flags=%#x", r.in.State(), r.in.Status().Flags)
	}
}

func TestAbortAfterLastSampleReadsOut(t *testing.T) {
	r := newScopeRig(t, 64, 0)
	r.write(selectReader, 1, ParameterSet{Count: 4, HighUS: 10, LowUS: 10})
	r.arm()
	r.in.Trigger()
	r.edges(4)

	r.send(protocol.CmdAbort, nil)
	r.in.Poll()

	if r.link.calls != 1 || r.link.lens[0] != 8 {
		t.Fatalf("Expected the finished capture read out, got %v", r.link.lens)
	}
	if r.in.Status().Flags&FlagAborted != 0 {
		t.Error("Completed capture must not be flagged aborted")
	}
	if r.in.State() != Disarmed {
		t.Errorf("Expected disarmed, got %v", r.in.State())
	}
}

func TestAbortAfterTransferDoneReadsOut(t *testing.T) {
	r := newCounterRig(t, true, false)
	r.write(0x00, 0, ParameterSet{Count: 4, HighUS: 10, LowUS: 10})
	r.arm()
	r.dma.deliver(1, 2, 3, 4)

	r.in.RequestAbort()
	r.in.Poll()

	if r.link.calls != 1 {
		t.Fatalf("Expected one readout, got %d", r.link.calls)
	}
	if r.dma.aborted || r.in.Status().Flags&FlagAborted != 0 {
		t.Error("Finished transfer must not be aborted")
	}

	r.in.Poll()
	if r.link.calls != 1 {
		t.Errorf("Expected exactly one readout, got %d", r.link.calls)
	}
}

func TestInterruptNoticesReachLog(t *testing.T) {
	SetDebugWriter(func(string) {})
	FlushLog()
	var lines []string
	SetDebugWriter(func(s string) { lines = append(lines, s) })
	defer SetDebugWriter(func(string) {})

	r := newScopeRig(t, 64, 0)
	r.write(selectReader, 1, ParameterSet{Count: 4, HighUS: 10, LowUS: 10})
	r.arm()
	r.in.Trigger()
	r.arm()
	if len(lines) != 0 {
		t.Fatalf("Interrupt-side notices must wait for the main loop, got %q", lines)
	}

	FlushLog()
	if len(lines) != 1 || lines[0] != "arm ignored: capture in progress" {
		t.Errorf("Unexpected log %q", lines)
	}
}

func TestArmCycleDoesNotAllocate(t *testing.T) {
	resetTimers()
	t.Cleanup(resetTimers)

	store, err := NewParameterStore(32, scopeBlocks())
	if err != nil {
		t.Fatalf("NewParameterStore: %v", err)
	}
	store.SetBlock(0, ParameterSet{Count: 8, DelayUS: 5, HighUS: 10, LowUS: 10})
	store.SetBlock(1, ParameterSet{Count: 8, HighUS: 10, LowUS: 10})
	cfg := Config{
		Roles: []Role{
			{Name: "driver", Kind: RoleWaveform, Slot: SlotID{Block: 1, SM: 1}, Pin: 17, Block: 0},
			{Name: "reader", Kind: RoleWaveform, Slot: SlotID{Block: 1, SM: 0}, Pin: 16, Block: 1},
		},
		TargetBlock: 1,
		Rate:        fiveCyclesPerUS,
		TimeoutUS:   1000,
		ActivePin:   NoPin,
		ArmedPin:    NoPin,
		EdgePin:     NoPin,
	}
	strategy := NewEdgeSampled(&rampSource{}, NewResultBuffer[uint16](8))
	in, err := NewInstrument(cfg, store, strategy, Drivers{Sequencer: nullSequencer{}, Readout: &fakeLink{}})
	if err != nil {
		t.Fatalf("NewInstrument: %v", err)
	}

	allocs := testing.AllocsPerRun(20, func() {
		if err := in.Arm(); err != nil {
			t.Fatalf("Arm: %v", err)
		}
		in.Trigger()
		for i := 0; i < 8; i++ {
			in.OnSampleEdge()
		}
		in.Disarm()
	})
	if allocs != 0 {
		t.Errorf("Expected no allocations from arm to last sample, got %v", allocs)
	}
}
