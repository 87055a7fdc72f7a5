package core

import "errors"

var (
	ErrSlotBusy   = errors.New("sequencer slot already holds a program")
	ErrArenaFull  = errors.New("no free program slot")
	ErrNotLeased  = errors.New("program lease already released")
	ErrLoadFailed = errors.New("sequencer program load failed")
)

// ArenaSlots is the number of programs that may be resident at once.
const ArenaSlots = 2

// ProgramLease is ownership of one resident program. Release is the only
// path that unloads it, with the same slot, kind and offset used to load.
type ProgramLease struct {
	arena  *ProgramArena
	slot   SlotID
	kind   ProgramKind
	offset uint8
	live   bool
}

// Slot returns the state machine running the program.
func (l *ProgramLease) Slot() SlotID { return l.slot }

// Kind returns the program loaded.
func (l *ProgramLease) Kind() ProgramKind { return l.kind }

// Offset returns where the program sits in instruction memory.
func (l *ProgramLease) Offset() uint8 { return l.offset }

// Live reports whether the lease still owns its program.
func (l *ProgramLease) Live() bool { return l != nil && l.live }

// Release unloads the program. Releasing twice is an error and leaves the
// sequencer untouched.
func (l *ProgramLease) Release() error {
	if l == nil || !l.live {
		return ErrNotLeased
	}
	l.live = false
	l.arena.seq.UnloadProgram(l.slot, l.kind, l.offset)
	return nil
}

// ProgramArena hands out the fixed program slots. Leases live inside the
// arena so acquiring one from an interrupt handler does not allocate.
type ProgramArena struct {
	seq    SequencerDriver
	leases [ArenaSlots]ProgramLease
}

// NewProgramArena creates an arena backed by seq.
func NewProgramArena(seq SequencerDriver) *ProgramArena {
	a := &ProgramArena{seq: seq}
	for i := range a.leases {
		a.leases[i].arena = a
	}
	return a
}

// Acquire loads a program for slot and returns its lease.
func (a *ProgramArena) Acquire(slot SlotID, kind ProgramKind, pin GPIOPin) (*ProgramLease, error) {
	var free *ProgramLease
	for i := range a.leases {
		l := &a.leases[i]
		if l.live {
			if l.slot == slot {
				return nil, ErrSlotBusy
			}
			continue
		}
		if free == nil {
			free = l
		}
	}
	if free == nil {
		return nil, ErrArenaFull
	}

	offset, err := a.seq.LoadProgram(slot, kind, pin)
	if err != nil {
		return nil, ErrLoadFailed
	}
	free.slot = slot
	free.kind = kind
	free.offset = offset
	free.live = true
	return free, nil
}

// Live returns the number of resident programs.
func (a *ProgramArena) Live() int {
	n := 0
	for i := range a.leases {
		if a.leases[i].live {
			n++
		}
	}
	return n
}
