package protocol

import "errors"

var (
	ErrWindowOverflow = errors.New("register write past end of window")
	ErrNoRegion       = errors.New("register write without region select")
	ErrRegionBounds   = errors.New("region base outside window")
)

// Region maps a select command onto a base offset inside the register window.
type Region struct {
	Code byte
	Base int
}

// Dispatcher runs non-select commands. It reports whether the code is known.
type Dispatcher interface {
	Dispatch(code byte) bool
}

// Decoder turns bus words into register writes and commands.
//
// The first byte of each transaction is a command code. Select codes seed
// the write offset; every following byte lands at window[offset] and
// advances it. Other codes go to the dispatcher and leave the transaction
// read-only, so stray payload bytes after an arm never touch the window.
//
// A Decoder is driven from a single interrupt handler and holds no locks.
type Decoder struct {
	window   []byte
	regions  []Region
	commands Dispatcher

	offset   int
	writable bool

	overflows uint32
	unknown   uint32
}

// NewDecoder creates a decoder writing into window.
func NewDecoder(window []byte, regions []Region, commands Dispatcher) (*Decoder, error) {
	for _, r := range regions {
		if r.Base < 0 || r.Base >= len(window) {
			return nil, ErrRegionBounds
		}
	}
	return &Decoder{
		window:   window,
		regions:  regions,
		commands: commands,
	}, nil
}

// Receive processes one bus word.
func (d *Decoder) Receive(w BusWord) error {
	if w.First {
		d.command(w.Data)
		return nil
	}

	if !d.writable {
		return ErrNoRegion
	}
	if d.offset >= len(d.window) {
		// Drop the rest of the transaction rather than wrap.
		d.writable = false
		d.overflows++
		return ErrWindowOverflow
	}
	d.window[d.offset] = w.Data
	d.offset++
	return nil
}

func (d *Decoder) command(code byte) {
	for _, r := range d.regions {
		if r.Code == code {
			d.offset = r.Base
			d.writable = true
			return
		}
	}

	d.writable = false
	if d.commands == nil || !d.commands.Dispatch(code) {
		d.unknown++
	}
}

// Offset returns the next write offset.
func (d *Decoder) Offset() int {
	return d.offset
}

// Overflows returns how many transactions were cut short at the window end.
func (d *Decoder) Overflows() uint32 {
	return d.overflows
}

// Unknown returns how many unrecognised command codes were ignored.
func (d *Decoder) Unknown() uint32 {
	return d.unknown
}
