package core

import (
	"encoding/binary"
	"errors"
)

var (
	ErrFieldBounds  = errors.New("parameter field outside register window")
	ErrFieldOverlap = errors.New("parameter fields overlap")
	ErrNoSuchBlock  = errors.New("no such parameter block")
)

// Field identifies one 32-bit value inside a parameter block.
type Field uint8

const (
	FieldCount Field = iota
	FieldDelay
	FieldHigh
	FieldLow
	numFields
)

// NoField marks a field a block does not expose.
const NoField = -1

// BlockLayout places the fields of one parameter block in the register
// window. Offsets are in bytes; fields are little-endian u32.
type BlockLayout struct {
	Name    string
	Offsets [numFields]int
}

// Base returns the lowest field offset of the block.
func (b BlockLayout) Base() int {
	base := -1
	for _, off := range b.Offsets {
		if off != NoField && (base < 0 || off < base) {
			base = off
		}
	}
	return base
}

// ParameterSet is the operator configuration of one waveform.
type ParameterSet struct {
	Count   uint32
	DelayUS uint32
	HighUS  uint32
	LowUS   uint32
}

func (p ParameterSet) field(f Field) uint32 {
	switch f {
	case FieldCount:
		return p.Count
	case FieldDelay:
		return p.DelayUS
	case FieldHigh:
		return p.HighUS
	}
	return p.LowUS
}

func (p *ParameterSet) setField(f Field, v uint32) {
	switch f {
	case FieldCount:
		p.Count = v
	case FieldDelay:
		p.DelayUS = v
	case FieldHigh:
		p.HighUS = v
	default:
		p.LowUS = v
	}
}

// ParameterStore is the byte-addressable register window the bus decoder
// writes into. Only the bus interrupt writes it; blocks are read back at arm
// time from the same context, so fields are never observed half written.
type ParameterStore struct {
	window []byte
	blocks []BlockLayout
}

// NewParameterStore allocates a window of size bytes for the given blocks.
func NewParameterStore(size int, blocks []BlockLayout) (*ParameterStore, error) {
	used := make([]bool, size)
	for _, b := range blocks {
		for _, off := range b.Offsets {
			if off == NoField {
				continue
			}
			if off < 0 || off+4 > size {
				return nil, ErrFieldBounds
			}
			for i := off; i < off+4; i++ {
				if used[i] {
					return nil, ErrFieldOverlap
				}
				used[i] = true
			}
		}
	}
	return &ParameterStore{
		window: make([]byte, size),
		blocks: blocks,
	}, nil
}

// Window exposes the raw bytes for the bus decoder.
func (s *ParameterStore) Window() []byte {
	return s.window
}

// Blocks returns the layout of every block.
func (s *ParameterStore) Blocks() []BlockLayout {
	return s.blocks
}

// BlockIndex looks a block up by name.
func (s *ParameterStore) BlockIndex(name string) (int, error) {
	for i, b := range s.blocks {
		if b.Name == name {
			return i, nil
		}
	}
	return 0, ErrNoSuchBlock
}

// Block decodes one parameter block. Fields the block does not expose read
// as zero.
func (s *ParameterStore) Block(i int) ParameterSet {
	var p ParameterSet
	for f, off := range s.blocks[i].Offsets {
		if off == NoField {
			continue
		}
		p.setField(Field(f), binary.LittleEndian.Uint32(s.window[off:]))
	}
	return p
}

// SetBlock encodes p into block i. Used for boot defaults.
func (s *ParameterStore) SetBlock(i int, p ParameterSet) {
	for f, off := range s.blocks[i].Offsets {
		if off == NoField {
			continue
		}
		binary.LittleEndian.PutUint32(s.window[off:], p.field(Field(f)))
	}
}

// Encode renders p as the byte sequence a host writes after selecting the
// block, covering the block from its base to its last exposed byte.
func (b BlockLayout) Encode(p ParameterSet) []byte {
	base := b.Base()
	end := base
	for _, off := range b.Offsets {
		if off != NoField && off+4 > end {
			end = off + 4
		}
	}
	out := make([]byte, end-base)
	for f, off := range b.Offsets {
		if off == NoField {
			continue
		}
		binary.LittleEndian.PutUint32(out[off-base:], p.field(Field(f)))
	}
	return out
}
