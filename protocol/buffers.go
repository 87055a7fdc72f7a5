package protocol

import "encoding/binary"

// OutputBuffer provides an abstraction for writing outgoing protocol data
type OutputBuffer interface {
	// Output writes data to the buffer
	Output(data []byte)

	// CurPosition returns the current write position
	CurPosition() int

	// DataSince returns data from a specific position to current
	DataSince(pos int) []byte
}

// ScratchOutput implements OutputBuffer using a fixed-size scratch buffer
type ScratchOutput struct {
	buf [ScratchMax]byte
	pos int
}

// NewScratchOutput creates a new ScratchOutput
func NewScratchOutput() *ScratchOutput {
	return &ScratchOutput{pos: 0}
}

func (s *ScratchOutput) Output(data []byte) {
	n := copy(s.buf[s.pos:], data)
	s.pos += n
}

func (s *ScratchOutput) CurPosition() int {
	return s.pos
}

func (s *ScratchOutput) DataSince(pos int) []byte {
	if pos > s.pos {
		return nil
	}
	return s.buf[pos:s.pos]
}

// Result returns the accumulated output data
func (s *ScratchOutput) Result() []byte {
	return s.buf[:s.pos]
}

// Reset clears the buffer
func (s *ScratchOutput) Reset() {
	s.pos = 0
}

// PutUint16 appends v little-endian.
func PutUint16(out OutputBuffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	out.Output(b[:])
}

// PutUint32 appends v little-endian.
func PutUint32(out OutputBuffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	out.Output(b[:])
}

// FifoBuffer is a byte ring with one producer and one consumer.
// Writes that do not fit are refused whole and counted as dropped.
type FifoBuffer struct {
	buf     []byte
	read    int
	write   int
	size    int
	dropped uint32
}

// NewFifoBuffer creates a new FifoBuffer with the specified capacity
func NewFifoBuffer(capacity int) *FifoBuffer {
	return &FifoBuffer{
		buf:  make([]byte, capacity),
		size: capacity,
	}
}

// Write appends all of data or nothing.
func (f *FifoBuffer) Write(data []byte) int {
	if len(data) > f.Free() {
		f.dropped++
		return 0
	}
	for _, b := range data {
		f.buf[f.write] = b
		f.write = (f.write + 1) % f.size
	}
	return len(data)
}

// WriteString is Write for strings without an intermediate copy.
func (f *FifoBuffer) WriteString(s string) int {
	if len(s) > f.Free() {
		f.dropped++
		return 0
	}
	for i := 0; i < len(s); i++ {
		f.buf[f.write] = s[i]
		f.write = (f.write + 1) % f.size
	}
	return len(s)
}

// WriteRecord appends s and a newline terminator, or nothing.
func (f *FifoBuffer) WriteRecord(s string) bool {
	if len(s)+1 > f.Free() {
		f.dropped++
		return false
	}
	f.WriteString(s)
	f.WriteString("\n")
	return true
}

// Read reads up to len(data) bytes from the FIFO buffer
func (f *FifoBuffer) Read(data []byte) int {
	read := 0
	for i := range data {
		if f.read == f.write {
			break
		}
		data[i] = f.buf[f.read]
		f.read = (f.read + 1) % f.size
		read++
	}
	return read
}

// ReadLine moves the next newline-terminated record into line, without the
// newline. It returns false when no complete record is buffered.
func (f *FifoBuffer) ReadLine(line []byte) (int, bool) {
	for i := f.read; i != f.write; i = (i + 1) % f.size {
		if f.buf[i] != '\n' {
			continue
		}
		copied := 0
		for f.buf[f.read] != '\n' {
			if copied < len(line) {
				line[copied] = f.buf[f.read]
				copied++
			}
			f.read = (f.read + 1) % f.size
		}
		f.read = (f.read + 1) % f.size
		return copied, true
	}
	return 0, false
}

// Available returns the number of bytes available for reading
func (f *FifoBuffer) Available() int {
	if f.write >= f.read {
		return f.write - f.read
	}
	return f.size - f.read + f.write
}

// Free returns the number of bytes available for writing
func (f *FifoBuffer) Free() int {
	return f.size - f.Available() - 1
}

// Dropped returns how many writes were refused for lack of space.
func (f *FifoBuffer) Dropped() uint32 {
	return f.dropped
}

// IsEmpty returns true if the buffer is empty
func (f *FifoBuffer) IsEmpty() bool {
	return f.read == f.write
}

// Reset clears the buffer
func (f *FifoBuffer) Reset() {
	f.read = 0
	f.write = 0
	f.dropped = 0
}
