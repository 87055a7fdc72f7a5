package core

import "unsafe"

// Sample is the element type of a result buffer.
type Sample interface {
	~uint16 | ~uint32
}

// ResultBuffer is fixed-capacity sample storage reused in place on every
// capture. The capture strategy owns it while a capture runs; afterwards
// the readout transport may overwrite it while sending it.
type ResultBuffer[T Sample] struct {
	data []T
}

// NewResultBuffer allocates capacity samples. Call once at boot.
func NewResultBuffer[T Sample](capacity int) *ResultBuffer[T] {
	return &ResultBuffer[T]{data: make([]T, capacity)}
}

// SampleWidth returns the size of one sample in bytes.
func (b *ResultBuffer[T]) SampleWidth() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}

// Clamp limits a requested count to the capacity.
func (b *ResultBuffer[T]) Clamp(count uint32) (uint32, bool) {
	if uint64(count) > uint64(len(b.data)) {
		return uint32(len(b.data)), true
	}
	return count, false
}

// Samples returns the first n samples.
func (b *ResultBuffer[T]) Samples(n uint32) []T {
	return b.data[:n]
}

// Bytes returns the first n samples as raw bytes in memory order
// (little-endian on the RP2040). The slice aliases the buffer.
func (b *ResultBuffer[T]) Bytes(n uint32) []byte {
	if n == 0 || len(b.data) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&b.data[0])), int(n)*b.SampleWidth())
}
