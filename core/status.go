package core

import "pioscope/protocol"

// ErrorCode is the last failure latched for the status block.
type ErrorCode uint8

const (
	ErrCodeNone ErrorCode = iota
	ErrCodeZeroCount
	ErrCodeBusy
	ErrCodeLoad
	ErrCodeWindow
	ErrCodeReadout
	ErrCodeStart
)

// Status flags, latched from one arm to the next.
const (
	FlagWindowOverflow = 1 << iota
	FlagCountClamped
	FlagCycleClamped
	FlagArmIgnored
	FlagAborted
	FlagTimedOut
	FlagReadoutFailed
)

// StatusMagic opens every status block ("PS").
const StatusMagic = 0x5350

// StatusSize is the encoded size of a status block.
const StatusSize = 28

// Status is a snapshot of the acquisition state for host read-back.
type Status struct {
	State      ArmState
	Flags      uint8
	LastError  ErrorCode
	Captures   uint16
	Counter    uint32
	Target     uint32
	ElapsedUS  uint32
	BytesSent  uint32
	ReadoutCRC uint16
}

// Encode writes the status block: magic, state, flags, last error, a
// reserved byte, captures, counter, target, elapsed, bytes sent, readout
// CRC, then a CRC16 over everything before it. All little-endian.
func (s Status) Encode(out protocol.OutputBuffer) {
	start := out.CurPosition()
	protocol.PutUint16(out, StatusMagic)
	out.Output([]byte{byte(s.State), s.Flags, byte(s.LastError), 0})
	protocol.PutUint16(out, s.Captures)
	protocol.PutUint32(out, s.Counter)
	protocol.PutUint32(out, s.Target)
	protocol.PutUint32(out, s.ElapsedUS)
	protocol.PutUint32(out, s.BytesSent)
	protocol.PutUint16(out, s.ReadoutCRC)
	protocol.PutUint16(out, protocol.CRC16(out.DataSince(start)))
}
