// Package protocol implements the register-bus protocol used to configure,
// arm and inspect the instrument.
package protocol

// Version represents the pioscope firmware version
const Version = "0.3.0"

// Command codes shared by every image. Region select codes are per image.
const (
	CmdArm   = 0xFF
	CmdAbort = 0xFE
)

// Bus framing constants
const (
	ScratchMax = 64 // Largest block returned on a bus read request

	// I2C IC_DATA_CMD layout as seen by a target-mode receiver
	dataCmdDataMask  = 0xFF
	dataCmdFirstByte = 1 << 11
)

// BusWord is one received byte together with its framing.
type BusWord struct {
	Data  byte
	First bool // First byte after a (repeated) start condition
}

// WordFromDataCmd unpacks an IC_DATA_CMD register value.
func WordFromDataCmd(v uint32) BusWord {
	return BusWord{
		Data:  byte(v & dataCmdDataMask),
		First: v&dataCmdFirstByte != 0,
	}
}

// Command builds the first word of a transaction.
func Command(code byte) BusWord {
	return BusWord{Data: code, First: true}
}

// Payload builds the data words of a transaction.
func Payload(data ...byte) []BusWord {
	words := make([]BusWord, len(data))
	for i, b := range data {
		words[i] = BusWord{Data: b}
	}
	return words
}
