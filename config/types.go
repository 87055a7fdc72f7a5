package config

// FieldOffsets places the four fields of a parameter block in the register
// window. -1 leaves a field out.
type FieldOffsets struct {
	Count int `json:"count"`
	Delay int `json:"delay"`
	High  int `json:"high"`
	Low   int `json:"low"`
}

// BlockConfig is one parameter block of the register window
type BlockConfig struct {
	Name   string       `json:"name"`
	Fields FieldOffsets `json:"fields"`
}

// RegionConfig maps a select command to a write offset
type RegionConfig struct {
	Code uint8 `json:"code"`
	Base int   `json:"base"`
}

// RoleConfig binds a parameter block to a PIO state machine
type RoleConfig struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"` // "waveform" or "counter"
	PIO      uint8  `json:"pio"`
	SM       uint8  `json:"sm"`
	Pin      string `json:"pin"`   // output for waveforms, input for counters
	Block    string `json:"block"` // parameter block; waveforms only
	ClockDiv uint16 `json:"clock_div"`
}

// BusConfig is the I2C target the host writes registers through
type BusConfig struct {
	Address   uint8  `json:"address"`
	SDA       string `json:"sda"`
	SCL       string `json:"scl"`
	Frequency uint32 `json:"frequency"`
}

// ReadoutConfig selects how a finished buffer leaves the board
type ReadoutConfig struct {
	Mode string `json:"mode"` // "spi" or "log"
	SCK  string `json:"sck"`
	SDO  string `json:"sdo"`
	SDI  string `json:"sdi"`
	CS   string `json:"cs"`

	// LogScale multiplies decoded durations by Num/Den in "log" mode
	LogScale TickConfig `json:"log_scale"`
}

// CaptureConfig selects the capture strategy
type CaptureConfig struct {
	Strategy    string `json:"strategy"` // "edge" or "dma"
	Capacity    int    `json:"capacity"`
	TargetBlock string `json:"target_block"` // block whose count sets the target
	Source      string `json:"source"`       // ADC input for "edge"
	Counter     string `json:"counter"`      // counter role for "dma"
	DecodeScale uint32 `json:"decode_scale"`
}

// TickConfig converts microseconds to sequencer cycles as Num/Den
type TickConfig struct {
	Num uint32 `json:"num"`
	Den uint32 `json:"den"`
}

// PinConfig names the trigger inputs and indicator outputs
type PinConfig struct {
	Trigger string `json:"trigger"` // rising edge starts an armed capture
	Sample  string `json:"sample"`  // falling edge takes one sample
	Active  string `json:"active"`  // high from trigger to completion
	Armed   string `json:"armed"`   // high while programs are resident
	Edge    string `json:"edge"`    // toggled per sample
}

// Defaults are boot values for one parameter block
type Defaults struct {
	Count   uint32 `json:"count"`
	DelayUS uint32 `json:"delay_us"`
	HighUS  uint32 `json:"high_us"`
	LowUS   uint32 `json:"low_us"`
}

// Profile is the complete description of one firmware image
type Profile struct {
	Name    string         `json:"name"`
	Bus     BusConfig      `json:"bus"`
	Readout ReadoutConfig  `json:"readout"`
	Window  int            `json:"window"`
	Blocks  []BlockConfig  `json:"blocks"`
	Regions []RegionConfig `json:"regions"`
	Roles   []RoleConfig   `json:"roles"`
	Capture CaptureConfig  `json:"capture"`
	Tick    TickConfig     `json:"tick"`
	Pins    PinConfig      `json:"pins"`

	SelfTrigger bool   `json:"self_trigger"`
	AutoRearm   bool   `json:"auto_rearm"`
	TimeoutMS   uint32 `json:"timeout_ms"`

	Defaults map[string]Defaults `json:"defaults"` // by block name
}
