// Package config describes the firmware images: pins, register layout,
// sequencer roles and capture strategy. Profiles are JSON; the built-in
// images are Go literals.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"pioscope/core"
	"pioscope/protocol"
)

var (
	ErrUnknownImage   = errors.New("unknown image")
	ErrInvalidProfile = errors.New("invalid profile")
)

// Boot defaults for every parameter block
const (
	DefaultCount  = 50000
	DefaultHighUS = 50000
	DefaultLowUS  = 50000
)

// Strategy and readout names
const (
	StrategyEdge = "edge"
	StrategyDMA  = "dma"
	ReadoutSPI   = "spi"
	ReadoutLog   = "log"
	KindWaveform = "waveform"
	KindCounter  = "counter"
)

// MaxTimeoutMS keeps a capture timeout within half the 32-bit microsecond
// timer range the scheduler compares across.
const MaxTimeoutMS = (1<<31 - 1) / 1000

// ImageNames lists the built-in images
var ImageNames = []string{"picoscope", "picounter", "freqcounter"}

// ByName returns a fresh copy of a built-in image
func ByName(name string) (*Profile, error) {
	switch name {
	case "picoscope":
		return Picoscope(), nil
	case "picounter":
		return Picounter(), nil
	case "freqcounter":
		return FrequencyCounter(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownImage, name)
}

// Load parses a JSON profile. Keys left out are taken from the built-in
// image of the same name, so a profile only needs what it changes. Lists
// given in the profile replace the image's lists whole.
func Load(jsonData []byte) (*Profile, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(jsonData, &keys); err != nil {
		return nil, err
	}
	name := "picoscope"
	if raw, ok := keys["name"]; ok {
		if err := json.Unmarshal(raw, &name); err != nil {
			return nil, err
		}
	}

	profile, err := ByName(name)
	if err != nil {
		return nil, err
	}
	// json reuses slice backing arrays, which would merge old entries
	if _, ok := keys["blocks"]; ok {
		profile.Blocks = nil
	}
	if _, ok := keys["regions"]; ok {
		profile.Regions = nil
	}
	if _, ok := keys["roles"]; ok {
		profile.Roles = nil
	}
	if err := json.Unmarshal(jsonData, profile); err != nil {
		return nil, err
	}

	applyDefaults(profile)
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	return profile, nil
}

// applyDefaults fills in missing configuration values
func applyDefaults(p *Profile) {
	if p.Bus.Frequency == 0 {
		p.Bus.Frequency = 100000
	}
	if p.Readout.Mode == "" {
		p.Readout.Mode = ReadoutSPI
	}
	if p.Readout.LogScale.Num == 0 && p.Readout.LogScale.Den == 0 {
		p.Readout.LogScale = TickConfig{Num: 1, Den: 1}
	}
	if p.Capture.DecodeScale == 0 {
		p.Capture.DecodeScale = 1
	}
	if p.Tick.Num == 0 && p.Tick.Den == 0 {
		// 125 MHz divided by 25
		p.Tick = TickConfig{Num: 5, Den: 1}
	}

	for i := range p.Roles {
		if p.Roles[i].Kind == "" {
			p.Roles[i].Kind = KindWaveform
		}
		if p.Roles[i].ClockDiv == 0 {
			p.Roles[i].ClockDiv = 1
		}
	}

	if p.Defaults == nil {
		p.Defaults = make(map[string]Defaults)
	}
	for _, b := range p.Blocks {
		if _, ok := p.Defaults[b.Name]; !ok {
			p.Defaults[b.Name] = Defaults{
				Count:  DefaultCount,
				HighUS: DefaultHighUS,
				LowUS:  DefaultLowUS,
			}
		}
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidProfile}, args...)...)
}

// Validate checks that the profile can be built into an instrument
func (p *Profile) Validate() error {
	if p.Name == "" {
		return invalid("missing name")
	}
	if p.Window <= 0 || p.Window > 256 {
		return invalid("window size %d", p.Window)
	}
	if _, err := core.NewParameterStore(p.Window, p.BlockLayouts()); err != nil {
		return invalid("register layout: %v", err)
	}

	seen := make(map[uint8]bool)
	for _, r := range p.Regions {
		if r.Code == protocol.CmdArm || r.Code == protocol.CmdAbort {
			return invalid("select code %#x is a command", r.Code)
		}
		if seen[r.Code] {
			return invalid("select code %#x used twice", r.Code)
		}
		seen[r.Code] = true
		if r.Base < 0 || r.Base >= p.Window {
			return invalid("select code %#x base %d outside window", r.Code, r.Base)
		}
	}

	if len(p.Roles) == 0 || len(p.Roles) > core.ArenaSlots {
		return invalid("need 1 to %d roles, have %d", core.ArenaSlots, len(p.Roles))
	}
	slots := make(map[core.SlotID]bool)
	for _, r := range p.Roles {
		if r.Kind != KindWaveform && r.Kind != KindCounter {
			return invalid("role %s: kind %q", r.Name, r.Kind)
		}
		if r.PIO > 1 || r.SM > 3 {
			return invalid("role %s: no state machine pio%d.%d", r.Name, r.PIO, r.SM)
		}
		slot := core.SlotID{Block: r.PIO, SM: r.SM}
		if slots[slot] {
			return invalid("role %s: state machine pio%d.%d used twice", r.Name, r.PIO, r.SM)
		}
		slots[slot] = true
		if pin, err := ParsePin(r.Pin); err != nil || pin == core.NoPin {
			return invalid("role %s: pin %q", r.Name, r.Pin)
		}
		if r.Kind == KindWaveform && p.blockIndex(r.Block) < 0 {
			return invalid("role %s: no block %q", r.Name, r.Block)
		}
	}

	if p.Capture.Capacity <= 0 {
		return invalid("capacity %d", p.Capture.Capacity)
	}
	if p.blockIndex(p.Capture.TargetBlock) < 0 {
		return invalid("no target block %q", p.Capture.TargetBlock)
	}
	switch p.Capture.Strategy {
	case StrategyEdge:
		if _, err := p.SourceChannel(); err != nil {
			return err
		}
	case StrategyDMA:
		if _, err := p.CounterSlot(); err != nil {
			return err
		}
	default:
		return invalid("strategy %q", p.Capture.Strategy)
	}

	if p.Tick.Num == 0 || p.Tick.Den == 0 {
		return invalid("tick rate %d/%d", p.Tick.Num, p.Tick.Den)
	}
	if p.Readout.Mode != ReadoutSPI && p.Readout.Mode != ReadoutLog {
		return invalid("readout %q", p.Readout.Mode)
	}
	if p.Readout.LogScale.Den == 0 {
		return invalid("log scale %d/%d", p.Readout.LogScale.Num, p.Readout.LogScale.Den)
	}
	if p.TimeoutMS > MaxTimeoutMS {
		return invalid("timeout %d ms exceeds %d", p.TimeoutMS, MaxTimeoutMS)
	}

	for _, name := range []string{p.Pins.Trigger, p.Pins.Sample, p.Pins.Active, p.Pins.Armed, p.Pins.Edge} {
		if _, err := ParsePin(name); err != nil {
			return invalid("pin %q", name)
		}
	}
	if !p.SelfTrigger {
		if pin, _ := ParsePin(p.Pins.Trigger); pin == core.NoPin {
			return invalid("external trigger needs a trigger pin")
		}
	}
	if p.Capture.Strategy == StrategyEdge {
		if pin, _ := ParsePin(p.Pins.Sample); pin == core.NoPin {
			return invalid("edge sampling needs a sample pin")
		}
	}
	return nil
}

// ParsePin converts a pin name ("gpio14", "14", "adc0") to a GPIO number.
// An empty name is core.NoPin.
func ParsePin(name string) (core.GPIOPin, error) {
	if name == "" {
		return core.NoPin, nil
	}
	s := strings.ToLower(name)
	base := 0
	limit := 29
	switch {
	case strings.HasPrefix(s, "gpio"):
		s = s[4:]
	case strings.HasPrefix(s, "adc"):
		s = s[3:]
		base = 26
		limit = 3
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > limit {
		return core.NoPin, fmt.Errorf("bad pin name %q", name)
	}
	return core.GPIOPin(base + n), nil
}

func (p *Profile) blockIndex(name string) int {
	for i, b := range p.Blocks {
		if b.Name == name {
			return i
		}
	}
	return -1
}

// BlockLayouts converts the register layout
func (p *Profile) BlockLayouts() []core.BlockLayout {
	layouts := make([]core.BlockLayout, len(p.Blocks))
	for i, b := range p.Blocks {
		layouts[i].Name = b.Name
		layouts[i].Offsets[core.FieldCount] = b.Fields.Count
		layouts[i].Offsets[core.FieldDelay] = b.Fields.Delay
		layouts[i].Offsets[core.FieldHigh] = b.Fields.High
		layouts[i].Offsets[core.FieldLow] = b.Fields.Low
	}
	return layouts
}

// NewParameterStore allocates the register window and loads boot defaults
func (p *Profile) NewParameterStore() (*core.ParameterStore, error) {
	store, err := core.NewParameterStore(p.Window, p.BlockLayouts())
	if err != nil {
		return nil, err
	}
	for i, b := range p.Blocks {
		d := p.Defaults[b.Name]
		store.SetBlock(i, core.ParameterSet{
			Count:   d.Count,
			DelayUS: d.DelayUS,
			HighUS:  d.HighUS,
			LowUS:   d.LowUS,
		})
	}
	return store, nil
}

// BusRegions returns the select codes for the register decoder
func (p *Profile) BusRegions() []protocol.Region {
	regions := make([]protocol.Region, len(p.Regions))
	for i, r := range p.Regions {
		regions[i] = protocol.Region{Code: r.Code, Base: r.Base}
	}
	return regions
}

// TickRate returns the microsecond to cycle conversion
func (p *Profile) TickRate() core.TickRate {
	return core.TickRate{Num: p.Tick.Num, Den: p.Tick.Den}
}

// SourceChannel returns the ADC input sampled by the edge strategy
func (p *Profile) SourceChannel() (uint8, error) {
	pin, err := ParsePin(p.Capture.Source)
	if err != nil || pin < 26 || pin == core.NoPin {
		return 0, invalid("sample source %q is not an ADC input", p.Capture.Source)
	}
	return uint8(pin - 26), nil
}

// CounterSlot returns the state machine whose RX FIFO the DMA strategy
// drains.
func (p *Profile) CounterSlot() (core.SlotID, error) {
	for _, r := range p.Roles {
		if r.Name == p.Capture.Counter {
			if r.Kind != KindCounter {
				return core.SlotID{}, invalid("role %s is not a counter", r.Name)
			}
			return core.SlotID{Block: r.PIO, SM: r.SM}, nil
		}
	}
	return core.SlotID{}, invalid("no counter role %q", p.Capture.Counter)
}

// InstrumentConfig builds the core configuration. The profile must be
// valid.
func (p *Profile) InstrumentConfig() (core.Config, error) {
	cfg := core.Config{
		Regions:     p.BusRegions(),
		TargetBlock: p.blockIndex(p.Capture.TargetBlock),
		Rate:        p.TickRate(),
		SelfTrigger: p.SelfTrigger,
		AutoRearm:   p.AutoRearm,
		TimeoutUS:   p.TimeoutMS * 1000,
	}

	for _, r := range p.Roles {
		pin, err := ParsePin(r.Pin)
		if err != nil {
			return cfg, err
		}
		role := core.Role{
			Name: r.Name,
			Kind: core.RoleWaveform,
			Slot: core.SlotID{Block: r.PIO, SM: r.SM},
			Pin:  pin,
		}
		if r.Kind == KindCounter {
			role.Kind = core.RoleCounter
		} else {
			role.Block = p.blockIndex(r.Block)
		}
		cfg.Roles = append(cfg.Roles, role)
	}

	var err error
	if cfg.ActivePin, err = ParsePin(p.Pins.Active); err != nil {
		return cfg, err
	}
	if cfg.ArmedPin, err = ParsePin(p.Pins.Armed); err != nil {
		return cfg, err
	}
	if cfg.EdgePin, err = ParsePin(p.Pins.Edge); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Picoscope is the edge-sampled oscilloscope: two timers on PIO1, one
// gating the device under test and one clocking ADC samples, started by an
// external trigger.
func Picoscope() *Profile {
	return &Profile{
		Name: "picoscope",
		Bus:  BusConfig{Address: 0x42, SDA: "gpio4", SCL: "gpio5", Frequency: 100000},
		Readout: ReadoutConfig{
			Mode: ReadoutSPI,
			SCK:  "gpio10", SDO: "gpio11", SDI: "gpio12", CS: "gpio13",
		},
		Window: 32,
		Blocks: []BlockConfig{
			{Name: "driver", Fields: FieldOffsets{Delay: 0x00, High: 0x04, Low: 0x08, Count: 0x0c}},
			{Name: "reader", Fields: FieldOffsets{Delay: 0x10, High: 0x14, Low: 0x18, Count: 0x1c}},
		},
		Regions: []RegionConfig{
			{Code: 0x10, Base: 0x10},
			{Code: 0x11, Base: 0x00},
		},
		Roles: []RoleConfig{
			{Name: "reader", Kind: KindWaveform, PIO: 1, SM: 0, Pin: "gpio16", Block: "reader", ClockDiv: 25},
			{Name: "driver", Kind: KindWaveform, PIO: 1, SM: 1, Pin: "gpio17", Block: "driver", ClockDiv: 25},
		},
		Capture: CaptureConfig{
			Strategy:    StrategyEdge,
			Capacity:    120000,
			TargetBlock: "reader",
			Source:      "adc0",
		},
		Tick: TickConfig{Num: 5, Den: 1},
		Pins: PinConfig{
			Trigger: "gpio14",
			Sample:  "gpio15",
			Active:  "gpio25",
			Edge:    "gpio18",
		},
	}
}

// Picounter times the high and low phases seen on an input pin while
// driving a test clock, both on PIO0, and returns the durations over SPI.
func Picounter() *Profile {
	return &Profile{
		Name: "picounter",
		Bus:  BusConfig{Address: 0x40, SDA: "gpio4", SCL: "gpio5", Frequency: 100000},
		Readout: ReadoutConfig{
			Mode: ReadoutSPI,
			SCK:  "gpio10", SDO: "gpio11", SDI: "gpio12", CS: "gpio13",
		},
		Window: 16,
		Blocks: []BlockConfig{
			{Name: "clock", Fields: FieldOffsets{Count: 0x00, Delay: 0x04, High: 0x08, Low: 0x0c}},
		},
		Regions: []RegionConfig{
			{Code: 0x00, Base: 0x00},
			{Code: 0x01, Base: 0x04},
		},
		Roles: []RoleConfig{
			{Name: "counter", Kind: KindCounter, PIO: 0, SM: 0, Pin: "gpio17", ClockDiv: 1},
			{Name: "clock", Kind: KindWaveform, PIO: 0, SM: 1, Pin: "gpio16", Block: "clock", ClockDiv: 1},
		},
		Capture: CaptureConfig{
			Strategy:    StrategyDMA,
			Capacity:    50000,
			TargetBlock: "clock",
			Counter:     "counter",
			DecodeScale: 50,
		},
		Tick:        TickConfig{Num: 1, Den: 10},
		Pins:        PinConfig{Armed: "gpio14"},
		SelfTrigger: true,
	}
}

// FrequencyCounter is the bench variant of the counter: the test clock runs
// on PIO1 at 1 MHz and durations are printed to the debug log.
func FrequencyCounter() *Profile {
	p := Picounter()
	p.Name = "freqcounter"
	p.Readout = ReadoutConfig{Mode: ReadoutLog, LogScale: TickConfig{Num: 100, Den: 1}}
	p.Roles = []RoleConfig{
		{Name: "counter", Kind: KindCounter, PIO: 0, SM: 0, Pin: "gpio17", ClockDiv: 1},
		{Name: "clock", Kind: KindWaveform, PIO: 1, SM: 0, Pin: "gpio16", Block: "clock", ClockDiv: 125},
	}
	p.Capture.DecodeScale = 5
	p.Pins = PinConfig{}
	return p
}
