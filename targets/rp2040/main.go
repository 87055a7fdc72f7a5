//go:build rp2040

package main

import (
	"machine"
	"time"

	"pioscope/config"
	"pioscope/core"
	"pioscope/protocol"
	"pioscope/targets/pio"

	"tinygo.org/x/drivers"
)

// Image selection, set at link time:
//
//	tinygo flash -target pico -ldflags "-X main.imageName=picounter" ./targets/rp2040
//
// profileJSON, when set, replaces imageName and may override any field of
// the named image.
var (
	imageName   = "picoscope"
	profileJSON = ""
)

var instrument *core.Instrument

func main() {
	// Disable watchdog on boot to clear any previous state
	err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0})
	if err != nil {
		return
	}

	InitDebugUART()
	InitClock()

	profile, err := loadProfile()
	if err != nil {
		halt("profile: " + err.Error())
	}
	core.DebugPrintln("pioscope " + protocol.Version + " image " + profile.Name)

	instrument, err = buildInstrument(profile)
	if err != nil {
		halt("init: " + err.Error())
	}
	core.DebugPrintln("commands:\n" + instrument.Commands().Describe())

	if err := StartI2CTarget(profile.Bus, instrument); err != nil {
		halt("i2c: " + err.Error())
	}
	trigger, _ := config.ParsePin(profile.Pins.Trigger)
	sample, _ := config.ParsePin(profile.Pins.Sample)
	if err := StartEdgeInterrupts(instrument, trigger, sample); err != nil {
		halt("gpio: " + err.Error())
	}
	core.DebugPrintln("i2c target at 0x" + hex(profile.Bus.Address) + ", waiting for arm")

	// Main loop: busy-polls the capture and runs teardown and readout
	for {
		func() {
			defer func() {
				if r := recover(); r != nil {
					core.DebugPrintln("main loop panic in state " + instrument.State().String())
					instrument.Disarm()
					core.DumpEvents()
				}
			}()

			UpdateSystemTime()
			core.ProcessTimers()
			instrument.Poll()
			core.FlushLog()
		}()
	}
}

func loadProfile() (*config.Profile, error) {
	if profileJSON != "" {
		return config.Load([]byte(profileJSON))
	}
	return config.Load([]byte(`{"name": "` + imageName + `"}`))
}

// buildInstrument wires a validated profile to the hardware
func buildInstrument(p *config.Profile) (*core.Instrument, error) {
	store, err := p.NewParameterStore()
	if err != nil {
		return nil, err
	}
	cfg, err := p.InstrumentConfig()
	if err != nil {
		return nil, err
	}

	seq := pio.NewSequencer()
	for _, r := range p.Roles {
		if err := seq.Claim(core.SlotID{Block: r.PIO, SM: r.SM}, r.ClockDiv); err != nil {
			return nil, err
		}
	}

	var strategy core.CaptureStrategy
	switch p.Capture.Strategy {
	case config.StrategyEdge:
		ch, err := p.SourceChannel()
		if err != nil {
			return nil, err
		}
		buf := core.NewResultBuffer[uint16](p.Capture.Capacity)
		strategy = core.NewEdgeSampled(StartADCStream(ch), buf)
	case config.StrategyDMA:
		slot, err := p.CounterSlot()
		if err != nil {
			return nil, err
		}
		buf := core.NewResultBuffer[uint32](p.Capture.Capacity)
		strategy = core.NewDMATimed(NewFIFOTransfer(fifoDMAChannel), slot, p.Capture.DecodeScale, buf)
	}

	var link drivers.SPI
	if p.Readout.Mode == config.ReadoutLog {
		link = &core.DurationLog{Num: p.Readout.LogScale.Num, Den: p.Readout.LogScale.Den}
	} else {
		spi, err := NewSPITarget(p.Readout)
		if err != nil {
			return nil, err
		}
		link = spi
	}

	return core.NewInstrument(cfg, store, strategy, core.Drivers{
		Sequencer: seq,
		GPIO:      NewRPGPIODriver(),
		Readout:   link,
	})
}

// halt reports a boot failure forever
func halt(msg string) {
	for {
		core.DebugPrintln(msg)
		time.Sleep(time.Second)
	}
}

func hex(b uint8) string {
	const digits = "0123456789abcdef"
	return string([]byte{digits[b>>4], digits[b&0xf]})
}
