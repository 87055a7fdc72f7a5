//go:build rp2040

package main

import (
	"errors"
	"machine"

	"pioscope/core"
)

var ErrBadPin = errors.New("no such GPIO")

// RPGPIODriver implements core.GPIODriver with direct pin access. SetPin
// is a single SIO register write and is safe in interrupt handlers.
type RPGPIODriver struct{}

// NewRPGPIODriver constructs the driver
func NewRPGPIODriver() *RPGPIODriver {
	return &RPGPIODriver{}
}

func (d *RPGPIODriver) ConfigureOutput(pin core.GPIOPin) error {
	if pin > 29 {
		return ErrBadPin
	}
	machine.Pin(pin).Configure(machine.PinConfig{Mode: machine.PinOutput})
	return nil
}

func (d *RPGPIODriver) SetPin(pin core.GPIOPin, value bool) error {
	machine.Pin(pin).Set(value)
	return nil
}

func (d *RPGPIODriver) GetPin(pin core.GPIOPin) (bool, error) {
	return machine.Pin(pin).Get(), nil
}

// attachEdge calls handler from the GPIO interrupt on every edge of the
// given kind.
func attachEdge(pin core.GPIOPin, change machine.PinChange, handler func()) error {
	if pin == core.NoPin {
		return nil
	}
	if pin > 29 {
		return ErrBadPin
	}
	p := machine.Pin(pin)
	p.Configure(machine.PinConfig{Mode: machine.PinInputPulldown})
	return p.SetInterrupt(change, func(machine.Pin) {
		handler()
	})
}

// StartEdgeInterrupts wires the external trigger (rising) and the sample
// clock (falling) to the instrument.
func StartEdgeInterrupts(inst *core.Instrument, trigger, sample core.GPIOPin) error {
	if err := attachEdge(trigger, machine.PinRising, func() { inst.Trigger() }); err != nil {
		return err
	}
	return attachEdge(sample, machine.PinFalling, inst.OnSampleEdge)
}
