package core

// GPIOPin identifies a hardware GPIO pin number
type GPIOPin uint32

// NoPin marks an optional pin that is not wired.
const NoPin GPIOPin = 0xFF

// GPIODriver is the abstract GPIO interface that core code uses.
// Platform-specific implementations handle actual hardware control.
// SetPin may be called from interrupt handlers.
type GPIODriver interface {
	// ConfigureOutput configures a pin as a digital output
	// Returns error if pin is invalid or already in use
	ConfigureOutput(pin GPIOPin) error

	// SetPin sets the pin to high (true) or low (false)
	SetPin(pin GPIOPin, value bool) error

	// GetPin reads the current pin state
	GetPin(pin GPIOPin) (bool, error)
}

// indicator drives an optional output pin.
type indicator struct {
	gpio  GPIODriver
	pin   GPIOPin
	level bool
}

func (p *indicator) configure() error {
	if p.pin == NoPin || p.gpio == nil {
		return nil
	}
	if err := p.gpio.ConfigureOutput(p.pin); err != nil {
		return err
	}
	return p.gpio.SetPin(p.pin, false)
}

func (p *indicator) set(v bool) {
	p.level = v
	if p.pin != NoPin && p.gpio != nil {
		p.gpio.SetPin(p.pin, v)
	}
}

func (p *indicator) toggle() {
	p.set(!p.level)
}
