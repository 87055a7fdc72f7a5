//go:build rp2040

package main

import (
	"device/rp"
	"errors"
	"machine"

	"pioscope/config"
)

var ErrSPIPins = errors.New("SPI1 target needs SCK, SDO, SDI and CS pins")

// SPITarget is SPI1 in target mode, 8-bit frames, CPOL=1 CPHA=1. It
// implements drivers.SPI: every byte moves only when the host clocks it,
// so Tx blocks until the host has read the whole buffer.
type SPITarget struct {
	spi *machine.SPI
}

// NewSPITarget configures SPI1 on the profile's pins
func NewSPITarget(cfg config.ReadoutConfig) (*SPITarget, error) {
	var pins [4]machine.Pin
	for i, name := range []string{cfg.SCK, cfg.SDO, cfg.SDI, cfg.CS} {
		pin, err := config.ParsePin(name)
		if err != nil {
			return nil, err
		}
		if int(pin) > 29 {
			return nil, ErrSPIPins
		}
		pins[i] = machine.Pin(pin)
	}

	spi := machine.SPI1
	err := spi.Configure(machine.SPIConfig{
		Frequency: 10000000,
		SCK:       pins[0],
		SDO:       pins[1],
		SDI:       pins[2],
		Mode:      3,
		LSBFirst:  false,
	})
	if err != nil {
		return nil, err
	}
	pins[3].Configure(machine.PinConfig{Mode: machine.PinSPI})

	// machine.SPI only drives controller mode; flip the block to target
	rp.SPI1.SSPCR1.ClearBits(rp.SPI0_SSPCR1_SSE)
	rp.SPI1.SSPCR1.SetBits(rp.SPI0_SSPCR1_MS)
	rp.SPI1.SSPCR1.SetBits(rp.SPI0_SSPCR1_SSE)

	return &SPITarget{spi: spi}, nil
}

// Tx exchanges w for r byte by byte. r may alias w.
func (s *SPITarget) Tx(w, r []byte) error {
	n := len(w)
	if len(r) > n {
		n = len(r)
	}
	rx := 0
	for tx := 0; tx < n || rx < n; {
		if tx < n && rp.SPI1.SSPSR.HasBits(rp.SPI0_SSPSR_TNF) && tx-rx < 8 {
			var b byte
			if tx < len(w) {
				b = w[tx]
			}
			rp.SPI1.SSPDR.Set(uint32(b))
			tx++
		}
		if rx < n && rp.SPI1.SSPSR.HasBits(rp.SPI0_SSPSR_RNE) {
			b := byte(rp.SPI1.SSPDR.Get())
			if rx < len(r) {
				r[rx] = b
			}
			rx++
		}
	}
	return nil
}

// Transfer exchanges a single byte
func (s *SPITarget) Transfer(b byte) (byte, error) {
	var r [1]byte
	err := s.Tx([]byte{b}, r[:])
	return r[0], err
}
