//go:build rp2040

package main

import (
	"device/rp"
	"machine"
	"runtime/interrupt"

	"pioscope/config"
	"pioscope/core"
	"pioscope/protocol"
)

// I2CTarget answers the host on I2C0 in target mode. Written bytes go to
// the instrument's register decoder; read requests are served from the
// pre-encoded status block.
type I2CTarget struct {
	inst    *core.Instrument
	readPos int
}

// i2cTarget is static so the interrupt handler needs no closure state
var i2cTarget I2CTarget

// StartI2CTarget configures I2C0 as a target at the profile's address and
// enables its interrupt.
func StartI2CTarget(bus config.BusConfig, inst *core.Instrument) error {
	sda, err := config.ParsePin(bus.SDA)
	if err != nil {
		return err
	}
	scl, err := config.ParsePin(bus.SCL)
	if err != nil {
		return err
	}

	i2c := machine.I2C0
	err = i2c.Configure(machine.I2CConfig{
		Frequency: bus.Frequency,
		SDA:       machine.Pin(sda),
		SCL:       machine.Pin(scl),
		Mode:      machine.I2CModeTarget,
	})
	if err != nil {
		return err
	}
	if err := i2c.Listen(uint16(bus.Address)); err != nil {
		return err
	}

	i2cTarget.inst = inst
	rp.I2C0.IC_INTR_MASK.Set(rp.I2C0_IC_INTR_MASK_M_RX_FULL |
		rp.I2C0_IC_INTR_MASK_M_RD_REQ |
		rp.I2C0_IC_INTR_MASK_M_STOP_DET)

	intr := interrupt.New(rp.IRQ_I2C0_IRQ, func(interrupt.Interrupt) {
		i2cTarget.handle()
	})
	intr.Enable()
	return nil
}

// handle runs in interrupt context
func (t *I2CTarget) handle() {
	stat := rp.I2C0.IC_INTR_STAT.Get()

	if stat&rp.I2C0_IC_INTR_STAT_R_RX_FULL != 0 {
		for rp.I2C0.IC_RXFLR.Get() > 0 {
			w := protocol.WordFromDataCmd(rp.I2C0.IC_DATA_CMD.Get())
			if w.First {
				t.readPos = 0
			}
			t.inst.HandleBusWord(w)
		}
	}

	if stat&rp.I2C0_IC_INTR_STAT_R_RD_REQ != 0 {
		status := t.inst.StatusBytes()
		var b byte
		if t.readPos < len(status) {
			b = status[t.readPos]
			t.readPos++
		}
		rp.I2C0.IC_DATA_CMD.Set(uint32(b))
		rp.I2C0.IC_CLR_RD_REQ.Get()
	}

	if stat&rp.I2C0_IC_INTR_STAT_R_STOP_DET != 0 {
		t.readPos = 0
		rp.I2C0.IC_CLR_STOP_DET.Get()
	}
}
