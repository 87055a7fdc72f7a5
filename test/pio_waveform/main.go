//go:build rp2040

package main

// PIO Waveform Test - Cycles through waveform timings
// Watch GP16 on an oscilloscope: each setting runs for 3 seconds

import (
	"machine"
	"time"

	"pioscope/core"
	"pioscope/targets/pio"
)

const clockDiv = 25 // 5 cycles per microsecond at 125 MHz

var waveTests = []struct {
	params core.ParameterSet
	name   string
}{
	{core.ParameterSet{HighUS: 500, LowUS: 500}, "1 kHz square"},
	{core.ParameterSet{HighUS: 10, LowUS: 90}, "10 kHz, 10% duty"},
	{core.ParameterSet{HighUS: 1, LowUS: 1}, "500 kHz, shortest phases"},
	{core.ParameterSet{DelayUS: 1000, HighUS: 100, LowUS: 200}, "1 ms delay, then 3.3 kHz"},
}

func main() {
	time.Sleep(3 * time.Second)

	led := machine.LED
	led.Configure(machine.PinConfig{Mode: machine.PinOutput})

	println("=== PIO Waveform Test ===")
	println("Output: GP16 (pio1 sm0)")

	seq := pio.NewSequencer()
	slot := core.SlotID{Block: 1, SM: 0}
	if err := seq.Claim(slot, clockDiv); err != nil {
		println("Claim error:", err.Error())
		return
	}
	loader := core.NewLoader(core.NewProgramArena(seq), core.TickRate{Num: 5, Den: 1})
	role := core.Role{Name: "test", Kind: core.RoleWaveform, Slot: slot, Pin: 16}

	// Counter preload: Y must hold the low-phase seed before the first edge.
	counterSlot := core.SlotID{Block: 0, SM: 0}
	if err := seq.Claim(counterSlot, 1); err != nil {
		println("Claim error:", err.Error())
		return
	}
	counter := core.Role{Name: "counter", Kind: core.RoleCounter, Slot: counterSlot, Pin: 17}
	lease, _, err := loader.Load(counter, core.ParameterSet{}, false)
	if err != nil {
		println("Counter load error:", err.Error())
		return
	}
	if y := pio.ReadY(counterSlot); y == 0x7FFFFFFF {
		println("Counter seed: OK")
	} else {
		println("Counter seed: FAIL, Y =", y)
	}
	lease.Release()

	cycle := 0
	for {
		cycle++
		println("\n=== Cycle", cycle, "===")

		for _, test := range waveTests {
			lease, timing, err := loader.Load(role, test.params, true)
			if err != nil {
				println("Load error:", err.Error())
				return
			}
			println(test.name, "- program:", timing.Program.String(),
				"high:", timing.High, "low:", timing.Low, "delay:", timing.Delay)

			led.High()
			time.Sleep(3 * time.Second)
			led.Low()

			lease.Release()
			time.Sleep(500 * time.Millisecond)
		}
	}
}
