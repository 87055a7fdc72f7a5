//go:build rp2040

package main

import (
	"device/rp"
	"machine"
	"runtime/volatile"
	"unsafe"
)

// ADCStream keeps the most recent conversion of one ADC input in memory.
// The ADC free-runs into its FIFO and two DMA channels, chained to each
// other, copy every result to the same halfword, so reading it is a single
// load with no CPU work in between.
type ADCStream struct {
	latest uint16
}

// adcStream is static so the DMA target never moves
var adcStream ADCStream

// StartADCStream starts free-running conversions of channel (0-3)
func StartADCStream(channel uint8) *ADCStream {
	machine.InitADC()
	adc := machine.ADC{Pin: machine.ADC0 + machine.Pin(channel)}
	adc.Configure(machine.ADCConfig{})

	rp.ADC.CS.ReplaceBits(uint32(channel)<<rp.ADC_CS_AINSEL_Pos, rp.ADC_CS_AINSEL_Msk, 0)
	// Back-to-back conversions at 500 ksps
	rp.ADC.DIV.Set(0)
	rp.ADC.FCS.Set(rp.ADC_FCS_EN | rp.ADC_FCS_DREQ_EN | 1<<rp.ADC_FCS_THRESH_Pos)

	src := uint32(uintptr(unsafe.Pointer(&rp.ADC.FIFO)))
	dst := uint32(uintptr(unsafe.Pointer(&adcStream.latest)))

	a := &dmaChannels[adcDMAChannelA]
	b := &dmaChannels[adcDMAChannelB]
	for _, ch := range []*dmaChannelHW{a, b} {
		ch.READ_ADDR.Set(src)
		ch.WRITE_ADDR.Set(dst)
		ch.TRANS_COUNT.Set(0xFFFFFFFF)
	}
	b.AL1_CTRL.Set(dmaCtrl(dmaSize16, dreqADC, adcDMAChannelA, false, false))
	a.CTRL_TRIG.Set(dmaCtrl(dmaSize16, dreqADC, adcDMAChannelB, false, false))

	rp.ADC.CS.SetBits(rp.ADC_CS_START_MANY)
	return &adcStream
}

// Latest returns the newest 12-bit conversion. Interrupt safe.
func (s *ADCStream) Latest() uint16 {
	return volatile.LoadUint16(&s.latest)
}
