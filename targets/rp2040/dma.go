//go:build rp2040

package main

import (
	"device/rp"
	"errors"
	"runtime/volatile"
	"unsafe"

	"pioscope/core"
	"pioscope/targets/pio"
)

var ErrEmptyTransfer = errors.New("DMA transfer of zero words")

// Single DMA channel. See rp.DMA_Type.
type dmaChannelHW struct {
	READ_ADDR   volatile.Register32
	WRITE_ADDR  volatile.Register32
	TRANS_COUNT volatile.Register32
	CTRL_TRIG   volatile.Register32
	AL1_CTRL    volatile.Register32 // CTRL without trigger
	_           [11]volatile.Register32
}

// DMA channels usable on the RP2040.
var dmaChannels = (*[12]dmaChannelHW)(unsafe.Pointer(rp.DMA))

// Static assignment of DMA channels
const (
	adcDMAChannelA = iota
	adcDMAChannelB
	fifoDMAChannel
)

const (
	dmaSize16 = 1
	dmaSize32 = 2

	dreqADC = 0x24

	abortRetries = 10000
)

func dmaCtrl(size, dreq, chainTo uint32, incrRead, incrWrite bool) uint32 {
	ctrl := uint32(rp.DMA_CH0_CTRL_TRIG_EN) |
		size<<rp.DMA_CH0_CTRL_TRIG_DATA_SIZE_Pos |
		dreq<<rp.DMA_CH0_CTRL_TRIG_TREQ_SEL_Pos |
		chainTo<<rp.DMA_CH0_CTRL_TRIG_CHAIN_TO_Pos
	if incrRead {
		ctrl |= rp.DMA_CH0_CTRL_TRIG_INCR_READ
	}
	if incrWrite {
		ctrl |= rp.DMA_CH0_CTRL_TRIG_INCR_WRITE
	}
	return ctrl
}

func dmaAbort(channel uint8) {
	mask := uint32(1) << channel
	rp.DMA.CHAN_ABORT.Set(mask)
	for i := 0; i < abortRetries && rp.DMA.CHAN_ABORT.Get()&mask != 0; i++ {
	}
}

// FIFOTransfer implements core.BlockTransfer, draining a state machine's RX
// FIFO into memory at the pace the FIFO fills.
type FIFOTransfer struct {
	hw      *dmaChannelHW
	channel uint8
}

// NewFIFOTransfer claims a DMA channel for RX FIFO transfers
func NewFIFOTransfer(channel uint8) *FIFOTransfer {
	return &FIFOTransfer{hw: &dmaChannels[channel], channel: channel}
}

// Start begins moving len(dst) words. It may run in interrupt context.
func (t *FIFOTransfer) Start(dst []uint32, src core.SlotID) error {
	if len(dst) == 0 {
		return ErrEmptyTransfer
	}
	if t.Busy() {
		dmaAbort(t.channel)
	}
	t.hw.READ_ADDR.Set(uint32(uintptr(unsafe.Pointer(pio.RxReg(src)))))
	t.hw.WRITE_ADDR.Set(uint32(uintptr(unsafe.Pointer(&dst[0]))))
	t.hw.TRANS_COUNT.Set(uint32(len(dst)))
	t.hw.CTRL_TRIG.Set(dmaCtrl(dmaSize32, pio.RxDREQ(src), uint32(t.channel), false, true))
	return nil
}

// Busy reports whether words are still outstanding
func (t *FIFOTransfer) Busy() bool {
	return t.hw.CTRL_TRIG.Get()&rp.DMA_CH0_CTRL_TRIG_BUSY != 0
}

// Remaining returns the number of words not yet moved
func (t *FIFOTransfer) Remaining() uint32 {
	return t.hw.TRANS_COUNT.Get()
}

// Abort stops the transfer and waits for in-flight words to land
func (t *FIFOTransfer) Abort() {
	dmaAbort(t.channel)
}
