// Package sim provides a software model of the serial audio transport, its
// codec and the ring-transfer controller. It's used to run the streaming
// core without hardware: in tests the transfer is stepped one block at a
// time, in the shell it's clocked by the sample rate.
package sim

import (
	"fmt"
	"sync"

	"github.com/dudk/dspstream/transport"
)

// Codec register addresses.
const (
	RegPage       = transport.RegPage
	RegSampleRate = transport.RegSampleRate
	RegDataPath   = transport.RegDataPath
)

// Codec models the serial transport and the codec chip behind it. Samples
// are produced by a Source and consumed by a Sink.
type Codec struct {
	mu       sync.Mutex
	regs     [transport.Pages][transport.Registers]uint8
	enabled  bool
	rate     transport.RateCode
	size     transport.SizeCode
	flags    transport.Flags
	channels int
	source   Source
	sink     Sink
}

// CodecOption configures a codec.
type CodecOption func(c *Codec)

// WithSource sets the analog input of the codec.
func WithSource(s Source) CodecOption {
	return func(c *Codec) {
		c.source = s
	}
}

// WithSink sets the analog output of the codec.
func WithSink(s Sink) CodecOption {
	return func(c *Codec) {
		c.sink = s
	}
}

// NewCodec returns a codec in reset with default 48 kHz, 32 bit settings.
func NewCodec(channels int, options ...CodecOption) *Codec {
	c := &Codec{
		channels: channels,
		source:   Silence{},
		sink:     Discard{},
	}
	for _, option := range options {
		option(c)
	}
	c.setRate(0)
	c.setSize(3)
	return c
}

// Enable releases the codec reset.
func (c *Codec) Enable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = true
	return nil
}

// Disable holds the codec in reset.
func (c *Codec) Disable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = false
	return nil
}

// Enabled reports whether codec is out of reset.
func (c *Codec) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// SetSampleRate sets ADC and DAC rate. Both nibbles of register 2 hold the
// code.
func (c *Codec) SetSampleRate(code transport.RateCode) error {
	if code.Rate() == 0 {
		return fmt.Errorf("rate code %d not supported", code)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setRate(code)
	return nil
}

// SetSampleSize sets word width of the data path and the serial frame.
func (c *Codec) SetSampleSize(code transport.SizeCode) error {
	if code.Bits() == 0 {
		return fmt.Errorf("size code %d not supported", code)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setSize(code)
	return nil
}

func (c *Codec) setRate(code transport.RateCode) {
	c.rate = code
	c.regs[0][RegSampleRate] = uint8(code)<<4 | uint8(code)
}

func (c *Codec) setSize(code transport.SizeCode) {
	c.size = code
	c.regs[0][RegDataPath] = (0xC | uint8(code)) << 4
}

// SampleRate returns the rate in Hz.
func (c *Codec) SampleRate() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rate.Rate()
}

// SampleSize returns word width in bits.
func (c *Codec) SampleSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size.Bits()
}

// ReadRegister returns a register value.
func (c *Codec) ReadRegister(page, reg uint8) (uint8, error) {
	if err := transport.CheckRegister(page, reg); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if reg == RegPage {
		return page, nil
	}
	return c.regs[page][reg], nil
}

// WriteRegister writes a register. Writing rate or data path registers on
// page 0 changes the codec settings as the chip would.
func (c *Codec) WriteRegister(page, reg, val uint8) error {
	if err := transport.CheckRegister(page, reg); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if reg == RegPage {
		return nil
	}
	c.regs[page][reg] = val
	if page != 0 {
		return nil
	}
	switch reg {
	case RegSampleRate:
		if code := transport.RateCode(val & 0x0F); code.Rate() != 0 {
			c.rate = code
		}
	case RegDataPath:
		c.size = transport.SizeCode((val >> 4) & 0x3)
	}
	return nil
}

// ErrorFlags returns accumulated FIFO errors.
func (c *Codec) ErrorFlags() transport.Flags {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flags
}

// ClearErrorFlags resets FIFO errors.
func (c *Codec) ClearErrorFlags() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flags = 0
}

// Receive pops one frame from the receive FIFO. Samples are left justified
// and truncated to the word width. Codec in reset delivers silence.
func (c *Codec) Receive(frame []int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		for i := range frame {
			frame[i] = 0
		}
		return
	}
	c.source.Read(frame, c.rate.Rate())
	mask := wordMask(c.size.Bits())
	for i := range frame {
		frame[i] &= mask
	}
}

// Transmit pushes one frame into the transmit FIFO.
func (c *Codec) Transmit(frame []int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	mask := wordMask(c.size.Bits())
	for i := range frame {
		frame[i] &= mask
	}
	c.sink.Write(frame)
}

// Idle is called for every frame period nobody serviced the FIFOs. An
// enabled codec keeps clocking samples, so both FIFOs fail.
func (c *Codec) Idle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled {
		c.flags |= transport.Overrun | transport.Underrun
	}
}

// Channels returns number of channels in a frame.
func (c *Codec) Channels() int {
	return c.channels
}

func wordMask(bits int) int32 {
	if bits >= 32 || bits <= 0 {
		return -1
	}
	return int32(^uint32(0) << uint(32-bits))
}
