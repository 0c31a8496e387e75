// Package portaudio runs the ring transfer on a host sound card. The sound
// card is the serial transport: every duplex callback carries one block of
// interleaved frames in both directions and raises the completion handler.
package portaudio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/dudk/dspstream/block"
	"github.com/dudk/dspstream/engine"
	"github.com/dudk/dspstream/log"
	"github.com/dudk/dspstream/transport"
)

// ErrNotConfigured is returned when stream is opened before transfer is
// configured.
var ErrNotConfigured = errors.New("ring not configured")

// Ring implements engine.Transfer on top of a default duplex PortAudio
// stream. Its Device implements transport.Transport. Rate and size changes
// apply on the next Device Enable.
type Ring struct {
	uid string
	log *logrus.Entry

	mu       sync.Mutex
	stream   *portaudio.Stream
	channels int
	frames   int
	in       *engine.Cursor
	out      *engine.Cursor
	inSet    *block.Set
	outSet   *block.Set
	irq      func()

	rate  transport.RateCode
	size  transport.SizeCode
	flags transport.Flags
	regs  [transport.Pages][transport.Registers]uint8

	enabled bool
	dreq    bool
	done    bool
	halted  bool
}

// Option configures a ring.
type Option func(r *Ring) error

// WithLogger sets logger to ring.
func WithLogger(l log.Logger) Option {
	return func(r *Ring) error {
		r.log = log.Component(l, "portaudio", r.uid)
		return nil
	}
}

// New returns a ring with 48 kHz, 32 bit settings.
func New(options ...Option) (*Ring, error) {
	r := &Ring{
		uid:  xid.New().String(),
		size: 3,
	}
	r.log = log.Component(log.GetLogger(), "portaudio", r.uid)
	for _, option := range options {
		if err := option(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Configure implements engine.Transfer. One callback moves half of the
// major loop.
func (r *Ring) Configure(in, out engine.Descriptor, inSet, outSet *block.Set, irq func()) error {
	if in.Elements() != out.Elements() {
		return errors.New("input and output frames differ")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.in = engine.NewCursor(in)
	r.out = engine.NewCursor(out)
	r.inSet, r.outSet = inSet, outSet
	r.irq = irq
	r.channels = in.Elements()
	r.frames = in.BlockCount / 2
	r.enabled, r.done, r.halted = false, false, false
	return nil
}

// Done implements engine.Transfer.
func (r *Ring) Done() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Halted implements engine.Transfer.
func (r *Ring) Halted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.halted
}

// ClearInterrupt implements engine.Transfer. Callbacks don't queue, so
// there is nothing to acknowledge.
func (r *Ring) ClearInterrupt() {}

// StopAtBoundary implements engine.Transfer.
func (r *Ring) StopAtBoundary(stop bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dreq = stop
}

// Enable implements engine.Transfer.
func (r *Ring) Enable() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = true
	r.halted = false
}

// process is the duplex callback.
func (r *Ring) process(in, out []int32) {
	r.mu.Lock()
	if !r.enabled || r.in == nil {
		for i := range out {
			out[i] = 0
		}
		r.flags |= transport.Overrun | transport.Underrun
		r.mu.Unlock()
		return
	}
	mask := wordMask(r.size.Bits())
	major := false
	for f := 0; f < r.frames && !major; f++ {
		frame := f * r.channels
		major = r.in.Minor(func(e, offset int) {
			*r.inSet.At(offset) = in[frame+e] & mask
		})
		r.out.Minor(func(e, offset int) {
			out[frame+e] = *r.outSet.At(offset) & mask
		})
	}
	r.done = major
	if major && r.dreq {
		r.enabled = false
		r.halted = true
	}
	irq := r.irq
	r.mu.Unlock()

	irq()
}

// Device is the transport side of a ring: the sound card.
type Device struct {
	r *Ring
}

// Device returns the transport of the ring.
func (r *Ring) Device() *Device {
	return &Device{r: r}
}

// Enable implements transport.Transport. It opens and starts the default
// duplex stream with current rate.
func (d *Device) Enable() error {
	r := d.r
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stream != nil {
		return nil
	}
	if r.in == nil {
		return ErrNotConfigured
	}
	if err := portaudio.Initialize(); err != nil {
		return err
	}
	s, err := portaudio.OpenDefaultStream(r.channels, r.channels, float64(r.rate.Rate()), r.frames, r.process)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("open stream: %w", err)
	}
	if err := s.Start(); err != nil {
		s.Close()
		portaudio.Terminate()
		return fmt.Errorf("start stream: %w", err)
	}
	r.stream = s
	r.log.WithFields(logrus.Fields{
		"rate":   r.rate.Rate(),
		"frames": r.frames,
	}).Debug("stream started")
	return nil
}

// Disable implements transport.Transport. It stops and closes the stream.
func (d *Device) Disable() error {
	r := d.r
	r.mu.Lock()
	s := r.stream
	r.stream = nil
	r.mu.Unlock()
	if s == nil {
		return nil
	}
	// callback takes the lock, so stop without holding it
	err := s.Stop()
	if errClose := s.Close(); err == nil {
		err = errClose
	}
	if errTerm := portaudio.Terminate(); err == nil {
		err = errTerm
	}
	r.log.Debug("stream stopped")
	return err
}

// SetSampleRate implements transport.Transport.
func (d *Device) SetSampleRate(code transport.RateCode) error {
	r := d.r
	if code.Rate() == 0 {
		return fmt.Errorf("rate code %d not supported", code)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rate = code
	r.regs[0][transport.RegSampleRate] = uint8(code)<<4 | uint8(code)
	return nil
}

// SetSampleSize implements transport.Transport. Samples are truncated to
// the word width.
func (d *Device) SetSampleSize(code transport.SizeCode) error {
	r := d.r
	if code.Bits() == 0 {
		return fmt.Errorf("size code %d not supported", code)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.size = code
	r.regs[0][transport.RegDataPath] = (0xC | uint8(code)) << 4
	return nil
}

// ReadRegister implements transport.Transport. The sound card has no codec
// registers; values written are kept in memory.
func (d *Device) ReadRegister(page, reg uint8) (uint8, error) {
	r := d.r
	if err := transport.CheckRegister(page, reg); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.regs[page][reg], nil
}

// WriteRegister implements transport.Transport.
func (d *Device) WriteRegister(page, reg, val uint8) error {
	r := d.r
	if err := transport.CheckRegister(page, reg); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.regs[page][reg] = val
	return nil
}

// ErrorFlags implements transport.Transport.
func (d *Device) ErrorFlags() transport.Flags {
	r := d.r
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flags
}

// ClearErrorFlags implements transport.Transport.
func (d *Device) ClearErrorFlags() {
	r := d.r
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flags = 0
}

// SampleRate returns rate in Hz.
func (r *Ring) SampleRate() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rate.Rate()
}

// String returns ring id.
func (r *Ring) String() string {
	return r.uid
}

func wordMask(bits int) int32 {
	if bits >= 32 || bits <= 0 {
		return -1
	}
	return int32(^uint32(0) << uint(32-bits))
}
