package sim

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dudk/dspstream/block"
	"github.com/dudk/dspstream/engine"
)

// ErrNotConfigured is returned when DMA is used before configuration.
var ErrNotConfigured = errors.New("dma not configured")

// DMA models a two-channel ring-transfer controller servicing a Codec.
// Input channel raises one shared interrupt at half and at the end of its
// major loop. Output channel runs in lockstep and raises none.
type DMA struct {
	mu     sync.Mutex
	codec  *Codec
	in     *engine.Cursor
	out    *engine.Cursor
	inSet  *block.Set
	outSet *block.Set
	irq    func()
	frame  []int32

	enabled bool // channels are serviced
	dreq    bool // disable request at end of major loop
	done    bool // major loop complete
	halted  bool // stopped because of dreq
	pending bool // interrupt not acknowledged
}

// NewDMA returns a DMA servicing codec.
func NewDMA(codec *Codec) *DMA {
	return &DMA{codec: codec}
}

// Configure implements engine.Transfer.
func (d *DMA) Configure(in, out engine.Descriptor, inSet, outSet *block.Set, irq func()) error {
	if in.Elements() != d.codec.Channels() || out.Elements() != d.codec.Channels() {
		return errors.New("minor loop doesn't match codec frame")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.in = engine.NewCursor(in)
	d.out = engine.NewCursor(out)
	d.inSet, d.outSet = inSet, outSet
	d.irq = irq
	d.frame = make([]int32, in.Elements())
	d.enabled = false
	d.done = false
	d.halted = false
	return nil
}

// Done implements engine.Transfer.
func (d *DMA) Done() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done
}

// Halted implements engine.Transfer.
func (d *DMA) Halted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.halted
}

// ClearInterrupt implements engine.Transfer.
func (d *DMA) ClearInterrupt() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = false
}

// StopAtBoundary implements engine.Transfer.
func (d *DMA) StopAtBoundary(stop bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dreq = stop
}

// Enable implements engine.Transfer.
func (d *DMA) Enable() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = true
	d.halted = false
}

// Enabled reports whether channels are serviced.
func (d *DMA) Enabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enabled
}

// Pending reports whether an interrupt wasn't acknowledged.
func (d *DMA) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Step transfers one block of frames in both directions and raises the
// interrupt in the calling goroutine, which acts as interrupt context. It
// returns false if channels are disabled; the codec is idled then.
func (d *DMA) Step() (bool, error) {
	d.mu.Lock()
	if d.in == nil {
		d.mu.Unlock()
		return false, ErrNotConfigured
	}
	if !d.enabled {
		d.mu.Unlock()
		d.codec.Idle()
		return false, nil
	}
	for {
		d.codec.Receive(d.frame)
		major := d.in.Minor(func(e, offset int) {
			*d.inSet.At(offset) = d.frame[e]
		})
		d.out.Minor(func(e, offset int) {
			d.frame[e] = *d.outSet.At(offset)
		})
		d.codec.Transmit(d.frame)
		if major {
			d.done = true
			if d.dreq {
				d.enabled = false
				d.halted = true
			}
			break
		}
		if d.in.Half() {
			d.done = false
			break
		}
	}
	d.pending = true
	irq := d.irq
	d.mu.Unlock()

	irq()
	return true, nil
}

// Run clocks the DMA at the block period until ctx is done. Period is
// derived from the codec rate for every block, so rate changes apply on
// the next block.
func (d *DMA) Run(ctx context.Context, samples int) error {
	for {
		rate := d.codec.SampleRate()
		period := time.Duration(float64(samples) / float64(rate) * float64(time.Second))
		t := time.NewTimer(period)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		if _, err := d.Step(); err != nil {
			return err
		}
	}
}
