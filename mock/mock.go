// Package mock provides test doubles for stream collaborators.
package mock

import (
	"sync"

	"github.com/dudk/dspstream/transport"
)

// Transport records calls and keeps register values in memory. Errors
// returned by calls can be set in fields.
type Transport struct {
	mu sync.Mutex

	EnableErr  error
	DisableErr error
	RateErr    error
	SizeErr    error

	Enabled   bool
	Rate      transport.RateCode
	Size      transport.SizeCode
	Flags     transport.Flags
	Calls     []string
	registers [transport.Pages][transport.Registers]uint8
}

func (t *Transport) call(name string) {
	t.Calls = append(t.Calls, name)
}

// Enable implements transport.Transport.
func (t *Transport) Enable() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.call("enable")
	if t.EnableErr != nil {
		return t.EnableErr
	}
	t.Enabled = true
	return nil
}

// Disable implements transport.Transport.
func (t *Transport) Disable() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.call("disable")
	if t.DisableErr != nil {
		return t.DisableErr
	}
	t.Enabled = false
	return nil
}

// SetSampleRate implements transport.Transport.
func (t *Transport) SetSampleRate(c transport.RateCode) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.call("rate")
	if t.RateErr != nil {
		return t.RateErr
	}
	t.Rate = c
	return nil
}

// SetSampleSize implements transport.Transport.
func (t *Transport) SetSampleSize(c transport.SizeCode) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.call("size")
	if t.SizeErr != nil {
		return t.SizeErr
	}
	t.Size = c
	return nil
}

// ReadRegister implements transport.Transport.
func (t *Transport) ReadRegister(page, reg uint8) (uint8, error) {
	if err := transport.CheckRegister(page, reg); err != nil {
		return 0, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.registers[page][reg], nil
}

// WriteRegister implements transport.Transport.
func (t *Transport) WriteRegister(page, reg, val uint8) error {
	if err := transport.CheckRegister(page, reg); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.registers[page][reg] = val
	return nil
}

// ErrorFlags implements transport.Transport.
func (t *Transport) ErrorFlags() transport.Flags {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Flags
}

// ClearErrorFlags implements transport.Transport.
func (t *Transport) ClearErrorFlags() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.call("clear")
	t.Flags = 0
}

// History returns a copy of recorded calls.
func (t *Transport) History() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	calls := make([]string, len(t.Calls))
	copy(calls, t.Calls)
	return calls
}

// Transformer adds Offset to every sample and counts calls.
type Transformer struct {
	Offset int32

	mu      sync.Mutex
	blocks  int64
	samples int64
	resets  int
}

// Transform implements processor.Transformer.
func (t *Transformer) Transform(in, out []int32) {
	for i := range in {
		out[i] = in[i] + t.Offset
	}
	t.mu.Lock()
	t.blocks++
	t.samples += int64(len(in))
	t.mu.Unlock()
}

// Reset implements processor.Transformer.
func (t *Transformer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resets++
}

// Count returns number of transformed blocks and samples.
func (t *Transformer) Count() (int64, int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.blocks, t.samples
}

// Resets returns number of Reset calls.
func (t *Transformer) Resets() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resets
}

// Processor records stop requests.
type Processor struct {
	mu      sync.Mutex
	stop    bool
	Changes int
}

// RequestStop implements dspstream.Processor.
func (p *Processor) RequestStop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stop = true
	p.Changes++
}

// ClearStop implements dspstream.Processor.
func (p *Processor) ClearStop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stop = false
	p.Changes++
}

// StopRequested returns the stop flag.
func (p *Processor) StopRequested() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stop
}
