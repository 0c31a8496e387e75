// Package block defines the ping-pong storage shared between the transfer
// engine and the sample processor.
//
// A Set holds two blocks per channel for a single direction. Storage is
// contiguous and channel-major, the way a ring transfer addresses it:
//
//	[channel][block][sample]
//
// Which block of a pair software may touch is decided by an Index. The set
// itself has no notion of ownership; the engine owns the authoritative index
// and hands out Frames bound to it.
package block

import (
	"errors"
	"fmt"
)

// Index identifies one half of every ping-pong pair.
type Index uint8

// Ping-pong halves.
const (
	Ping Index = 0
	Pong Index = 1
)

// Other returns the half the hardware owns while software owns i.
func (i Index) Other() Index {
	return 1 - i
}

// Valid reports whether i is 0 or 1.
func (i Index) Valid() bool {
	return i <= Pong
}

// Block is a fixed-length sequence of Q31 samples of one channel.
type Block []int32

// ErrLayout is returned when a layout can't be used for ping-pong transfer.
var ErrLayout = errors.New("invalid layout")

// ErrNotOwned is returned when software asks for the half the hardware is
// transferring.
var ErrNotOwned = errors.New("block not owned by software")

// Layout describes the geometry of a buffer set.
type Layout struct {
	Blocks         int // blocks per channel, must be 2
	Samples        int // samples per block
	BytesPerSample int // width of a sample slot in memory
	Channels       int
}

// DefaultLayout is two 512-sample blocks of 32-bit stereo.
var DefaultLayout = Layout{
	Blocks:         2,
	Samples:        512,
	BytesPerSample: 4,
	Channels:       2,
}

// Validate checks that layout describes a ping-pong set of int32 slots.
func (l Layout) Validate() error {
	switch {
	case l.Blocks != 2:
		return fmt.Errorf("%w: %d blocks per channel, need 2", ErrLayout, l.Blocks)
	case l.Samples <= 0 || l.Samples%2 != 0:
		return fmt.Errorf("%w: %d samples per block", ErrLayout, l.Samples)
	case l.BytesPerSample != 4:
		return fmt.Errorf("%w: %d bytes per sample, need 4", ErrLayout, l.BytesPerSample)
	case l.Channels <= 0:
		return fmt.Errorf("%w: %d channels", ErrLayout, l.Channels)
	}
	return nil
}

// BlockBytes is the size of one block in bytes.
func (l Layout) BlockBytes() int {
	return l.Samples * l.BytesPerSample
}

// ChannelBytes is the distance in bytes between the same sample of two
// adjacent channels.
func (l Layout) ChannelBytes() int {
	return l.Blocks * l.BlockBytes()
}

// BufferBytes is the size of a whole set in bytes.
func (l Layout) BufferBytes() int {
	return l.Channels * l.ChannelBytes()
}

// Set is the storage of one direction.
type Set struct {
	layout Layout
	data   []int32
}

// NewSet allocates a zeroed set for the layout.
func NewSet(l Layout) (*Set, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return &Set{
		layout: l,
		data:   make([]int32, l.Channels*l.Blocks*l.Samples),
	}, nil
}

// Layout returns the geometry of the set.
func (s *Set) Layout() Layout {
	return s.layout
}

// Block returns the block of channel at index.
func (s *Set) Block(channel int, i Index) Block {
	start := (channel*s.layout.Blocks + int(i)) * s.layout.Samples
	return s.data[start : start+s.layout.Samples : start+s.layout.Samples]
}

// At returns a pointer to the sample slot at byte offset, the way a ring
// transfer addresses memory.
func (s *Set) At(offset int) *int32 {
	return &s.data[offset/s.layout.BytesPerSample]
}

// Channel copies both blocks of channel in memory order.
func (s *Set) Channel(channel int) []int32 {
	n := s.layout.Blocks * s.layout.Samples
	c := make([]int32, n)
	copy(c, s.data[channel*n:(channel+1)*n])
	return c
}

// Frame binds the input and output blocks of one index together. It's the
// only view of the buffers the processor gets.
type Frame struct {
	Index Index
	in    *Set
	out   *Set
}

// NewFrame binds in and out at index i.
func NewFrame(i Index, in, out *Set) Frame {
	return Frame{Index: i, in: in, out: out}
}

// Channels returns the number of channels in the frame.
func (f Frame) Channels() int {
	return f.in.layout.Channels
}

// Input returns the input block of channel.
func (f Frame) Input(channel int) Block {
	return f.in.Block(channel, f.Index)
}

// Output returns the output block of channel.
func (f Frame) Output(channel int) Block {
	return f.out.Block(channel, f.Index)
}
