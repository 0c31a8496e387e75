package engine

import (
	"github.com/dudk/dspstream/block"
)

// Direction of a transfer relative to memory.
type Direction int

const (
	// Input moves samples from the transport into memory.
	Input Direction = iota
	// Output moves samples from memory into the transport.
	Output
)

func (d Direction) String() string {
	switch d {
	case Input:
		return "input"
	case Output:
		return "output"
	}
	return "unknown"
}

// Descriptor is a portable form of a cyclic, offset-addressed ring transfer.
// One minor loop moves a frame: one sample of every channel, interleaved on
// the transport side. A major loop moves both blocks of every channel.
//
// Strides and offsets are in bytes and apply to the memory side only; the
// transport side is a FIFO with zero stride.
type Descriptor struct {
	Direction Direction
	// SourceStride is added to the source address after each element.
	SourceStride int
	// DestStride is added to the destination address after each element.
	DestStride int
	// ElementBytes is the width of one element.
	ElementBytes int
	// MinorBytes is the number of bytes moved per minor loop.
	MinorBytes int
	// MinorOffset is added to the memory address after every minor loop
	// except the last of a major loop.
	MinorOffset int
	// BlockCount is the number of minor loops in a major loop.
	BlockCount int
	// WrapOffset is added to the memory address after a major loop.
	WrapOffset int
}

// Descriptors returns the ring descriptors for both directions of layout.
func Descriptors(l block.Layout) (in, out Descriptor) {
	in = Descriptor{
		Direction:    Input,
		SourceStride: 0,
		DestStride:   l.ChannelBytes(),
		ElementBytes: l.BytesPerSample,
		MinorBytes:   l.Channels * l.BytesPerSample,
		MinorOffset:  -l.BufferBytes() + l.BytesPerSample,
		BlockCount:   l.Blocks * l.Samples,
		WrapOffset:   -(l.ChannelBytes() + l.BufferBytes() - l.BytesPerSample),
	}
	out = in
	out.Direction = Output
	out.SourceStride, out.DestStride = in.DestStride, in.SourceStride
	return in, out
}

// Elements returns the number of elements in a minor loop.
func (d Descriptor) Elements() int {
	return d.MinorBytes / d.ElementBytes
}

func (d Descriptor) memoryStride() int {
	if d.Direction == Input {
		return d.DestStride
	}
	return d.SourceStride
}

// Walk enumerates memory offsets visited by one major loop starting at
// offset 0 and returns the offset the loop ends on.
func (d Descriptor) Walk(fn func(minor, element, offset int)) int {
	c := NewCursor(d)
	for minor := 0; minor < d.BlockCount; minor++ {
		c.Minor(func(element, offset int) {
			fn(minor, element, offset)
		})
	}
	return c.Offset()
}

// Cursor tracks the memory address of a running ring transfer.
type Cursor struct {
	d      Descriptor
	offset int
	minor  int
}

// NewCursor returns a cursor at the start of a major loop.
func NewCursor(d Descriptor) *Cursor {
	return &Cursor{d: d}
}

// Minor runs one minor loop, calling fn for every element. It reports
// whether the minor loop completed a major loop.
func (c *Cursor) Minor(fn func(element, offset int)) bool {
	stride := c.d.memoryStride()
	for e := 0; e < c.d.Elements(); e++ {
		fn(e, c.offset)
		c.offset += stride
	}
	c.minor++
	if c.minor < c.d.BlockCount {
		c.offset += c.d.MinorOffset
		return false
	}
	c.offset += c.d.WrapOffset
	c.minor = 0
	return true
}

// Half reports whether the cursor is exactly half way through a major loop.
func (c *Cursor) Half() bool {
	return c.minor == c.d.BlockCount/2
}

// Offset returns the current memory offset.
func (c *Cursor) Offset() int {
	return c.offset
}

// Rewind moves the cursor to the start of a major loop.
func (c *Cursor) Rewind() {
	c.offset = 0
	c.minor = 0
}
