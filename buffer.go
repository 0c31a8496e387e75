package dspstream

import (
	"fmt"
	"strings"

	"github.com/dudk/dspstream/engine"
)

// BufferID names a channel buffer in one direction, as l_in, r_in, l_out
// or r_out.
type BufferID struct {
	Direction engine.Direction
	Channel   int
}

var channelNames = []string{"l", "r"}

// ParseBufferID parses a buffer name.
func ParseBufferID(s string) (BufferID, error) {
	parts := strings.SplitN(strings.ToLower(strings.TrimSpace(s)), "_", 2)
	if len(parts) != 2 {
		return BufferID{}, fmt.Errorf("unknown buffer %q", s)
	}
	id := BufferID{Channel: -1}
	for i, name := range channelNames {
		if parts[0] == name {
			id.Channel = i
		}
	}
	if id.Channel < 0 {
		return BufferID{}, fmt.Errorf("unknown buffer %q: channel must be l or r", s)
	}
	switch parts[1] {
	case "in":
		id.Direction = engine.Input
	case "out":
		id.Direction = engine.Output
	default:
		return BufferID{}, fmt.Errorf("unknown buffer %q: direction must be in or out", s)
	}
	return id, nil
}

// BufferIDs returns names of all buffers.
func BufferIDs() []string {
	return []string{"l_in", "r_in", "l_out", "r_out"}
}

func (id BufferID) String() string {
	ch := fmt.Sprintf("ch%d", id.Channel)
	if id.Channel >= 0 && id.Channel < len(channelNames) {
		ch = channelNames[id.Channel]
	}
	if id.Direction == engine.Input {
		return ch + "_in"
	}
	return ch + "_out"
}
