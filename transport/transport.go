// Package transport describes the serial audio transport and its codec as
// seen by the streaming core. The core never speaks the wire protocol; it
// only sequences these calls.
package transport

import (
	"errors"
	"fmt"
)

// ErrRegister is returned when a codec register address is out of range.
var ErrRegister = errors.New("register out of range")

// Register space of the codec.
const (
	Pages     = 2
	Registers = 128
)

// Page 0 registers which hold channel params.
const (
	RegPage       = 0x00
	RegSampleRate = 0x02
	RegDataPath   = 0x09
)

// Transport is the serial audio interface together with its codec.
type Transport interface {
	// Enable brings the analog front end out of reset.
	Enable() error
	// Disable holds the analog front end in reset.
	Disable() error
	SetSampleRate(RateCode) error
	SetSampleSize(SizeCode) error
	ReadRegister(page, reg uint8) (uint8, error)
	WriteRegister(page, reg, val uint8) error
	// ErrorFlags returns accumulated FIFO error flags.
	ErrorFlags() Flags
	// ClearErrorFlags resets accumulated FIFO error flags.
	ClearErrorFlags()
}

// Flags are FIFO error conditions of the serial transport.
type Flags uint8

// FIFO error flags.
const (
	// Overrun means receive FIFO overflowed because nobody drained it.
	Overrun Flags = 1 << iota
	// Underrun means transmit FIFO ran empty.
	Underrun
	// SyncError means a frame sync arrived early.
	SyncError
)

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	s := ""
	add := func(name string) {
		if s != "" {
			s += "|"
		}
		s += name
	}
	if f&Overrun != 0 {
		add("overrun")
	}
	if f&Underrun != 0 {
		add("underrun")
	}
	if f&SyncError != 0 {
		add("sync")
	}
	return s
}

// RateCode selects the codec sample rate as a divisor of 48 kHz.
type RateCode uint8

// SizeCode selects the sample word width.
type SizeCode uint8

var (
	codeToRate = []int{48000, 32000, 24000, 19200, 16000, 13700, 12000, 10700, 9600, 8700, 8000}
	codeToSize = []int{16, 20, 24, 32}
)

// Rates returns supported sample rates in code order.
func Rates() []int {
	r := make([]int, len(codeToRate))
	copy(r, codeToRate)
	return r
}

// Sizes returns supported sample sizes in code order.
func Sizes() []int {
	s := make([]int, len(codeToSize))
	copy(s, codeToSize)
	return s
}

// RateCodeOf returns the code of sample rate in Hz.
func RateCodeOf(rate int) (RateCode, error) {
	for i, r := range codeToRate {
		if r == rate {
			return RateCode(i), nil
		}
	}
	return 0, fmt.Errorf("sample rate %d not supported", rate)
}

// SizeCodeOf returns the code of sample size in bits.
func SizeCodeOf(bits int) (SizeCode, error) {
	for i, s := range codeToSize {
		if s == bits {
			return SizeCode(i), nil
		}
	}
	return 0, fmt.Errorf("sample size %d not supported", bits)
}

// Rate returns sample rate in Hz. Unknown code returns 0.
func (c RateCode) Rate() int {
	if int(c) >= len(codeToRate) {
		return 0
	}
	return codeToRate[c]
}

// Bits returns sample size in bits. Unknown code returns 0.
func (c SizeCode) Bits() int {
	if int(c) >= len(codeToSize) {
		return 0
	}
	return codeToSize[c]
}

// ParamRegister returns the name of the channel param a register holds, or
// an empty string.
func ParamRegister(page, reg uint8) string {
	if page != 0 {
		return ""
	}
	switch reg {
	case RegSampleRate:
		return "sample rate"
	case RegDataPath:
		return "sample size"
	}
	return ""
}

// CheckRegister validates a register address.
func CheckRegister(page, reg uint8) error {
	if page >= Pages {
		return fmt.Errorf("%w: page %d, must be 0 or 1", ErrRegister, page)
	}
	if reg >= Registers {
		return fmt.Errorf("%w: register %d, must be less than %d", ErrRegister, reg, Registers)
	}
	return nil
}
