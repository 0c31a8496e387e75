package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dudk/dspstream"
	"github.com/dudk/dspstream/block"
)

// Backends.
const (
	backendSim       = "sim"
	backendPortAudio = "portaudio"
)

// Filters.
const (
	filterNotch       = "notch"
	filterPassthrough = "passthrough"
	filterGain        = "gain"
)

type config struct {
	Samples  int    `yaml:"samples"`
	Channels int    `yaml:"channels"`
	Rate     int    `yaml:"rate"`
	Size     int    `yaml:"size"`
	Backend  string `yaml:"backend"`
	// Tone is the frequency of a test tone fed into the simulated codec.
	Tone float64 `yaml:"tone"`
	// Input is a wav, mp3 or ogg file fed into the simulated codec.
	Input        string        `yaml:"input"`
	Filter       string        `yaml:"filter"`
	Gain         float64       `yaml:"gain"`
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

func defaultConfig() config {
	return config{
		Samples:      block.DefaultLayout.Samples,
		Channels:     block.DefaultLayout.Channels,
		Rate:         dspstream.DefaultParams.SampleRate,
		Size:         dspstream.DefaultParams.SampleSize,
		Backend:      backendSim,
		Filter:       filterNotch,
		Gain:         0.5,
		DrainTimeout: time.Second,
	}
}

// loadConfig reads yaml file over defaults. Empty path returns defaults.
func loadConfig(path string) (config, error) {
	c := defaultConfig()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("parse config %s: %w", path, err)
	}
	return c, c.validate()
}

func (c config) layout() block.Layout {
	return block.Layout{
		Blocks:         2,
		Samples:        c.Samples,
		BytesPerSample: 4,
		Channels:       c.Channels,
	}
}

func (c config) validate() error {
	if err := c.layout().Validate(); err != nil {
		return err
	}
	switch c.Backend {
	case backendSim, backendPortAudio:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	switch c.Filter {
	case filterNotch, filterPassthrough, filterGain:
	default:
		return fmt.Errorf("unknown filter %q", c.Filter)
	}
	if c.Gain < -1 || c.Gain >= 1 {
		return fmt.Errorf("gain %v out of range [-1, 1)", c.Gain)
	}
	if c.DrainTimeout <= 0 {
		return fmt.Errorf("drain timeout must be positive")
	}
	return nil
}
