package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dudk/dspstream"
	"github.com/dudk/dspstream/dump"
	"github.com/dudk/dspstream/metric"
	"github.com/dudk/dspstream/transport"
)

const prompt = "dsp> "

// errQuit ends the shell loop.
var errQuit = errors.New("quit")

var errParamRegister = errors.New("register is read-only")

// shell reads commands line by line and runs them against a system.
type shell struct {
	sys *system
	in  io.Reader
	out io.Writer
}

// run executes commands until quit or end of input.
func (sh *shell) run() error {
	scanner := bufio.NewScanner(sh.in)
	fmt.Fprint(sh.out, prompt)
	for scanner.Scan() {
		args := strings.Fields(scanner.Text())
		if len(args) > 0 {
			err := sh.exec(args)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				fmt.Fprintf(sh.out, "error: %v\n", err)
			}
		}
		if err := sh.sys.err(); err != nil {
			fmt.Fprintf(sh.out, "stream failed: %v\n", err)
		}
		fmt.Fprint(sh.out, prompt)
	}
	return scanner.Err()
}

// exec runs one command line. Tree is built for every line, so flags don't
// leak between commands.
func (sh *shell) exec(args []string) error {
	root := sh.commands()
	root.SetArgs(args)
	root.SetOut(sh.out)
	root.SetErr(sh.out)
	return root.Execute()
}

func (sh *shell) commands() *cobra.Command {
	root := &cobra.Command{
		Use:           "dsp",
		Short:         "Ping-pong stream diagnostic shell",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.AddCommand(
		sh.fsCommand(),
		sh.sizeCommand(),
		sh.codecCommand(),
		sh.loadCommand(),
		&cobra.Command{
			Use:   "start",
			Short: "Start streaming",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return sh.sys.controller.StartStreaming()
			},
		},
		&cobra.Command{
			Use:   "stop",
			Short: "Stop streaming at the block boundary and wait for the drain",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := sh.sys.controller.RequestStop(); err != nil {
					return err
				}
				return sh.sys.drain()
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print stream status",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				sh.status(cmd.OutOrStdout())
				return nil
			},
		},
		&cobra.Command{
			Use:     "quit",
			Aliases: []string{"exit"},
			Short:   "Leave the shell",
			Args:    cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return errQuit
			},
		},
	)
	return root
}

func (sh *shell) fsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "fs [rate]",
		Short: "Print or set sample rate in Hz",
		Long:  fmt.Sprintf("Print or set sample rate in Hz. Supported rates: %v.", transport.Rates()),
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := sh.sys.controller.Params()
			if len(args) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "fs = %d Hz\n", p.SampleRate)
				return nil
			}
			rate, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("rate %q: %w", args[0], dspstream.ErrUnsupported)
			}
			if err := sh.sys.reconfigure(rate, p.SampleSize); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "fs = %d Hz\n", rate)
			return nil
		},
	}
}

func (sh *shell) sizeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "n [bits]",
		Short: "Print or set sample size in bits",
		Long:  fmt.Sprintf("Print or set sample size in bits. Supported sizes: %v.", transport.Sizes()),
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := sh.sys.controller.Params()
			if len(args) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "n = %d bit\n", p.SampleSize)
				return nil
			}
			size, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("size %q: %w", args[0], dspstream.ErrUnsupported)
			}
			if err := sh.sys.reconfigure(p.SampleRate, size); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "n = %d bit\n", size)
			return nil
		},
	}
}

func parseByte(s string) (uint8, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("%q is not a byte", s)
	}
	return uint8(v), nil
}

func parseBytes(args []string) ([]uint8, error) {
	b := make([]uint8, len(args))
	for i, a := range args {
		v, err := parseByte(a)
		if err != nil {
			return nil, err
		}
		b[i] = v
	}
	return b, nil
}

func (sh *shell) codecCommand() *cobra.Command {
	codec := &cobra.Command{
		Use:   "codec",
		Short: "Access codec registers",
	}
	codec.AddCommand(
		&cobra.Command{
			Use:   "rd page reg",
			Short: "Read a codec register",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				b, err := parseBytes(args)
				if err != nil {
					return err
				}
				v, err := sh.sys.transport.ReadRegister(b[0], b[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "page %d reg %d = 0x%02x\n", b[0], b[1], v)
				return nil
			},
		},
		&cobra.Command{
			Use:   "wr page reg value",
			Short: "Write a codec register",
			Long: `Write a codec register. Sample rate (page 0 reg 2) and sample size
(page 0 reg 9) are set with fs and n, so the stream is stopped around
the change.`,
			Args: cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				b, err := parseBytes(args)
				if err != nil {
					return err
				}
				if param := transport.ParamRegister(b[0], b[1]); param != "" {
					return fmt.Errorf("%w: page %d reg %d holds %s, use fs or n", errParamRegister, b[0], b[1], param)
				}
				return sh.sys.transport.WriteRegister(b[0], b[1], b[2])
			},
		},
	)
	return codec
}

func (sh *shell) loadCommand() *cobra.Command {
	var (
		format string
		out    string
	)
	cmd := &cobra.Command{
		Use:   "load l_in|r_in|l_out|r_out",
		Short: "Dump both blocks of a channel buffer",
		Long: `Stop streaming at the block boundary, dump both blocks of a channel buffer
and restart streaming. Text dumps are printed unless --out is set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := dspstream.ParseBufferID(args[0])
			if err != nil {
				return err
			}
			f, err := dump.ParseFormat(format)
			if err != nil {
				return err
			}
			if f != dump.Text && out == "" {
				out = args[0] + f.Ext()
			}
			samples, err := sh.sys.controller.Dump(context.Background(), id, sh.sys.cfg.DrainTimeout)
			if err != nil {
				return err
			}
			p := sh.sys.controller.Params()
			dp := dump.Params{SampleRate: p.SampleRate, BitDepth: p.SampleSize}
			if out == "" {
				return dump.WriteText(cmd.OutOrStdout(), samples)
			}
			if err := dump.WriteFile(out, f, samples, dp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d samples written to %s\n", id, len(samples), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "dump format: text, wav or mp3")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file")
	return cmd
}

func (sh *shell) status(w io.Writer) {
	c := sh.sys.controller
	e := sh.sys.engine
	fmt.Fprintf(w, "state:      %v\n", c.State())
	fmt.Fprintf(w, "params:     %v\n", c.Params())
	fmt.Fprintf(w, "index:      %d\n", e.Index())
	fmt.Fprintf(w, "halted:     %v\n", e.Halted())
	fmt.Fprintf(w, "interrupts: %d\n", e.Completions())
	fmt.Fprintf(w, "processed:  %d (%v)\n", sh.sys.processor.Blocks(), sh.sys.processor.State())
	fmt.Fprintf(w, "skipped:    %d\n", sh.sys.processor.Skipped())
	fmt.Fprintf(w, "missed:     %d\n", sh.sys.ready.Missed())
	fmt.Fprintf(w, "errors:     %v\n", sh.sys.transport.ErrorFlags())
	all := metric.GetAll()
	for _, component := range sortedKeys(all) {
		counters := all[component]
		fmt.Fprintf(w, "%s:\n", component)
		for _, name := range sortedKeys(counters) {
			fmt.Fprintf(w, "  %s: %s\n", name, counters[name])
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
