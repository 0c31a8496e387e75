// Command dspshell runs a ping-pong audio stream and a diagnostic shell to
// control it.
//
// Usage:
//
//	dspshell [--config file.yaml]
//
// Commands:
//
//	help                   - list commands
//	fs [rate]              - print or set sample rate
//	n [bits]               - print or set sample size
//	codec rd page reg      - read codec register
//	codec wr page reg val  - write codec register, except fs and n ones
//	load <buffer>          - dump l_in, r_in, l_out or r_out
//	start, stop            - control streaming
//	status                 - print stream state and counters
//	quit                   - leave
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dudk/dspstream/log"
)

func newRootCommand(in io.Reader) *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:          "dspshell",
		Short:        "Ping-pong audio stream with a diagnostic shell",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return runShell(cfg, in, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "yaml config file")
	return cmd
}

// runShell assembles the stream, starts it and serves commands.
func runShell(cfg config, in io.Reader, out io.Writer) (err error) {
	sys, err := newSystem(cfg, log.GetLogger())
	if err != nil {
		return err
	}
	sys.start()
	defer func() {
		if errStop := sys.stop(); err == nil {
			err = errStop
		}
	}()
	if err := sys.controller.StartStreaming(); err != nil {
		return err
	}
	fmt.Fprintf(out, "streaming %v, %d samples per block\n", sys.controller.Params(), cfg.Samples)
	sh := &shell{sys: sys, in: in, out: out}
	return sh.run()
}

func main() {
	if err := newRootCommand(os.Stdin).Execute(); err != nil {
		os.Exit(1)
	}
}
