package cmd

import (
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/akitasoftware/pcaptrack/cmd/internal/bandwidth"
	"github.com/akitasoftware/pcaptrack/cmd/internal/cmderr"
	"github.com/akitasoftware/pcaptrack/cmd/internal/connections"
	"github.com/akitasoftware/pcaptrack/cmd/internal/httpmon"
	"github.com/akitasoftware/pcaptrack/printer"
	"github.com/akitasoftware/pcaptrack/util"
	"github.com/akitasoftware/pcaptrack/version"
)

var debugFlag bool

var rootCmd = &cobra.Command{
	Use:           "pcaptrack",
	Short:         "Passive TCP connection and HTTP session tracker.",
	Long:          "pcaptrack reconstructs TCP connections and HTTP/1.x request/response pairs from captured traffic, without terminating either side of the connection.",
	Version:       version.CLIDisplayString(),
	SilenceErrors: true, // We print our own errors from subcommands in Execute function
	// Don't print usage after error, we only print help if we cannot parse
	// flags. See Execute below.
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func Execute() {
	if cmd, err := rootCmd.ExecuteC(); err != nil {
		if _, isCmdErr := err.(cmderr.CmdErr); !isCmdErr {
			// Print usage for CLI usage errors (e.g. missing arg) but not for
			// errors raised by command logic (e.g. failed to open the capture
			// device).
			cmd.Println(cmd.UsageString())
		}

		exitCode := 1
		var exitErr util.ExitError
		if isExitErr := errors.As(err, &exitErr); isExitErr {
			exitCode = exitErr.ExitCode
		}
		printer.Stderr.Errorf("%s\n", err)
		os.Exit(exitCode)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "If set, outputs detailed information for debugging.")
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	rootCmd.AddCommand(connections.Cmd)
	rootCmd.AddCommand(bandwidth.Cmd)
	rootCmd.AddCommand(httpmon.Cmd)
}
