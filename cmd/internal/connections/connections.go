// Package connections implements the "connections" example CLI: a live table
// of tracked TCP connections, their FIN/ACK state, and per-flow byte counts
// (SPEC_FULL.md §4 "connections").
package connections

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/akitasoftware/pcaptrack/cfg"
	"github.com/akitasoftware/pcaptrack/cmd/internal/cmderr"
	"github.com/akitasoftware/pcaptrack/conntrack"
	"github.com/akitasoftware/pcaptrack/pcap"
	"github.com/akitasoftware/pcaptrack/printer"
	"github.com/akitasoftware/pcaptrack/statusapi"
	"github.com/akitasoftware/pcaptrack/util"
)

var (
	interfaceFlag   string
	bpfFilterFlag   string
	idleTimeoutFlag time.Duration
	statusAddrFlag  string
	refreshFlag     time.Duration
)

var Cmd = &cobra.Command{
	Use:          "connections",
	Short:        "Show a live table of tracked TCP connections.",
	Long:         "Captures traffic on an interface and prints a periodically refreshed table of active connections, their FIN/ACK state, and per-flow byte counts.",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	Cmd.Flags().StringVar(&interfaceFlag, "interface", cfg.DefaultInterface(), "Network interface to capture on")
	Cmd.Flags().StringVar(&bpfFilterFlag, "filter", cfg.DefaultBPFFilter(), "BPF filter applied to the capture")
	Cmd.Flags().DurationVar(&idleTimeoutFlag, "idle-timeout", cfg.DefaultIdleTimeout(), "Evict a connection after this much time without a packet")
	Cmd.Flags().StringVar(&statusAddrFlag, "status-addr", cfg.DefaultStatusAddr(), "If set, also serve a JSON status API on this address (e.g. :8080)")
	Cmd.Flags().DurationVar(&refreshFlag, "refresh", 2*time.Second, "How often to redraw the table")
	viper.BindPFlag("interface", Cmd.Flags().Lookup("interface"))
}

func run(cmd *cobra.Command, args []string) error {
	manager := conntrack.NewManager(idleTimeoutFlag)

	if statusAddrFlag != "" {
		srv := statusapi.NewServer(statusAddrFlag, manager)
		go func() {
			if err := srv.ListenAndServe(); err != nil {
				printer.Stderr.Debugf("status server stopped: %v\n", err)
			}
		}()
	}

	stop := make(chan struct{})
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		close(stop)
	}()

	captureErr := make(chan error, 1)
	go func() {
		captureErr <- pcap.Capture(stop, interfaceFlag, bpfFilterFlag, manager)
	}()

	ticker := time.NewTicker(refreshFlag)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return nil
		case err := <-captureErr:
			if err != nil {
				return cmderr.CmdErr{Err: errors.Wrap(err, "capture failed")}
			}
			return nil
		case <-ticker.C:
			printTable(manager)
		}
	}
}

func printTable(manager *conntrack.Manager) {
	// Clear the screen between redraws when attached to an interactive
	// terminal; when piped to a file or another process, just keep
	// appending so the output stays a readable log.
	if term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Fprint(os.Stdout, "\033[H\033[2J")
	}

	snapshot := manager.Snapshot()
	printer.Stdout.RawOutput(fmt.Sprintf("\n%d active connection(s) at %s", len(snapshot), time.Now().Format(time.Kitchen)))

	w := util.NewTable(os.Stdout)
	fmt.Fprintln(w, "STATE\tCLIENT\tSERVER\tCLIENT BYTES\tSERVER BYTES")
	for _, c := range snapshot {
		state := c.State.String()
		var colored string
		switch {
		case c.State == conntrack.Closed:
			colored = printer.Color.Red(state).String()
		case c.Flow0Open && c.Flow1Open:
			colored = printer.Color.Green(state).String()
		default:
			colored = printer.Color.Yellow(state).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			colored,
			c.Flow0Endpoint.String(),
			c.Flow1Endpoint.String(),
			util.FormatBytes(c.Flow0Bytes),
			util.FormatBytes(c.Flow1Bytes),
		)
	}
	w.Flush()
}
