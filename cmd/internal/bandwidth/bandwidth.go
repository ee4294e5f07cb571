// Package bandwidth implements the "bandwidth" example CLI: a live table of
// per-connection throughput, computed by differencing conntrack.Manager
// snapshots across a sampling interval (SPEC_FULL.md §4 "bandwidth").
package bandwidth

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/akitasoftware/pcaptrack/cfg"
	"github.com/akitasoftware/pcaptrack/cmd/internal/cmderr"
	"github.com/akitasoftware/pcaptrack/conntrack"
	"github.com/akitasoftware/pcaptrack/pcap"
	"github.com/akitasoftware/pcaptrack/printer"
	"github.com/akitasoftware/pcaptrack/util"
)

var (
	interfaceFlag   string
	bpfFilterFlag   string
	idleTimeoutFlag time.Duration
	intervalFlag    time.Duration
)

var Cmd = &cobra.Command{
	Use:          "bandwidth",
	Short:        "Show a live table of per-connection throughput.",
	Long:         "Captures traffic on an interface and, every interval, prints the bytes/sec each tracked connection moved in each direction since the last sample.",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	Cmd.Flags().StringVar(&interfaceFlag, "interface", cfg.DefaultInterface(), "Network interface to capture on")
	Cmd.Flags().StringVar(&bpfFilterFlag, "filter", cfg.DefaultBPFFilter(), "BPF filter applied to the capture")
	Cmd.Flags().DurationVar(&idleTimeoutFlag, "idle-timeout", cfg.DefaultIdleTimeout(), "Evict a connection after this much time without a packet")
	Cmd.Flags().DurationVar(&intervalFlag, "interval", 2*time.Second, "Sampling interval for the throughput table")
}

type sample struct {
	flow0, flow1 uint64
}

func run(cmd *cobra.Command, args []string) error {
	manager := conntrack.NewManager(idleTimeoutFlag)

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

	prev := make(map[string]sample)
	ticker := time.NewTicker(intervalFlag)
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
			prev = printRates(manager, prev, intervalFlag)
		}
	}
}

func printRates(manager *conntrack.Manager, prev map[string]sample, interval time.Duration) map[string]sample {
	snapshot := manager.Snapshot()
	next := make(map[string]sample, len(snapshot))

	w := util.NewTable(os.Stdout)
	fmt.Fprintf(w, "\nthroughput over the last %s:\n", interval)
	fmt.Fprintln(w, "CLIENT\tSERVER\tCLIENT RATE\tSERVER RATE")

	secs := interval.Seconds()
	for _, c := range snapshot {
		cur := sample{flow0: c.Flow0Bytes, flow1: c.Flow1Bytes}
		next[c.ID] = cur

		last, ok := prev[c.ID]
		if !ok {
			last = sample{}
		}
		rate0 := rateBytesPerSec(cur.flow0-last.flow0, secs)
		rate1 := rateBytesPerSec(cur.flow1-last.flow1, secs)

		fmt.Fprintf(w, "%s\t%s\t%s/s\t%s/s\n",
			c.Flow0Endpoint.String(),
			c.Flow1Endpoint.String(),
			util.FormatBytes(rate0),
			util.FormatBytes(rate1),
		)
	}
	w.Flush()
	return next
}

func rateBytesPerSec(delta uint64, secs float64) uint64 {
	if secs <= 0 {
		return 0
	}
	return uint64(float64(delta) / secs)
}
