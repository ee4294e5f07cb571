// Package httpmon implements the "httpmon" example CLI: live HTTP
// request/response pairs reconstructed from captured TCP traffic
// (SPEC_FULL.md §4 "httpmon").
package httpmon

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/akitasoftware/pcaptrack/cfg"
	"github.com/akitasoftware/pcaptrack/cmd/internal/cmderr"
	"github.com/akitasoftware/pcaptrack/conntrack"
	"github.com/akitasoftware/pcaptrack/httpproto"
	"github.com/akitasoftware/pcaptrack/httpwatch"
	"github.com/akitasoftware/pcaptrack/pcap"
	"github.com/akitasoftware/pcaptrack/printer"
)

var (
	interfaceFlag     string
	bpfFilterFlag     string
	idleTimeoutFlag   time.Duration
	byteBoundFlag     int
	redactCookiesFlag bool
)

var Cmd = &cobra.Command{
	Use:          "httpmon",
	Short:        "Print HTTP requests and responses reconstructed from captured traffic.",
	Long:         "Captures traffic on an interface, discovers HTTP/1.x sessions within each TCP connection, and prints request/response pairs as they're reassembled.",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	Cmd.Flags().StringVar(&interfaceFlag, "interface", cfg.DefaultInterface(), "Network interface to capture on")
	Cmd.Flags().StringVar(&bpfFilterFlag, "filter", cfg.DefaultBPFFilter(), "BPF filter applied to the capture")
	Cmd.Flags().DurationVar(&idleTimeoutFlag, "idle-timeout", cfg.DefaultIdleTimeout(), "Evict a connection after this much time without a packet")
	Cmd.Flags().IntVar(&byteBoundFlag, "byte-bound", cfg.DefaultByteBound(), "Maximum unparsed bytes to buffer per flow before giving up on a session")
	Cmd.Flags().BoolVar(&redactCookiesFlag, "redact-cookies", false, "Replace Cookie header values with the names of the cookies they carry")
}

func run(cmd *cobra.Command, args []string) error {
	manager := conntrack.NewManager(idleTimeoutFlag)

	sessions := httpwatch.NewSessionSet(byteBoundFlag, onRequest, onStatus, onSessionError)
	manager.AddConnectionListener(sessions)
	manager.AddPacketListener(sessions)
	manager.AddConnectionCloseListener(sessions)

	stop := make(chan struct{})
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		close(stop)
	}()

	if err := pcap.Capture(stop, interfaceFlag, bpfFilterFlag, manager); err != nil {
		return cmderr.CmdErr{Err: errors.Wrap(err, "capture failed")}
	}
	return nil
}

func onRequest(now time.Time, req *httpproto.HttpMessage) {
	printer.Stdout.RawOutput(fmt.Sprintf("%s --> %s %s %s",
		now.Format(time.StampMilli),
		printer.Color.Cyan(req.Method).String(),
		req.URL,
		req.Version,
	))
	if cookieHeader := req.Headers["Cookie"]; cookieHeader != "" {
		printer.Stdout.RawOutput(fmt.Sprintf("    Cookie: %s", cookieSummary(cookieHeader)))
	}
}

// cookieSummary renders a Cookie header for display, redacting values behind
// --redact-cookies so a terminal capture doesn't leak session tokens.
func cookieSummary(header string) string {
	if !redactCookiesFlag {
		return header
	}
	cookies := httpproto.ParseCookies(header)
	names := make([]string, 0, len(cookies))
	for name := range cookies {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, "; ")
}

func onSessionError(now time.Time, c *conntrack.Connection, err error) {
	printer.Stderr.Warningf("%s session %s torn down: %v\n", now.Format(time.StampMilli), c.ID, err)
}

func onStatus(now time.Time, status *httpproto.HttpMessage, paired *httpproto.HttpMessage) {
	label := fmt.Sprintf("%d %s", status.StatusCode, status.Reason)
	colored := label
	switch {
	case status.StatusCode >= 500:
		colored = printer.Color.Red(label).String()
	case status.StatusCode >= 400:
		colored = printer.Color.Yellow(label).String()
	default:
		colored = printer.Color.Green(label).String()
	}

	for_ := "<unmatched>"
	if paired != nil {
		for_ = fmt.Sprintf("%s %s", paired.Method, paired.URL)
	}

	printer.Stdout.RawOutput(fmt.Sprintf("%s <-- %s for %s (%d bytes)",
		now.Format(time.StampMilli),
		colored,
		for_,
		len(status.Body),
	))
}
