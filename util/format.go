package util

import (
	"fmt"
	"io"
	"text/tabwriter"
)

// FormatBytes renders n using the same binary-prefix scale tcpdump/iftop
// output uses, e.g. 1536 -> "1.5KiB".
func FormatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := uint64(unit), 0
	for n/div >= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// NewTable returns a tabwriter configured for the aligned, space-padded
// column output used by the connections and bandwidth example CLIs.
func NewTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}
