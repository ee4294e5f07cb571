package pcap

import (
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/jpillora/backoff"
	"github.com/pkg/errors"

	"github.com/akitasoftware/pcaptrack/conntrack"
	"github.com/akitasoftware/pcaptrack/printer"
	"github.com/akitasoftware/pcaptrack/tcpseg"
)

// maxOpenAttempts bounds how many times Capture retries opening the capture
// device before giving up — interfaces can come up slightly after the
// process starts (e.g. a container's veth pair).
const maxOpenAttempts = 5

// Capture reads packets from interfaceName until stop is closed, converts
// each TCP packet into a tcpseg.Segment, and feeds it to manager.Process.
// This replaces the teacher's NetworkTrafficParser.ParseFromInterface +
// Collect: the gopacket/reassembly-based demux those performed is now
// conntrack+reassembly's job, so this function's only responsibility is
// header extraction (spec.md §6 "Consumed segment record").
func Capture(stop <-chan struct{}, interfaceName, bpfFilter string, manager *conntrack.Manager) error {
	p := &pcapImpl{}
	clock := &realClock{}

	packets, err := openWithRetry(p, stop, interfaceName, bpfFilter)
	if err != nil {
		return errors.Wrapf(err, "failed to begin capturing packets from %s", interfaceName)
	}

	for packet := range packets {
		seg, ok := packetToSegment(packet, clock)
		if !ok {
			continue
		}
		if err := manager.Process(seg); err != nil {
			printer.Stderr.Errorf("failed to process segment: %v\n", err)
		}
	}
	return nil
}

func openWithRetry(p pcapWrapper, stop <-chan struct{}, interfaceName, bpfFilter string) (<-chan gopacket.Packet, error) {
	b := &backoff.Backoff{
		Min:    100 * time.Millisecond,
		Max:    5 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	var lastErr error
	for attempt := 0; attempt < maxOpenAttempts; attempt++ {
		packets, err := p.capturePackets(stop, interfaceName, bpfFilter)
		if err == nil {
			return packets, nil
		}
		lastErr = err

		printer.Debugf("failed to open capture on %s (attempt %d/%d): %v\n", interfaceName, attempt+1, maxOpenAttempts, err)
		select {
		case <-stop:
			return nil, err
		case <-time.After(b.Duration()):
		}
	}
	return nil, lastErr
}

// packetToSegment extracts the fields spec.md §6 names from a decoded
// gopacket.Packet. It reports false for anything that isn't an IPv4/IPv6 TCP
// packet (grounded on pcap/net_parse.go's packetToParsedNetworkTraffic
// network/transport-layer switch).
func packetToSegment(packet gopacket.Packet, clock clockWrapper) (tcpseg.Segment, bool) {
	if packet.NetworkLayer() == nil || packet.TransportLayer() == nil {
		return tcpseg.Segment{}, false
	}

	var srcIP, dstIP net.IP
	switch l := packet.NetworkLayer().(type) {
	case *layers.IPv4:
		srcIP, dstIP = l.SrcIP, l.DstIP
	case *layers.IPv6:
		srcIP, dstIP = l.SrcIP, l.DstIP
	default:
		return tcpseg.Segment{}, false
	}

	tcp, ok := packet.TransportLayer().(*layers.TCP)
	if !ok {
		return tcpseg.Segment{}, false
	}

	ts := clock.Now()
	if md := packet.Metadata(); md != nil && !md.Timestamp.IsZero() {
		ts = md.Timestamp
	}

	return tcpseg.Segment{
		Timestamp: ts,
		Src:       tcpseg.NewEndpoint(srcIP, uint16(tcp.SrcPort)),
		Dst:       tcpseg.NewEndpoint(dstIP, uint16(tcp.DstPort)),
		Seq:       tcp.Seq,
		Ack:       tcp.Ack,
		Flags: tcpseg.Flags{
			SYN: tcp.SYN,
			ACK: tcp.ACK,
			FIN: tcp.FIN,
			RST: tcp.RST,
			PSH: tcp.PSH,
			URG: tcp.URG,
		},
		Payload: tcp.LayerPayload(),
	}, true
}
