// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package worker implements the PacketWorker of SPEC_FULL.md §4.3: decode,
// reassemble, match, verdict, alert, all on one synchronous per-queue loop.
package worker

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"sentryline.dev/ipsentry/internal/alert"
	"sentryline.dev/ipsentry/internal/logging"
	"sentryline.dev/ipsentry/internal/matcher"
	"sentryline.dev/ipsentry/internal/reassembler"
	"sentryline.dev/ipsentry/internal/rules"
)

// Config bounds one worker's reassembler, scan window, and housekeeping
// intervals — the per-worker subset of the top-level configuration
// document (SPEC_FULL.md §6).
type Config struct {
	MaxBufferSize        int
	MaxScanWindow        int
	FlowTimeout          time.Duration
	LogFlushInterval     time.Duration
	PruneInterval        time.Duration // default 30s per §4.3 step 7
	ICMPHeuristicEnabled bool
	NumCores             int
	AlertDir             string
	Syslog               *logging.SyslogWriter // optional, nil disables forwarding
}

// DefaultConfig returns §6's documented defaults, scoped to one worker.
func DefaultConfig() Config {
	return Config{
		MaxBufferSize:        65536,
		MaxScanWindow:        8192,
		FlowTimeout:          60 * time.Second,
		LogFlushInterval:     60 * time.Second,
		PruneInterval:        30 * time.Second,
		ICMPHeuristicEnabled: true,
		NumCores:             1,
		AlertDir:             ".",
	}
}

// PacketWorker owns one kernel queue's matcher clone, reassembler, alert
// buffer, and counters. Nothing here is shared with any other worker
// except the Stats slot the supervisor reads (§4.3 State).
type PacketWorker struct {
	queueID int
	cfg     Config
	matcher *matcher.Matcher
	flows   *reassembler.FlowTable
	alerts  *alert.Buffer
	logger  *logging.Logger

	counters counters
	syslog   *logging.SyslogWriter

	lastPrune time.Time
	lastFlush time.Time
}

// logEvent mirrors the event to the syslog forwarder when one is
// configured, matching the original's "[ACCEPT|DROP|ERROR] <src> -> <dst>;
// proto: <p>; <reason>" line. Failures are logged, never fatal.
func (w *PacketWorker) logEvent(verdict, src, dst, proto, reason string) {
	if w.syslog == nil {
		return
	}
	if err := w.syslog.WriteEvent(verdict, src, dst, proto, reason); err != nil {
		w.logger.Warn("syslog forward failed", "error", err)
	}
}

// New builds a PacketWorker bound to queueID. m must already be Frozen —
// each worker gets its own matcher instance built from the same rule set,
// never a pointer shared and mutated across workers (§4.4 step 2).
func New(queueID int, m *matcher.Matcher, cfg Config, logger *logging.Logger) *PacketWorker {
	now := time.Now()
	return &PacketWorker{
		queueID: queueID,
		cfg:     cfg,
		matcher: m,
		flows: reassembler.New(reassembler.Config{
			MaxBufferSize: cfg.MaxBufferSize,
			FlowTimeout:   cfg.FlowTimeout,
		}),
		alerts:    alert.NewBuffer(queueID, cfg.AlertDir),
		logger:    logger.WithComponent(fmt.Sprintf("worker.q%d", queueID)),
		syslog:    cfg.Syslog,
		lastPrune: now,
		lastFlush: now,
	}
}

// Setup pins the worker to core (queueID mod numCores) and disables the
// garbage collector for steady-state throughput (§4.3 CPU affinity, §9
// "minimize per-packet allocation and pin steady-state work to one core").
// Both are best-effort: failure is logged and non-fatal.
func (w *PacketWorker) Setup() {
	runtime.LockOSThread()
	if err := pinToCore(w.queueID, w.cfg.NumCores); err != nil {
		w.logger.Warn("cpu affinity pin failed", "error", err)
	}
	debug.SetGCPercent(-1)
}

// Snapshot copies the worker's current counters into a Stats value safe to
// hand to another goroutine (the supervisor's shared slot writer calls
// this every 5s per §4.5).
func (w *PacketWorker) Snapshot() Stats {
	flowStats := w.flows.Stats()
	return Stats{
		QueueID:          w.queueID,
		PacketsProcessed: w.counters.packetsProcessed.Load(),
		MatchesFound:     w.counters.matchesFound.Load(),
		PacketsDropped:   w.counters.packetsDropped.Load(),
		PacketsAccepted:  w.counters.packetsAccepted.Load(),
		ActiveFlows:      flowStats.ActiveFlows,
		TotalBufferSize:  flowStats.TotalBufferSize,
		PendingAlerts:    w.alerts.Pending(),
	}
}

// Verdict is the accept/drop decision returned by ProcessPacket, distinct
// from nfqueue's own kernel-facing verdict constants so this package has
// no Linux build tag of its own.
type Verdict int

const (
	VerdictAccept Verdict = iota
	VerdictDrop
)

// ProcessPacket runs one packet through the full §4.3 pipeline and returns
// the verdict to apply. It never panics outward: a recovered panic and any
// decode error are fail-open (accept) per §7 taxonomy item 4, and src_ip/dst_ip are computed
// immediately after IPv4 decode so a fail-open log always has both
// addresses, fixing the unbound-variable bug of the original exception
// handlers (§9).
func (w *PacketWorker) ProcessPacket(raw []byte) (verdict Verdict) {
	w.counters.packetsProcessed.Add(1)
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("packet processing panicked, failing open", "panic", r)
			w.counters.packetsAccepted.Add(1)
			verdict = VerdictAccept
		}
	}()
	w.maybeHousekeep()

	pkt := gopacket.NewPacket(raw, layers.LayerTypeIPv4, gopacket.NoCopy)
	ipLayer := pkt.Layer(layers.LayerTypeIPv4)
	if ipLayer == nil {
		w.logger.Error("packet decode failed: no IPv4 layer")
		w.counters.packetsAccepted.Add(1)
		return VerdictAccept
	}
	ip4, ok := ipLayer.(*layers.IPv4)
	if !ok {
		w.counters.packetsAccepted.Add(1)
		return VerdictAccept
	}

	srcIP := ip4.SrcIP.String()
	dstIP := ip4.DstIP.String()

	switch ip4.Protocol {
	case layers.IPProtocolTCP:
		return w.handleTCP(pkt, srcIP, dstIP)
	case layers.IPProtocolUDP:
		return w.handleUDP(pkt, srcIP, dstIP)
	case layers.IPProtocolICMPv4:
		return w.handleICMP(pkt, srcIP, dstIP)
	default:
		w.logger.Info("non-scanned protocol accepted", "src", srcIP, "dst", dstIP, "proto", ip4.Protocol.String())
		w.logEvent("ACCEPT", srcIP, dstIP, ip4.Protocol.String(), "uncheckable protocol")
		w.counters.packetsAccepted.Add(1)
		return VerdictAccept
	}
}

func (w *PacketWorker) handleTCP(pkt gopacket.Packet, srcIP, dstIP string) Verdict {
	tcpLayer := pkt.Layer(layers.LayerTypeTCP)
	if tcpLayer == nil {
		w.logger.Error("tcp decode failed", "src", srcIP, "dst", dstIP)
		w.counters.packetsAccepted.Add(1)
		return VerdictAccept
	}
	tcp, ok := tcpLayer.(*layers.TCP)
	if !ok {
		w.counters.packetsAccepted.Add(1)
		return VerdictAccept
	}

	key := reassembler.FlowKey{
		SrcIP: srcIP, SrcPort: uint16(tcp.SrcPort),
		DstIP: dstIP, DstPort: uint16(tcp.DstPort),
		Protocol: "tcp",
	}

	w.flows.AddTCPSegment(key, tcp.Payload)
	scanData := w.flows.GetBuffer(key, w.cfg.MaxScanWindow)

	v := w.scanAndVerdict(scanData, rules.ProtocolTCP, key)

	if tcp.FIN || tcp.RST {
		w.flows.CloseFlow(key)
	}
	return v
}

func (w *PacketWorker) handleUDP(pkt gopacket.Packet, srcIP, dstIP string) Verdict {
	udpLayer := pkt.Layer(layers.LayerTypeUDP)
	if udpLayer == nil {
		w.logger.Error("udp decode failed", "src", srcIP, "dst", dstIP)
		w.counters.packetsAccepted.Add(1)
		return VerdictAccept
	}
	udp, ok := udpLayer.(*layers.UDP)
	if !ok {
		w.counters.packetsAccepted.Add(1)
		return VerdictAccept
	}

	key := reassembler.FlowKey{
		SrcIP: srcIP, SrcPort: uint16(udp.SrcPort),
		DstIP: dstIP, DstPort: uint16(udp.DstPort),
		Protocol: "udp",
	}

	scanData := w.flows.AddUDPDatagram(key, udp.Payload)
	return w.scanAndVerdict(scanData, rules.ProtocolUDP, key)
}

// icmpExpectedLength is the anti-ping-abuse heuristic's expected payload
// size, inherited from the original and gated behind ICMPHeuristicEnabled
// per the §9 REDESIGN FLAG.
const icmpExpectedLength = 60

func (w *PacketWorker) handleICMP(pkt gopacket.Packet, srcIP, dstIP string) Verdict {
	icmpLayer := pkt.Layer(layers.LayerTypeICMPv4)
	if icmpLayer == nil {
		w.logger.Error("icmp decode failed", "src", srcIP, "dst", dstIP)
		w.counters.packetsAccepted.Add(1)
		return VerdictAccept
	}
	icmp, ok := icmpLayer.(*layers.ICMPv4)
	if !ok {
		w.counters.packetsAccepted.Add(1)
		return VerdictAccept
	}

	if w.cfg.ICMPHeuristicEnabled && len(icmp.Payload) != icmpExpectedLength {
		w.counters.packetsDropped.Add(1)
		w.logger.Info("icmp size heuristic drop", "src", srcIP, "dst", dstIP, "len", len(icmp.Payload))
		return VerdictDrop
	}

	key := reassembler.FlowKey{SrcIP: srcIP, DstIP: dstIP, Protocol: "icmp"}
	return w.scanAndVerdict(icmp.Payload, rules.ProtocolICMP, key)
}

// scanAndVerdict applies step 4-6 of §4.3: empty scan data accepts
// trivially, otherwise the matcher decides, and any drop-action hit wins
// (drop takes priority over accept — at most one verdict per packet).
func (w *PacketWorker) scanAndVerdict(scanData []byte, proto rules.Protocol, key reassembler.FlowKey) Verdict {
	if len(scanData) == 0 {
		w.counters.packetsAccepted.Add(1)
		w.logEvent("ACCEPT", key.SrcIP, key.DstIP, string(proto), "no scan data present")
		return VerdictAccept
	}

	hits := w.matcher.Match(scanData, proto)
	if len(hits) == 0 {
		w.counters.packetsAccepted.Add(1)
		return VerdictAccept
	}

	for _, h := range hits {
		if h.Action == rules.ActionDrop {
			w.counters.matchesFound.Add(1)
			w.counters.packetsDropped.Add(1)
			w.alerts.Append(alert.NewFromHit(h, key))
			w.logger.Warn("verdict drop", "rule", h.RuleID, "flow", key.String())
			w.logEvent("DROP", key.SrcIP, key.DstIP, string(proto), fmt.Sprintf("rule %s matched", h.RuleID))
			return VerdictDrop
		}
	}

	// Hits exist but none carry a drop action: the packet is accepted.
	// Per §4.3 step 6, matches_found and the alert log are only populated
	// on the drop path.
	w.counters.packetsAccepted.Add(1)
	return VerdictAccept
}

// maybeHousekeep runs the periodic prune/flush steps of §4.3 step 7 inline
// with the packet loop — there is no background goroutine per worker,
// matching the single-threaded synchronous loop of §5.
func (w *PacketWorker) maybeHousekeep() {
	now := time.Now()
	if now.Sub(w.lastPrune) >= w.cfg.PruneInterval {
		w.flows.PruneFlows()
		w.lastPrune = now
	}
	if now.Sub(w.lastFlush) >= w.cfg.LogFlushInterval {
		if err := w.alerts.Flush(); err != nil {
			w.logger.Error("alert flush failed", "error", err)
		}
		w.lastFlush = now
	}
}

// Flush forces an immediate alert flush, used on worker shutdown.
func (w *PacketWorker) Flush() error {
	return w.alerts.Flush()
}
