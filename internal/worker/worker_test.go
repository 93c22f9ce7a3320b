// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package worker

import (
	"net"
	"os"
	"testing"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/stretchr/testify/require"

	"sentryline.dev/ipsentry/internal/logging"
	"sentryline.dev/ipsentry/internal/matcher"
	"sentryline.dev/ipsentry/internal/reassembler"
	"sentryline.dev/ipsentry/internal/rules"
)

func testLogger() *logging.Logger {
	return logging.New(logging.Config{Output: os.Stderr, Level: logging.LevelError})
}

func buildTCP(t *testing.T, srcIP, dstIP string, srcPort, dstPort uint16, payload []byte, fin, rst bool) []byte {
	t.Helper()
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolTCP, SrcIP: net.ParseIP(srcIP).To4(), DstIP: net.ParseIP(dstIP).To4()}
	tcp := &layers.TCP{SrcPort: layers.TCPPort(srcPort), DstPort: layers.TCPPort(dstPort), FIN: fin, RST: rst, ACK: true, Window: 1024}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, ip, tcp, gopacket.Payload(payload)))
	return buf.Bytes()
}

func buildUDP(t *testing.T, srcIP, dstIP string, srcPort, dstPort uint16, payload []byte) []byte {
	t.Helper()
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP, SrcIP: net.ParseIP(srcIP).To4(), DstIP: net.ParseIP(dstIP).To4()}
	udp := &layers.UDP{SrcPort: layers.UDPPort(srcPort), DstPort: layers.UDPPort(dstPort)}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, ip, udp, gopacket.Payload(payload)))
	return buf.Bytes()
}

func buildICMP(t *testing.T, srcIP, dstIP string, payload []byte) []byte {
	t.Helper()
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolICMPv4, SrcIP: net.ParseIP(srcIP).To4(), DstIP: net.ParseIP(dstIP).To4()}
	icmp := &layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0)}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, ip, icmp, gopacket.Payload(payload)))
	return buf.Bytes()
}

func buildGRE(t *testing.T, srcIP, dstIP string) []byte {
	t.Helper()
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolGRE, SrcIP: net.ParseIP(srcIP).To4(), DstIP: net.ParseIP(dstIP).To4()}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, ip, gopacket.Payload([]byte("gre-payload"))))
	return buf.Bytes()
}

func scenarioMatcher(t *testing.T) *matcher.Matcher {
	t.Helper()
	m, err := matcher.BuildFromRules([]rules.Rule{
		{ID: "1", Kind: rules.KindLiteral, Pattern: "malware", Protocol: rules.ProtocolAny, Action: rules.ActionDrop},
		{ID: "2", Kind: rules.KindRegex, Pattern: `union\s+select`, Protocol: rules.ProtocolAny, Action: rules.ActionDrop},
	})
	require.NoError(t, err)
	return m
}

func newTestWorker(t *testing.T) *PacketWorker {
	t.Helper()
	cfg := DefaultConfig()
	cfg.AlertDir = t.TempDir()
	return New(0, scenarioMatcher(t), cfg, testLogger())
}

// Scenario 1 of §8: clean TCP payload accepts.
func TestProcessPacket_Scenario1_CleanTCPAccepts(t *testing.T) {
	w := newTestWorker(t)
	raw := buildTCP(t, "10.0.0.1", "10.0.0.2", 1234, 80, []byte("hello world"), false, false)

	v := w.ProcessPacket(raw)
	require.Equal(t, VerdictAccept, v)
	snap := w.Snapshot()
	require.EqualValues(t, 1, snap.PacketsProcessed)
	require.EqualValues(t, 1, snap.PacketsAccepted)
	require.Equal(t, 1, snap.ActiveFlows)
}

// Scenario 2 of §8: matching TCP payload drops and appends an alert.
func TestProcessPacket_Scenario2_MalwareTCPDrops(t *testing.T) {
	w := newTestWorker(t)
	raw := buildTCP(t, "10.0.0.1", "10.0.0.2", 1234, 80, []byte("contains malware payload"), false, false)

	v := w.ProcessPacket(raw)
	require.Equal(t, VerdictDrop, v)
	snap := w.Snapshot()
	require.EqualValues(t, 1, snap.MatchesFound)
	require.EqualValues(t, 1, snap.PacketsDropped)
	require.Equal(t, 1, snap.PendingAlerts)
}

// Scenario 3 of §8: UDP injection SQLi pattern drops via the regex rule.
func TestProcessPacket_Scenario3_UDPSQLiDrops(t *testing.T) {
	w := newTestWorker(t)
	raw := buildUDP(t, "10.0.0.1", "10.0.0.2", 5000, 53, []byte("id=1 UNION SELECT * FROM users"))

	v := w.ProcessPacket(raw)
	require.Equal(t, VerdictDrop, v)
}

// Scenario 4 of §8: overflow truncation preserves a trailing match.
func TestProcessPacket_Scenario4_OverflowPreservesTrailingMatch(t *testing.T) {
	w := newTestWorker(t)
	w.cfg.MaxBufferSize = 32
	w.flows = reassembler.New(reassembler.Config{MaxBufferSize: w.cfg.MaxBufferSize, FlowTimeout: w.cfg.FlowTimeout})

	filler := make([]byte, 40)
	for i := range filler {
		filler[i] = 'a'
	}
	raw1 := buildTCP(t, "10.0.0.1", "10.0.0.2", 1, 2, filler, false, false)
	require.Equal(t, VerdictAccept, w.ProcessPacket(raw1))

	raw2 := buildTCP(t, "10.0.0.1", "10.0.0.2", 1, 2, []byte("malware"), false, false)
	require.Equal(t, VerdictDrop, w.ProcessPacket(raw2))
}

// Scenario 5 of §8: a non-TCP/UDP/ICMP IPv4 packet is accepted with no flow.
func TestProcessPacket_Scenario5_OtherProtocolAcceptsNoFlow(t *testing.T) {
	w := newTestWorker(t)
	raw := buildGRE(t, "10.0.0.1", "10.0.0.2")

	v := w.ProcessPacket(raw)
	require.Equal(t, VerdictAccept, v)
	require.Equal(t, 0, w.Snapshot().ActiveFlows)
}

func TestProcessPacket_ICMPHeuristic_DropsWrongLength(t *testing.T) {
	w := newTestWorker(t)
	raw := buildICMP(t, "10.0.0.1", "10.0.0.2", []byte("short"))

	v := w.ProcessPacket(raw)
	require.Equal(t, VerdictDrop, v)
}

func TestProcessPacket_ICMPHeuristic_DisabledScansInstead(t *testing.T) {
	w := newTestWorker(t)
	w.cfg.ICMPHeuristicEnabled = false

	raw := buildICMP(t, "10.0.0.1", "10.0.0.2", []byte("short but clean"))
	v := w.ProcessPacket(raw)
	require.Equal(t, VerdictAccept, v)
}

func TestProcessPacket_TCP_FINClosesFlowAfterScan(t *testing.T) {
	w := newTestWorker(t)
	raw := buildTCP(t, "10.0.0.1", "10.0.0.2", 1, 2, []byte("bye"), true, false)

	w.ProcessPacket(raw)
	require.Equal(t, 0, w.Snapshot().ActiveFlows)
}

func TestProcessPacket_Scenario6_FlowPruneAfterTimeout(t *testing.T) {
	w := newTestWorker(t)
	w.cfg.FlowTimeout = time.Millisecond
	w.flows = reassembler.New(reassembler.Config{MaxBufferSize: w.cfg.MaxBufferSize, FlowTimeout: w.cfg.FlowTimeout})

	raw := buildTCP(t, "10.0.0.1", "10.0.0.2", 1, 2, []byte("hello"), false, false)
	w.ProcessPacket(raw)
	require.Equal(t, 1, w.Snapshot().ActiveFlows)

	time.Sleep(5 * time.Millisecond)
	w.flows.PruneFlows()
	require.Equal(t, 0, w.Snapshot().ActiveFlows)
}
