// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package reassembler implements the per-flow payload buffer of
// SPEC_FULL.md §3/§4.2: bounded size, front-truncation overflow for TCP,
// full-replace for UDP, and idle/closed-based pruning. One FlowTable is
// owned by exactly one worker; nothing here is shared across workers.
package reassembler

import (
	"fmt"
	"sync"
	"time"
)

// FlowState is whether a flow is still accepting segments.
type FlowState int

const (
	FlowActive FlowState = iota
	FlowClosed
)

// FlowKey is the directional 5-tuple identifying a unidirectional byte
// stream. Two directions of the same TCP connection are distinct keys —
// there is no automatic bidirectional merging.
type FlowKey struct {
	SrcIP    string
	SrcPort  uint16
	DstIP    string
	DstPort  uint16
	Protocol string
}

func (k FlowKey) String() string {
	return fmt.Sprintf("%s:%d->%s:%d/%s", k.SrcIP, k.SrcPort, k.DstIP, k.DstPort, k.Protocol)
}

// FlowEntry is one flow's mutable buffer and bookkeeping.
type FlowEntry struct {
	Buffer   []byte
	LastSeen time.Time
	State    FlowState
}

// Config bounds the FlowTable's memory and idle lifetime.
type Config struct {
	MaxBufferSize int
	FlowTimeout   time.Duration
}

// Stats is the §4.2 stats() contract.
type Stats struct {
	ActiveFlows     int
	TotalBufferSize int
}

// FlowTable is a mutex-guarded map from FlowKey to FlowEntry, owned by a
// single worker. Grounded on the host's internal/ebpf/flow.Manager, which
// uses the same guarded-map-plus-ticker shape for a different purpose
// (eBPF conntrack mirroring); here it backs the scan-pipeline reassembler
// instead.
type FlowTable struct {
	cfg Config

	mu    sync.Mutex
	flows map[FlowKey]*FlowEntry
}

// New returns an empty FlowTable.
func New(cfg Config) *FlowTable {
	return &FlowTable{
		cfg:   cfg,
		flows: make(map[FlowKey]*FlowEntry),
	}
}

// AddTCPSegment appends payload bytes to the flow's buffer, creating the
// flow lazily on first segment, and returns the resulting buffer. If the
// append would exceed MaxBufferSize, the oldest bytes are discarded from
// the front so the new tail fits — recent context is what pattern evidence
// most likely occupies (§4.2 Policy rationale).
func (t *FlowTable) AddTCPSegment(key FlowKey, payload []byte) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.getOrCreateLocked(key)
	e.Buffer = append(e.Buffer, payload...)
	if over := len(e.Buffer) - t.cfg.MaxBufferSize; over > 0 {
		e.Buffer = e.Buffer[over:]
	}
	e.LastSeen = time.Now()
	return e.Buffer
}

// AddUDPDatagram replaces the flow's buffer with this datagram's payload —
// UDP is datagram-oriented and inter-datagram reassembly is not performed —
// and returns the resulting buffer.
func (t *FlowTable) AddUDPDatagram(key FlowKey, payload []byte) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.getOrCreateLocked(key)
	buf := make([]byte, len(payload))
	copy(buf, payload)
	if len(buf) > t.cfg.MaxBufferSize {
		buf = buf[len(buf)-t.cfg.MaxBufferSize:]
	}
	e.Buffer = buf
	e.LastSeen = time.Now()
	return e.Buffer
}

func (t *FlowTable) getOrCreateLocked(key FlowKey) *FlowEntry {
	e, ok := t.flows[key]
	if !ok {
		e = &FlowEntry{State: FlowActive}
		t.flows[key] = e
	}
	return e
}

// GetBuffer returns the trailing maxScanWindow bytes of the flow's buffer,
// or nil if no flow exists for key.
func (t *FlowTable) GetBuffer(key FlowKey, maxScanWindow int) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.flows[key]
	if !ok {
		return nil
	}
	if len(e.Buffer) <= maxScanWindow {
		out := make([]byte, len(e.Buffer))
		copy(out, e.Buffer)
		return out
	}
	start := len(e.Buffer) - maxScanWindow
	out := make([]byte, maxScanWindow)
	copy(out, e.Buffer[start:])
	return out
}

// CloseFlow marks a flow Closed, making it eligible for pruning regardless
// of timeout. A FIN/RST observed by the worker calls this after the scan.
func (t *FlowTable) CloseFlow(key FlowKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.flows[key]; ok {
		e.State = FlowClosed
	}
}

// PruneFlows removes every flow idle for longer than FlowTimeout or marked
// Closed. Pruning is the only deletion path. A no-op on an empty table.
func (t *FlowTable) PruneFlows() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	removed := 0
	for k, e := range t.flows {
		if e.State == FlowClosed || now.Sub(e.LastSeen) > t.cfg.FlowTimeout {
			delete(t.flows, k)
			removed++
		}
	}
	return removed
}

// Stats returns the number of flows still in the Active state and the
// total buffered bytes across all flows, closed ones included until pruned.
func (t *FlowTable) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	var s Stats
	for _, e := range t.flows {
		if e.State == FlowActive {
			s.ActiveFlows++
		}
		s.TotalBufferSize += len(e.Buffer)
	}
	return s
}
