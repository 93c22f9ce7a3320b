// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package alert buffers matched-rule records in memory and flushes them to
// a per-worker CSV file on an interval, per SPEC_FULL.md §3/§6.
package alert

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	ipserrors "sentryline.dev/ipsentry/internal/errors"
	"sentryline.dev/ipsentry/internal/matcher"
	"sentryline.dev/ipsentry/internal/reassembler"
	"sentryline.dev/ipsentry/internal/rules"
)

// header is the exact CSV header row required by §6.
var header = []string{
	"timestamp", "rule_id", "src_ip", "dst_ip", "src_port", "dst_port",
	"protocol", "offset", "action", "type",
}

// Alert is one matched-rule record.
type Alert struct {
	ID        string
	Timestamp time.Time
	RuleID    string
	Flow      reassembler.FlowKey
	Action    rules.Action
	Offset    int
	Type      matcher.HitType
}

// NewFromHit builds an Alert from a matcher.Hit observed on flow, stamping a
// unique ID (§3 additive field). The ID is kept on the in-memory Alert
// only; it is not written to the CSV row or to any syslog line.
func NewFromHit(hit matcher.Hit, flow reassembler.FlowKey) Alert {
	return Alert{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		RuleID:    hit.RuleID,
		Flow:      flow,
		Action:    hit.Action,
		Offset:    hit.Offset,
		Type:      hit.Type,
	}
}

func (a Alert) row() []string {
	return []string{
		strconv.FormatInt(a.Timestamp.Unix(), 10),
		a.RuleID,
		a.Flow.SrcIP,
		a.Flow.DstIP,
		strconv.Itoa(int(a.Flow.SrcPort)),
		strconv.Itoa(int(a.Flow.DstPort)),
		a.Flow.Protocol,
		strconv.Itoa(a.Offset),
		string(a.Action),
		string(a.Type),
	}
}

// Buffer accumulates Alerts in memory for one worker and flushes them to a
// CSV file named alerts_<epoch>_q<queue_id>.csv on demand. Flush errors are
// swallowed per §7 taxonomy item 6 (best-effort logging) — the caller logs,
// it does not propagate into the packet path.
type Buffer struct {
	mu      sync.Mutex
	pending []Alert
	queueID int
	dir     string
}

// NewBuffer returns an empty alert Buffer for the given worker queue id.
// Flushed CSV files are written under dir.
func NewBuffer(queueID int, dir string) *Buffer {
	return &Buffer{queueID: queueID, dir: dir}
}

// Append adds an Alert to the in-memory buffer.
func (b *Buffer) Append(a Alert) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, a)
}

// Pending returns the number of alerts waiting to be flushed.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Flush writes every pending alert to a new CSV file and clears the buffer.
// A call with nothing pending is a no-op.
func (b *Buffer) Flush() error {
	b.mu.Lock()
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	name := fmt.Sprintf("alerts_%d_q%d.csv", time.Now().Unix(), b.queueID)
	path := filepath.Join(b.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return ipserrors.Wrapf(err, ipserrors.KindAlertWrite, "create %s", path)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return ipserrors.Wrapf(err, ipserrors.KindAlertWrite, "write header %s", path)
	}
	for _, a := range pending {
		if err := w.Write(a.row()); err != nil {
			return ipserrors.Wrapf(err, ipserrors.KindAlertWrite, "write row %s", path)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return ipserrors.Wrapf(err, ipserrors.KindAlertWrite, "flush %s", path)
	}
	return nil
}
