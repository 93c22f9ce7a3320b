// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package alert

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"sentryline.dev/ipsentry/internal/matcher"
	"sentryline.dev/ipsentry/internal/reassembler"
	"sentryline.dev/ipsentry/internal/rules"
)

func TestBuffer_FlushWritesHeaderAndRows(t *testing.T) {
	dir := t.TempDir()
	b := NewBuffer(3, dir)

	flow := reassembler.FlowKey{SrcIP: "10.0.0.1", SrcPort: 1234, DstIP: "10.0.0.2", DstPort: 80, Protocol: "tcp"}
	hit := matcher.Hit{RuleID: "1", Action: rules.ActionDrop, Offset: 9, Type: matcher.HitLiteral}
	b.Append(NewFromHit(hit, flow))
	require.Equal(t, 1, b.Pending())

	require.NoError(t, b.Flush())
	require.Equal(t, 0, b.Pending())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Contains(t, entries[0].Name(), "_q3.csv")

	f, err := os.Open(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, header, rows[0])
	require.Equal(t, "1", rows[1][1])
	require.Equal(t, "drop", rows[1][8])
	require.Equal(t, "literal", rows[1][9])
}

func TestBuffer_FlushWithNothingPendingIsNoOp(t *testing.T) {
	b := NewBuffer(0, t.TempDir())
	require.NoError(t, b.Flush())
}
