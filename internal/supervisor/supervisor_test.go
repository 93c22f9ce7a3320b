// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package supervisor

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sentryline.dev/ipsentry/internal/logging"
	"sentryline.dev/ipsentry/internal/rules"
)

func testLogger() *logging.Logger {
	return logging.New(logging.Config{Output: os.Stderr, Level: logging.LevelError})
}

func sampleRules() []rules.Rule {
	return []rules.Rule{
		{ID: "1", Kind: rules.KindLiteral, Pattern: "malware", Protocol: rules.ProtocolAny, Action: rules.ActionDrop},
	}
}

func TestNew_RejectsZeroQueues(t *testing.T) {
	_, err := New(Config{Queues: 0}, sampleRules(), testLogger())
	require.Error(t, err)
}

func TestNew_BuildsOneMatcherPerQueue(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Queues = 3
	sup, err := New(cfg, sampleRules(), testLogger())
	require.NoError(t, err)
	require.Len(t, sup.runtime, 3)
	for i, rt := range sup.runtime {
		require.Equal(t, i, rt.id)
	}
}

func TestStats_EmptyBeforeAnySnapshot(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Queues = 2
	sup, err := New(cfg, sampleRules(), testLogger())
	require.NoError(t, err)

	require.Empty(t, sup.Stats())
	_, ok := sup.StatsForQueue(0)
	require.False(t, ok)
}

func TestStatsForQueue_OutOfRange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Queues = 1
	sup, err := New(cfg, sampleRules(), testLogger())
	require.NoError(t, err)

	_, ok := sup.StatsForQueue(5)
	require.False(t, ok)
	_, ok = sup.StatsForQueue(-1)
	require.False(t, ok)
}

func TestSnapshot_PopulatesSlot(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Queues = 1
	sup, err := New(cfg, sampleRules(), testLogger())
	require.NoError(t, err)

	sup.snapshot(sup.runtime[0])

	got, ok := sup.StatsForQueue(0)
	require.True(t, ok)
	require.Equal(t, 0, got.QueueID)

	all := sup.Stats()
	require.Len(t, all, 1)
}

func TestCrashTracker_EntersSafeModeAtThreshold(t *testing.T) {
	c := newCrashTracker(3, time.Minute)
	require.False(t, c.shouldEnterSafeMode())

	c.record()
	c.record()
	require.False(t, c.shouldEnterSafeMode())

	c.record()
	require.True(t, c.shouldEnterSafeMode())
}

func TestCrashTracker_EventsOutsideWindowDoNotCount(t *testing.T) {
	c := newCrashTracker(2, 20*time.Millisecond)
	c.record()
	time.Sleep(30 * time.Millisecond)
	c.record()

	require.False(t, c.shouldEnterSafeMode())
}

func TestCrashTracker_DefaultsAppliedForInvalidInputs(t *testing.T) {
	c := newCrashTracker(0, 0)
	require.Equal(t, DefaultCrashThreshold, c.threshold)
	require.Equal(t, DefaultCrashWindow, c.window)
}
