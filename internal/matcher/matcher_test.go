// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package matcher

import (
	"testing"

	"github.com/stretchr/testify/require"

	"sentryline.dev/ipsentry/internal/rules"
)

func mustBuild(t *testing.T, rs []rules.Rule) *Matcher {
	t.Helper()
	m, err := BuildFromRules(rs)
	require.NoError(t, err)
	return m
}

func TestMatch_BeforeBuildReturnsEmpty(t *testing.T) {
	m := New()
	require.NoError(t, m.AddLiteral(rules.Rule{ID: "1", Pattern: "malware", Protocol: rules.ProtocolAny, Action: rules.ActionDrop}))
	require.Empty(t, m.Match([]byte("malware"), rules.ProtocolTCP))
}

func TestMatch_LiteralHit(t *testing.T) {
	m := mustBuild(t, []rules.Rule{
		{ID: "1", Kind: rules.KindLiteral, Pattern: "malware", Protocol: rules.ProtocolAny, Action: rules.ActionDrop},
	})
	hits := m.Match([]byte("contains malware payload"), rules.ProtocolTCP)
	require.Len(t, hits, 1)
	require.Equal(t, "1", hits[0].RuleID)
	require.Equal(t, HitLiteral, hits[0].Type)
	require.Equal(t, 9, hits[0].Offset)
}

func TestMatch_RegexHitCaseInsensitive(t *testing.T) {
	m := mustBuild(t, []rules.Rule{
		{ID: "2", Kind: rules.KindRegex, Pattern: `union\s+select`, Protocol: rules.ProtocolAny, Action: rules.ActionDrop},
	})
	hits := m.Match([]byte("id=1 UNION SELECT * FROM users"), rules.ProtocolUDP)
	require.Len(t, hits, 1)
	require.Equal(t, HitRegex, hits[0].Type)
}

func TestMatch_ProtocolFilterShortCircuits(t *testing.T) {
	m := mustBuild(t, []rules.Rule{
		{ID: "1", Kind: rules.KindLiteral, Pattern: "malware", Protocol: rules.ProtocolUDP, Action: rules.ActionDrop},
	})
	require.Empty(t, m.Match([]byte("malware"), rules.ProtocolTCP))
	require.Len(t, m.Match([]byte("malware"), rules.ProtocolUDP), 1)
}

func TestMatch_SameLiteralTwoRuleIDs(t *testing.T) {
	m := mustBuild(t, []rules.Rule{
		{ID: "1", Kind: rules.KindLiteral, Pattern: "evil", Protocol: rules.ProtocolAny, Action: rules.ActionDrop},
		{ID: "2", Kind: rules.KindLiteral, Pattern: "evil", Protocol: rules.ProtocolAny, Action: rules.ActionAlert},
	})
	hits := m.Match([]byte("evil"), rules.ProtocolTCP)
	require.Len(t, hits, 2)
}

func TestBuild_IdempotentAndRejectsLateAdds(t *testing.T) {
	m := New()
	require.NoError(t, m.AddLiteral(rules.Rule{ID: "1", Pattern: "x", Protocol: rules.ProtocolAny, Action: rules.ActionDrop}))
	require.NoError(t, m.Build())
	require.NoError(t, m.Build()) // idempotent

	err := m.AddLiteral(rules.Rule{ID: "2", Pattern: "y", Protocol: rules.ProtocolAny, Action: rules.ActionDrop})
	require.Error(t, err)
}

func TestAddRegex_InvalidPatternIsBuildTimeError(t *testing.T) {
	m := New()
	err := m.AddRegex(rules.Rule{ID: "1", Pattern: "(unterminated", Protocol: rules.ProtocolAny, Action: rules.ActionDrop})
	require.Error(t, err)
}

func TestMatch_NoMatchReturnsNil(t *testing.T) {
	m := mustBuild(t, []rules.Rule{
		{ID: "1", Kind: rules.KindLiteral, Pattern: "malware", Protocol: rules.ProtocolAny, Action: rules.ActionDrop},
	})
	require.Empty(t, m.Match([]byte("hello world"), rules.ProtocolTCP))
}
