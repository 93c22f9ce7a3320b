// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package matcher implements the CompiledMatcher of SPEC_FULL.md §3/§4.1: a
// multi-literal automaton plus cached regex set, frozen once via build()
// and then safely shared read-only across workers.
package matcher

import (
	"bytes"
	"fmt"
	"regexp"
	"sync"

	"github.com/cloudflare/ahocorasick"

	ipserrors "sentryline.dev/ipsentry/internal/errors"
	"sentryline.dev/ipsentry/internal/rules"
)

// HitType distinguishes which engine produced a Hit.
type HitType string

const (
	HitLiteral HitType = "literal"
	HitRegex   HitType = "regex"
)

// Hit is one matched rule. Offset is the first-match byte offset within the
// scanned data; Type records which engine produced it. Both fields are
// always populated, resolving the Open Question in SPEC_FULL.md §9 (the
// original never threaded offset/type through to the log line).
type Hit struct {
	RuleID string
	Action rules.Action
	Offset int
	Type   HitType
}

type literalEntry struct {
	rule rules.Rule
}

type regexEntry struct {
	rule     rules.Rule
	compiled *regexp.Regexp
}

// state is the Matcher's lifecycle, per §3: Mutable while rules are being
// added, Frozen after build(). Queries outside Frozen return no hits.
type state int

const (
	stateMutable state = iota
	stateFrozen
)

// Matcher holds a rule set in either the Mutable or Frozen lifecycle state.
// Every method takes the Matcher's lock, so it is safe for concurrent use.
// Match takes the lock exclusively because the literal automaton keeps
// per-call scratch state, so concurrent Match calls are serialized.
type Matcher struct {
	mu    sync.RWMutex
	state state

	literals []literalEntry
	regexes  []regexEntry

	automaton *ahocorasick.Matcher
	// automatonIndex maps an index into the automaton's dictionary back to
	// the literal rule it was built from, since the automaton only reports
	// dictionary indices, never rule ids directly.
	automatonIndex []rules.Rule
}

// New returns an empty Matcher in the Mutable state.
func New() *Matcher {
	return &Matcher{}
}

// AddLiteral registers a byte pattern to detect anywhere in scan input. The
// pattern is the automaton's needle; the rule id is the payload returned on
// a hit — the reverse of the swapped word/value arguments the source's
// add_literal_rule used (SPEC_FULL.md §9).
func (m *Matcher) AddLiteral(r rules.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != stateMutable {
		return ipserrors.New(ipserrors.KindRuleCompilation, "matcher: cannot add rule after build")
	}
	if r.Pattern == "" {
		return ipserrors.Errorf(ipserrors.KindRuleCompilation, "rule %s: empty literal pattern", r.ID)
	}
	m.literals = append(m.literals, literalEntry{rule: r})
	return nil
}

// AddRegex registers a case-insensitive regular expression. Compilation
// failure is a build-time error, not a silent skip (§4.1 Failures).
func (m *Matcher) AddRegex(r rules.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != stateMutable {
		return ipserrors.New(ipserrors.KindRuleCompilation, "matcher: cannot add rule after build")
	}
	compiled, err := regexp.Compile("(?i)" + r.Pattern)
	if err != nil {
		return ipserrors.Wrapf(err, ipserrors.KindRuleCompilation, "rule %s: invalid regex %q", r.ID, r.Pattern)
	}
	m.regexes = append(m.regexes, regexEntry{rule: r, compiled: compiled})
	return nil
}

// AddRule dispatches to AddLiteral or AddRegex by rules.Kind.
func (m *Matcher) AddRule(r rules.Rule) error {
	switch r.Kind {
	case rules.KindLiteral:
		return m.AddLiteral(r)
	case rules.KindRegex:
		return m.AddRegex(r)
	default:
		return ipserrors.Errorf(ipserrors.KindRuleCompilation, "rule %s: unknown kind %q", r.ID, r.Kind)
	}
}

// Build compiles the literal automaton and freezes the rule set. Build is
// idempotent: calling it again after the matcher is already Frozen is a
// no-op success, and further Add* calls continue to be rejected (§8
// round-trip property).
func (m *Matcher) Build() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == stateFrozen {
		return nil
	}

	dict := make([]string, len(m.literals))
	index := make([]rules.Rule, len(m.literals))
	for i, e := range m.literals {
		dict[i] = e.rule.Pattern
		index[i] = e.rule
	}
	if len(dict) > 0 {
		m.automaton = ahocorasick.NewStringMatcher(dict)
		m.automatonIndex = index
	}

	m.state = stateFrozen
	return nil
}

// Match reports every rule whose protocol filter is "any" or equals proto
// and whose pattern occurs in data. Calling Match before Build returns an
// empty slice, never an error — matching never raises (§4.1 Failures).
func (m *Matcher) Match(data []byte, proto rules.Protocol) []Hit {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != stateFrozen {
		return nil
	}

	var hits []Hit

	if m.automaton != nil {
		for _, idx := range m.automaton.Match(data) {
			r := m.automatonIndex[idx]
			if !protocolMatches(r.Protocol, proto) {
				continue
			}
			offset := bytes.Index(data, []byte(r.Pattern))
			if offset < 0 {
				offset = 0
			}
			hits = append(hits, Hit{RuleID: r.ID, Action: r.Action, Offset: offset, Type: HitLiteral})
		}
	}

	for _, e := range m.regexes {
		if !protocolMatches(e.rule.Protocol, proto) {
			continue
		}
		loc := e.compiled.FindIndex(data)
		if loc == nil {
			continue
		}
		hits = append(hits, Hit{RuleID: e.rule.ID, Action: e.rule.Action, Offset: loc[0], Type: HitRegex})
	}

	return hits
}

func protocolMatches(ruleProto, proto rules.Protocol) bool {
	return ruleProto == rules.ProtocolAny || ruleProto == proto
}

// BuildFromRules constructs and freezes a Matcher from a rule list in one
// step, the shape the Supervisor uses to build each worker its own private,
// immutable copy (§4.4 step 2).
func BuildFromRules(rs []rules.Rule) (*Matcher, error) {
	m := New()
	for _, r := range rs {
		if err := m.AddRule(r); err != nil {
			return nil, err
		}
	}
	if err := m.Build(); err != nil {
		return nil, err
	}
	return m, nil
}

// String implements fmt.Stringer for debug logging.
func (h Hit) String() string {
	return fmt.Sprintf("Hit{rule=%s action=%s offset=%d type=%s}", h.RuleID, h.Action, h.Offset, h.Type)
}
