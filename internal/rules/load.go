// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package rules

import "sentryline.dev/ipsentry/internal/config"

// FromConfig converts validated config.RuleConfig entries into matcher-ready
// Rule values, applying the any/drop defaults the config loader leaves
// unqualified.
func FromConfig(entries []config.RuleConfig) []Rule {
	out := make([]Rule, 0, len(entries))
	for _, e := range entries {
		out = append(out, Rule{
			ID:       e.ID,
			Kind:     Kind(e.Type),
			Pattern:  e.Pattern,
			Protocol: normalizeProtocol(e.Protocol),
			Action:   normalizeAction(e.Action),
		})
	}
	return out
}
