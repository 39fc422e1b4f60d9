package core

import (
	"sort"

	"github.com/Dicklesworthstone/cmdgate/internal/db"
)

// MatchRule returns the first rule, in ascending order index, whose pattern
// matches anywhere in text. Rules that no longer compile, or that fail while
// matching, never match. It returns nil when nothing matches.
func MatchRule(text string, rules []*db.Rule) *db.Rule {
	ordered := make([]*db.Rule, 0, len(rules))
	for _, r := range rules {
		if r != nil {
			ordered = append(ordered, r)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].OrderIndex < ordered[j].OrderIndex })

	for _, r := range ordered {
		re, err := storedPatterns.get(r.Pattern)
		if err != nil {
			continue
		}
		if search(re, text) {
			return r
		}
	}
	return nil
}
