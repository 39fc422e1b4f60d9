package core

import (
	"strconv"
	"strings"
	"testing"

	"github.com/Dicklesworthstone/cmdgate/internal/db"
)

func hasSuggestion(suggestions []string, substr string) bool {
	for _, s := range suggestions {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

func TestValidatePattern_Invalid(t *testing.T) {
	tests := []struct {
		name      string
		pattern   string
		wantError string
	}{
		{"empty", "", "Pattern cannot be empty"},
		{"blank", "   ", "Pattern cannot be empty"},
		{"unterminated set", "[abc", "Missing closing bracket"},
		{"unbalanced group", "(abc", "Unbalanced parentheses"},
		{"stray close paren", "abc)", "Unbalanced parentheses"},
		{"leading star", "*abc", "Invalid quantifier"},
		{"leading plus", "+abc", "Invalid quantifier"},
		{"nested repeat", "a**", "Invalid quantifier"},
		{"trailing backslash", `abc\`, "Incomplete escape sequence"},
		{"reverse range", "[z-a]", "Invalid character range"},
		{"unknown escape", `\q`, "Invalid escape sequence"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := ValidatePattern(tc.pattern)
			if r.Valid {
				t.Fatalf("ValidatePattern(%q) reported valid", tc.pattern)
			}
			if !strings.Contains(r.Error, tc.wantError) {
				t.Errorf("error = %q, want it to mention %q", r.Error, tc.wantError)
			}
			if len(r.Suggestions) == 0 {
				t.Error("expected at least one suggestion")
			}
		})
	}
}

func TestValidatePattern_UnterminatedSetHints(t *testing.T) {
	r := ValidatePattern("[abc")
	if !hasSuggestion(r.Suggestions, `Add closing ] or escape with \[`) {
		t.Errorf("missing bracket hint in %v", r.Suggestions)
	}
	if !hasSuggestion(r.Suggestions, "regex101.com") {
		t.Errorf("missing generic hint in %v", r.Suggestions)
	}
}

func TestValidatePattern_Valid(t *testing.T) {
	r := ValidatePattern(`^ls(\s|$)`)
	if !r.Valid || r.Error != "" {
		t.Fatalf("expected valid, got %+v", r)
	}
	if len(r.Suggestions) != 0 {
		t.Errorf("expected no advisories, got %v", r.Suggestions)
	}
}

func TestValidatePattern_Advisories(t *testing.T) {
	tests := []struct {
		pattern string
		want    string
	}{
		{".*", "matches everything"},
		{"a.*b.*c.*d.*e", "Multiple .* can be slow"},
		{"^" + strings.Repeat("x", 120), "Consider shorter patterns"},
	}
	for _, tc := range tests {
		r := ValidatePattern(tc.pattern)
		if !r.Valid {
			t.Fatalf("ValidatePattern(%q) invalid: %s", tc.pattern, r.Error)
		}
		if !hasSuggestion(r.Suggestions, tc.want) {
			t.Errorf("ValidatePattern(%q) suggestions %v missing %q", tc.pattern, r.Suggestions, tc.want)
		}
	}
}

func TestValidatePattern_BoundedRepeatIsNotAnIssue(t *testing.T) {
	r := ValidatePattern(`^a{2,3}$`)
	if !r.Valid || len(r.Suggestions) != 0 {
		t.Fatalf("unexpected report %+v", r)
	}
}

func rule(id int64, pattern string, action db.RuleAction, order int64) *db.Rule {
	return &db.Rule{ID: id, Pattern: pattern, Action: action, OrderIndex: order}
}

func TestDetectConflicts_ExactDuplicate(t *testing.T) {
	r := DetectConflicts("ls", db.ActionAutoAccept, []*db.Rule{rule(1, "ls", db.ActionAutoAccept, 1)})
	if !r.HasConflicts || len(r.Conflicts) != 1 {
		t.Fatalf("expected one conflict, got %+v", r)
	}
	c := r.Conflicts[0]
	if c.Type != ConflictExactDuplicate || c.Severity != SeverityHigh {
		t.Errorf("conflict = %+v", c)
	}
	if c.RuleID != 1 || c.ExistingPattern != "ls" {
		t.Errorf("conflict should describe existing rule, got %+v", c)
	}
	if r.HighSeverityCount() != 1 {
		t.Errorf("HighSeverityCount = %d", r.HighSeverityCount())
	}
	if !hasSuggestion(r.Warnings, "Rule already exists") {
		t.Errorf("warnings = %v", r.Warnings)
	}
	if !hasSuggestion(r.Suggestions, "first matching rule wins") {
		t.Errorf("suggestions = %v", r.Suggestions)
	}
}

func TestDetectConflicts_SamePatternDifferentAction(t *testing.T) {
	r := DetectConflicts("ls", db.ActionAutoReject, []*db.Rule{rule(3, "ls", db.ActionAutoAccept, 1)})
	if len(r.Conflicts) != 1 || r.Conflicts[0].Type != ConflictSamePatternDiffAction {
		t.Fatalf("conflicts = %+v", r.Conflicts)
	}
	if !strings.Contains(r.Conflicts[0].Description, "AUTO_ACCEPT") {
		t.Errorf("description = %q", r.Conflicts[0].Description)
	}
}

func TestDetectConflicts_Subset(t *testing.T) {
	r := DetectConflicts(`^ls\s+`, db.ActionAutoAccept, []*db.Rule{rule(4, "ls", db.ActionAutoAccept, 1)})
	if len(r.Conflicts) != 1 || r.Conflicts[0].Type != ConflictNewIsSubset || r.Conflicts[0].Severity != SeverityMedium {
		t.Fatalf("conflicts = %+v", r.Conflicts)
	}
	if !hasSuggestion(r.Suggestions, "more specific than rule #4") {
		t.Errorf("suggestions = %v", r.Suggestions)
	}

	r = DetectConflicts("ls", db.ActionAutoAccept, []*db.Rule{rule(5, `^ls\s+`, db.ActionAutoAccept, 1)})
	if len(r.Conflicts) != 1 || r.Conflicts[0].Type != ConflictExistingIsSubset {
		t.Fatalf("conflicts = %+v", r.Conflicts)
	}
}

func TestDetectConflicts_OverlapWithConflictingActions(t *testing.T) {
	r := DetectConflicts("file", db.ActionAutoReject, []*db.Rule{rule(7, "cp", db.ActionAutoAccept, 1)})
	if len(r.Conflicts) != 1 {
		t.Fatalf("conflicts = %+v", r.Conflicts)
	}
	c := r.Conflicts[0]
	if c.Type != ConflictOverlapping {
		t.Fatalf("type = %s", c.Type)
	}
	// Minor overlap is raised one level when the actions disagree.
	if c.Severity != SeverityMedium {
		t.Errorf("severity = %s, want MEDIUM", c.Severity)
	}
	if !strings.Contains(c.Description, "conflicting actions") {
		t.Errorf("description = %q", c.Description)
	}
	want := []string{"cp file1 file2", "scp file user@host:"}
	if strings.Join(c.Examples, "|") != strings.Join(want, "|") {
		t.Errorf("examples = %v, want %v", c.Examples, want)
	}
}

func TestDetectConflicts_NoneAndInvalid(t *testing.T) {
	r := DetectConflicts("rm", db.ActionAutoReject, []*db.Rule{rule(1, "^ls", db.ActionAutoAccept, 1)})
	if r.HasConflicts || len(r.Conflicts) != 0 || len(r.Warnings) != 0 {
		t.Fatalf("expected clean report, got %+v", r)
	}

	r = DetectConflicts("[abc", db.ActionAutoReject, []*db.Rule{rule(1, "ls", db.ActionAutoAccept, 1)})
	if r.HasConflicts {
		t.Fatal("invalid candidate cannot conflict")
	}
	if len(r.Warnings) != 1 || !strings.Contains(r.Warnings[0], "invalid regex") {
		t.Errorf("warnings = %v", r.Warnings)
	}
}

func TestDetectConflicts_SkipsBrokenStoredRules(t *testing.T) {
	r := DetectConflicts("ls", db.ActionAutoAccept, []*db.Rule{nil, rule(1, "(", db.ActionAutoAccept, 1)})
	if r.HasConflicts {
		t.Fatalf("broken rules must be ignored, got %+v", r)
	}
}

func TestMatchRule_HonorsOrderIndex(t *testing.T) {
	rules := []*db.Rule{
		rule(2, "rm", db.ActionAutoReject, 2),
		rule(1, ".*", db.ActionAutoAccept, 1),
	}
	got := MatchRule("rm file.txt", rules)
	if got == nil || got.ID != 1 {
		t.Fatalf("MatchRule = %+v, want rule 1", got)
	}
}

func TestMatchRule_SearchSemantics(t *testing.T) {
	rules := []*db.Rule{
		rule(1, `rm\s+-rf\s+/`, db.ActionAutoReject, 1),
		rule(2, `^ls(\s|$)`, db.ActionAutoAccept, 2),
	}
	if got := MatchRule("sudo rm -rf /", rules); got == nil || got.ID != 1 {
		t.Errorf("expected unanchored match on rule 1, got %+v", got)
	}
	if got := MatchRule("ls", rules); got == nil || got.ID != 2 {
		t.Errorf("expected rule 2, got %+v", got)
	}
	if got := MatchRule("lsblk", rules); got != nil {
		t.Errorf("expected no match, got %+v", got)
	}
}

func TestMatchRule_SkipsUncompilableAndNil(t *testing.T) {
	rules := []*db.Rule{nil, rule(1, "[broken", db.ActionAutoReject, 1), rule(2, "echo", db.ActionAutoAccept, 2)}
	if got := MatchRule("echo [broken", rules); got == nil || got.ID != 2 {
		t.Fatalf("MatchRule = %+v, want rule 2", got)
	}
	if got := MatchRule("anything", nil); got != nil {
		t.Fatalf("empty policy matched %+v", got)
	}
}

func TestScanStructure(t *testing.T) {
	tests := []struct {
		pattern string
		want    grammarError
	}{
		{"[abc", grammarUnterminatedSet},
		{"(a(b)", grammarUnbalancedGroup},
		{"a)", grammarUnbalancedGroup},
		{`a\`, grammarIncompleteEscape},
		{`\(a`, grammarUnknown},
		{"[)]", grammarUnknown},
		{"[]a]", grammarUnknown},
	}
	for _, tc := range tests {
		if got := scanStructure(tc.pattern); got != tc.want {
			t.Errorf("scanStructure(%q) = %v, want %v", tc.pattern, got, tc.want)
		}
	}
}

func TestSimulate(t *testing.T) {
	e := Simulate(`echo "hello world"`)
	if e.Output != `Mock execution of: echo "hello world"` {
		t.Errorf("Output = %q", e.Output)
	}
	if len(e.Argv) != 2 || e.Argv[1] != "hello world" {
		t.Errorf("Argv = %q", e.Argv)
	}
	if e.Hash == "" || e.Hash != Simulate(`echo "hello world"`).Hash {
		t.Error("hash should be stable")
	}

	e = Simulate(`echo "unterminated`)
	if len(e.Argv) != 2 || e.Argv[0] != "echo" {
		t.Errorf("fallback Argv = %q", e.Argv)
	}
}

func TestPatternCache_ReusesCompiledPatterns(t *testing.T) {
	c := &patternCache{entries: make(map[string]compiledPattern)}

	first, err := c.get(`^git\s+push`)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	second, err := c.get(`^git\s+push`)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if first != second {
		t.Error("expected the cached *regexp2.Regexp to be reused")
	}

	_, err1 := c.get("[broken")
	_, err2 := c.get("[broken")
	if err1 == nil || err2 == nil {
		t.Fatal("expected compile errors for an unterminated set")
	}
	if len(c.entries) != 2 {
		t.Errorf("cache has %d entries, want 2", len(c.entries))
	}
}

func TestPatternCache_StopsGrowingAtCap(t *testing.T) {
	c := &patternCache{entries: make(map[string]compiledPattern)}
	for i := 0; i < maxCachedPatterns+10; i++ {
		if _, err := c.get("cmd" + strconv.Itoa(i)); err != nil {
			t.Fatalf("get: %v", err)
		}
	}
	if len(c.entries) != maxCachedPatterns {
		t.Errorf("cache has %d entries, want %d", len(c.entries), maxCachedPatterns)
	}
	if re, err := c.get("cmd" + strconv.Itoa(maxCachedPatterns+5)); err != nil || re == nil {
		t.Errorf("uncached pattern should still compile, got %v", err)
	}
}
