package core

import (
	"fmt"
	"strings"

	"github.com/dlclark/regexp2"

	"github.com/Dicklesworthstone/cmdgate/internal/db"
)

// ConflictType classifies how a candidate rule relates to an existing one.
type ConflictType string

const (
	ConflictExactDuplicate        ConflictType = "EXACT_DUPLICATE"
	ConflictSamePatternDiffAction ConflictType = "SAME_PATTERN_DIFFERENT_ACTION"
	ConflictNewIsSubset           ConflictType = "NEW_IS_SUBSET"
	ConflictExistingIsSubset      ConflictType = "EXISTING_IS_SUBSET"
	ConflictOverlapping           ConflictType = "OVERLAPPING_PATTERNS"
)

// Severity ranks a conflict.
type Severity string

const (
	SeverityHigh   Severity = "HIGH"
	SeverityMedium Severity = "MEDIUM"
	SeverityLow    Severity = "LOW"
)

const maxConflictExamples = 5

// Conflict describes one existing rule that interacts with a candidate.
type Conflict struct {
	RuleID          int64         `json:"rule_id"`
	ExistingPattern string        `json:"existing_pattern"`
	ExistingAction  db.RuleAction `json:"existing_action"`
	OrderIndex      int64         `json:"order_index"`
	Type            ConflictType  `json:"conflict_type"`
	Description     string        `json:"description"`
	Severity        Severity      `json:"severity"`
	Examples        []string      `json:"examples"`
}

// ConflictReport is the advisory result of checking a candidate rule.
type ConflictReport struct {
	HasConflicts bool       `json:"has_conflicts"`
	Conflicts    []Conflict `json:"conflicts"`
	Warnings     []string   `json:"warnings"`
	Suggestions  []string   `json:"suggestions"`
}

// HighSeverityCount returns the number of HIGH conflicts.
func (r ConflictReport) HighSeverityCount() int {
	n := 0
	for _, c := range r.Conflicts {
		if c.Severity == SeverityHigh {
			n++
		}
	}
	return n
}

// overlapCorpus is the fixed set of representative commands used to
// estimate how much two patterns overlap.
var overlapCorpus = []string{
	"ls -la", "rm -rf /", "sudo rm file", "echo hello", "cat file.txt",
	"grep pattern", "find /home", "ps aux", "whoami", "date",
	"git status", "docker run", "curl http://example.com",
	"wget file.zip", "chmod 755", "chown user:group", "mv file1 file2",
	"cp file1 file2", "mkdir directory", "rmdir directory",
	"ssh user@host", "scp file user@host:", "rsync -av",
	"tar -xzf", "zip -r", "unzip file.zip", "python script.py",
	"node app.js", "npm install", "pip install package",
}

var specificityIndicators = []string{"^", "$", `\s+`, `\d+`, `\w+`, "[", "{"}

// DetectConflicts compares a candidate rule against the existing policy.
// Conflicts are advisory; nothing here blocks rule creation.
func DetectConflicts(pattern string, action db.RuleAction, existing []*db.Rule) ConflictReport {
	report := ConflictReport{Conflicts: []Conflict{}, Warnings: []string{}, Suggestions: []string{}}

	candidate, err := CompilePattern(pattern)
	if err != nil {
		report.Warnings = append(report.Warnings, "Cannot check conflicts - invalid regex pattern")
		return report
	}

	for _, rule := range existing {
		if rule == nil {
			continue
		}
		other, err := storedPatterns.get(rule.Pattern)
		if err != nil {
			continue
		}
		c := analyzeConflict(pattern, action, candidate, rule.Pattern, rule.Action, other)
		if c == nil {
			continue
		}
		c.RuleID = rule.ID
		c.ExistingPattern = rule.Pattern
		c.ExistingAction = rule.Action
		c.OrderIndex = rule.OrderIndex
		report.Conflicts = append(report.Conflicts, *c)
	}

	report.HasConflicts = len(report.Conflicts) > 0
	if report.HasConflicts {
		report.Warnings, report.Suggestions = conflictAdvice(report.Conflicts)
	}
	return report
}

func analyzeConflict(newPattern string, newAction db.RuleAction, newRe *regexp2.Regexp,
	oldPattern string, oldAction db.RuleAction, oldRe *regexp2.Regexp) *Conflict {

	if newPattern == oldPattern {
		if newAction == oldAction {
			return &Conflict{
				Type:        ConflictExactDuplicate,
				Description: "Identical pattern and action already exists",
				Severity:    SeverityHigh,
				Examples:    []string{},
			}
		}
		return &Conflict{
			Type:        ConflictSamePatternDiffAction,
			Description: fmt.Sprintf("Same pattern exists with different action (%s)", oldAction),
			Severity:    SeverityHigh,
			Examples:    []string{},
		}
	}

	if isMoreSpecific(newPattern, oldPattern) {
		return &Conflict{
			Type:        ConflictNewIsSubset,
			Description: "New pattern is more specific than existing pattern",
			Severity:    SeverityMedium,
			Examples:    []string{},
		}
	}
	if isMoreSpecific(oldPattern, newPattern) {
		return &Conflict{
			Type:        ConflictExistingIsSubset,
			Description: "Existing pattern is more specific than new pattern",
			Severity:    SeverityMedium,
			Examples:    []string{},
		}
	}

	var overlap []string
	for _, cmd := range overlapCorpus {
		if search(newRe, cmd) && search(oldRe, cmd) {
			overlap = append(overlap, cmd)
		}
	}
	if len(overlap) == 0 {
		return nil
	}

	ratio := float64(len(overlap)) / float64(len(overlapCorpus))
	var severity Severity
	var desc string
	switch {
	case ratio > 0.5:
		severity, desc = SeverityHigh, "Patterns overlap significantly"
	case ratio > 0.2:
		severity, desc = SeverityMedium, "Patterns have moderate overlap"
	default:
		severity, desc = SeverityLow, "Patterns have minor overlap"
	}
	if newAction != oldAction {
		if severity == SeverityLow {
			severity = SeverityMedium
		} else {
			severity = SeverityHigh
		}
		desc += fmt.Sprintf(" with conflicting actions (%s vs %s)", newAction, oldAction)
	}

	if len(overlap) > maxConflictExamples {
		overlap = overlap[:maxConflictExamples]
	}
	return &Conflict{
		Type:        ConflictOverlapping,
		Description: desc,
		Severity:    severity,
		Examples:    overlap,
	}
}

// isMoreSpecific reports whether p1 carries more distinct specificity
// indicators than p2 and their anchor-stripped text nests.
func isMoreSpecific(p1, p2 string) bool {
	if specificity(p1) <= specificity(p2) {
		return false
	}
	core1 := stripAnchors(p1)
	core2 := stripAnchors(p2)
	return strings.Contains(core1, core2) || strings.Contains(core2, core1)
}

func specificity(p string) int {
	n := 0
	for _, ind := range specificityIndicators {
		if strings.Contains(p, ind) {
			n++
		}
	}
	return n
}

func stripAnchors(p string) string {
	return strings.NewReplacer("^", "", "$", "").Replace(p)
}

// search reports an unanchored match. A match-time failure counts as no match.
func search(re *regexp2.Regexp, s string) bool {
	ok, err := re.MatchString(s)
	return err == nil && ok
}

func conflictAdvice(conflicts []Conflict) (warnings, suggestions []string) {
	warnings = []string{}
	suggestions = []string{}

	var high, medium []Conflict
	for _, c := range conflicts {
		switch c.Severity {
		case SeverityHigh:
			high = append(high, c)
		case SeverityMedium:
			medium = append(medium, c)
		}
	}

	if len(high) > 0 {
		warnings = append(warnings, fmt.Sprintf("%d high-severity conflicts detected", len(high)))
		for _, c := range high {
			switch c.Type {
			case ConflictExactDuplicate:
				warnings = append(warnings, fmt.Sprintf("Rule already exists: '%s'", c.ExistingPattern))
				suggestions = append(suggestions, "Consider if this rule is really needed")
			case ConflictSamePatternDiffAction:
				warnings = append(warnings, fmt.Sprintf("Same pattern exists with %s action", c.ExistingAction))
				suggestions = append(suggestions, "Consider modifying existing rule instead of creating new one")
			case ConflictOverlapping:
				warnings = append(warnings, fmt.Sprintf("Significant overlap with rule #%d", c.RuleID))
				if len(c.Examples) > 0 {
					ex := c.Examples
					if len(ex) > 3 {
						ex = ex[:3]
					}
					warnings = append(warnings, "Overlapping commands: "+strings.Join(ex, ", "))
				}
			}
		}
	}

	if len(medium) > 0 {
		warnings = append(warnings, fmt.Sprintf("%d medium-severity conflicts detected", len(medium)))
		for _, c := range medium {
			switch c.Type {
			case ConflictNewIsSubset:
				suggestions = append(suggestions, fmt.Sprintf("New rule is more specific than rule #%d - consider rule order", c.RuleID))
			case ConflictExistingIsSubset:
				suggestions = append(suggestions, fmt.Sprintf("Rule #%d is more specific - may never be reached", c.RuleID))
			}
		}
	}

	suggestions = append(suggestions,
		"Review rule order - first matching rule wins",
		"Consider combining similar rules",
		"Test with sample commands to verify behavior",
	)
	return warnings, suggestions
}
