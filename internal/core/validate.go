package core

import (
	"fmt"
	"regexp"
	"strings"
)

// ValidationReport is the outcome of checking a policy pattern.
type ValidationReport struct {
	Valid       bool     `json:"valid"`
	Error       string   `json:"error,omitempty"`
	Suggestions []string `json:"suggestions"`
}

// sampleCommands are evaluated against every compiling pattern to catch
// failures that only happen at match time.
var sampleCommands = []string{"ls", "rm -rf /", "echo hello", "sudo command", ""}

// boundedRepeat matches {n}, {n,} and {n,m} quantifiers.
var boundedRepeat = regexp.MustCompile(`\{\d+,?\d*\}`)

const (
	maxAdvisedPatternLength = 100
	maxAdvisedWildcards     = 3
)

// ValidatePattern reports whether pattern is usable as a policy rule, with
// remediation hints when it is not and advisory hints when it is.
func ValidatePattern(pattern string) ValidationReport {
	if strings.TrimSpace(pattern) == "" {
		return ValidationReport{
			Error:       "Pattern cannot be empty",
			Suggestions: []string{"Try: ^ls", "^echo", "rm.*-rf"},
		}
	}
	pattern = strings.TrimSpace(pattern)

	var issues, hints []string
	if strings.Contains(pattern, "(") && !strings.Contains(pattern, ")") {
		issues = append(issues, "Unmatched opening parenthesis")
		hints = append(hints, `Add closing ) or escape with \(`)
	}
	if strings.Contains(pattern, ")") && !strings.Contains(pattern, "(") {
		issues = append(issues, "Unmatched closing parenthesis")
		hints = append(hints, `Add opening ( or escape with \)`)
	}
	if strings.Contains(pattern, "[") && !strings.Contains(pattern, "]") {
		issues = append(issues, "Unmatched opening bracket")
		hints = append(hints, `Add closing ] or escape with \[`)
	}
	if strings.Contains(pattern, "]") && !strings.Contains(pattern, "[") {
		issues = append(issues, "Unmatched closing bracket")
		hints = append(hints, `Add opening [ or escape with \]`)
	}
	bounded := boundedRepeat.MatchString(pattern)
	if strings.Contains(pattern, "{") && !strings.Contains(pattern, "}") && !bounded {
		issues = append(issues, "Unmatched opening brace")
		hints = append(hints, `Add closing } or escape with \{`)
	}
	if strings.Contains(pattern, "}") && !strings.Contains(pattern, "{") && !bounded {
		issues = append(issues, "Unmatched closing brace")
		hints = append(hints, `Add opening { or escape with \}`)
	}

	var advisories []string
	if pattern == ".*" {
		advisories = append(advisories, "Warning: .* matches everything - consider being more specific")
	}

	if strings.HasPrefix(pattern, "*") || strings.HasPrefix(pattern, "+") {
		hints = append(hints, "Quantifiers need something to quantify - try: .* or .+")
		return ValidationReport{
			Error:       helpfulGrammarError(grammarNothingToRepeat, "nothing to repeat at position 0", pattern),
			Suggestions: append(hints, grammarSuggestions(grammarNothingToRepeat)...),
		}
	}

	re, err := CompilePattern(pattern)
	if err != nil {
		kind := classifyGrammarError(err.Error(), pattern)
		return ValidationReport{
			Error:       helpfulGrammarError(kind, err.Error(), pattern),
			Suggestions: append(hints, grammarSuggestions(kind)...),
		}
	}

	for _, sample := range sampleCommands {
		if _, err := re.MatchString(sample); err != nil {
			return ValidationReport{
				Error:       fmt.Sprintf("Pattern causes runtime error: %v", err),
				Suggestions: []string{"Simplify the pattern", "Check for complex lookaheads/lookbehinds"},
			}
		}
	}

	report := ValidationReport{Valid: true, Suggestions: []string{}}
	if len(issues) > 0 {
		report.Suggestions = append(report.Suggestions, hints...)
	}
	report.Suggestions = append(report.Suggestions, advisories...)
	if len(pattern) > maxAdvisedPatternLength {
		report.Suggestions = append(report.Suggestions, "Consider shorter patterns for better performance")
	}
	if strings.Count(pattern, ".*") > maxAdvisedWildcards {
		report.Suggestions = append(report.Suggestions, "Multiple .* can be slow - consider more specific patterns")
	}
	return report
}

func helpfulGrammarError(kind grammarError, raw, pattern string) string {
	switch kind {
	case grammarUnterminatedSet:
		return fmt.Sprintf(`Unterminated character set in pattern "%s". Missing closing bracket ]?`, pattern)
	case grammarUnbalancedGroup:
		return fmt.Sprintf(`Unbalanced parentheses in pattern "%s". Check for missing ( or )`, pattern)
	case grammarNothingToRepeat:
		return fmt.Sprintf(`Invalid quantifier in pattern "%s". Quantifiers like *, +, ? need something to repeat`, pattern)
	case grammarBadEscape:
		return fmt.Sprintf(`Invalid escape sequence in pattern "%s". Use \\ for literal backslash`, pattern)
	case grammarBadRange:
		return fmt.Sprintf(`Invalid character range in pattern "%s". Check ranges like [a-z]`, pattern)
	case grammarIncompleteEscape:
		return fmt.Sprintf(`Incomplete escape sequence in pattern "%s". Complete the escape or use \\`, pattern)
	default:
		return fmt.Sprintf(`Invalid regex pattern "%s": %s`, pattern, raw)
	}
}

func grammarSuggestions(kind grammarError) []string {
	var out []string
	switch kind {
	case grammarUnterminatedSet:
		out = append(out, "Add closing bracket: [abc] instead of [abc", `Escape literal bracket: \[ instead of [`)
	case grammarUnbalancedGroup:
		out = append(out, "Match parentheses: (group) instead of (group", `Escape literal parenthesis: \( instead of (`)
	case grammarNothingToRepeat:
		out = append(out, "Add content before quantifier: .* instead of *", `Escape literal quantifier: \* instead of *`)
	case grammarBadEscape:
		out = append(out, `Use double backslash: \\d instead of \d`, `Common escapes: \s (space), \d (digit), \w (word)`)
	case grammarBadRange:
		out = append(out, "Order ranges low to high: [a-z] instead of [z-a]", `Escape a literal hyphen: [a\-z]`)
	case grammarIncompleteEscape:
		out = append(out, `Finish the escape: \s instead of a trailing \`)
	}
	return append(out,
		"Test your pattern at regex101.com",
		`Common patterns: ^start, end$, .* (any), \s+ (spaces)`,
	)
}
