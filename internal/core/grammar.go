package core

import (
	"strings"
	"sync"
	"time"

	"github.com/dlclark/regexp2"
)

// DefaultMatchTimeout bounds a single pattern evaluation.
const DefaultMatchTimeout = 100 * time.Millisecond

// CompilePattern compiles a policy pattern. Policy patterns use a
// Perl-compatible dialect with backtracking, so every compiled pattern
// carries a match timeout.
func CompilePattern(pattern string) (*regexp2.Regexp, error) {
	re, err := regexp2.Compile(pattern, regexp2.None)
	if err != nil {
		return nil, err
	}
	re.MatchTimeout = DefaultMatchTimeout
	return re, nil
}

// maxCachedPatterns caps the compiled-pattern cache. Patterns beyond it are
// compiled on every use.
const maxCachedPatterns = 1024

type compiledPattern struct {
	re  *regexp2.Regexp
	err error
}

// patternCache holds compiled stored patterns, failures included, so the
// policy is not recompiled on every submission.
type patternCache struct {
	mu      sync.RWMutex
	entries map[string]compiledPattern
}

var storedPatterns = &patternCache{entries: make(map[string]compiledPattern)}

func (c *patternCache) get(pattern string) (*regexp2.Regexp, error) {
	c.mu.RLock()
	e, ok := c.entries[pattern]
	c.mu.RUnlock()
	if ok {
		return e.re, e.err
	}

	re, err := CompilePattern(pattern)
	c.mu.Lock()
	if len(c.entries) < maxCachedPatterns {
		c.entries[pattern] = compiledPattern{re: re, err: err}
	}
	c.mu.Unlock()
	return re, err
}

// grammarError is a category of pattern compilation failure.
type grammarError int

const (
	grammarUnknown grammarError = iota
	grammarUnterminatedSet
	grammarUnbalancedGroup
	grammarNothingToRepeat
	grammarBadEscape
	grammarBadRange
	grammarIncompleteEscape
)

var grammarPhrases = []struct {
	kind    grammarError
	phrases []string
}{
	{grammarUnterminatedSet, []string{"unterminated [] set", "unterminated character set"}},
	{grammarUnbalancedGroup, []string{"missing closing )", "unexpected )", "unbalanced parenthesis", "missing )", "too many )", "not enough )"}},
	{grammarNothingToRepeat, []string{"missing argument to repetition operator", "invalid nested repetition operator", "nothing to repeat", "following nothing"}},
	{grammarIncompleteEscape, []string{"illegal \\ at end of pattern", "incomplete escape", "missing control character", "incomplete \\p", "insufficient hexadecimal digits"}},
	{grammarBadRange, []string{"range in reverse order", "invalid character class range", "bad character range", "cannot include class"}},
	{grammarBadEscape, []string{"unrecognized escape sequence", "bad escape", "unrecognized control character", "malformed \\p", "unknown unicode category"}},
}

// classifyGrammarError maps a compiler error to a category, falling back to
// a structural scan of the pattern when the message is not recognized.
func classifyGrammarError(msg, pattern string) grammarError {
	lower := strings.ToLower(msg)
	for _, g := range grammarPhrases {
		for _, p := range g.phrases {
			if strings.Contains(lower, p) {
				return g.kind
			}
		}
	}
	return scanStructure(pattern)
}

// scanStructure finds the first structural defect in pattern, honoring
// escapes and character classes.
func scanStructure(pattern string) grammarError {
	depth := 0
	inClass := false
	for i := 0; i < len(pattern); i++ {
		switch ch := pattern[i]; {
		case ch == '\\':
			if i == len(pattern)-1 {
				return grammarIncompleteEscape
			}
			i++
		case inClass:
			if ch == ']' {
				inClass = false
			}
		case ch == '[':
			inClass = true
			if i+1 < len(pattern) && pattern[i+1] == ']' {
				i++
			}
		case ch == '(':
			depth++
		case ch == ')':
			depth--
			if depth < 0 {
				return grammarUnbalancedGroup
			}
		}
	}
	if inClass {
		return grammarUnterminatedSet
	}
	if depth != 0 {
		return grammarUnbalancedGroup
	}
	return grammarUnknown
}
