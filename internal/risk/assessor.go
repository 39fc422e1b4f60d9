// Package risk scores command text for danger before it is allowed to run.
//
// An Assessor is any oracle that can produce a Verdict. Callers never use an
// Assessor directly: they wrap it in a Guard, which bounds the call with a
// timeout and turns every failure into the fail-safe verdict.
package risk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
)

const (
	// MaxScore is the highest risk score.
	MaxScore = 10
	// DefaultFailSafeScore is reported when an assessment cannot be obtained.
	DefaultFailSafeScore = 8
	// DefaultTimeout bounds a single assessment.
	DefaultTimeout = 10 * time.Second
)

// Verdict is the outcome of assessing one command.
type Verdict struct {
	RequiresApproval bool   `json:"requires_approval"`
	RiskScore        int    `json:"risk_score"`
	Analysis         string `json:"analysis"`
	// Confidence is 0..100.
	Confidence int  `json:"confidence"`
	Dangerous  bool `json:"is_dangerous"`
	// Degraded marks a fail-safe verdict that no oracle produced.
	Degraded bool `json:"degraded,omitempty"`
}

// Assessor produces a verdict for command text.
type Assessor interface {
	Assess(ctx context.Context, text string) (Verdict, error)
}

// AssessorFunc adapts a function to Assessor.
type AssessorFunc func(ctx context.Context, text string) (Verdict, error)

// Assess calls f.
func (f AssessorFunc) Assess(ctx context.Context, text string) (Verdict, error) {
	return f(ctx, text)
}

// Disabled is used when no oracle is configured. It never flags a command.
type Disabled struct{}

// Assess returns a neutral verdict.
func (Disabled) Assess(context.Context, string) (Verdict, error) {
	return Verdict{Analysis: "AI analysis unavailable"}, nil
}

// ErrNoAssessor is reported when a Guard has nothing to call.
var ErrNoAssessor = errors.New("no risk assessor configured")

// GuardOptions configure a Guard.
type GuardOptions struct {
	Timeout       time.Duration
	FailSafeScore int
	Logger        *log.Logger
}

// Guard wraps an Assessor so that assessment can never fail open.
type Guard struct {
	inner    Assessor
	timeout  time.Duration
	failSafe int
	logger   *log.Logger
}

// NewGuard wraps inner. Zero options fall back to the package defaults.
func NewGuard(inner Assessor, opts GuardOptions) *Guard {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.FailSafeScore <= 0 || opts.FailSafeScore > MaxScore {
		opts.FailSafeScore = DefaultFailSafeScore
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Guard{
		inner:    inner,
		timeout:  opts.Timeout,
		failSafe: opts.FailSafeScore,
		logger:   opts.Logger,
	}
}

type assessResult struct {
	verdict Verdict
	err     error
}

// Assess returns the wrapped oracle's verdict with the score clamped to
// 0..10, or the fail-safe verdict when the oracle errors, panics or runs past
// the timeout. It never returns an error.
func (g *Guard) Assess(ctx context.Context, text string) Verdict {
	if g == nil || g.inner == nil {
		return FailSafe(DefaultFailSafeScore, ErrNoAssessor)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	done := make(chan assessResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- assessResult{err: fmt.Errorf("assessor panic: %v", r)}
			}
		}()
		v, err := g.inner.Assess(ctx, text)
		done <- assessResult{verdict: v, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			g.logger.Warn("risk assessment failed", "error", res.err)
			return FailSafe(g.failSafe, res.err)
		}
		return normalize(res.verdict)
	case <-ctx.Done():
		g.logger.Warn("risk assessment timed out", "timeout", g.timeout)
		return FailSafe(g.failSafe, ctx.Err())
	}
}

// FailSafe is the verdict used when no assessment could be obtained.
func FailSafe(score int, cause error) Verdict {
	reason := "unknown error"
	if cause != nil {
		reason = cause.Error()
	}
	return Verdict{
		RequiresApproval: true,
		RiskScore:        clamp(score),
		Analysis:         fmt.Sprintf("AI analysis failed: %s. Defaulting to requiring approval for safety.", reason),
		Dangerous:        true,
		Degraded:         true,
	}
}

func normalize(v Verdict) Verdict {
	v.RiskScore = clamp(v.RiskScore)
	if v.Confidence < 0 {
		v.Confidence = 0
	}
	if v.Confidence > 100 {
		v.Confidence = 100
	}
	return v
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}
