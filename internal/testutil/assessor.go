package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Dicklesworthstone/cmdgate/internal/risk"
)

// MockAssessor records and simulates risk assessments for testing.
type MockAssessor struct {
	mu sync.Mutex

	// RecordedCalls contains every command text assessed.
	RecordedCalls []string

	// Verdict is returned by Assess.
	Verdict risk.Verdict

	// Err is returned by Assess.
	Err error

	// Delay blocks Assess for this long or until the context ends.
	Delay time.Duration

	// VerdictFunc allows dynamic verdicts. If set, it is called instead of
	// returning Verdict and Err.
	VerdictFunc func(text string) (risk.Verdict, error)
}

// NewMockAssessor creates a mock with static behavior.
func NewMockAssessor(v risk.Verdict, err error) *MockAssessor {
	return &MockAssessor{Verdict: v, Err: err}
}

// SafeAssessor never flags a command.
func SafeAssessor() *MockAssessor {
	return NewMockAssessor(risk.Verdict{RiskScore: 1, Analysis: "looks fine", Confidence: 90}, nil)
}

// FlaggingAssessor flags every command for approval.
func FlaggingAssessor() *MockAssessor {
	return NewMockAssessor(risk.Verdict{RequiresApproval: true, RiskScore: 7, Analysis: "risky", Confidence: 90, Dangerous: true}, nil)
}

// Assess records the call and returns the configured verdict.
func (m *MockAssessor) Assess(ctx context.Context, text string) (risk.Verdict, error) {
	m.mu.Lock()
	m.RecordedCalls = append(m.RecordedCalls, text)
	delay, fn, v, err := m.Delay, m.VerdictFunc, m.Verdict, m.Err
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return risk.Verdict{}, ctx.Err()
		}
	}
	if fn != nil {
		return fn(text)
	}
	return v, err
}

// CallCount returns the number of recorded calls.
func (m *MockAssessor) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.RecordedCalls)
}

// WasCalledWith reports whether text was assessed.
func (m *MockAssessor) WasCalledWith(text string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.RecordedCalls {
		if c == text {
			return true
		}
	}
	return false
}

// AssessorSequenceMock returns different results for sequential calls.
type AssessorSequenceMock struct {
	mu       sync.Mutex
	index    int
	Sequence []AssessStep
}

// AssessStep defines the result of one call in a sequence.
type AssessStep struct {
	Verdict risk.Verdict
	Err     error
}

// NewAssessorSequenceMock creates a mock that returns different results per call.
func NewAssessorSequenceMock(steps ...AssessStep) *AssessorSequenceMock {
	return &AssessorSequenceMock{Sequence: steps}
}

// Assess returns the next result in the sequence, or an error if exhausted.
func (m *AssessorSequenceMock) Assess(context.Context, string) (risk.Verdict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.index >= len(m.Sequence) {
		return risk.Verdict{}, fmt.Errorf("mock sequence exhausted after %d calls", len(m.Sequence))
	}
	step := m.Sequence[m.index]
	m.index++
	return step.Verdict, step.Err
}
