package core_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Dicklesworthstone/cmdgate/internal/core"
	"github.com/Dicklesworthstone/cmdgate/internal/db"
	"github.com/Dicklesworthstone/cmdgate/internal/notify"
	"github.com/Dicklesworthstone/cmdgate/internal/risk"
	"github.com/Dicklesworthstone/cmdgate/internal/testutil"
)

// busRecorder captures published events.
type busRecorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (b *busRecorder) Publish(_ context.Context, topic string, evt notify.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	evt.Topic = topic
	b.events = append(b.events, evt)
	return nil
}

func (b *busRecorder) has(topic, eventType string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.events {
		if e.Topic == topic && e.Type == eventType {
			return true
		}
	}
	return false
}

type harness struct {
	db  *db.DB
	gw  *core.Gateway
	bus *busRecorder
}

func newHarness(t *testing.T, assessor risk.Assessor, tweak ...func(*core.Options)) *harness {
	t.Helper()
	store := testutil.NewTestDB(t)
	bus := &busRecorder{}
	logger := testutil.TestLogger(t)
	opts := core.Options{
		Assessor: risk.NewGuard(assessor, risk.GuardOptions{Timeout: 200 * time.Millisecond, Logger: logger}),
		Bus:      bus,
		Logger:   logger,
	}
	for _, fn := range tweak {
		fn(&opts)
	}
	gw, err := core.NewGateway(store, opts)
	testutil.RequireNoError(t, err, "NewGateway")
	return &harness{db: store, gw: gw, bus: bus}
}

func (h *harness) balance(t *testing.T, userID int64) int64 {
	t.Helper()
	n, err := h.gw.Ledger().Balance(context.Background(), userID)
	testutil.RequireNoError(t, err, "balance")
	return n
}

func (h *harness) auditActions(t *testing.T) []string {
	t.Helper()
	entries, err := h.db.ListAudit(context.Background(), 500)
	testutil.RequireNoError(t, err, "list audit")
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Action)
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestSubmit_ExecutesThenQuota(t *testing.T) {
	h := newHarness(t, testutil.SafeAssessor())
	ctx := context.Background()
	user := testutil.MakeUser(t, h.db, testutil.WithCredits(1))

	out, err := h.gw.Submit(ctx, user.ID, "echo hi")
	testutil.RequireNoError(t, err, "first submit")
	exec := testutil.RequireType[*core.Executed](t, out, "first submit outcome")
	testutil.RequireEqual(t, db.StatusExecuted, exec.Command.Status, "status")
	testutil.RequireEqual(t, true, exec.Command.CreditsDeducted, "credits deducted")
	testutil.RequireEqual(t, int64(0), exec.CreditsRemaining, "credits remaining")
	testutil.RequireEqual(t, "Mock execution of: echo hi", exec.Execution.Output, "execution output")
	testutil.RequireEqual(t, int64(0), h.balance(t, user.ID), "balance after first")

	_, err = h.gw.Submit(ctx, user.ID, "echo hi")
	testutil.RequireErrorIs(t, err, core.ErrQuotaExceeded, "second submit")
	testutil.RequireEqual(t, int64(0), h.balance(t, user.ID), "balance after second")

	cmds, err := h.gw.ListUserCommands(ctx, user.ID, 0)
	testutil.RequireNoError(t, err, "list commands")
	testutil.RequireLen(t, cmds, 1, "commands recorded")
}

func TestSubmit_AutoRejectNeverCharges(t *testing.T) {
	assessor := testutil.SafeAssessor()
	h := newHarness(t, assessor)
	user := testutil.MakeUser(t, h.db, testutil.WithCredits(5))
	r := testutil.MakeRule(t, h.db, `rm\s+-rf`, db.ActionAutoReject)

	out, err := h.gw.Submit(context.Background(), user.ID, "rm -rf /tmp/x")
	testutil.RequireNoError(t, err, "submit")
	rej := testutil.RequireType[*core.Rejected](t, out, "outcome")
	testutil.RequireEqual(t, db.StatusRejected, rej.Command.Status, "status")
	if rej.Command.MatchedRuleID == nil || *rej.Command.MatchedRuleID != r.ID {
		t.Fatalf("matched rule = %v, want %d", rej.Command.MatchedRuleID, r.ID)
	}
	testutil.RequireEqual(t, false, rej.Command.CreditsDeducted, "credits deducted")
	testutil.RequireEqual(t, int64(5), h.balance(t, user.ID), "balance")
	testutil.RequireEqual(t, 0, assessor.CallCount(), "assessor calls")
	if !contains(h.auditActions(t), db.AuditCommandRejected) {
		t.Error("expected COMMAND_REJECTED audit entry")
	}
}

func TestSubmit_FirstRuleWins(t *testing.T) {
	h := newHarness(t, testutil.SafeAssessor())
	user := testutil.MakeUser(t, h.db)
	accept := testutil.MakeRule(t, h.db, ".*", db.ActionAutoAccept)
	testutil.MakeRule(t, h.db, "rm", db.ActionAutoReject)

	out, err := h.gw.Submit(context.Background(), user.ID, "rm file.txt")
	testutil.RequireNoError(t, err, "submit")
	exec := testutil.RequireType[*core.Executed](t, out, "outcome")
	if exec.Rule == nil || exec.Rule.ID != accept.ID {
		t.Fatalf("matched rule = %+v, want %d", exec.Rule, accept.ID)
	}
}

func TestSubmit_FlaggedCommandWaitsForApproval(t *testing.T) {
	h := newHarness(t, testutil.FlaggingAssessor())
	user := testutil.MakeUser(t, h.db, testutil.WithCredits(3))

	out, err := h.gw.Submit(context.Background(), user.ID, "chmod 777 /srv")
	testutil.RequireNoError(t, err, "submit")
	p := testutil.RequireType[*core.PendingApproval](t, out, "outcome")
	testutil.RequireEqual(t, db.StatusPendingApproval, p.Command.Status, "status")
	testutil.RequireEqual(t, 2, p.Command.RequiredApprovals, "required approvals")
	testutil.RequireEqual(t, 7, p.Command.RiskScore, "risk score")
	testutil.RequireEqual(t, int64(3), p.CreditsRemaining, "credits remaining")
	testutil.RequireEqual(t, int64(3), h.balance(t, user.ID), "balance")
}

func TestSubmit_FlaggedBelowThresholdExecutes(t *testing.T) {
	assessor := testutil.NewMockAssessor(risk.Verdict{RequiresApproval: true, RiskScore: 5, Analysis: "meh"}, nil)
	h := newHarness(t, assessor)
	user := testutil.MakeUser(t, h.db)

	out, err := h.gw.Submit(context.Background(), user.ID, "git push")
	testutil.RequireNoError(t, err, "submit")
	testutil.RequireType[*core.Executed](t, out, "outcome")
}

func TestSubmit_ThresholdAndQuorumFromOptions(t *testing.T) {
	assessor := testutil.NewMockAssessor(risk.Verdict{RequiresApproval: true, RiskScore: 5}, nil)
	h := newHarness(t, assessor, func(o *core.Options) {
		o.ApprovalThreshold = 5
		o.RequiredApprovals = 3
	})
	user := testutil.MakeUser(t, h.db)

	out, err := h.gw.Submit(context.Background(), user.ID, "git push")
	testutil.RequireNoError(t, err, "submit")
	p := testutil.RequireType[*core.PendingApproval](t, out, "outcome")
	testutil.RequireEqual(t, 3, p.Command.RequiredApprovals, "required approvals")
}

func TestSubmit_AssessorFailureFailsClosed(t *testing.T) {
	h := newHarness(t, testutil.NewMockAssessor(risk.Verdict{}, errors.New("oracle down")))
	user := testutil.MakeUser(t, h.db)

	out, err := h.gw.Submit(context.Background(), user.ID, "echo hi")
	testutil.RequireNoError(t, err, "submit")
	p := testutil.RequireType[*core.PendingApproval](t, out, "outcome")
	testutil.RequireEqual(t, risk.DefaultFailSafeScore, p.Command.RiskScore, "risk score")
	if !strings.Contains(p.Command.RiskAnalysis, "oracle down") {
		t.Errorf("analysis = %q", p.Command.RiskAnalysis)
	}
	testutil.RequireEqual(t, int64(100), h.balance(t, user.ID), "balance")
}

func TestSubmit_EachSubmissionGetsAFreshVerdict(t *testing.T) {
	oracle := testutil.NewAssessorSequenceMock(
		testutil.AssessStep{Err: errors.New("model loading")},
		testutil.AssessStep{Verdict: risk.Verdict{RiskScore: 1, Analysis: "read only"}},
	)
	h := newHarness(t, oracle)
	user := testutil.MakeUser(t, h.db, testutil.WithCredits(5))
	ctx := context.Background()

	out, err := h.gw.Submit(ctx, user.ID, "echo hi")
	testutil.RequireNoError(t, err, "first submit")
	testutil.RequireType[*core.PendingApproval](t, out, "oracle failing")

	out, err = h.gw.Submit(ctx, user.ID, "echo hi")
	testutil.RequireNoError(t, err, "second submit")
	exec := testutil.RequireType[*core.Executed](t, out, "oracle recovered")
	testutil.RequireEqual(t, "read only", exec.Verdict.Analysis, "analysis")

	out, err = h.gw.Submit(ctx, user.ID, "echo hi")
	testutil.RequireNoError(t, err, "third submit")
	testutil.RequireType[*core.PendingApproval](t, out, "oracle exhausted")
	testutil.RequireEqual(t, int64(4), h.balance(t, user.ID), "balance")
}

func TestSubmit_AssessorTimeoutFailsClosed(t *testing.T) {
	slow := testutil.SafeAssessor()
	slow.Delay = 5 * time.Second
	h := newHarness(t, slow, func(o *core.Options) {
		o.Assessor = risk.NewGuard(slow, risk.GuardOptions{Timeout: 20 * time.Millisecond, Logger: o.Logger})
	})
	user := testutil.MakeUser(t, h.db)

	start := time.Now()
	out, err := h.gw.Submit(context.Background(), user.ID, "echo hi")
	testutil.RequireNoError(t, err, "submit")
	testutil.RequireType[*core.PendingApproval](t, out, "outcome")
	if time.Since(start) > 2*time.Second {
		t.Fatalf("submit waited %s for a slow oracle", time.Since(start))
	}
}

func TestSubmit_ValidationErrors(t *testing.T) {
	h := newHarness(t, testutil.SafeAssessor())
	user := testutil.MakeUser(t, h.db)
	ctx := context.Background()

	for _, text := range []string{"", "   ", strings.Repeat("a", 1001), "echo héllo", "ls\x00"} {
		_, err := h.gw.Submit(ctx, user.ID, text)
		testutil.RequireErrorIs(t, err, core.ErrValidation, "submit "+text)
	}
	_, err := h.gw.Submit(ctx, user.ID, strings.Repeat("a", 1000))
	testutil.RequireNoError(t, err, "text at the length limit")

	_, err = h.gw.Submit(ctx, 99999, "echo hi")
	testutil.RequireErrorIs(t, err, core.ErrNotFound, "unknown user")
}

func TestSubmit_ZeroBalanceCheckedBeforeRules(t *testing.T) {
	h := newHarness(t, testutil.SafeAssessor())
	user := testutil.MakeUser(t, h.db, testutil.WithCredits(0))
	testutil.MakeRule(t, h.db, "rm", db.ActionAutoReject)

	_, err := h.gw.Submit(context.Background(), user.ID, "rm x")
	testutil.RequireErrorIs(t, err, core.ErrQuotaExceeded, "submit")
	cmds, err := h.gw.ListUserCommands(context.Background(), user.ID, 10)
	testutil.RequireNoError(t, err, "list")
	testutil.RequireLen(t, cmds, 0, "no command recorded")
}

func TestSubmit_SideEffects(t *testing.T) {
	h := newHarness(t, testutil.SafeAssessor())
	user := testutil.MakeUser(t, h.db)

	_, err := h.gw.Submit(context.Background(), user.ID, "ls -la")
	testutil.RequireNoError(t, err, "submit")

	if !h.bus.has(notify.TopicAdmin, notify.EventCommandSubmitted) {
		t.Error("admin topic missed command_submitted")
	}
	if !h.bus.has(notify.UserTopic(user.ID), notify.EventCreditUpdate) {
		t.Error("user topic missed credit_update")
	}
	if !h.bus.has(notify.UserTopic(user.ID), notify.EventCommandStatus) {
		t.Error("user topic missed command_status")
	}
	if !contains(h.auditActions(t), db.AuditCommandExecuted) {
		t.Error("expected COMMAND_EXECUTED audit entry")
	}
}

type failingBus struct{}

func (failingBus) Publish(context.Context, string, notify.Event) error {
	return errors.New("bus down")
}

func TestSubmit_NotificationFailureDoesNotFailSubmit(t *testing.T) {
	logger, logs := testutil.CaptureLogger()
	h := newHarness(t, testutil.SafeAssessor(), func(o *core.Options) {
		o.Bus = failingBus{}
		o.Logger = logger
	})
	user := testutil.MakeUser(t, h.db)

	out, err := h.gw.Submit(context.Background(), user.ID, "ls")
	testutil.RequireNoError(t, err, "submit")
	testutil.RequireType[*core.Executed](t, out, "outcome")
	if !strings.Contains(logs.String(), "notification failed") {
		t.Errorf("expected logged notification failure, got %q", logs.String())
	}
}

func TestSubmit_ConcurrentSubmissionsNeverOverdraw(t *testing.T) {
	h := newHarness(t, testutil.SafeAssessor())
	user := testutil.MakeUser(t, h.db, testutil.WithCredits(5))

	const workers = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		executed int
		quota    int
		other    []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := h.gw.Submit(context.Background(), user.ID, "echo hi")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				if _, ok := out.(*core.Executed); ok {
					executed++
				}
			case errors.Is(err, core.ErrQuotaExceeded):
				quota++
			default:
				other = append(other, err)
			}
		}()
	}
	wg.Wait()

	if len(other) > 0 {
		t.Fatalf("unexpected errors: %v", other)
	}
	testutil.RequireEqual(t, 5, executed, "executed")
	testutil.RequireEqual(t, workers-5, quota, "quota errors")
	testutil.RequireEqual(t, int64(0), h.balance(t, user.ID), "balance")
}

func TestNewGateway_RejectsBadAllowedChars(t *testing.T) {
	store := testutil.NewTestDB(t)
	_, err := core.NewGateway(store, core.Options{AllowedChars: "[", Logger: testutil.TestLogger(t)})
	if err == nil {
		t.Fatal("expected error for uncompilable character class")
	}
	if _, err := core.NewGateway(nil, core.Options{}); err == nil {
		t.Fatal("expected error for nil store")
	}
}
