package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/dlclark/regexp2"

	"github.com/Dicklesworthstone/cmdgate/internal/db"
	"github.com/Dicklesworthstone/cmdgate/internal/metrics"
	"github.com/Dicklesworthstone/cmdgate/internal/notify"
	"github.com/Dicklesworthstone/cmdgate/internal/risk"
	"github.com/Dicklesworthstone/cmdgate/internal/utils"
)

// Policy defaults.
const (
	DefaultMaxCommandLength  = 1000
	DefaultRequiredApprovals = 2
	DefaultApprovalThreshold = 6
	DefaultAllowedChars      = `^[a-zA-Z0-9\s\-_./\\:@#$%^&*()+=\[\]{}|;,<>?~` + "`" + `"']+$`
)

const maxAuditText = 200

// Options configure a Gateway. Zero values fall back to the defaults above.
type Options struct {
	MaxCommandLength  int
	AllowedChars      string
	RequiredApprovals int
	// ApprovalThreshold is the lowest risk score that sends a flagged
	// command to approval.
	ApprovalThreshold   int
	AllowDuplicateVotes bool
	AllowSelfApproval   bool
	// DefaultCredits is the balance of users created without one.
	DefaultCredits int64

	Assessor *risk.Guard
	Bus      notify.Bus
	Metrics  metrics.Metrics
	Logger   *log.Logger
}

// Gateway authorizes submitted commands and coordinates admin approvals.
type Gateway struct {
	db      *db.DB
	ledger  *Ledger
	guard   *risk.Guard
	bus     notify.Bus
	metrics metrics.Metrics
	logger  *log.Logger
	allowed *regexp2.Regexp
	opts    Options
}

// NewGateway returns a gateway over store.
func NewGateway(store *db.DB, opts Options) (*Gateway, error) {
	if store == nil {
		return nil, errors.New("gateway requires a store")
	}
	if opts.MaxCommandLength <= 0 {
		opts.MaxCommandLength = DefaultMaxCommandLength
	}
	if opts.AllowedChars == "" {
		opts.AllowedChars = DefaultAllowedChars
	}
	if opts.RequiredApprovals <= 0 {
		opts.RequiredApprovals = DefaultRequiredApprovals
	}
	if opts.ApprovalThreshold <= 0 {
		opts.ApprovalThreshold = DefaultApprovalThreshold
	}
	if opts.DefaultCredits <= 0 {
		opts.DefaultCredits = DefaultCredits
	}
	if opts.Logger == nil {
		opts.Logger = utils.WithPrefix("gateway")
	}
	if opts.Bus == nil {
		opts.Bus = notify.Noop{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}
	if opts.Assessor == nil {
		opts.Assessor = risk.NewGuard(risk.NewHeuristic(), risk.GuardOptions{Logger: opts.Logger})
	}

	allowed, err := regexp2.Compile(opts.AllowedChars, regexp2.None)
	if err != nil {
		return nil, fmt.Errorf("compiling allowed command characters: %w", err)
	}
	allowed.MatchTimeout = DefaultMatchTimeout

	return &Gateway{
		db:      store,
		ledger:  NewLedger(store),
		guard:   opts.Assessor,
		bus:     opts.Bus,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		allowed: allowed,
		opts:    opts,
	}, nil
}

// Ledger returns the gateway's credit ledger.
func (g *Gateway) Ledger() *Ledger { return g.ledger }

// Store returns the underlying store.
func (g *Gateway) Store() *db.DB { return g.db }

// Submit runs one command through validation, the rule policy, risk
// assessment and, when allowed, the charge-and-execute step.
func (g *Gateway) Submit(ctx context.Context, userID int64, text string) (Submission, error) {
	if err := g.checkText(text); err != nil {
		g.metrics.IncSubmission("invalid")
		return nil, err
	}

	user, err := g.db.GetUser(ctx, userID)
	if err != nil {
		return nil, g.storeError("loading user", err)
	}
	if user.Credits <= 0 {
		g.metrics.IncSubmission("quota")
		return nil, fmt.Errorf("%w: user %d has no credits left", ErrQuotaExceeded, userID)
	}

	rules, err := g.db.ListRulesOrdered(ctx)
	if err != nil {
		return nil, g.storeError("loading rules", err)
	}
	rule := MatchRule(text, rules)

	cmd := &db.Command{UserID: userID, Text: text, RequiredApprovals: g.opts.RequiredApprovals}
	if rule != nil {
		id := rule.ID
		cmd.MatchedRuleID = &id
	}

	if rule != nil && rule.Action == db.ActionAutoReject {
		cmd.Status = db.StatusRejected
		cmd.RiskAnalysis = fmt.Sprintf("Blocked by rule #%d (%s)", rule.ID, rule.Pattern)
		if err := g.insert(ctx, cmd); err != nil {
			return nil, g.storeError("recording rejected command", err)
		}
		g.afterSubmit(ctx, user, cmd, user.Credits, db.AuditCommandRejected,
			fmt.Sprintf("Command rejected by rule %d: %s", rule.ID, auditText(text)))
		return &Rejected{Command: cmd, Rule: rule}, nil
	}

	// No transaction is open here; the oracle may block up to its timeout.
	verdict := g.assess(ctx, text)
	cmd.RiskScore = verdict.RiskScore
	cmd.RiskAnalysis = verdict.Analysis

	if verdict.RequiresApproval && verdict.RiskScore >= g.opts.ApprovalThreshold {
		cmd.Status = db.StatusPendingApproval
		if err := g.insert(ctx, cmd); err != nil {
			return nil, g.storeError("recording pending command", err)
		}
		g.afterSubmit(ctx, user, cmd, user.Credits, db.AuditCommandPendingApproval,
			fmt.Sprintf("Command requires approval (AI risk score: %d): %s", verdict.RiskScore, auditText(text)))
		return &PendingApproval{Command: cmd, Rule: rule, Verdict: verdict, CreditsRemaining: user.Credits}, nil
	}

	cmd.Status = db.StatusExecuted
	cmd.CreditsDeducted = true
	var remaining int64
	err = g.db.WithTx(ctx, func(tx *db.Tx) error {
		var err error
		if remaining, err = g.ledger.Charge(ctx, tx, userID); err != nil {
			return err
		}
		return tx.InsertCommand(ctx, cmd)
	})
	if err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			g.metrics.IncSubmission("quota")
			return nil, err
		}
		return nil, g.storeError("charging and recording command", err)
	}

	exec := Simulate(text)
	g.afterSubmit(ctx, user, cmd, remaining, db.AuditCommandExecuted,
		fmt.Sprintf("Command executed (AI approved, risk score: %d): %s", verdict.RiskScore, auditText(text)))
	return &Executed{Command: cmd, Rule: rule, Verdict: verdict, Execution: exec, CreditsRemaining: remaining}, nil
}

func (g *Gateway) checkText(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: command text required", ErrValidation)
	}
	if n := utf8.RuneCountInString(text); n > g.opts.MaxCommandLength {
		return fmt.Errorf("%w: command too long (%d > %d characters)", ErrValidation, n, g.opts.MaxCommandLength)
	}
	if ok, err := g.allowed.MatchString(text); err != nil || !ok {
		return fmt.Errorf("%w: command contains invalid characters", ErrValidation)
	}
	return nil
}

func (g *Gateway) assess(ctx context.Context, text string) risk.Verdict {
	start := time.Now()
	v := g.guard.Assess(ctx, text)
	g.metrics.ObserveAssessment(time.Since(start).Seconds(), v.Degraded)
	return v
}

func (g *Gateway) insert(ctx context.Context, cmd *db.Command) error {
	return g.db.WithTx(ctx, func(tx *db.Tx) error {
		return tx.InsertCommand(ctx, cmd)
	})
}

func (g *Gateway) afterSubmit(ctx context.Context, user *db.User, cmd *db.Command, credits int64, action, details string) {
	ctx = context.WithoutCancel(ctx)
	g.metrics.IncSubmission(strings.ToLower(string(cmd.Status)))
	g.logger.Info("command submitted", "command_id", cmd.ID, "user", user.Name, "status", cmd.Status, "risk_score", cmd.RiskScore)

	g.audit(ctx, &user.ID, action, details)

	used := 0
	if cmd.CreditsDeducted {
		used = 1
	}
	g.publish(ctx, notify.TopicAdmin, notify.EventCommandSubmitted, map[string]any{
		"command_id":   cmd.ID,
		"user_name":    user.Name,
		"command":      cmd.Text,
		"status":       cmd.Status,
		"credits_used": used,
	})
	g.publish(ctx, notify.UserTopic(user.ID), notify.EventCommandStatus, map[string]any{
		"command_id": cmd.ID,
		"status":     cmd.Status,
	})
	g.publish(ctx, notify.UserTopic(user.ID), notify.EventCreditUpdate, map[string]any{
		"credits": credits,
	})
}

// audit records an entry after commit. Failures are logged and dropped.
func (g *Gateway) audit(ctx context.Context, actorID *int64, action, details string) {
	if err := g.db.RecordAudit(ctx, actorID, action, details); err != nil {
		g.metrics.IncNotifyError("audit")
		g.logger.Warn("audit write failed", "action", action, "error", err)
	}
}

func (g *Gateway) publish(ctx context.Context, topic, eventType string, data any) {
	if err := g.bus.Publish(ctx, topic, notify.NewEvent(eventType, data)); err != nil {
		g.metrics.IncNotifyError("bus")
		g.logger.Warn("notification failed", "topic", topic, "event", eventType, "error", err)
	}
}

// storeError maps store failures onto the gateway's error kinds. Errors that
// already carry a kind pass through; anything else is logged and reported as
// ErrInternal without detail.
func (g *Gateway) storeError(op string, err error) error {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrQuotaExceeded), errors.Is(err, ErrNotFound),
		errors.Is(err, ErrStateConflict), errors.Is(err, ErrForbidden), errors.Is(err, ErrInternal):
		return err
	case errors.Is(err, db.ErrUserNotFound), errors.Is(err, db.ErrCommandNotFound), errors.Is(err, db.ErrRuleNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, db.ErrStatusChanged):
		return fmt.Errorf("%w: %v", ErrStateConflict, err)
	case errors.Is(err, db.ErrUserExists):
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	g.logger.Error("store failure", "op", op, "error", err)
	return fmt.Errorf("%w: %s", ErrInternal, op)
}

func auditText(s string) string {
	return utils.Truncate(utils.SanitizeInput(s), maxAuditText)
}
