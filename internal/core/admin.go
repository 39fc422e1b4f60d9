package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Dicklesworthstone/cmdgate/internal/db"
	"github.com/Dicklesworthstone/cmdgate/internal/notify"
)

// DefaultCredits is the balance given to users created without one.
const DefaultCredits = 100

const (
	defaultListLimit  = 50
	defaultAuditLimit = 100
	analyticsTopN     = 10
)

// RuleCreated is the result of CreateRule. Conflicts never block creation.
type RuleCreated struct {
	Rule      *db.Rule       `json:"rule"`
	Conflicts ConflictReport `json:"conflicts"`
	Warning   string         `json:"warning,omitempty"`
}

// NewUser describes a user to create. A nil Credits gets the gateway's
// default balance.
type NewUser struct {
	Name    string
	Role    db.Role
	Credits *int64
}

// Authenticate resolves an API key to its user.
func (g *Gateway) Authenticate(ctx context.Context, apiKey string) (*db.User, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, ErrUnauthorized
	}
	u, err := g.db.GetUserByAPIKey(ctx, apiKey)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, g.storeError("authenticating", err)
	}
	return u, nil
}

func (g *Gateway) requireAdmin(ctx context.Context, userID int64) (*db.User, error) {
	u, err := g.db.GetUser(ctx, userID)
	if err != nil {
		return nil, g.storeError("loading user", err)
	}
	if !u.IsAdmin() {
		return nil, fmt.Errorf("%w: admin role required", ErrForbidden)
	}
	return u, nil
}

// ValidatePattern checks pattern without touching the store.
func (g *Gateway) ValidatePattern(pattern string) ValidationReport {
	return ValidatePattern(pattern)
}

// CheckConflicts compares a candidate rule with the current policy.
func (g *Gateway) CheckConflicts(ctx context.Context, pattern string, action db.RuleAction) (ConflictReport, error) {
	if !action.Valid() {
		return ConflictReport{}, fmt.Errorf("%w: invalid action %q", ErrValidation, action)
	}
	rules, err := g.db.ListRulesOrdered(ctx)
	if err != nil {
		return ConflictReport{}, g.storeError("loading rules", err)
	}
	return DetectConflicts(pattern, action, rules), nil
}

// CreateRule validates pattern, reports conflicts and appends the rule to the
// end of the policy.
func (g *Gateway) CreateRule(ctx context.Context, creatorID int64, pattern string, action db.RuleAction) (*RuleCreated, error) {
	if _, err := g.requireAdmin(ctx, creatorID); err != nil {
		return nil, err
	}
	if !action.Valid() {
		return nil, fmt.Errorf("%w: invalid action %q", ErrValidation, action)
	}
	if report := ValidatePattern(pattern); !report.Valid {
		return nil, fmt.Errorf("%w: %s", ErrValidation, report.Error)
	}

	conflicts, err := g.CheckConflicts(ctx, pattern, action)
	if err != nil {
		return nil, err
	}

	rule := &db.Rule{Pattern: pattern, Action: action, CreatedBy: &creatorID}
	if err := g.db.CreateRule(ctx, rule); err != nil {
		return nil, g.storeError("creating rule", err)
	}

	out := &RuleCreated{Rule: rule, Conflicts: conflicts}
	actx := context.WithoutCancel(ctx)
	if conflicts.HasConflicts {
		g.audit(actx, &creatorID, db.AuditRuleConflictWarning,
			fmt.Sprintf("Rule created with conflicts: %s -> %s. Conflicts: %d", pattern, action, len(conflicts.Conflicts)))
		if n := conflicts.HighSeverityCount(); n > 0 {
			out.Warning = fmt.Sprintf("Rule created with %d high-severity conflicts", n)
		}
	}
	g.audit(actx, &creatorID, db.AuditRuleCreated, fmt.Sprintf("Rule created: %s -> %s", pattern, action))
	g.logger.Info("rule created", "rule_id", rule.ID, "order", rule.OrderIndex, "action", action, "conflicts", len(conflicts.Conflicts))
	return out, nil
}

// CreateUser adds a user with a fresh API key. actorID is nil for bootstrap;
// otherwise the actor must be an admin.
func (g *Gateway) CreateUser(ctx context.Context, actorID *int64, nu NewUser) (*db.User, error) {
	if actorID != nil {
		if _, err := g.requireAdmin(ctx, *actorID); err != nil {
			return nil, err
		}
	}
	name := strings.TrimSpace(nu.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if !nu.Role.Valid() {
		return nil, fmt.Errorf("%w: invalid role %q", ErrValidation, nu.Role)
	}
	credits := g.opts.DefaultCredits
	if nu.Credits != nil {
		credits = *nu.Credits
	}
	if credits < 0 {
		return nil, fmt.Errorf("%w: credits cannot be negative", ErrValidation)
	}

	key, err := db.GenerateAPIKey()
	if err != nil {
		return nil, g.storeError("generating api key", err)
	}
	u := &db.User{Name: name, Role: nu.Role, APIKey: key, Credits: credits}
	if err := g.db.CreateUser(ctx, u); err != nil {
		return nil, g.storeError("creating user", err)
	}

	actx := context.WithoutCancel(ctx)
	g.audit(actx, &u.ID, db.AuditUserCreated, fmt.Sprintf("User %s created with role %s", u.Name, u.Role))
	if actorID != nil {
		g.audit(actx, actorID, db.AuditUserCreatedByAdmin, fmt.Sprintf("Created user %s", u.Name))
	}
	return u, nil
}

// UpdateCredits sets a user's balance.
func (g *Gateway) UpdateCredits(ctx context.Context, adminID, userID, credits int64) error {
	if _, err := g.requireAdmin(ctx, adminID); err != nil {
		return err
	}
	previous, err := g.ledger.SetBalance(ctx, userID, credits)
	if err != nil {
		return g.storeError("updating credits", err)
	}
	actx := context.WithoutCancel(ctx)
	g.audit(actx, &adminID, db.AuditCreditsUpdated, fmt.Sprintf("Updated user %d credits from %d to %d", userID, previous, credits))
	g.publish(actx, notify.UserTopic(userID), notify.EventCreditUpdate, map[string]any{"credits": credits})
	return nil
}

// ListRules returns the policy in evaluation order.
func (g *Gateway) ListRules(ctx context.Context) ([]*db.Rule, error) {
	rules, err := g.db.ListRulesOrdered(ctx)
	if err != nil {
		return nil, g.storeError("listing rules", err)
	}
	return rules, nil
}

// ListUserCommands returns a user's most recent commands, newest first.
func (g *Gateway) ListUserCommands(ctx context.Context, userID int64, limit int) ([]*db.Command, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	cmds, err := g.db.ListUserCommands(ctx, userID, limit)
	if err != nil {
		return nil, g.storeError("listing commands", err)
	}
	return cmds, nil
}

// ListPending returns commands awaiting approval, oldest first.
func (g *Gateway) ListPending(ctx context.Context) ([]*db.PendingCommand, error) {
	cmds, err := g.db.ListPendingCommands(ctx)
	if err != nil {
		return nil, g.storeError("listing pending commands", err)
	}
	return cmds, nil
}

// ListVotes returns the votes cast on a command.
func (g *Gateway) ListVotes(ctx context.Context, commandID int64) ([]*db.ApprovalVote, error) {
	votes, err := g.db.ListVotes(ctx, commandID)
	if err != nil {
		return nil, g.storeError("listing votes", err)
	}
	return votes, nil
}

// ListAudit returns the newest audit entries.
func (g *Gateway) ListAudit(ctx context.Context, limit int) ([]*db.AuditEntry, error) {
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	entries, err := g.db.ListAudit(ctx, limit)
	if err != nil {
		return nil, g.storeError("listing audit log", err)
	}
	return entries, nil
}

// Analytics summarizes today's activity (UTC).
func (g *Gateway) Analytics(ctx context.Context) (*db.Analytics, error) {
	now := time.Now().UTC()
	since := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	a, err := g.db.Analytics(ctx, since, analyticsTopN)
	if err != nil {
		return nil, g.storeError("computing analytics", err)
	}
	return a, nil
}
