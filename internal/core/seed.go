package core

import (
	"context"
	"fmt"

	"github.com/Dicklesworthstone/cmdgate/internal/db"
)

// DefaultAdminCredits is the starting balance of the bootstrap admin.
const DefaultAdminCredits = 1000

// SeedRule is one entry of the starter policy.
type SeedRule struct {
	Pattern string
	Action  db.RuleAction
}

// DefaultRules is the starter policy. Reject rules come first so they win
// over the broader accept rules.
var DefaultRules = []SeedRule{
	{`rm\s+-rf\s+/`, db.ActionAutoReject},
	{`sudo\s+rm`, db.ActionAutoReject},
	{`dd\s+if=`, db.ActionAutoReject},
	{`mkfs\.|format\s+`, db.ActionAutoReject},
	{`shutdown|reboot`, db.ActionAutoReject},
	{`curl.*\|\s*sh`, db.ActionAutoReject},
	{`wget.*\|\s*sh`, db.ActionAutoReject},

	{`^ls(\s|$)`, db.ActionAutoAccept},
	{`^pwd(\s|$)`, db.ActionAutoAccept},
	{`^echo\s+`, db.ActionAutoAccept},
	{`^cat\s+[^|;&]+$`, db.ActionAutoAccept},
	{`^grep\s+`, db.ActionAutoAccept},
	{`^find\s+`, db.ActionAutoAccept},
	{`^ps(\s|$)`, db.ActionAutoAccept},
	{`^whoami(\s|$)`, db.ActionAutoAccept},
	{`^date(\s|$)`, db.ActionAutoAccept},
}

// InitResult reports what Initialize did.
type InitResult struct {
	Admin *db.User
	Rules []*db.Rule
	// AlreadyInitialized is set when an admin existed and nothing was created.
	AlreadyInitialized bool
}

// Initialize creates the bootstrap admin and the starter policy on an empty
// store. On a store that already has an admin it changes nothing.
func (g *Gateway) Initialize(ctx context.Context, adminName string, adminCredits int64) (*InitResult, error) {
	users, err := g.db.ListUsers(ctx)
	if err != nil {
		return nil, g.storeError("listing users", err)
	}
	for _, u := range users {
		if u.IsAdmin() {
			return &InitResult{Admin: u, AlreadyInitialized: true}, nil
		}
	}

	if adminName == "" {
		adminName = "Default Admin"
	}
	if adminCredits <= 0 {
		adminCredits = DefaultAdminCredits
	}
	admin, err := g.CreateUser(ctx, nil, NewUser{Name: adminName, Role: db.RoleAdmin, Credits: &adminCredits})
	if err != nil {
		return nil, fmt.Errorf("creating admin: %w", err)
	}

	res := &InitResult{Admin: admin}
	for _, sr := range DefaultRules {
		created, err := g.CreateRule(ctx, admin.ID, sr.Pattern, sr.Action)
		if err != nil {
			return nil, fmt.Errorf("seeding rule %q: %w", sr.Pattern, err)
		}
		res.Rules = append(res.Rules, created.Rule)
	}

	g.audit(context.WithoutCancel(ctx), &admin.ID, db.AuditSystemInitialized,
		"Database initialized with default admin and seed rules")
	g.logger.Info("gateway initialized", "admin", admin.Name, "rules", len(res.Rules))
	return res, nil
}
