package testutil

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"testing"

	"github.com/Dicklesworthstone/cmdgate/internal/db"
)

// UserOption customizes a test user.
type UserOption func(*db.User)

// CommandOption customizes a test command.
type CommandOption func(*db.Command)

// MakeUser creates and inserts a member with 100 credits unless options say otherwise.
func MakeUser(t *testing.T, database *db.DB, opts ...UserOption) *db.User {
	t.Helper()

	u := &db.User{
		Name:    "user-" + randHex(4),
		Role:    db.RoleMember,
		Credits: 100,
	}
	for _, opt := range opts {
		opt(u)
	}
	RequireNoError(t, database.CreateUser(context.Background(), u), "create user")
	return u
}

// MakeAdmin creates and inserts an admin.
func MakeAdmin(t *testing.T, database *db.DB, opts ...UserOption) *db.User {
	t.Helper()
	return MakeUser(t, database, append([]UserOption{AsAdmin()}, opts...)...)
}

// MakeRule appends a rule to the policy.
func MakeRule(t *testing.T, database *db.DB, pattern string, action db.RuleAction) *db.Rule {
	t.Helper()

	r := &db.Rule{Pattern: pattern, Action: action}
	RequireNoError(t, database.CreateRule(context.Background(), r), "create rule")
	return r
}

// MakeCommand inserts a command directly, bypassing the lifecycle. The
// default is a pending command requiring two approvals.
func MakeCommand(t *testing.T, database *db.DB, user *db.User, opts ...CommandOption) *db.Command {
	t.Helper()

	c := &db.Command{
		UserID:            user.ID,
		Text:              "deploy --prod " + randHex(3),
		Status:            db.StatusPendingApproval,
		RequiredApprovals: 2,
	}
	for _, opt := range opts {
		opt(c)
	}
	err := database.WithTx(context.Background(), func(tx *db.Tx) error {
		return tx.InsertCommand(context.Background(), c)
	})
	RequireNoError(t, err, "insert command")
	return c
}

// AsAdmin gives the user the admin role.
func AsAdmin() UserOption {
	return func(u *db.User) { u.Role = db.RoleAdmin }
}

// WithCredits sets the starting balance.
func WithCredits(n int64) UserOption {
	return func(u *db.User) { u.Credits = n }
}

// WithName sets the user name.
func WithName(name string) UserOption {
	return func(u *db.User) { u.Name = name }
}

// WithAPIKey sets a fixed API key.
func WithAPIKey(key string) UserOption {
	return func(u *db.User) { u.APIKey = key }
}

// WithText sets the command text.
func WithText(text string) CommandOption {
	return func(c *db.Command) { c.Text = text }
}

// WithStatus sets the initial status.
func WithStatus(s db.CommandStatus) CommandOption {
	return func(c *db.Command) {
		c.Status = s
		c.CreditsDeducted = s == db.StatusExecuted
	}
}

// WithRequiredApprovals sets the approval threshold.
func WithRequiredApprovals(n int) CommandOption {
	return func(c *db.Command) { c.RequiredApprovals = n }
}

func randHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
