package db

import "time"

// Role is a user's authority level.
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleMember || r == RoleAdmin
}

// RuleAction is what happens to a command matched by a rule.
type RuleAction string

const (
	ActionAutoAccept RuleAction = "AUTO_ACCEPT"
	ActionAutoReject RuleAction = "AUTO_REJECT"
)

// Valid reports whether a is a known rule action.
func (a RuleAction) Valid() bool {
	return a == ActionAutoAccept || a == ActionAutoReject
}

// CommandStatus is a command's lifecycle state.
type CommandStatus string

const (
	StatusRejected        CommandStatus = "REJECTED"
	StatusPendingApproval CommandStatus = "PENDING_APPROVAL"
	StatusExecuted        CommandStatus = "EXECUTED"
)

// Terminal reports whether no further transition is allowed from s.
func (s CommandStatus) Terminal() bool {
	return s == StatusRejected || s == StatusExecuted
}

// User is a principal that submits commands or decides on them.
type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	APIKey    string    `json:"-"`
	Credits   int64     `json:"credits"`
	CreatedAt time.Time `json:"created_at"`
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// Rule is one ordered entry of the pattern policy.
type Rule struct {
	ID         int64      `json:"id"`
	Pattern    string     `json:"pattern"`
	Action     RuleAction `json:"action"`
	OrderIndex int64      `json:"order_index"`
	CreatedBy  *int64     `json:"created_by,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Command is one submission and its lifecycle state.
type Command struct {
	ID                int64         `json:"id"`
	UserID            int64         `json:"user_id"`
	Text              string        `json:"command_text"`
	Status            CommandStatus `json:"status"`
	MatchedRuleID     *int64        `json:"matched_rule_id,omitempty"`
	RiskScore         int           `json:"risk_score"`
	RiskAnalysis      string        `json:"risk_analysis,omitempty"`
	ApprovalCount     int           `json:"approval_count"`
	RequiredApprovals int           `json:"required_approvals"`
	CreditsDeducted   bool          `json:"credits_deducted"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// PendingCommand is a pending command joined with its submitter's name.
type PendingCommand struct {
	Command
	UserName string `json:"user_name"`
}

// ApprovalVote is one admin decision on a pending command.
type ApprovalVote struct {
	ID        int64     `json:"id"`
	CommandID int64     `json:"command_id"`
	AdminID   int64     `json:"admin_id"`
	Approved  bool      `json:"approved"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AuditEntry is one append-only audit record.
type AuditEntry struct {
	ID        int64     `json:"id"`
	ActorID   *int64    `json:"user_id,omitempty"`
	ActorName string    `json:"user_name,omitempty"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
	CreatedAt time.Time `json:"created_at"`
}
