package core

import (
	"strconv"

	"github.com/Dicklesworthstone/cmdgate/internal/db"
	"github.com/Dicklesworthstone/cmdgate/internal/risk"
)

// Submission is the outcome of Gateway.Submit. It is one of *Rejected,
// *PendingApproval or *Executed.
type Submission interface {
	Record() *db.Command
	submission()
}

// Rejected means an AUTO_REJECT rule matched. No credit was charged.
type Rejected struct {
	Command *db.Command `json:"command"`
	Rule    *db.Rule    `json:"matched_rule"`
}

// PendingApproval means the risk verdict requires admin approval.
type PendingApproval struct {
	Command          *db.Command  `json:"command"`
	Rule             *db.Rule     `json:"matched_rule,omitempty"`
	Verdict          risk.Verdict `json:"ai_analysis"`
	CreditsRemaining int64        `json:"credits_remaining"`
}

// Executed means the command ran (simulated) and one credit was charged.
type Executed struct {
	Command          *db.Command  `json:"command"`
	Rule             *db.Rule     `json:"matched_rule,omitempty"`
	Verdict          risk.Verdict `json:"ai_analysis"`
	Execution        Execution    `json:"execution"`
	CreditsRemaining int64        `json:"credits_remaining"`
}

func (r *Rejected) Record() *db.Command        { return r.Command }
func (p *PendingApproval) Record() *db.Command { return p.Command }
func (e *Executed) Record() *db.Command        { return e.Command }

func (*Rejected) submission()        {}
func (*PendingApproval) submission() {}
func (*Executed) submission()        {}

// Decision is the outcome of Gateway.Decide. It is one of *DecisionRejected,
// *DecisionPending or *DecisionExecuted.
type Decision interface {
	Record() *db.Command
	decision()
}

// DecisionRejected means the command is now REJECTED, either by an admin vote
// or because the owner ran out of credits before the quorum was reached.
type DecisionRejected struct {
	Command             *db.Command `json:"command"`
	Reason              string      `json:"reason"`
	InsufficientCredits bool        `json:"insufficient_credits"`
}

// DecisionPending means the vote was counted but the quorum is not reached.
type DecisionPending struct {
	Command         *db.Command `json:"command"`
	Approvals       int         `json:"approvals"`
	ApprovalsNeeded int         `json:"approvals_needed"`
}

// Progress renders the tally as "approvals/required".
func (d *DecisionPending) Progress() string {
	required := d.Approvals + d.ApprovalsNeeded
	if d.Command != nil {
		required = d.Command.RequiredApprovals
	}
	return strconv.Itoa(d.Approvals) + "/" + strconv.Itoa(required)
}

// DecisionExecuted means the quorum was reached and the command ran.
type DecisionExecuted struct {
	Command          *db.Command `json:"command"`
	Approvals        int         `json:"approvals"`
	Execution        Execution   `json:"execution"`
	CreditsRemaining int64       `json:"credits_remaining"`
}

func (d *DecisionRejected) Record() *db.Command { return d.Command }
func (d *DecisionPending) Record() *db.Command  { return d.Command }
func (d *DecisionExecuted) Record() *db.Command { return d.Command }

func (*DecisionRejected) decision() {}
func (*DecisionPending) decision()  {}
func (*DecisionExecuted) decision() {}
