package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Dicklesworthstone/cmdgate/internal/core"
	"github.com/Dicklesworthstone/cmdgate/internal/db"
	"github.com/Dicklesworthstone/cmdgate/internal/output"
)

const textTimeLayout = "2006-01-02 15:04:05"

// outcomeView is the rendered result of a submission or a decision.
type outcomeView struct {
	Status    db.CommandStatus `json:"status"`
	CommandID int64            `json:"command_id"`
	Message   string           `json:"message"`
	Outcome   any              `json:"outcome"`
}

func submissionView(sub core.Submission) outcomeView {
	cmd := sub.Record()
	v := outcomeView{Status: cmd.Status, CommandID: cmd.ID, Outcome: sub}
	switch o := sub.(type) {
	case *core.Rejected:
		v.Message = "Command blocked by rule"
		if o.Rule != nil {
			v.Message = fmt.Sprintf("Command blocked by rule #%d (%s)", o.Rule.ID, o.Rule.Pattern)
		}
	case *core.PendingApproval:
		v.Message = fmt.Sprintf("Command requires admin approval (risk %d/10)", o.Verdict.RiskScore)
	case *core.Executed:
		v.Message = fmt.Sprintf("Command executed, %d credits remaining", o.CreditsRemaining)
	}
	return v
}

func decisionView(d core.Decision) outcomeView {
	cmd := d.Record()
	v := outcomeView{Status: cmd.Status, CommandID: cmd.ID, Outcome: d}
	switch o := d.(type) {
	case *core.DecisionRejected:
		v.Message = "Command rejected"
		if o.InsufficientCredits {
			v.Message = "Command rejected: owner has insufficient credits"
		}
	case *core.DecisionPending:
		v.Message = "Approval recorded (" + o.Progress() + ")"
	case *core.DecisionExecuted:
		v.Message = "Command approved and executed"
	}
	return v
}

func (v outcomeView) Text(s *output.Styles) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s #%d %s", s.Badge(string(v.Status)), v.CommandID, v.Message)

	var exec *core.Execution
	var analysis string
	switch o := v.Outcome.(type) {
	case *core.Executed:
		exec = &o.Execution
		analysis = o.Verdict.Analysis
	case *core.PendingApproval:
		analysis = o.Verdict.Analysis
	case *core.DecisionExecuted:
		exec = &o.Execution
		fmt.Fprintf(&b, "\n  %s %d credits remaining", s.Label.Render("balance:"), o.CreditsRemaining)
	case *core.DecisionRejected:
		if o.Reason != "" {
			fmt.Fprintf(&b, "\n  %s %s", s.Label.Render("reason:"), o.Reason)
		}
	}
	if analysis != "" {
		fmt.Fprintf(&b, "\n  %s %s", s.Label.Render("risk:"), analysis)
	}
	if exec != nil {
		fmt.Fprintf(&b, "\n  %s %s", s.Label.Render("output:"), exec.Output)
	}
	return b.String()
}

type rulesView []*db.Rule

func (v rulesView) Text(s *output.Styles) string {
	if len(v) == 0 {
		return s.Muted.Render("No rules configured")
	}
	rows := make([][]string, 0, len(v))
	for _, r := range v {
		rows = append(rows, []string{
			strconv.FormatInt(r.OrderIndex, 10),
			strconv.FormatInt(r.ID, 10),
			s.Badge(string(r.Action)),
			r.Pattern,
		})
	}
	return s.Table([]string{"ORDER", "ID", "ACTION", "PATTERN"}, rows)
}

type validationView core.ValidationReport

func (v validationView) Text(s *output.Styles) string {
	var b strings.Builder
	if v.Valid {
		b.WriteString(s.Good.Render("✓ pattern is valid"))
	} else {
		b.WriteString(s.Bad.Render("✗ " + v.Error))
	}
	for _, hint := range v.Suggestions {
		b.WriteString("\n  " + s.Muted.Render("- "+hint))
	}
	return b.String()
}

type conflictView core.ConflictReport

func (v conflictView) Text(s *output.Styles) string {
	if !v.HasConflicts {
		var b strings.Builder
		b.WriteString(s.Good.Render("✓ no conflicts"))
		for _, w := range v.Warnings {
			b.WriteString("\n  " + s.Warn.Render(w))
		}
		return b.String()
	}
	rows := make([][]string, 0, len(v.Conflicts))
	for _, c := range v.Conflicts {
		rows = append(rows, []string{
			strconv.FormatInt(c.RuleID, 10),
			s.Severity(string(c.Severity)),
			string(c.Type),
			c.ExistingPattern,
			c.Description,
		})
	}
	var b strings.Builder
	b.WriteString(s.Table([]string{"RULE", "SEVERITY", "TYPE", "PATTERN", "DESCRIPTION"}, rows))
	for _, w := range v.Warnings {
		b.WriteString("\n" + s.Warn.Render("! "+w))
	}
	for _, hint := range v.Suggestions {
		b.WriteString("\n" + s.Muted.Render("- "+hint))
	}
	return b.String()
}

type ruleCreatedView core.RuleCreated

func (v ruleCreatedView) Text(s *output.Styles) string {
	msg := s.Good.Render("✓") + fmt.Sprintf(" rule #%d created at position %d: %s %s",
		v.Rule.ID, v.Rule.OrderIndex, s.Badge(string(v.Rule.Action)), v.Rule.Pattern)
	if v.Warning != "" {
		msg += "\n" + s.Warn.Render("! "+v.Warning)
	}
	return msg
}

type pendingView []*db.PendingCommand

func (v pendingView) Text(s *output.Styles) string {
	if len(v) == 0 {
		return s.Muted.Render("No pending commands")
	}
	rows := make([][]string, 0, len(v))
	for _, c := range v {
		rows = append(rows, []string{
			strconv.FormatInt(c.ID, 10),
			c.UserName,
			fmt.Sprintf("%d/%d", c.ApprovalCount, c.RequiredApprovals),
			strconv.Itoa(c.RiskScore),
			c.Text,
			c.CreatedAt.Local().Format(textTimeLayout),
		})
	}
	return s.Table([]string{"ID", "USER", "VOTES", "RISK", "COMMAND", "SUBMITTED"}, rows)
}

type commandsView []*db.Command

func (v commandsView) Text(s *output.Styles) string {
	if len(v) == 0 {
		return s.Muted.Render("No commands")
	}
	rows := make([][]string, 0, len(v))
	for _, c := range v {
		rows = append(rows, []string{
			strconv.FormatInt(c.ID, 10),
			s.Badge(string(c.Status)),
			strconv.Itoa(c.RiskScore),
			c.Text,
			c.CreatedAt.Local().Format(textTimeLayout),
		})
	}
	return s.Table([]string{"ID", "STATUS", "RISK", "COMMAND", "SUBMITTED"}, rows)
}

type votesView []*db.ApprovalVote

func (v votesView) Text(s *output.Styles) string {
	if len(v) == 0 {
		return s.Muted.Render("No votes")
	}
	rows := make([][]string, 0, len(v))
	for _, vote := range v {
		decision := s.Badge("APPROVED")
		if !vote.Approved {
			decision = s.Badge("REJECTED")
		}
		rows = append(rows, []string{
			strconv.FormatInt(vote.AdminID, 10),
			decision,
			vote.Reason,
			vote.CreatedAt.Local().Format(textTimeLayout),
		})
	}
	return s.Table([]string{"ADMIN", "DECISION", "REASON", "AT"}, rows)
}

type auditView []*db.AuditEntry

func (v auditView) Text(s *output.Styles) string {
	if len(v) == 0 {
		return s.Muted.Render("No audit entries")
	}
	rows := make([][]string, 0, len(v))
	for _, e := range v {
		actor := e.ActorName
		if actor == "" {
			actor = "system"
		}
		rows = append(rows, []string{
			e.CreatedAt.Local().Format(textTimeLayout),
			actor,
			e.Action,
			e.Details,
		})
	}
	return s.Table([]string{"AT", "ACTOR", "ACTION", "DETAILS"}, rows)
}

type usersView []*db.User

func (v usersView) Text(s *output.Styles) string {
	rows := make([][]string, 0, len(v))
	for _, u := range v {
		rows = append(rows, []string{
			strconv.FormatInt(u.ID, 10),
			u.Name,
			string(u.Role),
			strconv.FormatInt(u.Credits, 10),
		})
	}
	return s.Table([]string{"ID", "NAME", "ROLE", "CREDITS"}, rows)
}

// userKeyView shows a user together with its API key. It is only rendered
// right after the key is issued.
type userKeyView struct {
	*db.User
	APIKey string `json:"api_key,omitempty"`
}

func newUserKeyView(u *db.User) userKeyView {
	return userKeyView{User: u, APIKey: u.APIKey}
}

func (v userKeyView) Text(s *output.Styles) string {
	return fmt.Sprintf("%s user #%d %s (%s, %d credits)\n  %s %s\n  %s",
		s.Good.Render("✓"), v.ID, v.Name, v.Role, v.Credits,
		s.Label.Render("api key:"), v.APIKey,
		s.Muted.Render("Store this key now; it is not shown again."))
}

type analyticsView db.Analytics

func (v analyticsView) Text(s *output.Styles) string {
	var b strings.Builder
	d := v.Daily
	fmt.Fprintf(&b, "%s since %s\n", s.Title.Render("Activity"), v.Since.Local().Format(textTimeLayout))
	fmt.Fprintf(&b, "  %s %d  %s %d  %s %d  %s %d  %s %d\n",
		s.Label.Render("total"), d.Total,
		s.Label.Render("executed"), d.Executed,
		s.Label.Render("rejected"), d.Rejected,
		s.Label.Render("pending"), d.Pending,
		s.Label.Render("credits"), d.CreditsUsed)

	if len(v.TopCommands) > 0 {
		rows := make([][]string, 0, len(v.TopCommands))
		for _, c := range v.TopCommands {
			rows = append(rows, []string{strconv.Itoa(c.Count), s.Badge(string(c.Status)), c.Text})
		}
		b.WriteString(s.Table([]string{"COUNT", "STATUS", "COMMAND"}, rows) + "\n")
	}
	if len(v.UserActivity) > 0 {
		rows := make([][]string, 0, len(v.UserActivity))
		for _, u := range v.UserActivity {
			rows = append(rows, []string{u.Name, strconv.Itoa(u.Count)})
		}
		b.WriteString(s.Table([]string{"USER", "COMMANDS"}, rows))
	}
	return strings.TrimRight(b.String(), "\n")
}

type keyValue struct {
	Path  string `json:"path,omitempty"`
	Key   string `json:"key"`
	Value any    `json:"value"`
}

func (kv keyValue) Text(s *output.Styles) string {
	line := fmt.Sprintf("%s = %v", s.Label.Render(kv.Key), kv.Value)
	if kv.Path != "" {
		line += s.Muted.Render("  (" + kv.Path + ")")
	}
	return line
}
