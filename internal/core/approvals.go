package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Dicklesworthstone/cmdgate/internal/db"
	"github.com/Dicklesworthstone/cmdgate/internal/notify"
)

const reasonInsufficientCredits = "User has insufficient credits"

// Decide records one admin vote on a pending command. The vote, the tally and
// any threshold-triggered charge and transition commit together.
//
// When the quorum is reached but the owner has no credits left, the command
// is committed as REJECTED and the returned error wraps ErrQuotaExceeded
// alongside a *DecisionRejected.
func (g *Gateway) Decide(ctx context.Context, commandID, adminID int64, approved bool, reason string) (Decision, error) {
	admin, err := g.db.GetUser(ctx, adminID)
	if err != nil {
		return nil, g.storeError("loading admin", err)
	}
	if !admin.IsAdmin() {
		return nil, fmt.Errorf("%w: user %d is not an admin", ErrForbidden, adminID)
	}
	reason = strings.TrimSpace(reason)

	var (
		decision  Decision
		remaining int64
		quotaErr  error
	)
	err = g.db.WithTx(ctx, func(tx *db.Tx) error {
		decision, remaining, quotaErr = nil, 0, nil

		cmd, err := tx.GetCommand(ctx, commandID)
		if err != nil {
			return err
		}
		if cmd.Status != db.StatusPendingApproval {
			return fmt.Errorf("%w: command %d is %s", ErrStateConflict, commandID, cmd.Status)
		}
		if !g.opts.AllowSelfApproval && cmd.UserID == adminID {
			return fmt.Errorf("%w: admins cannot vote on their own commands", ErrForbidden)
		}
		if !g.opts.AllowDuplicateVotes {
			voted, err := tx.HasVoted(ctx, commandID, adminID)
			if err != nil {
				return err
			}
			if voted {
				return fmt.Errorf("%w: admin %d already voted on command %d", ErrStateConflict, adminID, commandID)
			}
		}

		if err := tx.InsertVote(ctx, &db.ApprovalVote{
			CommandID: commandID,
			AdminID:   adminID,
			Approved:  approved,
			Reason:    reason,
		}); err != nil {
			return err
		}

		if !approved {
			if err := tx.UpdateCommandStatus(ctx, commandID, db.StatusPendingApproval, db.StatusRejected); err != nil {
				return err
			}
			if cmd, err = tx.GetCommand(ctx, commandID); err != nil {
				return err
			}
			decision = &DecisionRejected{Command: cmd, Reason: reason}
			return nil
		}

		count, err := tx.CountApprovals(ctx, commandID)
		if err != nil {
			return err
		}
		if err := tx.SetApprovalCount(ctx, commandID, count); err != nil {
			return err
		}

		if count < cmd.RequiredApprovals {
			if cmd, err = tx.GetCommand(ctx, commandID); err != nil {
				return err
			}
			decision = &DecisionPending{Command: cmd, Approvals: count, ApprovalsNeeded: cmd.RequiredApprovals - count}
			return nil
		}

		left, chargeErr := g.ledger.Charge(ctx, tx, cmd.UserID)
		switch {
		case errors.Is(chargeErr, ErrQuotaExceeded):
			if err := tx.UpdateCommandStatus(ctx, commandID, db.StatusPendingApproval, db.StatusRejected); err != nil {
				return err
			}
			if cmd, err = tx.GetCommand(ctx, commandID); err != nil {
				return err
			}
			decision = &DecisionRejected{Command: cmd, Reason: reasonInsufficientCredits, InsufficientCredits: true}
			quotaErr = chargeErr
			return nil
		case chargeErr != nil:
			return chargeErr
		}

		if err := tx.UpdateCommandStatus(ctx, commandID, db.StatusPendingApproval, db.StatusExecuted); err != nil {
			return err
		}
		if cmd, err = tx.GetCommand(ctx, commandID); err != nil {
			return err
		}
		remaining = left
		decision = &DecisionExecuted{Command: cmd, Approvals: count, Execution: Simulate(cmd.Text), CreditsRemaining: left}
		return nil
	})
	if err != nil {
		return nil, g.storeError("recording decision", err)
	}

	g.afterDecide(ctx, admin, decision, approved, reason, remaining)
	return decision, quotaErr
}

func (g *Gateway) afterDecide(ctx context.Context, admin *db.User, d Decision, approved bool, reason string, remaining int64) {
	ctx = context.WithoutCancel(ctx)
	cmd := d.Record()

	var outcome, action, details string
	switch v := d.(type) {
	case *DecisionRejected:
		outcome = "rejected"
		if v.InsufficientCredits {
			action = db.AuditCommandNoCredits
			details = fmt.Sprintf("Command %d approved but owner has insufficient credits", cmd.ID)
		} else {
			action = db.AuditCommandRejectedByAdmin
			r := reason
			if r == "" {
				r = "No reason provided"
			}
			details = fmt.Sprintf("Admin rejected command %d: %s", cmd.ID, auditText(r))
		}
	case *DecisionPending:
		outcome = "pending"
		action = db.AuditCommandPartiallyApproved
		details = fmt.Sprintf("Command %d partially approved (%d/%d)", cmd.ID, v.Approvals, cmd.RequiredApprovals)
	case *DecisionExecuted:
		outcome = "executed"
		action = db.AuditCommandApprovedExecuted
		details = fmt.Sprintf("Command %d approved by %d admins and executed", cmd.ID, v.Approvals)
	}

	g.metrics.IncDecision(outcome)
	g.logger.Info("approval recorded", "command_id", cmd.ID, "admin", admin.Name, "approved", approved, "status", cmd.Status)
	g.audit(ctx, &admin.ID, action, details)

	g.publish(ctx, notify.TopicAdmin, notify.EventApprovalUpdate, map[string]any{
		"command_id": cmd.ID,
		"status":     cmd.Status,
		"admin_name": admin.Name,
		"approved":   approved,
		"reason":     reason,
		"approvals":  cmd.ApprovalCount,
	})
	if cmd.Status.Terminal() {
		g.publish(ctx, notify.UserTopic(cmd.UserID), notify.EventCommandStatus, map[string]any{
			"command_id": cmd.ID,
			"status":     cmd.Status,
		})
	}
	if cmd.Status == db.StatusExecuted {
		g.publish(ctx, notify.UserTopic(cmd.UserID), notify.EventCreditUpdate, map[string]any{
			"credits": remaining,
		})
	}
}
