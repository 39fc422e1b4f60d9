package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/cmdgate/internal/core"
	"github.com/Dicklesworthstone/cmdgate/internal/db"
)

var flagRuleAction string

func init() {
	for _, c := range []*cobra.Command{rulesCheckCmd, rulesCreateCmd} {
		c.Flags().StringVarP(&flagRuleAction, "action", "a", "", "rule action: AUTO_ACCEPT or AUTO_REJECT")
		_ = c.MarkFlagRequired("action")
	}

	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesValidateCmd)
	rulesCmd.AddCommand(rulesCheckCmd)
	rulesCmd.AddCommand(rulesCreateCmd)
	rootCmd.AddCommand(rulesCmd)
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect and extend the ordered rule policy",
	Long: `Rules are regular expressions evaluated in order; the first match wins.
New rules are appended at the end of the list. Conflicts with existing rules
are reported but never block creation.`,
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List rules in evaluation order",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		if _, err := a.adminActor(cmd.Context()); err != nil {
			return err
		}

		rules, err := a.gw.ListRules(cmd.Context())
		if err != nil {
			return err
		}
		return newWriter(cmd).Write(rulesView(rules))
	},
}

var rulesValidateCmd = &cobra.Command{
	Use:   "validate <pattern>",
	Short: "Check whether a pattern is usable as a rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		report := core.ValidatePattern(args[0])
		if err := newWriter(cmd).Write(validationView(report)); err != nil {
			return err
		}
		if !report.Valid {
			return fmt.Errorf("%w: %s", core.ErrValidation, report.Error)
		}
		return nil
	},
}

var rulesCheckCmd = &cobra.Command{
	Use:   "check <pattern>",
	Short: "Report conflicts between a candidate rule and the current policy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.gw.CheckConflicts(cmd.Context(), args[0], parseAction(flagRuleAction))
		if err != nil {
			return err
		}
		return newWriter(cmd).Write(conflictView(report))
	},
}

var rulesCreateCmd = &cobra.Command{
	Use:   "create <pattern>",
	Short: "Append a rule to the policy (admin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		admin, err := a.actor(cmd.Context())
		if err != nil {
			return err
		}
		created, err := a.gw.CreateRule(cmd.Context(), admin.ID, args[0], parseAction(flagRuleAction))
		if err != nil {
			return err
		}
		return newWriter(cmd).Write(ruleCreatedView(*created))
	},
}

// parseAction accepts the canonical names case-insensitively, plus the
// short forms accept and reject.
func parseAction(s string) db.RuleAction {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ACCEPT", string(db.ActionAutoAccept):
		return db.ActionAutoAccept
	case "REJECT", string(db.ActionAutoReject):
		return db.ActionAutoReject
	default:
		return db.RuleAction(s)
	}
}
