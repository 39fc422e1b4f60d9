package cli

import (
	"github.com/spf13/cobra"
)

var (
	flagHistoryLimit int
	flagAuditLimit   int
)

func init() {
	historyCmd.Flags().IntVarP(&flagHistoryLimit, "limit", "n", 50, "maximum number of commands")
	auditCmd.Flags().IntVarP(&flagAuditLimit, "limit", "n", 0, "maximum number of entries (default: history.audit_limit)")

	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(statsCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the acting user's submitted commands, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		user, err := a.actor(cmd.Context())
		if err != nil {
			return err
		}
		cmds, err := a.gw.ListUserCommands(cmd.Context(), user.ID, flagHistoryLimit)
		if err != nil {
			return err
		}
		return newWriter(cmd).Write(commandsView(cmds))
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show the newest audit log entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		if _, err := a.adminActor(cmd.Context()); err != nil {
			return err
		}

		limit := flagAuditLimit
		if limit <= 0 {
			limit = a.cfg.History.AuditLimit
		}
		entries, err := a.gw.ListAudit(cmd.Context(), limit)
		if err != nil {
			return err
		}
		return newWriter(cmd).Write(auditView(entries))
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize today's activity",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		if _, err := a.adminActor(cmd.Context()); err != nil {
			return err
		}

		stats, err := a.gw.Analytics(cmd.Context())
		if err != nil {
			return err
		}
		return newWriter(cmd).Write(analyticsView(*stats))
	},
}
