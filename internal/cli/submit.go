package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(submitCmd)
}

var submitCmd = &cobra.Command{
	Use:   "submit <command...>",
	Short: "Submit a command for authorization",
	Long: `Submit a command as the acting user (--as).

The command is matched against the rule policy, scored by the risk oracle
when no reject rule applies, and then either executed (simulated, one
credit), sent to admin approval, or rejected.

Quote the command or put it after -- so its flags are not parsed:
  cmdgate submit --as alice -- ls -la /tmp`,
	Args: cobra.MinimumNArgs(1),
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
		sub, err := a.gw.Submit(cmd.Context(), user.ID, strings.Join(args, " "))
		if err != nil {
			return err
		}
		return newWriter(cmd).Write(submissionView(sub))
	},
}
