package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(pendingCmd)
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List commands awaiting admin approval",
	Long: `List every command in PENDING_APPROVAL, oldest first, with its submitter
and current vote count.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		if _, err := a.adminActor(cmd.Context()); err != nil {
			return err
		}

		cmds, err := a.gw.ListPending(cmd.Context())
		if err != nil {
			return err
		}
		return newWriter(cmd).Write(pendingView(cmds))
	},
}
