package cli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/cmdgate/internal/core"
)

var flagDecisionReason string

func init() {
	for _, c := range []*cobra.Command{approveCmd, rejectCmd} {
		c.Flags().StringVarP(&flagDecisionReason, "reason", "r", "", "reason recorded with the vote")
	}

	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(rejectCmd)
	rootCmd.AddCommand(votesCmd)
}

var approveCmd = &cobra.Command{
	Use:   "approve <command-id>",
	Short: "Vote to approve a pending command (admin)",
	Long: `Record an approval vote. When the vote completes the quorum the command
executes and its submitter is charged one credit. If the submitter has no
credit left at that point the command is rejected instead.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decide(cmd, args[0], true)
	},
}

var rejectCmd = &cobra.Command{
	Use:   "reject <command-id>",
	Short: "Reject a pending command (admin)",
	Long:  `A single rejection is final: the command moves to REJECTED immediately.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decide(cmd, args[0], false)
	},
}

var votesCmd = &cobra.Command{
	Use:   "votes <command-id>",
	Short: "List the votes cast on a command",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseCommandID(args[0])
		if err != nil {
			return err
		}
		a, err := openApp(cmd, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		if _, err := a.adminActor(cmd.Context()); err != nil {
			return err
		}

		votes, err := a.gw.ListVotes(cmd.Context(), id)
		if err != nil {
			return err
		}
		return newWriter(cmd).Write(votesView(votes))
	},
}

func decide(cmd *cobra.Command, rawID string, approved bool) error {
	id, err := parseCommandID(rawID)
	if err != nil {
		return err
	}
	a, err := openApp(cmd, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	admin, err := a.actor(cmd.Context())
	if err != nil {
		return err
	}
	d, err := a.gw.Decide(cmd.Context(), id, admin.ID, approved, flagDecisionReason)
	if err != nil {
		// The rejection is committed; show it before reporting the failure.
		if d != nil && errors.Is(err, core.ErrQuotaExceeded) {
			if werr := newWriter(cmd).Write(decisionView(d)); werr != nil {
				return werr
			}
		}
		return err
	}
	return newWriter(cmd).Write(decisionView(d))
}

func parseCommandID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid command id %q", core.ErrValidation, s)
	}
	return id, nil
}
