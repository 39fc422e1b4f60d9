package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/cmdgate/internal/core"
	"github.com/Dicklesworthstone/cmdgate/internal/db"
)

var (
	flagUserRole    string
	flagUserCredits int64
)

func init() {
	usersCreateCmd.Flags().StringVar(&flagUserRole, "role", string(db.RoleMember), "role: member or admin")
	usersCreateCmd.Flags().Int64Var(&flagUserCredits, "credits", -1, "starting balance (default: general.default_credits)")

	usersCmd.AddCommand(usersCreateCmd)
	usersCmd.AddCommand(usersListCmd)
	usersCmd.AddCommand(usersCreditsCmd)
	rootCmd.AddCommand(usersCmd)
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage users and their credit balances (admin)",
}

var usersCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a user and print its API key",
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
		nu := core.NewUser{Name: args[0], Role: db.Role(flagUserRole)}
		if cmd.Flags().Changed("credits") {
			credits := flagUserCredits
			nu.Credits = &credits
		}
		u, err := a.gw.CreateUser(cmd.Context(), &admin.ID, nu)
		if err != nil {
			return err
		}
		return newWriter(cmd).Write(newUserKeyView(u))
	},
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		if _, err := a.adminActor(cmd.Context()); err != nil {
			return err
		}
		users, err := a.store.ListUsers(cmd.Context())
		if err != nil {
			return fmt.Errorf("%w: listing users: %v", core.ErrInternal, err)
		}
		return newWriter(cmd).Write(usersView(users))
	},
}

var usersCreditsCmd = &cobra.Command{
	Use:   "credits <user> <amount>",
	Short: "Set a user's credit balance",
	Long:  `Set the balance of the user named (or numbered) <user> to <amount>.`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("%w: invalid amount %q", core.ErrValidation, args[1])
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
		target, err := a.resolveUser(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if err := a.gw.UpdateCredits(cmd.Context(), admin.ID, target.ID, amount); err != nil {
			return err
		}
		return newWriter(cmd).Write(keyValue{Key: target.Name + ".credits", Value: amount})
	},
}
