package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/cmdgate/internal/db"
	"github.com/Dicklesworthstone/cmdgate/internal/output"
)

var (
	flagInitAdminName    string
	flagInitAdminCredits int64
)

func init() {
	initCmd.Flags().StringVar(&flagInitAdminName, "admin-name", "Default Admin", "name of the bootstrap admin")
	initCmd.Flags().Int64Var(&flagInitAdminCredits, "admin-credits", 0, "bootstrap admin balance (default: general.admin_credits)")

	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the database, the bootstrap admin and the starter rules",
	Long: `Initialize the state database.

On an empty database this creates one admin user and the starter policy
(reject destructive commands, accept common read-only ones). The admin's
API key is printed once. Running init again changes nothing.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		credits := flagInitAdminCredits
		if credits <= 0 {
			credits = a.cfg.General.AdminCredits
		}
		res, err := a.gw.Initialize(cmd.Context(), flagInitAdminName, credits)
		if err != nil {
			return err
		}
		admin := newUserKeyView(res.Admin)
		if res.AlreadyInitialized {
			admin.APIKey = ""
		}
		return newWriter(cmd).Write(initView{
			Database:           a.store.Path(),
			Admin:              admin,
			Rules:              res.Rules,
			AlreadyInitialized: res.AlreadyInitialized,
		})
	},
}

type initView struct {
	Database           string      `json:"database"`
	Admin              userKeyView `json:"admin"`
	Rules              []*db.Rule  `json:"rules,omitempty"`
	AlreadyInitialized bool        `json:"already_initialized"`
}

func (v initView) Text(s *output.Styles) string {
	if v.AlreadyInitialized {
		return fmt.Sprintf("%s already initialized (admin: %s)", s.Muted.Render(v.Database), v.Admin.Name)
	}
	return fmt.Sprintf("%s initialized %s with %d rules\n%s",
		s.Good.Render("✓"), v.Database, len(v.Rules), v.Admin.Text(s))
}
