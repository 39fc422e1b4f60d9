package cli

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/cmdgate/internal/config"
	"github.com/Dicklesworthstone/cmdgate/internal/output"
)

var (
	flagConfigGlobal bool
)

func init() {
	configCmd.PersistentFlags().BoolVar(&flagConfigGlobal, "global", false, "operate on user config (~/.cmdgate/config.toml)")

	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configEditCmd)

	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or modify cmdgate configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		return newWriter(cmd).Write(configView(cfg))
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a specific configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		val, ok := config.GetValue(cfg, args[0])
		if !ok {
			return fmt.Errorf("unknown key %q", args[0])
		}
		return newWriter(cmd).Write(keyValue{Key: args[0], Value: val})
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value in the project (or --global) config file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := configTarget()
		if err != nil {
			return err
		}
		value, err := config.ParseValue(args[0], args[1])
		if err != nil {
			return err
		}
		if err := config.WriteValue(target, args[0], value); err != nil {
			return err
		}
		return newWriter(cmd).Write(keyValue{Path: target, Key: args[0], Value: value})
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open the config file in $EDITOR (default: vi)",
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := configTarget()
		if err != nil {
			return err
		}

		if _, err := os.Stat(target); errors.Is(err, os.ErrNotExist) {
			defaults := config.DefaultConfig()
			if err := config.WriteValue(target, "approvals.required_approvals", defaults.Approvals.RequiredApprovals); err != nil {
				return err
			}
		} else if err != nil {
			return fmt.Errorf("stat %s: %w", target, err)
		}

		editor := os.Getenv("EDITOR")
		if editor == "" {
			editor = "vi"
		}
		editCmd := exec.Command(editor, target)
		editCmd.Stdin = os.Stdin
		editCmd.Stdout = os.Stdout
		editCmd.Stderr = os.Stderr
		return editCmd.Run()
	},
}

func configTarget() (string, error) {
	project, err := projectPath()
	if err != nil {
		return "", err
	}
	userPath, projectConfig := config.ConfigPaths(project, flagConfig)
	if flagConfigGlobal {
		return userPath, nil
	}
	return projectConfig, nil
}

type configView config.Config

func (v configView) Text(s *output.Styles) string {
	c := config.Config(v)
	rows := [][]string{
		{"general.max_command_length", fmt.Sprint(c.General.MaxCommandLength)},
		{"general.default_credits", fmt.Sprint(c.General.DefaultCredits)},
		{"general.admin_credits", fmt.Sprint(c.General.AdminCredits)},
		{"approvals.required_approvals", fmt.Sprint(c.Approvals.RequiredApprovals)},
		{"approvals.approval_threshold", fmt.Sprint(c.Approvals.ApprovalThreshold)},
		{"approvals.allow_duplicate_votes", fmt.Sprint(c.Approvals.AllowDuplicateVotes)},
		{"approvals.allow_self_approval", fmt.Sprint(c.Approvals.AllowSelfApproval)},
		{"risk.provider", c.Risk.Provider},
		{"risk.model", c.Risk.Model},
		{"risk.timeout_seconds", fmt.Sprint(c.Risk.TimeoutSecs)},
		{"risk.fail_safe_score", fmt.Sprint(c.Risk.FailSafeScore)},
		{"server.addr", c.Server.Addr},
		{"server.requests_per_minute", fmt.Sprint(c.Server.RequestsPerMinute)},
		{"notifications.websocket_enabled", fmt.Sprint(c.Notifications.WebSocketEnabled)},
		{"notifications.redis_url", c.Notifications.RedisURL},
		{"history.database_path", c.History.DatabasePath},
		{"history.audit_limit", fmt.Sprint(c.History.AuditLimit)},
	}
	return s.Table([]string{"KEY", "VALUE"}, rows)
}
