package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/cmdgate/internal/config"
	"github.com/Dicklesworthstone/cmdgate/internal/db"
	"github.com/Dicklesworthstone/cmdgate/internal/utils"
)

var completionCmd = &cobra.Command{
	Use:       "completion [bash|zsh|fish|powershell]",
	Short:     "Generate shell completion scripts",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		switch args[0] {
		case "bash":
			return rootCmd.GenBashCompletion(out)
		case "zsh":
			return rootCmd.GenZshCompletion(out)
		case "fish":
			return rootCmd.GenFishCompletion(out, true)
		case "powershell":
			return rootCmd.GenPowerShellCompletionWithDesc(out)
		default:
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(completionCmd)

	// Best-effort dynamic completion for user names.
	_ = rootCmd.RegisterFlagCompletionFunc("as", completeUserNames)
}

func completeUserNames(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	cfg, project, err := loadConfig()
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	path := flagDB
	if path == "" {
		path = config.DatabasePath(cfg, project)
	}
	database, err := db.OpenWithOptions(path, db.OpenOptions{ReadOnly: true})
	if err != nil {
		utils.Debug("user completion: open database", "path", path, "error", err)
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	defer database.Close()

	users, err := database.ListUsers(cmd.Context())
	if err != nil {
		utils.Debug("user completion: list users", "error", err)
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	out := make([]string, 0, len(users))
	for _, u := range users {
		if strings.HasPrefix(u.Name, toComplete) {
			out = append(out, u.Name+"\t"+string(u.Role))
		}
	}
	return out, cobra.ShellCompDirectiveNoFileComp
}
