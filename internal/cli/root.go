// Package cli implements the Cobra command-line interface for cmdgate.
package cli

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/cmdgate/internal/config"
	"github.com/Dicklesworthstone/cmdgate/internal/core"
	"github.com/Dicklesworthstone/cmdgate/internal/output"
)

// Version information set by goreleaser
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Global flag values
var (
	flagConfig  string
	flagOutput  string
	flagJSON    bool
	flagVerbose bool
	flagDB      string
	flagActor   string
	flagProject string
)

var rootCmd = &cobra.Command{
	Use:   "cmdgate",
	Short: "Command authorization gateway with rule policy, risk scoring and admin approvals",
	Long: `cmdgate decides whether shell commands submitted by users may run.

Every command is checked against an ordered list of regex rules. The first
matching rule wins:
  AUTO_REJECT  - blocked immediately, no credit charged
  AUTO_ACCEPT  - risk-scored, then executed or sent to approval

Commands that match no rule are scored by the risk oracle. Risky commands
wait for a quorum of admin approvals; everything else executes (simulated)
and costs one credit.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if _, err := output.ParseFormat(GetOutput()); err != nil {
			return err
		}
		output.SetOutputMode(GetOutput() == string(output.FormatJSON))
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		showQuickReference(cmd.OutOrStdout())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		project, err := projectPath()
		if err != nil {
			return err
		}
		userPath, projectConfig := config.ConfigPaths(project, flagConfig)
		return newWriter(cmd).Write(versionInfo{
			Version:       version,
			Commit:        commit,
			BuildDate:     date,
			GoVersion:     runtime.Version(),
			UserConfig:    userPath,
			ProjectConfig: projectConfig,
			ProjectPath:   project,
		})
	},
}

type versionInfo struct {
	Version       string `json:"version"`
	Commit        string `json:"commit"`
	BuildDate     string `json:"build_date"`
	GoVersion     string `json:"go_version"`
	UserConfig    string `json:"user_config"`
	ProjectConfig string `json:"project_config"`
	ProjectPath   string `json:"project_path"`
}

func (v versionInfo) Text(s *output.Styles) string {
	return fmt.Sprintf("%s %s\n  commit:  %s\n  built:   %s\n  go:      %s\n  config:  %s\n  project: %s",
		s.Title.Render("cmdgate"), v.Version, v.Commit, v.BuildDate, v.GoVersion, v.ProjectConfig, v.ProjectPath)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetOutput returns the configured output format.
// Precedence: --json > --output > CMDGATE_OUTPUT_FORMAT > text
func GetOutput() string {
	if flagJSON {
		return "json"
	}
	if flagOutput != "" && flagOutput != "text" {
		return flagOutput
	}
	if envFormat := os.Getenv("CMDGATE_OUTPUT_FORMAT"); envFormat != "" {
		switch envFormat {
		case "json", "yaml", "text":
			return envFormat
		}
	}
	return "text"
}

func newWriter(cmd *cobra.Command) *output.Writer {
	return output.New(output.Format(GetOutput()),
		output.WithOutput(cmd.OutOrStdout()),
		output.WithErrorOutput(cmd.ErrOrStderr()),
	)
}

// projectPath returns the -C directory, or the working directory.
func projectPath() (string, error) {
	if flagProject != "" {
		return flagProject, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolving working directory: %w", err)
	}
	return wd, nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&flagOutput, "output", "o", "text", "output format: text, json, yaml (env: CMDGATE_OUTPUT_FORMAT)")
	rootCmd.PersistentFlags().BoolVarP(&flagJSON, "json", "j", false, "shorthand for --output=json")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "database path")
	rootCmd.PersistentFlags().StringVar(&flagActor, "as", "", "acting user: name or API key (env: CMDGATE_API_KEY)")
	rootCmd.PersistentFlags().StringVarP(&flagProject, "project", "C", "", "project directory")

	rootCmd.AddCommand(versionCmd)
}

// Exit codes returned by the cmdgate binary.
const (
	ExitError        = 1
	ExitInvalid      = 2
	ExitDenied       = 3
	ExitNoCredits    = 4
	ExitNotFound     = 5
	ExitStateChanged = 6
)

// ExitCode maps a command error to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, core.ErrValidation):
		return ExitInvalid
	case errors.Is(err, core.ErrUnauthorized), errors.Is(err, core.ErrForbidden):
		return ExitDenied
	case errors.Is(err, core.ErrQuotaExceeded):
		return ExitNoCredits
	case errors.Is(err, core.ErrNotFound):
		return ExitNotFound
	case errors.Is(err, core.ErrStateConflict):
		return ExitStateChanged
	default:
		return ExitError
	}
}

// ReportError writes err to stderr in the configured output format.
func ReportError(err error) int {
	code := ExitCode(err)
	format, ferr := output.ParseFormat(GetOutput())
	if ferr != nil {
		format = output.FormatText
	}
	output.New(format, output.WithOutput(os.Stderr)).Error(err, code)
	return code
}
