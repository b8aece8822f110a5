package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lucasnoah/issuefactory/internal/config"
	"github.com/lucasnoah/issuefactory/internal/output"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var (
	cfgFile  string
	verbose  bool
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "factory",
	Short: "issuefactory — turn an issue into a tested commit",
	Long: `issuefactory takes an issue (a number, a file, or literal text), checks out
the repository, plans which files to change, generates the change with a
language model and keeps regenerating until lint and tests pass. A passing
change set is committed and optionally pushed as a pull request.

Run artifacts are written under ~/.factory/runs/<run-id>/ and run history
is recorded in SQLite (or Postgres when db is a postgres:// URL).`,
	SilenceUsage: true,
}

// ExitError carries a process exit code. main exits with Code and prints
// Err when it is set.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

func Execute() error {
	return rootCmd.Execute()
}

// loadConfig resolves the configuration for the current invocation.
// --log-level overrides the file and FACTORY_LOG_LEVEL.
func loadConfig() (*config.Config, string, error) {
	v := viper.New()
	if f := rootCmd.PersistentFlags().Lookup("log-level"); f != nil && f.Changed {
		v.Set("log_level", f.Value.String())
	}
	return config.Load(v, cfgFile)
}

// loadValidConfig is loadConfig followed by Validate.
func loadValidConfig() (*config.Config, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %w (run `factory config validate` for details)", errs[0])
	}
	return cfg, nil
}

func newUI(cmd *cobra.Command) *output.UI {
	return &output.UI{Verbose: verbose, Out: cmd.OutOrStdout(), ErrOut: cmd.ErrOrStderr()}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default ./factory.yaml, then ~/.factory/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(benchCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(promptsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dbCmd)
}
