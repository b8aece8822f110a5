package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/lucasnoah/issuefactory/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Validate and inspect configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, used, err := loadConfig()
		if err != nil {
			return err
		}
		if used != "" {
			cmd.Printf("Using %s\n", used)
		}

		errs := config.Validate(cfg)
		if len(errs) == 0 {
			cmd.Println("Configuration is valid.")
			return nil
		}

		cmd.Println("Validation errors:")
		for _, e := range errs {
			cmd.Printf("  - %s\n", e)
		}
		return fmt.Errorf("config has %d validation error(s)", len(errs))
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the resolved configuration with defaults merged",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.LLM.APIKey != "" {
			cfg.LLM.APIKey = "********"
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshalling config: %w", err)
		}

		cmd.Print(string(data))
		return nil
	},
}

const configHeader = `# issuefactory configuration.
# Every key can be overridden with FACTORY_<SECTION>_<KEY>, e.g.
# FACTORY_LLM_PROVIDER=anthropic or FACTORY_GATE_MAX_RETRIES=5.
# API keys are read from the provider's usual variable when llm.api_key
# is empty (GEMINI_API_KEY, ANTHROPIC_API_KEY, OPENAI_API_KEY).
`

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a config file with every default spelled out",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "factory.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		force, _ := cmd.Flags().GetBool("force")
		if _, err := os.Stat(path); err == nil && !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}

		v := viper.New()
		config.SetDefaults(v)
		var cfg config.Config
		if err := v.Unmarshal(&cfg); err != nil {
			return fmt.Errorf("decoding defaults: %w", err)
		}
		data, err := yaml.Marshal(&cfg)
		if err != nil {
			return fmt.Errorf("marshalling config: %w", err)
		}

		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}
		if err := os.WriteFile(path, append([]byte(configHeader), data...), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		newUI(cmd).Success("wrote %s", path)
		return nil
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}
