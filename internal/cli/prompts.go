package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/issuefactory/internal/prompt"
)

var promptsCmd = &cobra.Command{
	Use:   "prompts",
	Short: "List or install the prompt templates",
	Long: `Prompt templates are looked up in prompts_dir, then ~/.factory/templates,
then the compiled-in defaults. "install" copies the defaults to
~/.factory/templates for editing and never overwrites existing files.`,
}

var promptsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the built-in template names",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, n := range prompt.Names() {
			fmt.Fprintln(cmd.OutOrStdout(), n)
		}
		return nil
	},
}

var promptsInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Copy the built-in templates to ~/.factory/templates",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := prompt.InstallBuiltinTemplates(); err != nil {
			return err
		}
		newUI(cmd).Success("templates installed")
		return nil
	},
}

func init() {
	promptsCmd.AddCommand(promptsListCmd)
	promptsCmd.AddCommand(promptsInstallCmd)
}
