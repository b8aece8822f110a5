package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/issuefactory/internal/db"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Run history database management",
}

func openDB() (*db.DB, error) {
	cfg, err := loadValidConfig()
	if err != nil {
		return nil, err
	}
	if cfg.DB == "" {
		return nil, errors.New("no database configured (set db in the config file)")
	}
	return db.Open(cfg.DB)
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDB()
		if err != nil {
			return err
		}
		defer d.Close()
		if err := d.Migrate(); err != nil {
			return err
		}
		newUI(cmd).Success("%s schema is up to date", d.Dialect())
		return nil
	},
}

var dbResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop and recreate every table (destructive!)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return fmt.Errorf("refusing to reset without --yes")
		}
		d, err := openDB()
		if err != nil {
			return err
		}
		defer d.Close()
		if err := d.Reset(); err != nil {
			return err
		}
		newUI(cmd).Success("run history cleared")
		return nil
	},
}

func init() {
	dbResetCmd.Flags().Bool("yes", false, "confirm the reset")
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbResetCmd)
}
