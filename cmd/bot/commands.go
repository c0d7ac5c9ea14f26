package main

import (
	"time"

	"mac-bot/internal/db"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, l, err := setup(false)
		if err != nil {
			return err
		}
		return db.RunMigrations(cfg.MigrateURL(), l)
	},
}

var seedPlansCmd = &cobra.Command{
	Use:   "seed-plans",
	Short: "Create the default subscription plans",
	Long: `Create the free, monthly and yearly plans. Existing plans are left
untouched, so the command is safe to run on every deploy.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, l, err := setup(false)
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd, time.Minute)
		defer cancel()

		database, err := connect(ctx, cfg, l)
		if err != nil {
			return err
		}
		defer database.Close()

		created, err := database.SeedPlans(ctx, db.DefaultPlans)
		if err != nil {
			return err
		}
		cmd.Printf("Plans created: %d, already present: %d\n", created, len(db.DefaultPlans)-created)
		return nil
	},
}

var (
	legacySource string
	legacyDryRun bool
)

var importLegacyCmd = &cobra.Command{
	Use:   "import-legacy",
	Short: "Import users and state history from the old SQLite database",
	Long: `Copy users, state types and user states from the SQLite file of the
previous bot into PostgreSQL. Rows that already exist are skipped, so the
import can be repeated.

Examples:
  mac-bot import-legacy --source bot.db --dry-run
  mac-bot import-legacy --source bot.db`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, l, err := setup(false)
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd, 30*time.Minute)
		defer cancel()

		data, err := db.ReadLegacy(ctx, legacySource)
		if err != nil {
			return err
		}
		cmd.Printf("Found in %s:\n  state types: %d\n  users: %d\n  user states: %d\n",
			legacySource, len(data.StateTypes), len(data.Users), len(data.Events))

		if legacyDryRun {
			cmd.Println("Dry run, nothing imported.")
			return nil
		}

		database, err := connect(ctx, cfg, l)
		if err != nil {
			return err
		}
		defer database.Close()

		report, err := database.ImportLegacy(ctx, data)
		if err != nil {
			return err
		}
		cmd.Printf("Imported:\n  state types: %d\n  users: %d\n  user states: %d\n  skipped: %d\n",
			report.StateTypes, report.Users, report.Events, report.Skipped)
		return nil
	},
}

func init() {
	importLegacyCmd.Flags().StringVar(&legacySource, "source", "", "path to the legacy SQLite database")
	importLegacyCmd.Flags().BoolVar(&legacyDryRun, "dry-run", false, "only report what would be imported")
	_ = importLegacyCmd.MarkFlagRequired("source")
}
