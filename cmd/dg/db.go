package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/civitaslab/demandgen/internal/config"
	"github.com/civitaslab/demandgen/internal/db"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBInitCmd())
	cmd.AddCommand(newDBResetCmd())
	cmd.AddCommand(newDBSeedCmd())
	return cmd
}

func newDBInitCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the demandgen database",
		Long:  "Creates the database and migrates all tables.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBInit(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "demandgen.yaml", "path to demandgen config file")
	return cmd
}

func runDBInit(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	fmt.Fprintf(out, "Loaded config from %s\n", configPath)

	adminDB, err := db.ConnectAdmin(cfg.DB.Host, cfg.DB.Port)
	if err != nil {
		return fmt.Errorf("connect to SQL server at %s:%d: %w", cfg.DB.Host, cfg.DB.Port, err)
	}
	fmt.Fprintf(out, "Connected to SQL server at %s:%d\n", cfg.DB.Host, cfg.DB.Port)

	if err := db.CreateDatabase(adminDB, cfg.DB.Database); err != nil {
		return err
	}
	fmt.Fprintf(out, "Database %s ready\n", cfg.DB.Database)

	gormDB, err := db.Connect(cfg.DB.Host, cfg.DB.Port, cfg.DB.Database)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", cfg.DB.Database, err)
	}

	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))

	fmt.Fprintln(out, "\nDemandgen database initialized successfully.")
	return nil
}

func newDBResetCmd() *cobra.Command {
	var (
		configPath string
		yes        bool
	)

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Drop and re-initialize the demandgen database",
		Long:  "Drops the demandgen database, then re-creates and migrates it. All queue items, runs and coverage data are lost.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBReset(cmd, configPath, yes)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "demandgen.yaml", "path to demandgen config file")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation prompt")
	return cmd
}

func runDBReset(cmd *cobra.Command, configPath string, skipConfirm bool) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if !skipConfirm && !confirmReset(cmd, cfg.DB.Database) {
		fmt.Fprintln(out, "Aborted.")
		return nil
	}

	adminDB, err := db.ConnectAdmin(cfg.DB.Host, cfg.DB.Port)
	if err != nil {
		return fmt.Errorf("connect to SQL server at %s:%d: %w", cfg.DB.Host, cfg.DB.Port, err)
	}

	if err := db.DropDatabase(adminDB, cfg.DB.Database); err != nil {
		return err
	}
	fmt.Fprintf(out, "Dropped database %s\n", cfg.DB.Database)

	if err := db.CreateDatabase(adminDB, cfg.DB.Database); err != nil {
		return err
	}
	gormDB, err := db.Connect(cfg.DB.Host, cfg.DB.Port, cfg.DB.Database)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", cfg.DB.Database, err)
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))

	fmt.Fprintln(out, "\nDemandgen database reset successfully.")
	return nil
}

// seedFile is the YAML layout accepted by `dg db seed`.
type seedFile struct {
	Objectives []db.ObjectiveSeed `yaml:"objectives"`
	Targets    []db.TargetSeed    `yaml:"targets"`
}

func newDBSeedCmd() *cobra.Command {
	var (
		configPath string
		seedPath   string
	)

	cmd := &cobra.Command{
		Use:   "seed <plan-id>",
		Short: "Seed objectives and coverage targets for a plan",
		Long:  "Upserts objectives and coverage targets for a strategic plan from a YAML seed file. Re-running with updated numbers adjusts targets in place.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBSeed(cmd, configPath, seedPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "demandgen.yaml", "path to demandgen config file")
	cmd.Flags().StringVarP(&seedPath, "file", "f", "", "path to seed YAML file (required)")
	cmd.MarkFlagRequired("file")
	return cmd
}

func runDBSeed(cmd *cobra.Command, configPath, seedPath, planID string) error {
	out := cmd.OutOrStdout()

	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(seedPath)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	var seeds seedFile
	if err := yaml.Unmarshal(data, &seeds); err != nil {
		return fmt.Errorf("parse seed file: %w", err)
	}

	if err := db.SeedObjectives(gormDB, planID, seeds.Objectives); err != nil {
		return err
	}
	fmt.Fprintf(out, "Seeded %d objective(s)\n", len(seeds.Objectives))

	if err := db.SeedTargets(gormDB, planID, seeds.Targets); err != nil {
		return err
	}
	fmt.Fprintf(out, "Seeded %d coverage target(s) for plan %s\n", len(seeds.Targets), planID)
	return nil
}

func confirmReset(cmd *cobra.Command, dbName string) bool {
	out := cmd.OutOrStdout()
	in := cmd.InOrStdin()

	fmt.Fprintf(out, "WARNING: This will permanently delete all data in database %q.\n", dbName)
	fmt.Fprintln(out, "This action cannot be undone.")
	fmt.Fprintln(out)
	fmt.Fprint(out, "Type \"yes\" to confirm: ")

	scanner := bufio.NewScanner(in)
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text()) == "yes"
	}
	return false
}
