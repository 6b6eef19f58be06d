package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/visitline/internal/config"
	"github.com/zulandar/visitline/internal/db"
	"gorm.io/gorm"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBInitCmd())
	cmd.AddCommand(newDBMigrateCmd())
	cmd.AddCommand(newDBSeedCmd())
	return cmd
}

func newDBInitCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the Visitline database",
		Long:  "Creates the database if needed, migrates all tables and loads the master-data fixture named by seed in the config.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBInit(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Visitline config file")
	return cmd
}

func runDBInit(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	fmt.Fprintf(out, "Loaded config from %s (driver %s)\n", configPath, cfg.Database.Driver)

	if err := db.CreateDatabase(cfg.Database); err != nil {
		return err
	}
	fmt.Fprintf(out, "Database %s ready\n", cfg.Database.Name)

	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if err := migrate(cmd, gormDB); err != nil {
		return err
	}

	if cfg.Seed != "" {
		if err := seed(cmd, gormDB, cfg.Seed); err != nil {
			return err
		}
	}

	fmt.Fprintln(out, "\nVisitline database initialized successfully.")
	return nil
}

func newDBMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Migrate all tables to the current schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := openDB(configPath)
			if err != nil {
				return err
			}
			return migrate(cmd, gormDB)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Visitline config file")
	return cmd
}

func newDBSeedCmd() *cobra.Command {
	var (
		configPath  string
		fixturePath string
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load employees, stores, brands and products from a fixture",
		Long:  "Upserts master data from a YAML fixture. Defaults to the seed path in the config.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, gormDB, err := openDB(configPath)
			if err != nil {
				return err
			}
			if fixturePath == "" {
				fixturePath = cfg.Seed
			}
			if fixturePath == "" {
				return fmt.Errorf("no fixture: pass --fixture or set seed in %s", configPath)
			}
			return seed(cmd, gormDB, fixturePath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Visitline config file")
	cmd.Flags().StringVarP(&fixturePath, "fixture", "f", "", "path to master-data fixture")
	return cmd
}

func openDB(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect: %w", err)
	}
	return cfg, gormDB, nil
}

func migrate(cmd *cobra.Command, gormDB *gorm.DB) error {
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Migrated %d tables\n", len(db.AllModels()))
	return nil
}

func seed(cmd *cobra.Command, gormDB *gorm.DB, path string) error {
	fixture, err := db.LoadFixture(path)
	if err != nil {
		return err
	}
	if err := db.Seed(gormDB, fixture); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d employees, %d stores, %d brands, %d products from %s\n",
		len(fixture.Employees), len(fixture.Stores), len(fixture.Brands), len(fixture.Products), path)
	return nil
}
