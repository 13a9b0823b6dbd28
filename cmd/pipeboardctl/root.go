package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pipeboard/pipeboard/internal/platform/postgres"
	"github.com/pipeboard/pipeboard/internal/repo"
	"github.com/pipeboard/pipeboard/internal/repo/memstore"
	repopg "github.com/pipeboard/pipeboard/internal/repo/postgres"
)

const (
	keyDatabaseURL = "database_url"
	keyStore       = "store"
	keyOwner       = "owner"
)

// cli carries settings shared by every subcommand. Values come from flags,
// then environment, then an optional YAML config file.
type cli struct {
	v *viper.Viper
	// openStore is replaced in tests.
	openStore func(ctx context.Context) (repo.Store, func() error, error)
}

func newRootCmd() *cobra.Command {
	return newCLI().command()
}

func newCLI() *cli {
	c := &cli{v: viper.New()}
	c.openStore = c.defaultOpenStore
	return c
}

func (c *cli) command() *cobra.Command {
	var configFile string
	root := &cobra.Command{
		Use:           "pipeboardctl",
		Short:         "Administer a pipeboard database",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load(configFile)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "YAML config file")
	flags.String(keyDatabaseURL, "", "Postgres URL (env DATABASE_URL)")
	flags.String(keyStore, "postgres", "store backend: postgres or memory")
	flags.String(keyOwner, "", "subject that owns imported or inspected records (env PIPEBOARD_OWNER)")
	_ = c.v.BindPFlag(keyDatabaseURL, flags.Lookup(keyDatabaseURL))
	_ = c.v.BindPFlag(keyStore, flags.Lookup(keyStore))
	_ = c.v.BindPFlag(keyOwner, flags.Lookup(keyOwner))
	_ = c.v.BindEnv(keyDatabaseURL, "DATABASE_URL")
	_ = c.v.BindEnv(keyStore, "PIPEBOARD_STORE")
	_ = c.v.BindEnv(keyOwner, "PIPEBOARD_OWNER")

	root.AddCommand(
		c.newMigrateCmd(),
		c.newImportCmd(),
		c.newJourneyCmd(),
		c.newStagesCmd(),
	)
	return root
}

func (c *cli) load(configFile string) error {
	if strings.TrimSpace(configFile) == "" {
		return nil
	}
	c.v.SetConfigFile(configFile)
	c.v.SetConfigType("yaml")
	if err := c.v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", configFile, err)
	}
	return nil
}

func (c *cli) owner() (string, error) {
	owner := strings.TrimSpace(c.v.GetString(keyOwner))
	if owner == "" {
		return "", errors.New("--owner is required")
	}
	return owner, nil
}

func (c *cli) dbConfig() (postgres.Config, error) {
	cfg, err := postgres.ConfigFromEnv()
	if err != nil {
		return postgres.Config{}, err
	}
	if url := strings.TrimSpace(c.v.GetString(keyDatabaseURL)); url != "" {
		cfg.URL = url
	}
	return cfg, nil
}

func (c *cli) openDB(ctx context.Context) (*sql.DB, error) {
	cfg, err := c.dbConfig()
	if err != nil {
		return nil, err
	}
	return postgres.Open(ctx, cfg)
}

func (c *cli) defaultOpenStore(ctx context.Context) (repo.Store, func() error, error) {
	switch strings.ToLower(strings.TrimSpace(c.v.GetString(keyStore))) {
	case "memory":
		return memstore.New(), func() error { return nil }, nil
	case "", "postgres":
		cfg, err := c.dbConfig()
		if err != nil {
			return nil, nil, err
		}
		db, err := postgres.Open(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		store := repopg.NewStore(db,
			repopg.WithLockTimeout(cfg.LockTimeout),
			repopg.WithRetryWindow(cfg.RetryWindow),
		)
		return store, db.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store %q", c.v.GetString(keyStore))
	}
}
