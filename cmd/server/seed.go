package main

import (
	"context"
	"log/slog"

	"go-groupchat/internal/config"
	"go-groupchat/internal/store/seed"
	"go-groupchat/internal/store/sqlstore"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed <file>",
	Short: "Load users and channels from a fixture file into the SQLite store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Store.Driver != config.DriverSQLite {
			return errors.New("seed only applies to the sqlite store driver")
		}

		data, err := seed.Load(args[0])
		if err != nil {
			return err
		}

		dbCfg := sqlstore.DefaultConfig()
		dbCfg.Path = cfg.Store.Path
		st, err := sqlstore.Open(dbCfg)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := data.Apply(context.Background(), st); err != nil {
			return err
		}
		slog.Info("[STORE] Seeded", "path", cfg.Store.Path, "users", len(data.Users), "channels", len(data.Channels))
		return nil
	},
}
