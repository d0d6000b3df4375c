package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"go-groupchat/internal/models"
	"go-groupchat/internal/redis"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var tailPattern string

// tailCmd follows the Redis event journal and prints one JSON event per line.
var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Follow the event journal of one or more channels",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Redis.URL == "" {
			return errors.New("redis.url is not configured")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		rc, err := redis.NewClient(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer rc.Close()

		out := cmd.OutOrStdout()
		return rc.Subscribe(ctx, tailPattern, func(ev models.Event) {
			line, err := json.Marshal(ev)
			if err != nil {
				return
			}
			fmt.Fprintln(out, string(line))
		})
	},
}

func init() {
	tailCmd.Flags().StringVar(&tailPattern, "channel", "*", "Channel id or glob pattern to follow")
}
