// Command chatcore runs the group chat real-time core.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"go-groupchat/internal/config"
	"go-groupchat/internal/logging"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	v       = config.New()
)

var rootCmd = &cobra.Command{
	Use:           "chatcore",
	Short:         "Real-time core for group chat: presence, rooms, messages and signaling",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"Path to a YAML config file (default ./chatcore.yaml if present)")

	rootCmd.PersistentFlags().String("logLevel", "info", "Log level: debug, info, warn or error")
	v.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("logLevel"))

	rootCmd.PersistentFlags().String("logFormat", "text", "Log format: text or json")
	v.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("logFormat"))

	rootCmd.PersistentFlags().String("db", "chat.db", "SQLite database path")
	v.BindPFlag("store.path", rootCmd.PersistentFlags().Lookup("db"))

	rootCmd.PersistentFlags().String("redis", "", "Redis URL of the event journal (empty disables)")
	v.BindPFlag("redis.url", rootCmd.PersistentFlags().Lookup("redis"))

	rootCmd.AddCommand(serveCmd, tokenCmd, seedCmd, tailCmd)
}

// loadConfig loads configuration and installs the default logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
