package main

import (
	"fmt"
	"time"

	"go-groupchat/internal/auth"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	tokenUser string
	tokenTTL  time.Duration
)

// tokenCmd mints a handshake token signed with the configured secret. The
// HTTP auth service issues real tokens; this is for local testing.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a development handshake token for a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenUser == "" {
			return errors.New("--user is required")
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		token, err := auth.NewVerifier(cfg.Auth.JWTSecret, nil, 0).Issue(tokenUser, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVarP(&tokenUser, "user", "u", "", "User id to put in the token subject")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")
}
