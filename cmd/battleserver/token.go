package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cory-johannsen/arena/internal/auth"
	"github.com/cory-johannsen/arena/internal/config"
	"github.com/cory-johannsen/arena/internal/pkg/clock"
)

var (
	tokenPlayer int64
	tokenName   string
	tokenTTL    time.Duration
)

// tokenCmd signs identity tokens for local testing against a dev server.
var tokenCmd = &cobra.Command{
	Use:    "token",
	Short:  "Print a development identity token",
	Hidden: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if tokenPlayer <= 0 {
			return fmt.Errorf("--player must be a positive id")
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		tok, err := auth.NewVerifier(cfg.Auth, clock.New()).Issue(auth.Identity{PlayerID: tokenPlayer, Name: tokenName}, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().Int64Var(&tokenPlayer, "player", 0, "player id")
	tokenCmd.Flags().StringVar(&tokenName, "name", "", "display name")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
}
