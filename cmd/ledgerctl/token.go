package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"affiliate-ledger/internal/config"
	"affiliate-ledger/internal/utils"

	"github.com/spf13/cobra"
)

func tokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin API token signed with JWT_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return mintToken(cmd.OutOrStdout(), cfg.Security, subject, ttl)
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "operator the token is issued to")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func mintToken(out io.Writer, security *config.SecurityConfig, subject string, ttl time.Duration) error {
	if security.JWTSecret == "" {
		return errors.New("JWT_SECRET is not set")
	}
	if ttl <= 0 {
		return errors.New("ttl must be positive")
	}
	token, err := utils.GenerateToken(subject, security.AdminRole, security.JWTSecret, ttl)
	if err != nil {
		return fmt.Errorf("failed to sign token: %w", err)
	}
	fmt.Fprintln(out, token)
	return nil
}
