package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/actuallyakshat/realtime-todos/internal/api"
	"github.com/actuallyakshat/realtime-todos/internal/auth"
)

func loginCmd(opts *options) *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the token in identity.token_file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if cfg.Identity.TokenFile == "" {
				return errors.New("identity.token_file is required to store the token")
			}
			username := cfg.Identity.Username
			if username == "" {
				return errors.New("a username is required (--username or identity.username)")
			}
			if password == "" {
				password = os.Getenv("ROOMSYNC_PASSWORD")
			}
			if password == "" {
				if password, err = readPassword(cmd); err != nil {
					return err
				}
			}

			logger := newLogger(cfg.Log, os.Stderr)
			client := api.NewClient(
				cfg.Server.RestURL,
				"",
				api.WithLogger(logger),
				api.WithTimeout(cfg.API.Timeout),
				api.WithRetries(cfg.API.MaxRetries, cfg.API.RetryBackoff),
			)

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.API.Timeout)
			defer cancel()

			token, err := client.Login(ctx, username, password)
			if err != nil {
				return fmt.Errorf("login: %w", err)
			}
			me, err := client.WithToken(token).Me(ctx)
			if err != nil {
				return fmt.Errorf("verify token: %w", err)
			}
			if err := auth.SaveToken(cfg.Identity.TokenFile, token); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (token saved to %s)\n", me.Username, cfg.Identity.TokenFile)
			return nil
		},
	}

	cmd.Flags().StringVarP(&password, "password", "p", "", "password (falls back to ROOMSYNC_PASSWORD, then stdin)")
	return cmd
}

func readPassword(cmd *cobra.Command) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("empty password")
	}
	return password, nil
}
