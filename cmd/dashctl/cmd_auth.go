package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func (c *cli) loginCmd() *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the token pair",
		Long: `Exchange a username and password for an access and refresh token.

The password can also be passed through GRIDOPS_PASSWORD. When
GRIDOPS_CREDENTIALS_KEY is set the refresh token is encrypted at rest.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("GRIDOPS_PASSWORD")
			}
			if password == "" {
				return errors.New("password required (--password or GRIDOPS_PASSWORD)")
			}
			ctx, cancel := c.context(cmd, args)
			defer cancel()
			creds, err := c.provider.Login(ctx, username, password)
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}
			fmt.Fprintf(c.out, "Logged in as %s (credentials in %s)\n", creds.Subject, c.creds.Path())
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "admin", "Username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password")
	return cmd
}

func (c *cli) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the session and remove stored credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context(cmd, args)
			defer cancel()
			if _, err := c.client.Post(ctx, "/auth/logout", nil); err != nil {
				c.logger.Warn("server logout failed, removing local credentials anyway", zap.Error(err))
			}
			if err := c.provider.ClearTokens(ctx); err != nil {
				return err
			}
			fmt.Fprintln(c.out, "Logged out")
			return nil
		},
	}
}

func (c *cli) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the authenticated subject",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context(cmd, args)
			defer cancel()
			var me struct {
				Subject string `json:"subject"`
			}
			if err := c.client.DoJSON(ctx, http.MethodGet, "/me", nil, &me); err != nil {
				return err
			}
			fmt.Fprintln(c.out, me.Subject)
			return nil
		},
	}
}
