package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"gridops/internal/apiclient"
	"gridops/internal/auth"
	"gridops/internal/config"
	"gridops/internal/logging"
	"gridops/internal/security/secretbox"
)

// cli carries the flags and the clients built from them for one invocation.
type cli struct {
	out io.Writer

	apiURL          string
	credentialsFile string
	embedded        bool
	verbose         bool
	jsonOut         bool
	timeout         time.Duration

	logger   *zap.Logger
	creds    *auth.FileCredentials
	provider *auth.Provider
	client   *apiclient.Client
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out}

	root := &cobra.Command{
		Use:   "dashctl",
		Short: "Command line client for the gridops dashboard API",
		Long: `dashctl talks to the gridops dashboard API.

Log in once with 'dashctl login'. Expired access tokens are refreshed
automatically; when the refresh token is no longer accepted the stored
credentials are removed and you are asked to log in again.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}
	root.SetOut(out)
	root.SetErr(out)

	flags := root.PersistentFlags()
	flags.StringVar(&c.apiURL, "api-url", "", "API base URL (or set GRIDOPS_API_URL)")
	flags.StringVar(&c.credentialsFile, "credentials", "", "Credentials file (or set GRIDOPS_CREDENTIALS_FILE)")
	flags.BoolVar(&c.embedded, "embedded", false, "Leave session recovery to the host application")
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "Enable debug logging")
	flags.BoolVar(&c.jsonOut, "json", false, "Print raw JSON responses")
	flags.DurationVar(&c.timeout, "timeout", 0, "Per-command timeout (or set GRIDOPS_REQUEST_TIMEOUT)")

	root.AddCommand(c.loginCmd(), c.logoutCmd(), c.whoamiCmd(), c.diagramsCmd(), c.eventsCmd())
	return root
}

func (c *cli) setup(cmd *cobra.Command, args []string) error {
	if _, err := config.LoadDotEnv(".env"); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	cfg := config.LoadClient()
	if c.apiURL == "" {
		c.apiURL = cfg.APIURL
	}
	if c.credentialsFile == "" {
		c.credentialsFile = cfg.CredentialsFile
	}
	if c.timeout <= 0 {
		c.timeout = cfg.RequestTimeout
	}
	c.embedded = c.embedded || cfg.Embedded

	level := cfg.LogLevel
	if c.verbose {
		level = "debug"
	}
	logger, err := logging.New(level, "console")
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	c.logger = logger

	var box *secretbox.Box
	if cfg.CredentialsKey != "" {
		box, err = secretbox.New(cfg.CredentialsKey)
		if err != nil {
			return fmt.Errorf("credentials key: %w", err)
		}
	}
	c.creds = auth.NewFileCredentials(c.credentialsFile, box)
	c.provider = &auth.Provider{BaseURL: c.apiURL, Store: c.creds}

	c.client, err = apiclient.New(c.apiURL, c.provider, &terminalSink{out: c.out},
		apiclient.WithEmbeddedMode(c.embedded),
		apiclient.WithLogger(logger.Named("apiclient")),
	)
	return err
}

// context bounds a command by the timeout and records the command line as
// the place to return to after logging in again.
func (c *cli) context(cmd *cobra.Command, args []string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(cmd.Context(), c.timeout)
	line := strings.TrimSpace(cmd.CommandPath() + " " + strings.Join(args, " "))
	return apiclient.WithReturnPath(ctx, line), cancel
}

// terminalSink ends a CLI session by telling the user to log in again. The
// tokens are already gone by the time it runs.
type terminalSink struct {
	out io.Writer
}

func (s *terminalSink) ClearSession(context.Context) error {
	return nil
}

func (s *terminalSink) RedirectToLogin(_ context.Context, returnPath string) error {
	_, err := fmt.Fprintf(s.out, "Session expired. Run 'dashctl login', then retry '%s'.\n", returnPath)
	return err
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
