// Command elephie runs the personal memory agent: an OpenAI-compatible chat
// endpoint that searches the user's notes and past conversations before it
// answers.
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/necyber/elephie/config"
	"github.com/necyber/elephie/pkg/api/middleware"
	"github.com/necyber/elephie/pkg/logger"
	"github.com/necyber/elephie/pkg/version"
)

// rootOptions are the flags shared by every command.
type rootOptions struct {
	configPath string
	port       int
	logLevel   string
	debug      bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "elephie",
		Short:         "elephie - a personal memory agent",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to configuration file")
	root.PersistentFlags().IntVar(&opts.port, "port", 0, "Override server port")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override log level")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug mode")

	root.AddCommand(
		newServeCmd(opts),
		newTokenCmd(opts),
		newReindexCmd(opts),
		newVersionCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// overrides maps the flags that were set onto config keys.
func (o *rootOptions) overrides() map[string]interface{} {
	overrides := make(map[string]interface{})
	if o.port != 0 {
		overrides["server.port"] = o.port
	}
	if o.logLevel != "" {
		overrides["log.level"] = o.logLevel
	}
	if o.debug {
		overrides["app.debug"] = true
	}
	return overrides
}

func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath, o.overrides())
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) logger.Logger {
	logCfg := &logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}
	if cfg.App.Debug {
		logCfg.Level = logger.DebugLevel
	}
	log := logger.New(logCfg)
	logger.SetGlobal(log)
	return log
}

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <username>",
		Short: "Mint an API token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("ttl") {
				ttl = cfg.Auth.TokenTTL
			}
			return runToken(cmd.OutOrStdout(), cfg, args[0], ttl, time.Now())
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime; zero mints a token without expiry")
	return cmd
}

func runToken(w io.Writer, cfg *config.Config, username string, ttl time.Duration, now time.Time) error {
	if cfg.Auth.Secret == "" {
		return fmt.Errorf("auth.secret is not set")
	}
	token, err := middleware.IssueToken(cfg.Auth.Secret, username, ttl, now)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, token)
	return err
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version.String())
			return err
		},
	}
}
