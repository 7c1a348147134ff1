// Command maturityctl drives a client maturity session from a terminal: it
// hydrates from the backend, reports verified actions and evaluates feature
// gates against the snapshot kept on disk between runs.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/promorang/maturity/pkg/localstore"
	"github.com/promorang/maturity/pkg/logger"
	"github.com/promorang/maturity/pkg/maturity"
	"github.com/promorang/maturity/pkg/maturityclient"
)

type options struct {
	server  string
	userID  string
	token   string
	role    string
	store   string
	surface string
	timeout time.Duration
	verbose bool

	// dial replaces the network dialer in tests.
	dial fasthttp.DialFunc
	log  *zap.Logger
}

func main() {
	if err := newRootCmd(os.Stdout, &options{}).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer, opts *options) *cobra.Command {
	root := &cobra.Command{
		Use:           "maturityctl",
		Short:         "Inspect and drive a user's maturity session",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.log != nil {
				return nil
			}
			level := "warn"
			if opts.verbose {
				level = "debug"
			}
			l, err := logger.New(logger.Config{Level: level, Encoding: "console", Output: cmd.ErrOrStderr()})
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			opts.log = l
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.log != nil {
				_ = opts.log.Sync()
			}
		},
	}
	root.SetOut(out)

	flags := root.PersistentFlags()
	flags.StringVar(&opts.server, "server", envOr("MATURITY_SERVER", "http://localhost:8080"), "Backend base URL")
	flags.StringVarP(&opts.userID, "user", "u", os.Getenv("MATURITY_USER"), "User ID the session belongs to")
	flags.StringVar(&opts.token, "token", os.Getenv("MATURITY_TOKEN"), "Bearer token from login")
	flags.StringVar(&opts.role, "role", os.Getenv("MATURITY_ROLE"), "Role from login (demo and admin may override)")
	flags.StringVar(&opts.store, "store", defaultStorePath(), "Device storage file")
	flags.StringVar(&opts.surface, "surface", string(maturity.SurfaceWeb), "Surface tag for recorded actions (mobile or web)")
	flags.DurationVar(&opts.timeout, "timeout", 10*time.Second, "Request timeout")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		stateCmd(opts),
		recordCmd(opts),
		featureCmd(opts),
		overrideCmd(opts),
		logoutCmd(opts),
	)
	return root
}

func stateCmd(opts *options) *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Hydrate from the backend and print the session state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(func(s *maturityclient.Session) error {
				if !offline {
					ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
					defer cancel()
					if _, err := s.Hydrate(ctx); err != nil {
						opts.log.Warn("showing cached state", zap.Error(err))
					}
				}
				return printJSON(cmd.OutOrStdout(), stateOutputFrom(s.Snapshot()))
			})
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "Print the stored snapshot without contacting the backend")
	return cmd
}

func recordCmd(opts *options) *cobra.Command {
	var metadata string
	cmd := &cobra.Command{
		Use:   "record <action>",
		Short: "Report a verified action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := maturity.ParseAction(args[0])
			if err != nil {
				return err
			}
			var raw json.RawMessage
			if metadata != "" {
				if !json.Valid([]byte(metadata)) {
					return fmt.Errorf("metadata is not valid JSON")
				}
				raw = json.RawMessage(metadata)
			}
			return opts.withSession(func(s *maturityclient.Session) error {
				ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
				defer cancel()
				state, err := s.RecordAction(ctx, action, raw)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), stateOutputFrom(state))
			})
		},
	}
	cmd.Flags().StringVar(&metadata, "metadata", "", "JSON metadata attached to the action")
	return cmd
}

func featureCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "feature <key>",
		Short: "Evaluate a feature gate against the stored snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			feature := maturity.Feature(args[0])
			return opts.withSession(func(s *maturityclient.Session) error {
				return printJSON(cmd.OutOrStdout(), featureOutput{
					Feature:     feature,
					Mode:        s.Resolve(feature),
					Access:      s.Access(feature),
					Explanation: s.Explain(feature),
				})
			})
		},
	}
}

func overrideCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "override <level>",
		Short: "Set the local level of a demo or admin session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rank, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("level must be a number from 0 to 4: %w", err)
			}
			level, err := maturity.ParseLevel(rank)
			if err != nil {
				return err
			}
			return opts.withSession(func(s *maturityclient.Session) error {
				state, err := s.ApplyDemoOverride(level)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), stateOutputFrom(state))
			})
		},
	}
}

func logoutCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and clear device storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(func(s *maturityclient.Session) error {
				if err := s.Close(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "session cleared")
				return nil
			})
		},
	}
}

// withSession opens the device store and a session on it for the length of fn.
func (o *options) withSession(fn func(*maturityclient.Session) error) error {
	if o.userID == "" {
		return fmt.Errorf("--user is required")
	}
	surface := maturity.Surface(o.surface)
	if !surface.Valid() {
		return fmt.Errorf("surface must be mobile or web, got %q", o.surface)
	}

	store, err := localstore.Open(o.store)
	if err != nil {
		return fmt.Errorf("open device storage: %w", err)
	}
	defer store.Close()

	client := maturityclient.NewClient(maturityclient.ClientConfig{
		BaseURL: o.server,
		Timeout: o.timeout,
		Dial:    o.dial,
	})
	session, err := maturityclient.Open(
		maturityclient.Account{UserID: o.userID, Token: o.token, Role: o.role},
		client,
		store,
		maturityclient.WithLogger(o.log),
		maturityclient.WithSurface(surface),
		maturityclient.WithHydrateTimeout(o.timeout),
	)
	if err != nil {
		return err
	}
	return fn(session)
}

func defaultStorePath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "promorang", "maturity.db")
	}
	return "maturity.db"
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
