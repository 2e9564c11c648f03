package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/developingchet/maintenance-gate/internal/admin"
	"github.com/developingchet/maintenance-gate/internal/allowlist"
	"github.com/developingchet/maintenance-gate/internal/config"
	"github.com/developingchet/maintenance-gate/internal/logger"
	"github.com/developingchet/maintenance-gate/internal/maintenance"
	"github.com/developingchet/maintenance-gate/internal/server"
	"github.com/developingchet/maintenance-gate/internal/storage"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Version is set by the build system via -ldflags.
var Version = "dev"

var configPath string

func main() {
	if err := newRoot().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "maintenance-gate",
		Short:         "Maintenance mode gate for a web application",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (default $CONFIG_FILE)")

	root.AddCommand(
		runCmd(),
		statusCmd(),
		activateCmd(),
		deactivateCmd(),
		resetCmd(),
		whitelistCmd(),
		healthcheckCmd(),
		versionCmd(),
	)
	return root
}

// runCmd is the main daemon command.
func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the gate proxy and admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon()
		},
	}
}

func runDaemon() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateServe(); err != nil {
		return err
	}

	log := buildLogger(cfg)
	log.Info().Str("version", Version).Str("store", cfg.StoreBackend).Msg("maintenance-gate starting")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := storage.Open(ctx, cfg.StoreOptions(), log.With().Str("component", "storage").Logger())
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	server.BinaryVersion = Version
	srv, err := server.New(cfg, store, log)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}
	return srv.Run(ctx)
}

// withService opens the configured store for one admin command and waits for
// any background expiry write-back before closing it.
func withService(cmd *cobra.Command, fn func(ctx context.Context, svc *admin.Service) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := buildLogger(cfg)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := storage.Open(ctx, cfg.StoreOptions(), log.With().Str("component", "storage").Logger())
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	state := maintenance.NewState(store, log.With().Str("component", "state").Logger())
	allow := allowlist.New(store, log.With().Str("component", "allowlist").Logger())
	defer state.Wait()

	return reportInvalid(cmd.ErrOrStderr(), fn(ctx, admin.New(state, allow, log.With().Str("component", "admin").Logger())))
}

// reportInvalid prints each rejected address on its own line.
func reportInvalid(w io.Writer, err error) error {
	var ve *allowlist.ValidationError
	if errors.As(err, &ve) {
		for _, msg := range ve.Messages() {
			fmt.Fprintln(w, msg)
		}
		return fmt.Errorf("%d invalid address(es)", len(ve.Invalid))
	}
	return err
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether maintenance mode is active",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, svc *admin.Service) error {
				st, err := svc.Status(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if !st.Active {
					fmt.Fprintln(out, "Maintenance mode not active")
					return nil
				}
				fmt.Fprintln(out, "Maintenance mode active!")
				if !st.ExpiresAt.IsZero() {
					fmt.Fprintf(out, "Expires at %s (%s remaining)\n",
						st.ExpiresAt.Format(time.RFC3339), st.Remaining.Round(time.Second))
				}
				return nil
			})
		},
	}
}

func activateCmd() *cobra.Command {
	var minutes int
	cmd := &cobra.Command{
		Use:   "activate",
		Short: "Turn maintenance mode on",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, svc *admin.Service) error {
				st, err := svc.Activate(ctx, minutes)
				if err != nil {
					return err
				}
				if st.ExpiresAt.IsZero() {
					fmt.Fprintln(cmd.OutOrStdout(), "Maintenance mode activated until deactivated")
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Maintenance mode activated until %s\n", st.ExpiresAt.Format(time.RFC3339))
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&minutes, "duration", "d", 0, "minutes until maintenance mode expires (0 = no expiry)")
	return cmd
}

func deactivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate",
		Short: "Turn maintenance mode off",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, svc *admin.Service) error {
				if err := svc.Deactivate(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Maintenance mode deactivated")
				return nil
			})
		},
	}
}

func resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Turn maintenance mode off and clear the whitelist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, svc *admin.Service) error {
				if err := svc.Reset(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Reset Done")
				return nil
			})
		},
	}
}

func whitelistCmd() *cobra.Command {
	var remove bool
	cmd := &cobra.Command{
		Use:   "whitelist [ip,ip...]",
		Short: "Add, remove or list whitelisted IP addresses",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var ips []string
			if len(args) == 1 {
				ips = allowlist.SplitCSV(args[0])
			}
			return withService(cmd, func(ctx context.Context, svc *admin.Service) error {
				list, err := svc.Whitelist(ctx, ips, remove)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if remove || len(ips) > 0 {
					fmt.Fprintln(out, "Done!")
				}
				fmt.Fprintln(out, "Current whitelist:")
				if len(list) == 0 {
					fmt.Fprintln(out, "n/a")
					return nil
				}
				fmt.Fprintln(out, strings.Join(list, "\n"))
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&remove, "remove", "r", false, "remove the given addresses (all when none given)")
	return cmd
}

// healthcheckCmd exits 0 if the running gate's health endpoint answers.
func healthcheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "Check health endpoint and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			client := &http.Client{Timeout: 5 * time.Second}
			resp, err := client.Get("http://" + cfg.HealthAddr + "/healthz") //nolint:noctx
			if err != nil {
				fmt.Fprintf(os.Stderr, "healthcheck failed: %v\n", err)
				os.Exit(1)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				fmt.Fprintf(os.Stderr, "healthcheck returned %d\n", resp.StatusCode)
				os.Exit(1)
			}
			fmt.Println("healthy")
			return nil
		},
	}
}

// versionCmd prints the version and exits.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("maintenance-gate %s\n", Version)
		},
	}
}

// buildLogger constructs a zerolog.Logger based on config.
func buildLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	out := logger.NewRedactWriter(os.Stderr, cfg.AdminToken, cfg.RedisPassword)
	if cfg.LogFormat == "text" {
		cw := zerolog.NewConsoleWriter()
		cw.Out = out
		return zerolog.New(cw).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
