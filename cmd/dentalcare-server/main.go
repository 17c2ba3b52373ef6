package main

import (
	"context"
	crypto_rand "crypto/rand"
	"fmt"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dentalcare/dentalcare/internal/config"
	"github.com/dentalcare/dentalcare/internal/platform/db"
	"github.com/dentalcare/dentalcare/migrations"
)

const dateLayout = "2006-01-02"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "dentalcare-server",
		Short:        "Dental clinic API server",
		SilenceUsage: true,
	}

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(remindersCmd())
	root.AddCommand(appointmentsCmd())
	root.AddCommand(adminCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, pool, err := loadPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrations.FS).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, pool, err := loadPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	})

	return cmd
}

// remindersCmd runs a single dispatch pass. It is meant for an external
// scheduler when REMINDER_INTERVAL is 0.
func remindersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reminders",
		Short: "Manage appointment reminders",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "dispatch",
		Short: "Send every reminder that is due now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				res, err := a.dispatcher.RunOnce(ctx)
				if err != nil {
					return fmt.Errorf("dispatch reminders: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Processed %d reminder(s), %d failed.\n", res.Count, res.Failed)
				return nil
			})
		},
	})

	return cmd
}

func appointmentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "appointments",
		Short: "Appointment maintenance",
	}

	reconcileCmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Mark past scheduled appointments as completed",
		RunE: func(cmd *cobra.Command, args []string) error {
			asOfFlag, _ := cmd.Flags().GetString("as-of")
			if asOfFlag != "" {
				if _, err := time.Parse(dateLayout, asOfFlag); err != nil {
					return fmt.Errorf("--as-of must be YYYY-MM-DD: %w", err)
				}
			}

			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				asOf := time.Now()
				if asOfFlag != "" {
					// Midnight in the clinic timezone keeps the calendar day intact.
					asOf, _ = time.ParseInLocation(dateLayout, asOfFlag, a.loc)
				}
				n, err := a.scheduling.ReconcileOverdueAppointments(ctx, asOf)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reconciled %d appointment(s).\n", n)
				return nil
			})
		},
	}
	reconcileCmd.Flags().String("as-of", "", "Reference date (YYYY-MM-DD), defaults to today")
	cmd.AddCommand(reconcileCmd)

	return cmd
}

func adminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Administrative tasks",
	}

	promoteCmd := &cobra.Command{
		Use:   "promote",
		Short: "Grant the admin role to an existing account",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, _ := cmd.Flags().GetString("email")
			if email == "" {
				return fmt.Errorf("--email is required")
			}

			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				view, err := a.admin.BootstrapAdmin(ctx, email)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Account %s now has roles %v.\n", view.AccountID, view.Roles)
				return nil
			})
		},
	}
	promoteCmd.Flags().String("email", "", "Email of the account to promote")
	cmd.AddCommand(promoteCmd)

	return cmd
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func loadPool(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}

// withApp builds the service graph without the realtime hub and runs fn.
func withApp(ctx context.Context, fn func(ctx context.Context, a *app) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, pool, err := loadPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	logger := newLogger(cfg.Env)
	if _, err := initSentry(cfg); err != nil {
		logger.Warn().Err(err).Msg("sentry disabled")
	}
	defer sentry.Flush(2 * time.Second)

	key, _, err := resolveSigningKey(cfg)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, pool, key, nil, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

// initSentry enables error reporting when SENTRY_DSN is set. It reports
// whether the client was initialised.
func initSentry(cfg *config.Config) (bool, error) {
	if cfg.SentryDSN == "" {
		return false, nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.SentryDSN,
		EnableTracing:    true,
		TracesSampleRate: cfg.SentryTracesSampleRate,
		Environment:      cfg.Env,
	})
	if err != nil {
		return false, fmt.Errorf("sentry init: %w", err)
	}
	return true, nil
}

// resolveSigningKey returns AUTH_SIGNING_KEY, or a random 32-byte key in
// development. The second return value is true when a random key was
// generated.
func resolveSigningKey(cfg *config.Config) ([]byte, bool, error) {
	key, err := cfg.SigningKey()
	if err != nil {
		return nil, false, err
	}
	if len(key) > 0 {
		return key, false, nil
	}
	if !cfg.IsDev() {
		return nil, false, fmt.Errorf("AUTH_SIGNING_KEY is required when ENV=%q", cfg.Env)
	}
	key = make([]byte, 32)
	if _, err := crypto_rand.Read(key); err != nil {
		return nil, false, fmt.Errorf("failed to generate random signing key: %w", err)
	}
	return key, true, nil
}
