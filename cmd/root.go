package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/moodlens/internal/config"
	"github.com/andresmejia3/moodlens/internal/store"
	"github.com/andresmejia3/moodlens/internal/utils"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Database needs, set per command through the "db" annotation.
const (
	dbRequired = "required"
	dbOptional = "optional"
)

var (
	// DB is the global database connection shared by subcommands. It stays nil when
	// persistence is disabled.
	DB *store.Store
	// Cfg is the effective configuration.
	Cfg *config.Config

	cfgFile string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "moodlens",
	Short:   "Real-time facial emotion monitoring from a webcam",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		Cfg, err = config.Load(cfgFile, cmd.Flags())
		if err != nil {
			return err
		}
		if err := setupLogging(Cfg.LogLevel); err != nil {
			return err
		}

		need := cmd.Annotations["db"]
		if need == "" {
			return nil
		}
		url := Cfg.DatabaseURL()
		if url == "" {
			if need == dbRequired {
				return errors.New("no database configured: set --db, database.url or POSTGRES_HOST")
			}
			log.Info("No database configured, session history will not be persisted")
			return nil
		}

		// Use the command's context (which will be cancellable) for the connection
		DB, err = store.New(cmd.Context(), url)
		if err != nil {
			if need == dbRequired {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			log.WithError(err).Warn("Database unavailable, continuing without persistence")
			DB = nil
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			DB.Close(context.Background())
		}
	},
}

func setupLogging(level string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	log.SetLevel(lvl)
	log.SetOutput(os.Stderr)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	return nil
}

// reportedError is an error already shown in the error box.
type reportedError struct{ err error }

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

// report prints err in the error box and returns it marked as shown, so Execute exits
// non-zero without printing it again.
func report(msg string, err error) error {
	utils.ShowError(msg, err, nil)
	return &reportedError{err: err}
}

// exitMessage is what Execute prints for a failed command, empty when already reported.
func exitMessage(err error) string {
	var shown *reportedError
	if err == nil || errors.As(err, &shown) {
		return ""
	}
	return err.Error()
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	// Errors are printed below, once.
	rootCmd.SilenceErrors = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if msg := exitMessage(err); msg != "" {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: moodlens.yaml in ., ./config or ~/.moodlens)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("db", "", "PostgreSQL connection string (default: built from POSTGRES_* env vars)")
}
