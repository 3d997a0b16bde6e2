package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"grantledger/internal/amqp"
	"grantledger/internal/catalog"
	"grantledger/internal/config"
	"grantledger/internal/ledger"
	"grantledger/internal/pipeline"
	"grantledger/internal/storage"
	"grantledger/internal/util"
)

var cfg config.Config

var rootCmd = &cobra.Command{
	Use:   "grantledger",
	Short: "Classify lab purchases, total them per fund or month and track grant budgets.",
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		cfg = loaded
		if cmd.Flags().Changed("loglevel") {
			cfg.LogLevel, _ = cmd.Flags().GetString("loglevel")
		}
		if cmd.Flags().Changed("db") {
			cfg.DBPath, _ = cmd.Flags().GetString("db")
		}
		if cmd.Flags().Changed("rules") {
			cfg.RulesPath, _ = cmd.Flags().GetString("rules")
		}
		return util.SetLogLevel(cfg.LogLevel)
	},
}

func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		cancel()
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("loglevel", "l", "info", "Set log level. Available: debug, info, warn, error, fatal")
	rootCmd.PersistentFlags().String("db", "", "SQLite database path (default from DB_PATH)")
	rootCmd.PersistentFlags().String("rules", "", "classification rules file (default: built-in rules)")
}

func newClassifier() (*pipeline.Classifier, error) {
	rules, err := catalog.Load(cfg.RulesPath)
	if err != nil {
		return nil, err
	}
	return pipeline.NewClassifier(rules), nil
}

func openDB() (*storage.DB, error) {
	return storage.Open(cfg.DBPath)
}

// newNotifier returns an AMQP client when a broker is configured.
func newNotifier() *amqp.Client {
	if cfg.AMQPURL == "" {
		return nil
	}
	return amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRoutingKey)
}

// newLedger returns the ledger service and a cleanup func that closes the
// database and the event publisher.
func newLedger() (*ledger.Service, *storage.DB, func(), error) {
	db, err := openDB()
	if err != nil {
		return nil, nil, nil, err
	}
	var publisher ledger.Publisher
	client := newNotifier()
	if client != nil {
		publisher = client
	}
	cleanup := func() {
		if client != nil {
			_ = client.Close()
		}
		_ = db.Close()
	}
	return ledger.NewService(db, publisher), db, cleanup, nil
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), 2*time.Minute)
}
