package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/vitos/credit_line/internal/config"
	"github.com/vitos/credit_line/internal/infrastructure/logger"
	"github.com/vitos/credit_line/internal/infrastructure/storage"
	"github.com/vitos/credit_line/internal/usecase"
	"go.uber.org/zap"
)

// env is opened once per invocation by the root command.
type env struct {
	configPath string
	cfg        *config.Config
	store      *storage.SQLiteStore
	ledger     *usecase.IntentLedger
	log        *zap.Logger
}

func newRootCmd() *cobra.Command {
	e := &env{}
	cmd := &cobra.Command{
		Use:           "intentctl",
		Short:         "Inspect and redeliver credit line intents",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return e.open()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return e.close()
		},
	}
	cmd.PersistentFlags().StringVar(&e.configPath, "config", config.DefaultPath, "path to config file")

	cmd.AddCommand(
		newStuckCmd(e),
		newShowCmd(e),
		newRetryCmd(e),
		newWalletCmd(e),
	)
	return cmd
}

func (e *env) open() error {
	cfg, err := config.Load(e.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := logger.NewLogger(cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	store, err := storage.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	e.cfg = cfg
	e.log = log
	e.store = store
	e.ledger = usecase.NewIntentLedger(store, log)
	return nil
}

func (e *env) close() error {
	if e.log != nil {
		e.log.Sync()
	}
	if e.store != nil {
		return e.store.Close()
	}
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
