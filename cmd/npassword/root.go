package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/npassword/npassword/internal/config"
	"github.com/npassword/npassword/internal/logger"
	"github.com/npassword/npassword/pkg/engine"
)

// app holds what a single command invocation needs.
type app struct {
	configPath string
	cfg        *config.Config
	log        *zap.Logger
	engine     *engine.Engine
}

// newRootCmd builds the command tree around a. The caller closes a after
// the command finishes, whether or not it failed.
func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "npassword",
		Short: "npassword keeps a small table of secrets per local account",
		Long: `npassword stores (description, secret) pairs for local accounts.

Each account has its own vault file in the data directory
(default ~/.npassword_manager). Accounts are protected with Argon2id.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		// PersistentPreRunE loads configuration and the logger for every subcommand.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.LogLevel)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.log = log
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "",
		"Config file (default <data dir>/"+config.FileName+")")

	rootCmd.AddCommand(
		newRegisterCmd(a),
		newLoginCmd(a),
		newAddCmd(a),
		newImportCmd(a),
		newDoctorCmd(a),
		newAuditCmd(a),
	)
	return rootCmd
}

// openEngine opens the storage engine for commands that need it.
func (a *app) openEngine(cmd *cobra.Command) (*engine.Engine, error) {
	if a.engine != nil {
		return a.engine, nil
	}
	e, err := engine.Open(cmd.Context(), engine.Config{
		DataDir:     a.cfg.DataDir,
		BusyTimeout: a.cfg.BusyTimeout,
		Argon2:      a.cfg.Params(),
		Audit:       a.cfg.Audit.Enabled,
		Logger:      a.log,
	})
	if err != nil {
		a.logError("failed to open storage", err)
		return nil, internalError(err)
	}
	a.engine = e
	return e, nil
}

func (a *app) close() error {
	var err error
	if a.engine != nil {
		if err = a.engine.Close(); err != nil {
			a.logError("failed to close storage", err)
			err = internalError(err)
		}
		a.engine = nil
	}
	if a.log != nil {
		// Sync on stderr fails on some platforms; nothing to do about it.
		_ = a.log.Sync()
	}
	return err
}

// internalError marks a storage failure for the user as internal; the
// detail goes to the log only.
func internalError(err error) error {
	return fmt.Errorf("%w: %w", engine.ErrInternal, err)
}

func (a *app) logError(msg string, err error) {
	if a.log != nil {
		a.log.Error(msg, zap.Error(err))
	}
}
