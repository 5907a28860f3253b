package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/terraskye/cqrs/config"
)

type cli struct {
	configPath string
	cfg        config.Config
	logger     *logrus.Logger
	slog       *slog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "bankaccount",
		Short: "Event-sourced bank account service",
		Long: `Runs the bank account command and query service.

Settings come from BANK_* environment variables, an optional YAML file and
the flags below, flags winning.

Examples:
  bankaccount serve --event-store sqlite --sqlite-path bank.db
  bankaccount execute ABC-123 '{"DepositMoney":{"amount":200}}'
  bankaccount view ABC-123
  bankaccount replay --view-store badger`,
		SilenceUsage:      true,
		PersistentPreRunE: c.load,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&c.configPath, "config", "c", "", "YAML configuration file")
	flags.String("event-store", "", "event store backend: memory, sqlite or kurrentdb")
	flags.String("view-store", "", "view store backend: memory, sqlite or badger")
	flags.String("sqlite-path", "", "SQLite database file")
	flags.String("badger-path", "", "BadgerDB directory")
	flags.String("kurrentdb-url", "", "KurrentDB connection string")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.String("log-format", "", "log format: text or json")

	root.AddCommand(
		c.serveCmd(),
		c.executeCmd(),
		c.viewCmd(),
		c.replayCmd(),
	)
	return root
}

// load builds the configuration and the loggers of every subcommand.
func (c *cli) load(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	for name, target := range map[string]*string{
		"event-store":   &cfg.EventStore,
		"view-store":    &cfg.ViewStore,
		"sqlite-path":   &cfg.SQLitePath,
		"badger-path":   &cfg.BadgerPath,
		"kurrentdb-url": &cfg.KurrentDBURL,
		"log-level":     &cfg.LogLevel,
		"log-format":    &cfg.LogFormat,
	} {
		if err := overrideString(flags, name, target); err != nil {
			return err
		}
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	c.cfg = cfg
	c.logger, c.slog = newLoggers(cfg, cmd.ErrOrStderr())
	return nil
}

func overrideString(flags *pflag.FlagSet, name string, target *string) error {
	if !flags.Changed(name) {
		return nil
	}
	v, err := flags.GetString(name)
	if err != nil {
		return err
	}
	*target = v
	return nil
}

func newLoggers(cfg config.Config, w io.Writer) (*logrus.Logger, *slog.Logger) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}

	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetLevel(level)

	opts := &slog.HandlerOptions{Level: slogLevel(level)}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
		handler = slog.NewJSONHandler(w, opts)
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		handler = slog.NewTextHandler(w, opts)
	}
	return logger, slog.New(handler)
}

func slogLevel(level logrus.Level) slog.Level {
	switch {
	case level >= logrus.DebugLevel:
		return slog.LevelDebug
	case level == logrus.InfoLevel:
		return slog.LevelInfo
	case level == logrus.WarnLevel:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
