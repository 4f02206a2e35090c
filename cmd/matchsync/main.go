package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dgnsrekt/matchsync/internal/config"
)

// rootFlags are the persistent flags shared by every subcommand.
type rootFlags struct {
	configPath string
	verbose    bool
}

// session is what a subcommand runs with once configuration is loaded and
// its logger is built.
type session struct {
	cfg    *config.Config
	logger *zap.Logger
}

// withSession loads the configuration, builds a logger named after the
// running subcommand and passes both to fn. The logger is synced on return.
func withSession(flags *rootFlags, fn func(ctx context.Context, s *session, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(flags.configPath)
		if err != nil {
			return err
		}

		logger, err := newLogger(cmd.Name(), flags.verbose, cfg.Logging)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		logger.Debug("configuration loaded",
			zap.String("config", flags.configPath),
			zap.String("hub", cfg.Hub.BaseURL),
			zap.String("tournament", cfg.Tournament),
			zap.String("submitter", cfg.Submitter),
		)
		return fn(cmd.Context(), &session{cfg: cfg, logger: logger}, args)
	}
}

// newLogger builds the logger for one subcommand. Level and encoding come
// from the logging section; --verbose forces debug. When file logging is on,
// each run writes to <directory>/<command>-<timestamp>.log.
func newLogger(command string, verbose bool, logCfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(logCfg.Level)
	if err != nil {
		return nil, fmt.Errorf("logging.level: %w", err)
	}
	if verbose {
		level = zapcore.DebugLevel
	}

	zapConfig := zap.NewProductionConfig()
	zapConfig.DisableStacktrace = true
	zapConfig.Level = zap.NewAtomicLevelAt(level)
	if logCfg.Format == config.LogFormatConsole {
		zapConfig.Encoding = "console"
		zapConfig.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}

	if logCfg.Enabled {
		if err := os.MkdirAll(logCfg.Directory, 0o755); err != nil {
			return nil, fmt.Errorf("creating log directory: %w", err)
		}
		name := fmt.Sprintf("%s-%s.log", command, time.Now().Format("20060102-150405"))
		zapConfig.OutputPaths = append(zapConfig.OutputPaths, filepath.Join(logCfg.Directory, name))
	}

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, err
	}
	return logger.Named(command), nil
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "matchsync",
		Short:         "Real-time match state sync with a scoring hub",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", os.Getenv("MATCHSYNC_CONFIG"), "config file path (or set MATCHSYNC_CONFIG)")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "log at debug level")

	root.AddCommand(watchCmd(flags), submitCmd(flags))
	return root
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "matchsync: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(run())
}
