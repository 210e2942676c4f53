// Package cli is the terminal front end: it wires configuration, session, API client and
// ledger together and exposes them as cobra commands.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"gallerio/internal/api"
	"gallerio/internal/cache"
	"gallerio/internal/config"
	"gallerio/internal/logging"
	"gallerio/internal/metrics"
	"gallerio/internal/repo"
	"gallerio/internal/session"
	"gallerio/migrations"
)

var (
	version = "dev"
	commit  = "unknown"
)

var errInputClosed = errors.New("input closed")

// Execute runs the root command until it finishes or the process is interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

type rootFlags struct {
	configPath string
	logLevel   string
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:   "gallerio",
		Short: "Gallerio marketplace client",
		Long: `Gallerio talks to the art marketplace backend: sign in, chat with artists,
buy artworks with mobile money and track your orders.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "YAML config file")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		newLoginCmd(flags),
		newLogoutCmd(flags),
		newWhoamiCmd(flags),
		newInboxCmd(flags),
		newChatCmd(flags),
		newReplyCmd(flags),
		newDeleteMessageCmd(flags),
		newOrderCmd(flags),
		newOrdersCmd(flags),
		newServeCmd(flags),
	)
	return root
}

// app is everything a command needs, built once per invocation.
type app struct {
	cfg       config.Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
	session   *session.Store
	client    *api.Client
	ledger    repo.Repository
	navigator *terminalNavigator
	input     *bufio.Reader
	out       io.Writer
	closers   []func()
}

func withApp(cmd *cobra.Command, flags *rootFlags, run func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cmd, flags)
	if err != nil {
		return err
	}
	defer a.close()
	return run(ctx, a)
}

func newApp(ctx context.Context, cmd *cobra.Command, flags *rootFlags) (*app, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}

	a := &app{
		cfg:     cfg,
		logger:  logging.New(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat),
		metrics: metrics.Registry(cfg.MetricsNamespace),
		input:   bufio.NewReader(cmd.InOrStdin()),
		out:     cmd.OutOrStdout(),
	}
	a.navigator = newTerminalNavigator(cmd.ErrOrStderr())

	persister, err := a.persister(ctx)
	if err != nil {
		a.close()
		return nil, err
	}
	store, err := session.Open(ctx, persister, a.logger)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("open session: %w", err)
	}
	a.session = store

	a.client = api.New(api.Config{BaseURL: cfg.APIBaseURL, Timeout: cfg.APITimeout}, store, a.navigator, a.logger, a.metrics)

	ledger, err := repo.Open(ctx, cfg.LedgerDriver, cfg.LedgerDSN, cfg.LedgerSchema, migrations.Files, a.logger)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if ledger != nil {
		a.ledger = ledger
		a.closers = append(a.closers, ledger.Close)
	}
	return a, nil
}

func (a *app) persister(ctx context.Context) (session.Persister, error) {
	switch a.cfg.SessionBackend {
	case "redis":
		redisClient := cache.New(cache.Config{
			Addr:     a.cfg.RedisAddr,
			Password: a.cfg.RedisPassword,
			DB:       a.cfg.RedisDB,
			UseTLS:   a.cfg.RedisTLS,
		}, a.logger)
		a.closers = append(a.closers, func() {
			if err := redisClient.Close(); err != nil {
				a.logger.Warn("failed closing redis", "error", err)
			}
		})
		if err := redisClient.Ping(ctx); err != nil {
			return nil, fmt.Errorf("redis session backend: %w", err)
		}
		return session.NewRedisPersister(redisClient, a.cfg.SessionKey), nil
	case "memory":
		return session.NewMemoryPersister(), nil
	default:
		return session.NewFilePersister(a.cfg.SessionPath), nil
	}
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

// prompt prints label and returns the next input line without its line ending.
func (a *app) prompt(label string) (string, error) {
	a.printf("%s", label)
	line, err := a.input.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		if errors.Is(err, io.EOF) {
			return "", errInputClosed
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
