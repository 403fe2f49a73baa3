// Command covidapi serves the UK COVID-19 query API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/pavelpascari/covidapi/internal/api"
	"github.com/pavelpascari/covidapi/internal/config"
	"github.com/pavelpascari/covidapi/internal/dataset"
	"github.com/pavelpascari/covidapi/pkg/middleware/auth"
	"github.com/pavelpascari/covidapi/pkg/openapi"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(config.New()).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type cli struct {
	v          *viper.Viper
	configFile string
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	c := &cli{v: v}

	root := &cobra.Command{
		Use:           "covidapi",
		Short:         "UK COVID-19 query API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.configFile, "config", "", "config file (yaml, json or toml)")
	flags.String("env", "", "deployment environment")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.String("driver", "", "dataset driver: sqlite or postgres")
	flags.String("dsn", "", "dataset location: a SQLite file or a Postgres URL")
	for key, flag := range map[string]string{
		"env":            "env",
		"log.level":      "log-level",
		"dataset.driver": "driver",
		"dataset.dsn":    "dsn",
	} {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}

	root.AddCommand(
		c.serveCmd(),
		c.refreshCmd(),
		c.openapiCmd(),
		c.tokenCmd(),
		versionCmd(),
	)
	return root
}

func (c *cli) load() (*config.Config, error) {
	return config.Load(c.v, c.configFile)
}

func (c *cli) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Load the dataset and serve the API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.load()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			return serve(cmd.Context(), cfg, logger)
		},
	}

	cmd.Flags().String("addr", "", "listen address")
	_ = c.v.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	schema := dataset.DefaultSchema()

	source, watchPath, err := openSource(ctx, cfg, schema, logger.Named("dataset"))
	if err != nil {
		return err
	}
	defer func() { _ = source.Close() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	store := dataset.NewStore(nil)
	refresher := dataset.NewRefresher(source, store, dataset.RefresherConfig{
		Schedule:  cfg.Dataset.RefreshSchedule,
		WatchPath: watchPath,
	}, logger.Named("refresh"), dataset.NewRefreshMetrics(reg))

	if _, err := refresher.Refresh(ctx); err != nil {
		return fmt.Errorf("initial dataset load: %w", err)
	}

	srv, err := api.New(api.Options{
		Config:   cfg,
		Accessor: store,
		Source:   source,
		Schema:   schema,
		Registry: reg,
		Logger:   logger,
		Version:  version,
	})
	if err != nil {
		return err
	}

	logger.Info("starting covidapi",
		zap.String("version", version),
		zap.String("env", cfg.Env),
		zap.String("driver", cfg.Dataset.Driver),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ListenAndServe(ctx) })
	g.Go(func() error { return refresher.Run(ctx) })

	err = g.Wait()
	logger.Info("covidapi stopped", zap.Error(err))
	return err
}

// openSource connects the configured driver. The returned path is the file
// to watch for replacement, empty when watching does not apply.
func openSource(ctx context.Context, cfg *config.Config, schema *dataset.Schema, logger *zap.Logger) (dataset.Source, string, error) {
	switch cfg.Dataset.Driver {
	case "postgres":
		src, err := dataset.OpenPostgres(ctx, cfg.Dataset.DSN, schema, logger)
		if err != nil {
			return nil, "", err
		}
		return src, "", nil
	case "sqlite":
		src, err := dataset.OpenSQLite(cfg.Dataset.DSN, schema, logger)
		if err != nil {
			return nil, "", err
		}
		if !cfg.Dataset.Watch {
			return src, "", nil
		}
		return src, src.Path(), nil
	default:
		return nil, "", fmt.Errorf("unknown dataset driver %q", cfg.Dataset.Driver)
	}
}

func (c *cli) refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Load the dataset once and report what it contains",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.load()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			source, _, err := openSource(cmd.Context(), cfg, dataset.DefaultSchema(), logger.Named("dataset"))
			if err != nil {
				return err
			}
			defer func() { _ = source.Close() }()

			snap, err := source.Load(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "version:   %s\n", snap.Version)
			fmt.Fprintf(out, "released:  %s\n", snap.Timestamp.UTC().Format(time.RFC3339))
			fmt.Fprintf(out, "records:   %d\n", snap.Len())
			fmt.Fprintf(out, "places:    %d\n", len(snap.Places()))
			fmt.Fprintf(out, "metrics:   %s\n", strings.Join(snap.Metrics(), ", "))
			return nil
		},
	}
}

func (c *cli) openapiCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "openapi",
		Short: "Print the OpenAPI document",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.load()
			if err != nil {
				return err
			}

			srv, err := api.New(api.Options{
				Config:   cfg,
				Accessor: dataset.NewStore(nil),
				Version:  version,
			})
			if err != nil {
				return err
			}

			doc, err := srv.OpenAPI(openapi.Format(format))
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(doc)
			return err
		},
	}

	cmd.Flags().StringVar(&format, "format", string(openapi.FormatJSON), "document format: json or yaml")
	return cmd
}

func (c *cli) tokenCmd() *cobra.Command {
	var (
		subject string
		scopes  []string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token that unlocks restricted filter values",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.load()
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return errors.New("auth.jwtSecret is not configured")
			}
			if subject == "" {
				return errors.New("--subject is required")
			}

			jwt := auth.NewJWTMiddleware([]byte(cfg.Auth.JWTSecret), auth.WithTokenExpiry(ttl))
			token, expires, err := jwt.GenerateToken(&auth.Principal{Subject: subject, Scopes: scopes})
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expires.UTC().Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "token subject")
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "granted scope, repeatable")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

// newLogger builds a console logger for development and a JSON logger
// everywhere else.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	zc := zap.NewProductionConfig()
	if cfg.Env == "DEVELOPMENT" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.EncoderConfig.TimeKey = "time"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger.With(zap.String("service", "covidapi")), nil
}
