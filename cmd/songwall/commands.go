package main

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/pressly/goose/v3"
	"github.com/urfave/cli/v3"

	"github.com/justestif/songwall/internal/auth"
	"github.com/justestif/songwall/internal/config"
	"github.com/justestif/songwall/internal/db"
	"github.com/justestif/songwall/internal/logging"
	"github.com/justestif/songwall/internal/palette"
	"github.com/justestif/songwall/internal/ratelimit"
	"github.com/justestif/songwall/internal/spotify"
	"github.com/justestif/songwall/internal/sqlite"
	"github.com/justestif/songwall/internal/wall"
	"github.com/justestif/songwall/internal/web"
	webfs "github.com/justestif/songwall/web"
)

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to configuration file",
		Sources: cli.EnvVars("SONGWALL_CONFIG"),
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Run the web server",
		Flags:  []cli.Flag{configFlag()},
		Action: serve,
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Manage the database schema",
		Flags: []cli.Flag{configFlag()},
		Commands: []*cli.Command{
			{
				Name:  "up",
				Usage: "Apply all pending migrations",
				Action: withMigrator(func(ctx context.Context, m migrator, logger *log.Logger) error {
					results, err := m.Migrate(ctx)
					if err != nil {
						return err
					}
					if len(results) == 0 {
						logger.Info("schema is up to date")
					}
					for _, r := range results {
						logger.Info("applied migration", "version", r.Source.Version, "duration", r.Duration)
					}
					return nil
				}),
			},
			{
				Name:  "down",
				Usage: "Roll back the most recent migration",
				Action: withMigrator(func(ctx context.Context, m migrator, logger *log.Logger) error {
					r, err := m.MigrateDown(ctx)
					if err != nil {
						return err
					}
					logger.Info("rolled back migration", "version", r.Source.Version)
					return nil
				}),
			},
			{
				Name:  "status",
				Usage: "List migrations and whether they are applied",
				Action: withMigrator(func(ctx context.Context, m migrator, _ *log.Logger) error {
					status, err := m.MigrationStatus(ctx)
					if err != nil {
						return err
					}
					for _, s := range status {
						fmt.Printf("%-8d %-10s %s\n", s.Source.Version, s.State, s.Source.Path)
					}
					return nil
				}),
			},
		},
	}
}

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage configuration files",
		Commands: []*cli.Command{
			{
				Name:      "init",
				Usage:     "Write an example configuration file",
				ArgsUsage: "[path]",
				Action: func(_ context.Context, cmd *cli.Command) error {
					path := cmd.Args().First()
					if path == "" {
						path = "config.toml"
					}
					if err := config.CreateConfigFile(path); err != nil {
						return err
					}
					fmt.Printf("wrote %s\n", path)
					return nil
				},
			},
		},
	}
}

// migrator is implemented by both song stores.
type migrator interface {
	Migrate(ctx context.Context) ([]*goose.MigrationResult, error)
	MigrateDown(ctx context.Context) (*goose.MigrationResult, error)
	MigrationStatus(ctx context.Context) ([]*goose.MigrationStatus, error)
}

type store interface {
	wall.Store
	migrator
}

func withMigrator(fn func(ctx context.Context, m migrator, logger *log.Logger) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg, err := config.Load(cmd.String("config"))
		if err != nil {
			return err
		}
		logger := logging.New(os.Stderr, cfg.Log.Level)

		st, err := openStore(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer st.Close()

		return fn(ctx, st, logger)
	}
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		database, err := db.New(ctx, cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		return database, nil
	default:
		st, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite: %w", err)
		}
		return st, nil
	}
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}
	logger := logging.New(os.Stderr, cfg.Log.Level)

	if !cfg.HasSpotifyCredentials() {
		logger.Warn("SPOTIFY_CLIENT_ID and SPOTIFY_CLIENT_SECRET are not set; search and pinning will fail")
	}

	st, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	if cfg.Database.AutoMigrate {
		results, err := st.Migrate(ctx)
		if err != nil {
			return err
		}
		if len(results) > 0 {
			logger.Info("applied migrations", "count", len(results))
		}
	}

	limiter, sweeper, closeLimiter, err := newLimiter(ctx, cfg.RateLimit)
	if err != nil {
		return err
	}
	defer closeLimiter()

	tokens := auth.NewTokenCache(auth.Config{
		ClientID:     cfg.Spotify.ClientID,
		ClientSecret: cfg.Spotify.ClientSecret,
		HTTPClient:   &http.Client{Timeout: cfg.Spotify.Timeout},
	})
	catalog := spotify.New(spotify.Config{
		Tokens:            tokens,
		Timeout:           cfg.Spotify.Timeout,
		RequestsPerSecond: cfg.Spotify.RequestsPerSecond,
		Burst:             cfg.Spotify.Burst,
		Logger:            logger,
	})
	extractor := palette.New(logger,
		palette.WithHTTPClient(&http.Client{Timeout: cfg.Palette.Timeout}),
		palette.WithSwatchCount(cfg.Palette.Swatches),
	)

	svc := wall.New(st, catalog, extractor, limiter, wall.WithLogger(logger))

	templates, err := fs.Sub(webfs.TemplatesFS, "templates")
	if err != nil {
		return fmt.Errorf("creating templates filesystem: %w", err)
	}

	server, err := web.NewServer(web.ServerConfig{
		Addr:            cfg.Server.Addr,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		MaxBodyBytes:    cfg.Server.MaxBodyBytes,
		TemplatesFS:     templates,
		Wall:            svc,
		Logger:          logger,
		Sweeper:         sweeper,
		SweepInterval:   cfg.RateLimit.SweepInterval,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	return server.Run(ctx)
}

// newLimiter builds the configured limiter. The sweeper is nil for backends
// that expire entries themselves.
func newLimiter(ctx context.Context, cfg config.RateLimitConfig) (ratelimit.Limiter, web.Sweeper, func(), error) {
	if cfg.Backend == config.BackendRedis {
		client, err := ratelimit.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, nil, err
		}
		return ratelimit.NewRedis(client, ratelimit.DefaultRules), nil, func() { _ = client.Close() }, nil
	}

	m := ratelimit.NewMemory()
	return m, m, func() {}, nil
}
