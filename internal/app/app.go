// Package app wires all cabildo subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems from the config, Run serves HTTP until the context is
// cancelled, and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithProvider, WithJobStore). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/cabildolabs/cabildo/internal/attribution"
	"github.com/cabildolabs/cabildo/internal/config"
	"github.com/cabildolabs/cabildo/internal/jobstore"
	"github.com/cabildolabs/cabildo/internal/observe"
	"github.com/cabildolabs/cabildo/internal/server"
	"github.com/cabildolabs/cabildo/pkg/transcriber"
	"github.com/cabildolabs/cabildo/pkg/transcriber/assemblyai"
)

// shutdownTimeout bounds the graceful HTTP shutdown during Run teardown.
const shutdownTimeout = 15 * time.Second

// App owns all subsystem lifetimes of the cabildo transcription service.
type App struct {
	cfg *config.Config

	provider   transcriber.Provider
	attributor *attribution.Attributor
	jobs       jobstore.Store
	httpServer *http.Server

	// closers are called in reverse order during Shutdown.
	closers []func(context.Context) error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithProvider injects a transcription provider instead of creating one from
// the config.
func WithProvider(p transcriber.Provider) Option {
	return func(a *App) { a.provider = p }
}

// WithJobStore injects a job store instead of creating one from the config.
func WithJobStore(s jobstore.Store) Option {
	return func(a *App) { a.jobs = s }
}

// New creates an App by wiring all subsystems together: the OTel providers,
// the transcription provider, the speaker attributor with its lexicon and
// pattern files, the job store, and the HTTP server.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "cabildo",
		ServiceVersion: server.Version,
	})
	if err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}
	a.closers = append(a.closers, otelShutdown)

	if a.provider == nil {
		if a.provider, err = buildProvider(cfg.Transcriber); err != nil {
			a.close(ctx)
			return nil, err
		}
	}

	attributor, err := buildAttributor(cfg.Attribution)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	a.attributor = attributor

	if a.jobs == nil {
		if a.jobs, err = a.buildJobStore(ctx, cfg.Storage); err != nil {
			a.close(ctx)
			return nil, err
		}
	}

	srv := server.New(server.Config{
		Provider:       a.provider,
		Attributor:     a.attributor,
		Jobs:           a.jobs,
		CORSOrigins:    cfg.Server.CORSOrigins,
		MaxUploadBytes: cfg.Server.MaxUploadMB << 20,
	})
	a.httpServer = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// Run serves HTTP until ctx is cancelled, then shuts everything down. It
// returns nil on a clean shutdown.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server listening", "addr", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.httpServer.Shutdown(shutdownCtx)
	})

	err := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := a.Shutdown(shutdownCtx); serr != nil {
		err = errors.Join(err, serr)
	}
	return err
}

// Shutdown closes all subsystems in reverse construction order. It is safe
// to call more than once; only the first call does any work.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		err = a.close(ctx)
	})
	return err
}

func (a *App) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// buildProvider creates the AssemblyAI-backed transcription provider from the
// config.
func buildProvider(cfg config.TranscriberConfig) (transcriber.Provider, error) {
	var opts []assemblyai.Option
	if cfg.BaseURL != "" {
		opts = append(opts, assemblyai.WithBaseURL(cfg.BaseURL))
	}
	if cfg.PollIntervalSeconds > 0 {
		opts = append(opts, assemblyai.WithPollInterval(time.Duration(cfg.PollIntervalSeconds)*time.Second))
	}
	p, err := assemblyai.New(cfg.APIKey, opts...)
	if err != nil {
		return nil, fmt.Errorf("app: build transcription provider: %w", err)
	}
	return p, nil
}

// buildAttributor creates the speaker attributor, loading external lexicon
// and pattern files when configured and falling back to the built-in Spanish
// council-session defaults otherwise.
func buildAttributor(cfg config.AttributionConfig) (*attribution.Attributor, error) {
	var opts []attribution.Option

	if cfg.LexiconFile != "" {
		lex, err := attribution.LoadLexiconFile(cfg.LexiconFile)
		if err != nil {
			return nil, fmt.Errorf("app: load lexicon: %w", err)
		}
		opts = append(opts, attribution.WithLexicon(lex))
		slog.Info("loaded lexicon file", "path", cfg.LexiconFile)
	}
	if cfg.PatternsFile != "" {
		patterns, err := attribution.LoadPatternsFile(cfg.PatternsFile)
		if err != nil {
			return nil, fmt.Errorf("app: load patterns: %w", err)
		}
		opts = append(opts, attribution.WithPatterns(patterns))
		slog.Info("loaded patterns file", "path", cfg.PatternsFile, "patterns", len(patterns))
	}

	return attribution.New(opts...), nil
}

// buildJobStore creates the job store: PostgreSQL when a DSN is configured,
// in-memory otherwise. The Postgres schema is migrated on startup.
func (a *App) buildJobStore(ctx context.Context, cfg config.StorageConfig) (jobstore.Store, error) {
	if cfg.PostgresDSN == "" {
		slog.Info("using in-memory job store")
		return jobstore.NewMemStore(), nil
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("app: connect to postgres: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error {
		pool.Close()
		return nil
	})

	store := jobstore.NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("app: migrate job store schema: %w", err)
	}
	slog.Info("using postgres job store")
	return store, nil
}
