package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/profile-email-enricher/internal/clock/system"
	"github.com/JakeFAU/profile-email-enricher/internal/config"
	"github.com/JakeFAU/profile-email-enricher/internal/enricher"
	"github.com/JakeFAU/profile-email-enricher/internal/github"
	"github.com/JakeFAU/profile-email-enricher/internal/httpclient"
	"github.com/JakeFAU/profile-email-enricher/internal/id/uuid"
	"github.com/JakeFAU/profile-email-enricher/internal/logging"
	"github.com/JakeFAU/profile-email-enricher/internal/metrics"
	"github.com/JakeFAU/profile-email-enricher/internal/policy/ratelimit"
	"github.com/JakeFAU/profile-email-enricher/internal/storage/gcs"
	"github.com/JakeFAU/profile-email-enricher/internal/storage/local"
	"github.com/JakeFAU/profile-email-enricher/internal/storage/postgres"
	"github.com/JakeFAU/profile-email-enricher/internal/storage/sheets"
)

// Factories are variables so tests can swap the external services.
var (
	newSheetsAPI = sheets.NewGoogleAPI
	newLogger    = logging.New
	dialArchive  = gcs.Dial
)

// tables is the wired source and sink of one run plus its cleanup.
type tables struct {
	source enricher.Source
	sink   enricher.Sink
	closer func()
}

func runMode(ctx context.Context, out io.Writer, cfgFile string, mode config.Mode, overrides map[string]any) error {
	cfg, err := config.Load(cfgFile, mode, overrides)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	runID, err := uuid.NewUUIDGenerator().NewID()
	if err != nil {
		return err
	}
	startedAt, err := uuid.Timestamp(runID)
	if err != nil {
		return err
	}
	logger = logger.With(zap.String("mode", string(mode)))
	scoped := logger.With(zap.String("run_id", runID))
	scoped.Info("run started", zap.Time("started_at", startedAt))

	metrics.Init()
	stopMetrics, err := startMetricsServer(cfg.Metrics.ListenAddr, scoped.Named("metrics"))
	if err != nil {
		return err
	}
	defer stopMetrics()

	clock := system.New()
	client := httpclient.New(cfg.HTTPClient(), clock, scoped.Named("http"))
	api, err := github.NewClient(client, cfg.GitHubClient(), scoped.Named("github"))
	if err != nil {
		return err
	}
	pool, err := ratelimit.New(cfg.Credentials(), api, clock, cfg.RateLimit(), scoped.Named("ratelimit"))
	if err != nil {
		return err
	}
	fetcher, err := github.NewFetcher(api, pool, scoped.Named("fetcher"))
	if err != nil {
		return err
	}

	tbl, err := openTables(ctx, cfg, runID, scoped)
	if err != nil {
		return err
	}
	defer tbl.closer()

	runner, err := enricher.NewRunner(tbl.source, tbl.sink, fetcher, clock, enricher.Config{
		MaxRuntime: cfg.Run.MaxRuntime,
		RunID:      runID,
	}, logger.Named("runner"))
	if err != nil {
		return err
	}

	scoped.Info("credential pool ready",
		zap.Int("credentials", pool.Size()),
		zap.Duration("max_runtime", cfg.Run.MaxRuntime),
	)
	summary, err := runner.Run(ctx)
	scoped.Info("profile lookups issued", zap.Int("requests", fetcher.Requests()))
	fmt.Fprintf(out, "run %s: %d rows, %d resolved, %d skipped, %d already done\n",
		summary.RunID, summary.Total, summary.Resolved, summary.Skipped, summary.AlreadyDone)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	return nil
}

// openTables builds the mode's source and sink, with any configured mirrors.
func openTables(ctx context.Context, cfg config.Config, runID string, logger *zap.Logger) (*tables, error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var (
		source  enricher.Source
		primary enricher.Sink
		mirrors []enricher.Sink
	)
	switch cfg.Mode {
	case config.ModeFile:
		table, err := local.Open(cfg.Input, logger.Named("local"))
		if err != nil {
			return nil, err
		}
		closers = append(closers, func() {
			if err := table.Close(); err != nil {
				logger.Warn("close table", zap.Error(err))
			}
		})
		source, primary = table, table

		if cfg.Archive.Enabled {
			client, err := dialArchive(ctx, cfg.Archive.Bucket)
			if err != nil {
				closeAll()
				return nil, err
			}
			closers = append(closers, func() { _ = client.Close() })
			archive, err := gcs.New(client, cfg.Archive.Config, table.Path(), runID, logger.Named("archive"))
			if err != nil {
				closeAll()
				return nil, err
			}
			mirrors = append(mirrors, archive)
		}
	case config.ModeSheets:
		api, err := newSheetsAPI(ctx, cfg.Sheets.CredentialsFile)
		if err != nil {
			return nil, err
		}
		table, err := sheets.New(api, cfg.Sheets, logger.Named("sheets"))
		if err != nil {
			return nil, err
		}
		source, primary = table, table
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownMode, cfg.Mode)
	}

	if cfg.Postgres.Enabled {
		store, err := postgres.NewEmailStore(ctx, cfg.Postgres.Config, runID)
		if err != nil {
			closeAll()
			return nil, err
		}
		closers = append(closers, store.Close)
		if err := store.EnsureSchema(ctx); err != nil {
			closeAll()
			return nil, err
		}
		// Mirrors run before the archive so the uploaded file is the final one.
		mirrors = append([]enricher.Sink{store}, mirrors...)
	}

	return &tables{
		source: source,
		sink:   enricher.NewMultiSink(primary, mirrors...),
		closer: closeAll,
	}, nil
}

// startMetricsServer serves /metrics and /healthz on addr. An empty addr disables it.
func startMetricsServer(addr string, logger *zap.Logger) (func(), error) {
	if addr == "" {
		return func() {}, nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen metrics %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           metrics.NewRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	logger.Info("metrics listening", zap.String("addr", ln.Addr().String()))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("metrics shutdown", zap.Error(err))
		}
	}, nil
}
