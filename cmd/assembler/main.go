package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dd0wney/cluso-assembler/pkg/assembler"
	"github.com/dd0wney/cluso-assembler/pkg/config"
	"github.com/dd0wney/cluso-assembler/pkg/export"
	"github.com/dd0wney/cluso-assembler/pkg/health"
	"github.com/dd0wney/cluso-assembler/pkg/ingest"
	"github.com/dd0wney/cluso-assembler/pkg/logging"
	"github.com/dd0wney/cluso-assembler/pkg/metrics"
	"github.com/dd0wney/cluso-assembler/pkg/server"
)

type options struct {
	entities string
	links    string
	config   string
	httpAddr string
	out      string
	format   string
	bucket   string
	prefix   string
	timeout  time.Duration
	linger   bool
}

func main() {
	var opts options
	flag.StringVar(&opts.entities, "entities", "", "Path to the entity payload (JSON object keyed by id)")
	flag.StringVar(&opts.links, "links", "", "Path to the link payload (JSON array)")
	flag.StringVar(&opts.config, "config", "", "Path to a YAML config file")
	flag.StringVar(&opts.httpAddr, "http", "", "Serve /metrics, /health, /ready and /live on this address")
	flag.StringVar(&opts.out, "out", "", "Directory to write the final snapshot to")
	flag.StringVar(&opts.format, "format", "", "Snapshot format: json or snappy")
	flag.StringVar(&opts.bucket, "s3-bucket", "", "Upload the final snapshot to this S3 bucket")
	flag.StringVar(&opts.prefix, "s3-prefix", "", "Key prefix for S3 uploads")
	flag.DurationVar(&opts.timeout, "timeout", 0, "Abort the run after this long (0 waits indefinitely)")
	flag.BoolVar(&opts.linger, "linger", false, "Keep serving HTTP after the run until interrupted")
	flag.Parse()

	if opts.entities == "" {
		fmt.Println("Usage: assembler --entities entities.json [--links links.json] [--config assembler.yaml]")
		fmt.Println("                 [--http :9090] [--out ./snapshots] [--format snappy] [--s3-bucket name]")
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if err := run(opts, logger); err != nil {
		logger.Error("assembler failed", "error", err)
		os.Exit(1)
	}
}

func run(opts options, logger *slog.Logger) error {
	cfg, err := config.Load(opts.config)
	if err != nil {
		return err
	}
	applyFlags(cfg, opts)
	if err := cfg.Validate(); err != nil {
		return err
	}

	componentLog := logging.NewJSONLogger(os.Stderr, cfg.Level())
	logging.SetDefaultLogger(componentLog)
	reg := metrics.NewRegistry()

	session, err := assembler.New(cfg, nil, componentLog, reg)
	if err != nil {
		return err
	}
	defer session.Stop()
	logger.Info("session created", "session", session.ID())

	if err := load(session, opts, logger); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	runCtx := ctx
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	g, gctx := errgroup.WithContext(ctx)
	serveCtx, stopServing := context.WithCancel(gctx)
	defer stopServing()

	if cfg.HTTP.Addr != "" {
		srv := server.NewGracefulServer(cfg.HTTP, routes(session, cfg, reg), componentLog)
		srv.SetConfigReloadFunc(func() error {
			fresh, err := config.Load(opts.config)
			if err != nil {
				return err
			}
			componentLog.SetLevel(fresh.Level())
			return nil
		})
		g.Go(func() error { return srv.Run(serveCtx) })
	}

	g.Go(func() error {
		defer func() {
			if !opts.linger {
				stopServing()
			}
		}()
		summary, err := session.Run(runCtx)
		logger.Info("run finished",
			"known", summary.Known,
			"ready", summary.Ready,
			"stuck", summary.Stuck,
			"links_created", summary.Links.Created,
			"links_duplicate", summary.Links.Duplicate,
			"links_timed_out", summary.Links.TimedOut,
			"links_unexpected", summary.Links.Unexpected,
			"links_unnatural", summary.Links.Unnatural,
			"visible", summary.Visible,
			"percent", summary.Progress.Percent(),
			"duration_sec", summary.Elapsed.Seconds(),
		)
		for _, s := range session.Stuck() {
			logger.Warn("entity stuck", "id", s.ID, "state", s.State, "parent", s.ParentID, "parent_known", s.ParentKnown)
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return exportSnapshot(ctx, session, cfg, logger)
	})

	return g.Wait()
}

func applyFlags(cfg *config.Config, opts options) {
	if opts.httpAddr != "" {
		cfg.HTTP.Addr = opts.httpAddr
	}
	if opts.out != "" {
		cfg.Export.Dir = opts.out
	}
	if opts.format != "" {
		cfg.Export.Format = opts.format
	}
	if opts.bucket != "" {
		cfg.Export.Bucket = opts.bucket
	}
	if opts.prefix != "" {
		cfg.Export.Prefix = opts.prefix
	}
}

func load(session *assembler.Session, opts options, logger *slog.Logger) error {
	entities, err := ingest.EntitiesFile(opts.entities)
	if err != nil {
		return err
	}
	for _, rej := range entities.Rejected {
		logger.Warn("entity record rejected", "id", rej.ID, "error", rej.Error())
	}
	if _, err := session.LoadEntities(entities.Items); err != nil {
		return err
	}
	logger.Info("entities loaded", "count", len(entities.Items), "rejected", len(entities.Rejected))

	if opts.links == "" {
		return nil
	}
	imports, err := ingest.LinksFile(opts.links)
	if err != nil {
		return err
	}
	for _, rej := range imports.Rejected {
		logger.Warn("link record rejected", "id", rej.ID, "error", rej.Error())
	}
	logger.Info("links loaded", "count", len(imports.Items), "rejected", len(imports.Rejected))
	return session.LoadLinks(imports.Items)
}

func routes(session *assembler.Session, cfg *config.Config, reg *metrics.Registry) http.Handler {
	hc := health.NewHealthChecker()
	hc.RegisterCheck("stuck_entities", health.StuckEntitiesCheck(session.Stuck, 0))
	hc.RegisterCheck("link_pipeline", health.PipelineCheck(session.Pipeline().Totals, 0.1))
	hc.RegisterCheck("memory", health.MemoryCheck(health.RuntimeMemory))
	hc.RegisterReadinessCheck("graph_ready", health.ReadyCheck(func() (int, int) {
		return session.Registry().ReadyCount(), session.Registry().Known()
	}, cfg.Links.ReadyThreshold))
	hc.RegisterLivenessCheck("frame_loop", health.LoopCheck(session.Loop().Pending, cfg.Frame.QueueSize, cfg.Frame.QueueSize*16))

	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())
	hc.Routes(mux)
	return mux
}

func exportSnapshot(ctx context.Context, session *assembler.Session, cfg *config.Config, logger *slog.Logger) error {
	if cfg.Export.Dir != "" {
		path, err := session.Export(ctx, export.FileSink{Dir: cfg.Export.Dir})
		if err != nil {
			return err
		}
		logger.Info("snapshot written", "path", path)
	}
	if cfg.Export.Bucket != "" {
		client, err := export.NewS3Client(ctx, cfg.Export.S3)
		if err != nil {
			return err
		}
		loc, err := session.Export(ctx, export.S3Sink{Client: client, Bucket: cfg.Export.Bucket, Prefix: cfg.Export.Prefix})
		if err != nil {
			return err
		}
		logger.Info("snapshot uploaded", "location", loc)
	}
	return nil
}
