package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"signlink.ai/internal/logging"
	persistlog "signlink.ai/internal/persistence/log"
	"signlink.ai/internal/persistence/snapshot"
	"signlink.ai/internal/protocol"
	"signlink.ai/internal/signlink"
	"signlink.ai/internal/sim/tuning"
	"signlink.ai/internal/sim/world"
	"signlink.ai/internal/transport/admin"
	"signlink.ai/internal/transport/ws"
)

func main() {
	var (
		addr          = flag.String("addr", ":8080", "http listen address")
		worldID       = flag.String("world", "world_1", "world id")
		configDir     = flag.String("configs", "./configs", "config directory")
		dataDir       = flag.String("data", "./data", "runtime data directory")
		tuningPath    = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		variablesPath = flag.String("variables", "", "path to variables.yaml (default: <configs>/variables.yaml)")
		disableDB     = flag.Bool("disable_db", false, "disable indexing (audit + snapshot metadata)")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")

		logLevel = flag.String("log_level", "info", "log level (debug, info, warn, error)")
		logJSON  = flag.Bool("log_json", false, "log as JSON instead of console text")
	)
	flag.Parse()

	logger, err := logging.New(*logLevel, *logJSON)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.Named("server").With(zap.String("world", *worldID))

	worldDir := filepath.Join(*dataDir, "worlds", *worldID)
	_ = os.MkdirAll(worldDir, 0o755)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	vp := strings.TrimSpace(*variablesPath)
	if vp == "" {
		vp = filepath.Join(*configDir, "variables.yaml")
	}

	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatal("load tuning", zap.Error(err))
		}
		logger.Info("tuning not found; using defaults", zap.String("path", tp))
		tune = tuning.Defaults()
	}

	w, err := world.New(world.WorldConfig{
		ID:                 *worldID,
		TickRateHz:         tune.TickRateHz,
		ChunkSize:          tune.ChunkSize,
		ViewRadiusChunks:   tune.ViewRadiusChunks,
		SnapshotEveryTicks: tune.SnapshotEveryTicks,
		MaxLineWidth:       tune.MaxLineWidth,
		RateLimits: world.RateLimitConfig{
			EditWindowTicks:     tune.RateLimits.EditWindowTicks,
			EditMax:             tune.RateLimits.EditMax,
			InteractWindowTicks: tune.RateLimits.InteractWindowTicks,
			InteractMax:         tune.RateLimits.InteractMax,
		},
		Engine: tune.EngineConfig(),
	}, logger.Named("world"))
	if err != nil {
		logger.Fatal("world", zap.Error(err))
	}

	// Resume from a snapshot when there is one; otherwise seed variables from
	// the variables file.
	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = snapshot.Latest(worldDir)
	}
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatal("read snapshot", zap.String("path", snapshotToLoad), zap.Error(err))
		}
		if err := w.ImportSnapshot(snap); err != nil {
			logger.Fatal("import snapshot", zap.Error(err))
		}
		logger.Info("resumed from snapshot", zap.String("snapshot", filepath.Base(snapshotToLoad)), zap.Uint64("tick", w.CurrentTick()))
	} else if defs, err := tuning.LoadVariables(vp); err == nil {
		if err := w.LoadDefinitions(defs); err != nil {
			logger.Warn("variables", zap.Error(err))
		}
		logger.Info("variables loaded", zap.String("path", vp), zap.Int("count", len(defs)))
	} else if !os.IsNotExist(err) {
		logger.Fatal("load variables", zap.Error(err))
	}

	idx, err := openRuntimeIndex(worldDir, *disableDB, logger)
	if err != nil {
		logger.Fatal("open index backend", zap.Error(err))
	}
	if idx != nil {
		defer idx.Close()
	}

	mirror, err := openMirror(*dataDir, logger.Named("mirror"))
	if err != nil {
		logger.Fatal("mirror", zap.Error(err))
	}
	// Closed after the audit logger so its final segment is uploaded.
	defer mirror.Close()

	auditLog := persistlog.NewAuditLoggerWithOptions(worldDir, persistlog.LoggerOptions{OnClose: mirror.Enqueue})
	defer auditLog.Close()
	w.SetAuditLogger(multiAuditLogger{a: auditLog, b: idx})

	snapCh := make(chan snapshot.SnapshotV1, 2)
	w.SetSnapshotSink(snapCh)

	validator, err := protocol.NewValidator()
	if err != nil {
		logger.Fatal("protocol schemas", zap.Error(err))
	}

	ctx, cancel := signalContext()
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("world stopped: %w", err)
		}
		return nil
	})

	// Snapshot writer.
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case snap := <-snapCh:
				path := snapshot.PathFor(worldDir, snap.Header.Tick)
				if err := snapshot.WriteSnapshot(path, snap); err != nil {
					logger.Error("snapshot write", zap.String("path", path), zap.Error(err))
					continue
				}
				idx.RecordSnapshot(path, snap)
				mirror.Enqueue(path)
				logger.Debug("snapshot written", zap.String("path", path), zap.Uint64("tick", snap.Header.Tick))
			}
		}
	})

	// Hand-edited variables files are applied on the world goroutine.
	g.Go(func() error {
		err := tuning.Watch(ctx, vp, logger.Named("variables"), func(defs []signlink.Definition) {
			ctx2, cancel2 := context.WithTimeout(ctx, 5*time.Second)
			defer cancel2()
			if err := w.Do(ctx2, func(e *signlink.Engine) error { return e.ApplyDefinitions(defs) }); err != nil {
				logger.Warn("apply variables", zap.Error(err))
			}
		})
		if err != nil {
			logger.Warn("variables watch disabled", zap.String("path", vp), zap.Error(err))
		}
		return nil
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, *worldID, w.Metrics(), idx, mirror.Stats())
	})

	enableAdminHTTP := envBool("SL_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	enablePprofHTTP := envBool("SL_ENABLE_PPROF_HTTP", false)
	if enableAdminHTTP {
		opts := admin.Options{
			AuditDir:      persistlog.AuditDir(worldDir),
			LoadVariables: func() ([]signlink.Definition, error) { return tuning.LoadVariables(vp) },
			SaveVariables: func(defs []signlink.Definition) error { return tuning.WriteVariables(vp, defs) },
			Logger:        logger.Named("admin"),
		}
		if idx != nil {
			opts.Index = idx
		}
		admin.NewServer(w, opts).Register(mux)
	} else {
		logger.Info("admin endpoints disabled (SL_ENABLE_ADMIN_HTTP=false)")
	}
	if enablePprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	mux.Handle("/v1/ws", ws.NewServer(w, validator, logger.Named("ws")).Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		return srv.Shutdown(ctx2)
	})
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", *addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

type multiAuditLogger struct {
	a signlink.AuditLogger
	b signlink.AuditLogger
}

func (m multiAuditLogger) WriteAudit(entry signlink.AuditEntry) error {
	if m.a != nil {
		_ = m.a.WriteAudit(entry)
	}
	if m.b != nil {
		_ = m.b.WriteAudit(entry)
	}
	return nil
}
