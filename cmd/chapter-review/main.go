package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"

	"github.com/joelkehle/chapter-review/internal/config"
	"github.com/joelkehle/chapter-review/internal/httpapi"
	"github.com/joelkehle/chapter-review/internal/logger"
	"github.com/joelkehle/chapter-review/internal/observability"
	"github.com/joelkehle/chapter-review/internal/review"
	"github.com/joelkehle/chapter-review/internal/sections"
	"github.com/joelkehle/chapter-review/internal/store"
)

func main() {
	var (
		envFile = flag.String("env-file", "", "Optional .env file to load before reading the environment")
		addr    = flag.String("addr", "", "Listen address (overrides ADDR)")
		dbPath  = flag.String("db", "", "SQLite database path (overrides DB_PATH)")
	)
	flag.Parse()

	var cfg config.Config
	if *envFile != "" {
		cfg = config.Load(*envFile)
	} else {
		cfg = config.Load()
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	lg, err := logger.New(cfg.LogMode)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer lg.Sync()
	if strings.EqualFold(cfg.LogMode, "prod") || strings.EqualFold(cfg.LogMode, "production") {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdownTracing := observability.InitOTel(ctx, lg, observability.OTelConfig{
		Enabled:     cfg.OTelEnabled,
		ServiceName: cfg.OTelServiceName,
		Endpoint:    cfg.OTelEndpoint,
	})

	catalog, err := sections.Load(cfg.SectionsFile)
	if err != nil {
		lg.Error("load section catalog failed", "path", cfg.SectionsFile, "error", err)
		os.Exit(1)
	}

	st, err := store.NewSQLiteStore(cfg.DBPath, nil)
	if err != nil {
		lg.Error("open report store failed", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	endpoints := map[review.Category]review.Endpoint{}
	for c, ep := range map[review.Category]config.Endpoint{
		review.CategoryOriginality:     cfg.Originality,
		review.CategoryCompleteness:    cfg.Completeness,
		review.CategoryCitation:        cfg.Citation,
		review.CategorySpellingGrammar: cfg.SpellingGrammar,
	} {
		if ep.URL == "" {
			lg.Warn("analysis endpoint not configured", "category", string(c))
			continue
		}
		endpoints[c] = review.Endpoint{URL: ep.URL, Timeout: ep.Timeout}
	}

	dispatcher := review.NewDispatcher(review.DispatcherConfig{
		Endpoints: endpoints,
		Deadline:  cfg.DispatchDeadline,
		Tracer:    otel.Tracer("chapter-review"),
	}, lg.With("component", "dispatcher"))

	svc := review.NewService(review.ServiceDeps{
		Analyzer:    dispatcher,
		Normalizers: review.NewNormalizers(catalog, lg.With("component", "normalizer")),
		Assembler:   review.NewAssembler(cfg.MaxDetailBytes, time.Now, lg),
		Store:       st,
		Catalog:     catalog,
		Logger:      lg.With("component", "service"),
	})

	handler := httpapi.NewServer(httpapi.Deps{
		Service:        svc,
		Reports:        st,
		Projector:      review.NewProjector(catalog),
		Catalog:        catalog,
		PDFRenderer:    httpapi.NewChromiumPDFRenderer(cfg.WebDir),
		Logger:         lg.With("component", "http"),
		MaxUploadBytes: cfg.MaxUploadBytes,
	})

	// Submissions wait on the dispatch deadline, so the write timeout has to
	// outlast it.
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.DispatchDeadline + 30*time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 15*time.Second)
		defer done()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			lg.Warn("http shutdown", "error", err)
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			lg.Warn("otel shutdown", "error", err)
		}
	}()

	lg.Info("chapter-review listening", "addr", cfg.Addr, "db", cfg.DBPath, "configured_endpoints", len(endpoints))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		lg.Error("http server stopped", "error", err)
		os.Exit(1)
	}
}
