package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/studyforge/studyforge/config"
	"github.com/studyforge/studyforge/internal/extract"
	"github.com/studyforge/studyforge/internal/llm"
	"github.com/studyforge/studyforge/internal/pipeline"
	"github.com/studyforge/studyforge/internal/runtime"
	"github.com/studyforge/studyforge/internal/search"
	"github.com/studyforge/studyforge/internal/store"
	"github.com/studyforge/studyforge/internal/telemetry"
)

// Run wires the API server from config and blocks serving it.
func Run(cfg *config.Config, addr string) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	uploadMB := cfg.Server.MaxUploadMB
	if uploadMB <= 0 {
		uploadMB = 32
	}
	e.Use(middleware.BodyLimit(fmt.Sprintf("%dM", uploadMB)))
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	if err := cfg.Storage.Postgres.Validate(); err != nil {
		return err
	}
	dsn := cfg.Storage.Postgres.DSN()
	if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	// Shared dependencies (top-level DI)
	ctx := context.Background()
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}

	tele := telemetry.NewTelemetry(cfg.Telemetry)
	provider, err := llm.NewProvider(cfg.LLM)
	if err != nil {
		return err
	}
	orchLogger := log.New(log.Writer(), "[ORCH] ", log.LstdFlags)
	orch := pipeline.NewOrchestrator(cfg, orchLogger, tele, provider, extract.NewRouter())

	cache := store.NewBundleCache(cfg.Storage.Redis)

	var idx *search.Index
	if cfg.Server.SearchEnabled {
		idx, err = search.NewIndex()
		if err != nil {
			return fmt.Errorf("search index: %w", err)
		}
	}

	secret, err := runtime.LoadJWTSecret(cfg)
	if err != nil {
		return err
	}

	api := e.Group("/api")
	auth := &AuthHandler{Store: st, Secret: secret}
	auth.Register(api.Group("/auth"))

	docLogger := log.New(log.Writer(), "[DOCS] ", log.LstdFlags)
	dh := &DocumentsHandler{
		Store:   st,
		Cache:   cache,
		Search:  idx,
		Orch:    orch,
		Fetcher: extract.Fetcher{Timeout: cfg.Extract.FetchTimeout},
		Cfg:     cfg,
		Logger:  docLogger,
	}
	dh.Register(api.Group("/documents"), secret)

	rh := &RunsHandler{Store: st, Orch: orch, Search: idx}
	rh.Register(api.Group("/runs"), secret)

	cleaner := &Cleaner{
		Store:  st,
		Cache:  cache,
		Cfg:    cfg.Retention,
		Stop:   make(chan struct{}),
		Logger: log.New(log.Writer(), "[CLEANER] ", log.LstdFlags),
	}
	cleaner.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received signal %s, shutting down", sig)
		close(cleaner.Stop)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			e.Close()
		}
	}()

	if addr == "" {
		addr = cfg.Server.Address
		if addr == "" {
			addr = ":10030"
		}
	}
	log.Printf("listening on %s", addr)
	if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
