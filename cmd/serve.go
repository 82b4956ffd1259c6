package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/enrich"
	"github.com/sells-group/outreach-cli/internal/enroll"
	"github.com/sells-group/outreach-cli/internal/pipeline"
	"github.com/sells-group/outreach-cli/internal/store"
)

var (
	servePort     int
	serveSchedule bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API, optionally with in-process sweep tickers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx, "serve", true)
		if err != nil {
			return err
		}
		defer env.Close()

		startMonitoring(ctx, env.Store)

		srv := &server{
			runner:   env.Runner,
			settings: autoEnrollSettings,
			metrics:  env.Metrics.Handler(),
			origins:  cfg.Server.AllowedOrigins,
			limit:    cfg.AutoEnroll.BatchSize,
		}

		var wg sync.WaitGroup
		if serveSchedule {
			wg.Add(1)
			go func() {
				defer wg.Done()
				runTickers(ctx, env.Runner, tickerSpec{
					EnrichEvery: cfg.Schedule.EnrichEvery,
					EnrollEvery: cfg.Schedule.EnrollEvery,
					EnrichLimit: cfg.Enrichment.BatchSize,
					EnrollLimit: cfg.AutoEnroll.BatchSize,
					Settings:    autoEnrollSettings,
				})
			}()
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		httpSrv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           srv.routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port), zap.Bool("schedule", serveSchedule))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		wg.Wait()
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveSchedule, "schedule", false, "run enrichment and enrollment sweeps on in-process tickers")
	rootCmd.AddCommand(serveCmd)
}

// sweepRunner is the part of pipeline.Runner the server drives.
type sweepRunner interface {
	EnrichDomain(ctx context.Context, domain string, autoEnroll *enroll.Settings) (*enrich.Result, error)
	EnrichSweep(ctx context.Context, limit int, autoEnroll *enroll.Settings) (pipeline.Report, error)
	AutoEnrollSweep(ctx context.Context, limit int, settings enroll.Settings) (pipeline.Report, error)
}

type server struct {
	runner   sweepRunner
	settings func() enroll.Settings
	metrics  http.Handler
	origins  []string
	limit    int
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	r.Post("/prospects/{domain}/enrich", s.handleEnrich)
	r.Post("/enroll/sweep", s.handleEnrollSweep)
	return r
}

func (s *server) handleEnrich(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	var settings *enroll.Settings
	if auto, _ := strconv.ParseBool(r.URL.Query().Get("auto_enroll")); auto {
		st := s.settings()
		settings = &st
	}

	res, err := s.runner.EnrichDomain(r.Context(), domain, settings)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "prospect not found")
		return
	case err != nil:
		zap.L().Error("enrich request failed", zap.String("domain", domain), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "enrichment failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) handleEnrollSweep(w http.ResponseWriter, r *http.Request) {
	limit := s.limit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	rep, err := s.runner.AutoEnrollSweep(r.Context(), limit, s.settings())
	if err != nil {
		zap.L().Error("enroll sweep request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "sweep failed")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// tickerSpec configures the in-process scheduler.
type tickerSpec struct {
	EnrichEvery time.Duration
	EnrollEvery time.Duration
	EnrichLimit int
	EnrollLimit int
	Settings    func() enroll.Settings
}

// runTickers runs the enrichment and enrollment sweeps on fixed intervals
// until ctx is done. A sweep still running when its ticker fires delays the
// next run rather than overlapping it.
func runTickers(ctx context.Context, r sweepRunner, spec tickerSpec) {
	var wg sync.WaitGroup
	every := func(name string, d time.Duration, fn func(ctx context.Context) (pipeline.Report, error)) {
		defer wg.Done()
		if d <= 0 {
			zap.L().Info("sweep ticker disabled", zap.String("sweep", name))
			return
		}
		t := time.NewTicker(d)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if _, err := fn(ctx); err != nil && ctx.Err() == nil {
					zap.L().Error("scheduled sweep failed", zap.String("sweep", name), zap.Error(err))
				}
			}
		}
	}

	wg.Add(2)
	go every("enrich", spec.EnrichEvery, func(ctx context.Context) (pipeline.Report, error) {
		// Settings are read once per sweep.
		s := spec.Settings()
		var auto *enroll.Settings
		if s.Enabled {
			auto = &s
		}
		return r.EnrichSweep(ctx, spec.EnrichLimit, auto)
	})
	go every("enroll", spec.EnrollEvery, func(ctx context.Context) (pipeline.Report, error) {
		return r.AutoEnrollSweep(ctx, spec.EnrollLimit, spec.Settings())
	})
	wg.Wait()
}
