package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/cma-engine/internal/model"
	"github.com/sells-group/cma-engine/internal/monitoring"
	"github.com/sells-group/cma-engine/internal/pipeline"
)

const maxBodyBytes = 1 << 20

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP analysis API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		validator, err := newRequestValidator()
		if err != nil {
			return err
		}

		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(env.Store, env.Breakers),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Monitoring,
			)
			go checker.Run(ctx)
		}

		handler := newRouter(&api{
			analyzer:  env.Pipeline,
			validator: validator,
			sessions:  env.Sessions,
			breakers:  env.Breakers,
			timeout:   cfg.Server.RequestTimeout,
		}, cfg.Server.CORSOrigins)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// analyzer is the part of *pipeline.Pipeline the HTTP API drives.
type analyzer interface {
	Analyze(ctx context.Context, property model.PropertyDescriptor) (*model.CMAReport, *pipeline.Meta, error)
	Start(ctx context.Context, property model.PropertyDescriptor) (string, error)
	Status(ctx context.Context, id string) (*model.AnalysisSession, error)
}

type sessionCounter interface {
	Len(ctx context.Context) (int, error)
}

type api struct {
	analyzer  analyzer
	validator *requestValidator
	sessions  sessionCounter
	breakers  monitoring.BreakerStates
	timeout   time.Duration
}

func newRouter(a *api, origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", a.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/analyses", a.analyze)
	r.Post("/analyses/async", a.start)
	r.Get("/analyses/{id}", a.status)
	return r
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	if a.sessions != nil {
		if n, err := a.sessions.Len(r.Context()); err == nil {
			body["sessions"] = n
		} else {
			body["status"] = "degraded"
			body["error"] = "session store unavailable"
		}
	}
	if a.breakers != nil {
		states := make(map[string]string)
		for name, s := range a.breakers.States() {
			states[name] = s.String()
		}
		body["breakers"] = states
	}
	writeJSON(w, http.StatusOK, body)
}

func (a *api) analyze(w http.ResponseWriter, r *http.Request) {
	property, ok := a.readProperty(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	report, meta, err := a.analyzer.Analyze(ctx, property)
	if err != nil {
		a.writeAnalysisError(w, meta, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"meta": meta, "report": report})
}

func (a *api) start(w http.ResponseWriter, r *http.Request) {
	property, ok := a.readProperty(w, r)
	if !ok {
		return
	}

	id, err := a.analyzer.Start(r.Context(), property)
	if err != nil {
		a.writeAnalysisError(w, nil, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"session_id": id,
		"status":     string(model.SessionPending),
		"status_url": "/analyses/" + id,
	})
}

func (a *api) status(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s, err := a.analyzer.Status(r.Context(), id)
	if errors.Is(err, pipeline.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "session not found", nil)
		return
	}
	if err != nil {
		zap.L().Error("session lookup failed", zap.String("session_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "session lookup failed", nil)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// readProperty validates and decodes the request body, writing a 400 on
// failure.
func (a *api) readProperty(w http.ResponseWriter, r *http.Request) (model.PropertyDescriptor, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return model.PropertyDescriptor{}, false
	}

	property, err := a.validator.decode(body)
	var se *schemaError
	if errors.As(err, &se) {
		writeError(w, http.StatusBadRequest, "invalid request", se.Details)
		return property, false
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return property, false
	}
	return property, true
}

func (a *api) writeAnalysisError(w http.ResponseWriter, meta *pipeline.Meta, err error) {
	var ve *pipeline.InputValidationError
	if errors.As(err, &ve) {
		writeError(w, http.StatusBadRequest, "missing required fields", ve.Fields)
		return
	}

	body := map[string]any{"error": "analysis failed"}
	var ue *pipeline.UnhandledError
	if errors.As(err, &ue) {
		body["session_id"] = ue.SessionID
		body["step"] = ue.Step
	}
	if meta != nil {
		body["meta"] = meta
	}
	zap.L().Error("analysis request failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, body)
}

func writeError(w http.ResponseWriter, code int, msg string, details []string) {
	body := map[string]any{"error": msg}
	if len(details) > 0 {
		body["details"] = details
	}
	writeJSON(w, code, body)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
