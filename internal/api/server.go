package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"crossscanner/config"
	"crossscanner/internal/service"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// ScanService is the part of service.ScanService the HTTP layer uses.
type ScanService interface {
	RunScanOnce(ctx context.Context, overrides config.ScanOverrides) service.RunResult
	Stop() bool
	State() service.Status
	Config(ctx context.Context) config.ScanConfig
	SaveConfig(ctx context.Context, cfg config.ScanConfig) error
	Symbols(ctx context.Context) []string
	SaveSymbols(ctx context.Context, symbols []string) ([]string, error)
}

const maxBodyBytes = 1 << 20

type Server struct {
	cfg        config.HTTPConfig
	svc        ScanService
	logger     *zap.Logger
	handler    http.Handler
	httpServer *http.Server
}

func NewServer(cfg config.HTTPConfig, svc ScanService, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{cfg: cfg, svc: svc, logger: logger}
	s.setupRoutes()
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/scan", s.handleScan).Methods(http.MethodPost)
	api.HandleFunc("/scan/stop", s.handleStop).Methods(http.MethodPost)
	api.HandleFunc("/state", s.handleState).Methods(http.MethodGet)
	api.HandleFunc("/config", s.handleGetConfig).Methods(http.MethodGet)
	api.HandleFunc("/config", s.handlePutConfig).Methods(http.MethodPut)
	api.HandleFunc("/symbols", s.handleGetSymbols).Methods(http.MethodGet)
	api.HandleFunc("/symbols", s.handlePutSymbols).Methods(http.MethodPut)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "no route for "+r.URL.Path)
	})

	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(zap.NewStdLog(s.logger)),
		handlers.PrintRecoveryStack(true),
	)
	s.handler = recovery(s.loggingMiddleware(router))
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Start serves until Stop is called. It returns nil after a graceful stop.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.cfg.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.httpServer.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"running": s.svc.State().Running,
		"time":    time.Now().UTC(),
	})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var overrides config.ScanOverrides
	if err := decodeBody(r, &overrides, true); err != nil {
		writeError(w, http.StatusBadRequest, service.CodeInvalidConfig, err.Error())
		return
	}

	// the pass outlives a disconnecting client; /api/scan/stop cancels it
	res := s.svc.RunScanOnce(context.WithoutCancel(r.Context()), overrides)
	writeJSON(w, runStatus(res), res)
}

func runStatus(res service.RunResult) int {
	switch res.Error {
	case "":
		return http.StatusOK
	case service.CodeAlreadyRunning:
		return http.StatusConflict
	case service.CodeInvalidConfig, service.CodeNoSymbols:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "stopped": s.svc.Stop()})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "state": s.svc.State()})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "config": s.svc.Config(r.Context())})
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.svc.Config(r.Context())
	if err := decodeBody(r, &cfg, false); err != nil {
		writeError(w, http.StatusBadRequest, service.CodeInvalidConfig, err.Error())
		return
	}
	if err := s.svc.SaveConfig(r.Context(), cfg); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "config": s.svc.Config(r.Context())})
}

func (s *Server) handleGetSymbols(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "symbols": s.svc.Symbols(r.Context())})
}

func (s *Server) handlePutSymbols(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Symbols []string `json:"symbols"`
	}
	if err := decodeBody(r, &body, false); err != nil {
		writeError(w, http.StatusBadRequest, service.CodeInvalidConfig, err.Error())
		return
	}
	symbols, err := s.svc.SaveSymbols(r.Context(), body.Symbols)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "symbols": symbols})
}

func decodeBody(r *http.Request, dest any, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		return err
	}
	return nil
}

func writeServiceError(w http.ResponseWriter, err error) {
	code := service.ErrorCode(err)
	status := http.StatusInternalServerError
	if code == service.CodeInvalidConfig {
		status = http.StatusBadRequest
	}
	writeError(w, status, code, err.Error())
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": code, "detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
