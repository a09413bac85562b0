// Package api exposes the broker over HTTP: a single envelope endpoint
// plus health and metrics probes, mirroring the original Falcon
// single-resource server.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/labteral/stopover/internal/broker"
	"github.com/labteral/stopover/internal/codec"
	"github.com/labteral/stopover/internal/stopovererr"
)

// Server is the broker's HTTP front end.
type Server struct {
	broker     *broker.Broker
	logger     *zap.Logger
	router     chi.Router
	httpServer *http.Server
}

// NewServer builds a Server that dispatches onto b, listening on port.
func NewServer(b *broker.Broker, logger *zap.Logger, metricsRegistry *prometheus.Registry, port int) *Server {
	s := &Server{
		broker: b,
		logger: logger,
		router: chi.NewRouter(),
	}

	s.router.Use(middleware.Recoverer)
	s.router.Use(s.loggingMiddleware)

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/metrics", promhttp.HandlerFor(metricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	s.router.Post("/", s.handleEnvelope)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s
}

// Start blocks serving HTTP until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("stopover listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("latency", time.Since(start)),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleEnvelope(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	req, plainResponse, err := codec.DecodeRequest(body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	handler, ok := dispatchTable[req.Method]
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	resp, err := handler(s.broker, Params(req.Params))
	if err != nil {
		s.logger.Warn("method failed", zap.String("method", req.Method), zap.Error(err))
		switch stopovererr.KindOf(err) {
		case stopovererr.KindBadRequest:
			w.WriteHeader(http.StatusBadRequest)
			return
		case stopovererr.KindInternal:
			w.WriteHeader(http.StatusInternalServerError)
			return
		default:
			resp = errorResponse(req.Params, err)
		}
	}

	encoded, err := codec.EncodeResponse(resp, plainResponse)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(encoded)
}

func errorResponse(params map[string]any, err error) map[string]any {
	resp := map[string]any{
		"error":  err.Error(),
		"status": codec.StatusError,
	}
	if stream, ok := params["stream"]; ok {
		resp["stream"] = stream
	}
	if receiverGroup, ok := params["receiver_group"]; ok {
		resp["receiver_group"] = receiverGroup
	}
	return resp
}
