// Package api exposes training, prediction, the expert rules, dataset
// analytics and decision fusion over HTTP.
package api

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"fraud-scoring/internal/dataset"
	"fraud-scoring/internal/features"
	"fraud-scoring/internal/fusion"
	"fraud-scoring/internal/ml"
	"fraud-scoring/internal/prediction"
	"fraud-scoring/internal/rules"
	"fraud-scoring/internal/training"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Trainer fits and registers a tenant model.
type Trainer interface {
	Train(ctx context.Context, tenant string, ds *dataset.Dataset, observe training.Observer) (*training.Result, error)
}

// Predictor scores one transaction with a tenant model.
type Predictor interface {
	Predict(ctx context.Context, tenant string, rec features.Record) (*prediction.Prediction, error)
}

// ModelIndex answers metrics lookups for trained tenants.
type ModelIndex interface {
	GetMetrics(tenant string) (ml.MetricsRecord, error)
	Exists(ctx context.Context, tenant string) (bool, error)
}

// RuleEvaluator applies the expert rules to a transaction.
type RuleEvaluator interface {
	Evaluate(rec features.Record, score float64) (rules.Result, error)
}

// MetricsInterface is the subset of service metrics used by the HTTP layer.
type MetricsInterface interface {
	ErrorsInc()
	StreamsAdd(delta float64)
	ErrorRate() float64
}

// Options configures the HTTP server.
type Options struct {
	Port           int
	MaxUploadBytes int64
	LabelColumn    string
	RequestTimeout time.Duration
	// MetricsHandler serves /metrics; promhttp.Handler() when nil.
	MetricsHandler http.Handler
}

// Services are the components served by the API. Metrics may be nil.
type Services struct {
	Trainer   Trainer
	Predictor Predictor
	Models    ModelIndex
	Rules     RuleEvaluator
	Detector  *fusion.Detector
	Metrics   MetricsInterface
}

// Server is the fraud scoring HTTP server.
type Server struct {
	opts    Options
	svc     Services
	handler http.Handler
	server  *http.Server
}

// New builds the server and its routes.
func New(opts Options, svc Services) *Server {
	if opts.MetricsHandler == nil {
		opts.MetricsHandler = promhttp.Handler()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}

	s := &Server{opts: opts, svc: svc}

	r := mux.NewRouter()
	r.HandleFunc("/train-model", s.handleTrain).Methods(http.MethodPost)
	r.HandleFunc("/train-model/stream", s.handleTrainStream).Methods(http.MethodGet)
	r.HandleFunc("/get-metrics", s.handleGetMetrics).Methods(http.MethodGet)
	r.HandleFunc("/predict", s.handlePredict).Methods(http.MethodPost)
	r.HandleFunc("/ers", s.handleERS).Methods(http.MethodPost)
	r.HandleFunc("/global/ers", s.handleERS).Methods(http.MethodPost)
	r.HandleFunc("/analyze", s.handleAnalyze).Methods(http.MethodPost)

	fusionRoutes := r.PathPrefix("/server").Subrouter()
	fusionRoutes.HandleFunc("/detect", s.handleDetect).Methods(http.MethodPost)
	fusionRoutes.HandleFunc("/detect-batch", s.handleDetectBatch).Methods(http.MethodPost)
	fusionRoutes.HandleFunc("/settings", s.handleGetSettings).Methods(http.MethodGet)
	fusionRoutes.HandleFunc("/settings", s.handleSaveSettings).Methods(http.MethodPost)
	fusionRoutes.HandleFunc("/clients-status", s.handleClientsStatus).Methods(http.MethodGet)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", opts.MetricsHandler).Methods(http.MethodGet)

	s.handler = s.recoverMiddleware(logMiddleware(r))
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler returns the root handler, middleware included.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("Starting fraud scoring server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// recoverMiddleware turns handler panics into 500 responses.
func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("Handler panicked")
				s.countError()
				writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

const requestIDHeader = "X-Request-ID"

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack hands the connection to the websocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// logMiddleware tags every request with an id, echoed in the X-Request-ID
// response header, and logs the outcome.
func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Debug().
			Str("request_id", id).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("Request served")
	})
}

func (s *Server) countError() {
	if s.svc.Metrics != nil {
		s.svc.Metrics.ErrorsInc()
	}
}
