// Package api exposes the prediction pipeline over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"flight-delay-demo/internal/explain"
	"flight-delay-demo/internal/inference"
	"flight-delay-demo/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// MetricsInterface defines metrics methods needed by the API. It includes
// the explainer's metrics since reports are built per request.
type MetricsInterface interface {
	explain.MetricsInterface
	UploadsRejectedInc(reason string)
	RunsPersistedInc()
	RowsPerRunObserve(rows int)
	HTTPRequestObserve(method, route string, status int, seconds float64)
}

// Config holds the server settings.
type Config struct {
	Port           int
	ResultsPath    string // canonical results CSV, empty to skip
	MaxUploadBytes int64
	PredictTimeout time.Duration
	Explain        explain.Options
}

const (
	defaultMaxUploadBytes = 32 << 20
	defaultPredictTimeout = 2 * time.Minute
)

// Server serves predictions and explanations for one loaded bundle.
type Server struct {
	cfg            Config
	predictor      *inference.Predictor
	store          *storage.Store
	metrics        MetricsInterface
	metricsHandler http.Handler

	// runMu serializes predict-and-persist so the results file, the
	// snapshot and latest always describe the same run.
	runMu  sync.Mutex
	mu     sync.RWMutex
	latest *inference.Result

	engine *gin.Engine
	server *http.Server
}

// NewServer creates the HTTP server. store, metrics and metricsHandler may
// be nil.
func NewServer(cfg Config, predictor *inference.Predictor, store *storage.Store, metrics MetricsInterface, metricsHandler http.Handler) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.PredictTimeout <= 0 {
		cfg.PredictTimeout = defaultPredictTimeout
	}

	s := &Server{
		cfg:            cfg,
		predictor:      predictor,
		store:          store,
		metrics:        metrics,
		metricsHandler: metricsHandler,
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(metrics))
	s.registerRoutes(engine)
	s.engine = engine

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      cfg.PredictTimeout + 30*time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes(r *gin.Engine) {
	r.GET("/health", s.handleHealth)
	if s.metricsHandler != nil {
		r.GET("/metrics", gin.WrapH(s.metricsHandler))
	}

	v1 := r.Group("/v1")
	v1.GET("/model/info", s.handleModelInfo)
	v1.POST("/predict", s.handlePredict)
	v1.POST("/predict/row", s.handlePredictRow)
	v1.GET("/runs/latest", s.handleLatestRun)
	v1.GET("/runs/latest/explain", s.handleExplainLatest)
	v1.POST("/reconcile", s.handleReconcile)
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("starting prediction server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) setLatest(res *inference.Result) {
	s.mu.Lock()
	s.latest = res
	s.mu.Unlock()
}

func (s *Server) getLatest() *inference.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

func (s *Server) explainer(topN int) *explain.Explainer {
	opts := s.cfg.Explain
	if topN > 0 {
		opts.LinearTopN = topN
		opts.TreeTopN = topN
	}
	var m explain.MetricsInterface
	if s.metrics != nil {
		m = s.metrics
	}
	return explain.NewExplainer(opts, m)
}
