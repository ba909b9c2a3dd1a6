package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"certnode/internal/config"
	"certnode/internal/domain"
	cryptoinfra "certnode/internal/infra/crypto"
	"certnode/internal/infra/metrics"
	"certnode/internal/usecase"
)

// JWKSPublisher exposes the public half of the signing keys.
type JWKSPublisher interface {
	JWKS() (cryptoinfra.JWKS, error)
}

type Server struct {
	cfg    config.Config
	r      *gin.Engine
	logger *zap.Logger

	receipts *usecase.ReceiptService
	jwks     JWKSPublisher
	metrics  *metrics.Recorder
	storage  string

	rateLimiter          domain.RateLimiter
	rateLimitRequests    int
	rateLimitWindow      time.Duration
	rateLimitWithSubject bool
	rateLimitFailClosed  bool
	rateLimitSubjectMax  int
	rateLimitSubjectHash bool
}

// ServerDeps wires the server. Storage names the journal backing the graph
// and is reported by /healthz.
type ServerDeps struct {
	Receipts    *usecase.ReceiptService
	JWKS        JWKSPublisher
	Metrics     *metrics.Recorder
	RateLimiter domain.RateLimiter
	Logger      *zap.Logger
	Storage     string
}

func NewServer(cfg config.Config, deps ServerDeps) *Server {
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		cfg:      cfg,
		r:        r,
		logger:   logger,
		receipts: deps.Receipts,
		jwks:     deps.JWKS,
		metrics:  deps.Metrics,
		storage:  deps.Storage,
	}
	if s.storage == "" {
		s.storage = "memory"
	}
	r.Use(s.requestLogger())
	s.initRateLimit(deps.RateLimiter)
	s.routes()
	return s
}

func (s *Server) initRateLimit(limiter domain.RateLimiter) {
	s.rateLimiter = limiter
	s.rateLimitRequests = s.cfg.RateLimitRequests
	s.rateLimitWindow = time.Minute
	if s.cfg.RateLimitWindowSeconds > 0 {
		s.rateLimitWindow = time.Duration(s.cfg.RateLimitWindowSeconds) * time.Second
	}
	s.rateLimitWithSubject = s.cfg.RateLimitIncludeSubject
	s.rateLimitFailClosed = s.cfg.RateLimitFailClosed
	s.rateLimitSubjectMax = s.cfg.RateLimitSubjectMaxLen
	s.rateLimitSubjectHash = s.cfg.RateLimitSubjectHash
}

func (s *Server) routes() {
	s.r.GET("/healthz", func(c *gin.Context) {
		receipts := 0
		if s.receipts != nil && s.receipts.Graph != nil {
			receipts = s.receipts.Graph.Len()
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "storage": s.storage, "receipts": receipts})
	})
	s.r.GET("/.well-known/jwks.json", s.handleJWKS)
	if s.metrics != nil {
		s.r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	v1 := s.r.Group("/v1")
	{
		v1.POST("/receipts", s.rateLimited(routeReceiptsCreate, s.handleCreateReceipt))
		v1.POST("/receipts/import", s.rateLimited(routeReceiptsImport, s.handleImportReceipt))
		v1.GET("/receipts/:id", s.handleGetReceipt)
		v1.GET("/receipts/:id/graph", s.handleGraph)
		v1.GET("/receipts/:id/trust", s.handleTrust)
		v1.GET("/receipts/:id/completeness", s.handleCompleteness)
		v1.GET("/receipts/:id/verify", s.handleVerifyStored)

		v1.POST("/relationships", s.rateLimited(routeRelationships, s.handleLink))
		v1.GET("/paths", s.handlePaths)
		v1.GET("/cross-product", s.handleCrossProduct)
		v1.GET("/patterns", s.handleListPatterns)
		v1.GET("/patterns/detect", s.handleDetectPatterns)
		v1.POST("/verify", s.rateLimited(routeVerify, s.handleVerify))
	}

	s.r.NoRoute(s.handleNoRoute)
}

func (s *Server) Handler() http.Handler {
	return s.r
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server started", zap.String("addr", s.cfg.HTTPAddr), zap.String("storage", s.storage))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.logger.Info("server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
