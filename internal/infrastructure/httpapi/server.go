package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"RevAI/internal/domain"
	"RevAI/internal/usecase"
)

// ReviewService is the request-driven use case surface the handlers call.
type ReviewService interface {
	CreateSession(ctx context.Context, title string, criteria []domain.Criterion) (domain.ReviewSession, error)
	GetSession(ctx context.Context, id int64) (domain.ReviewSession, error)
	Upload(ctx context.Context, sessionID int64, filename string, raw []byte) (usecase.UploadResult, error)
	MarkForEvaluation(ctx context.Context, sessionID int64, articleIDs []int64) (int, error)
	EvaluateSingle(ctx context.Context, in usecase.SingleEvaluation) (domain.Evaluation, error)
	GetArticle(ctx context.Context, id int64) (domain.Article, error)
	ListSessionArticles(ctx context.Context, sessionID int64) ([]domain.Article, error)
	RecordUserDecision(ctx context.Context, id int64, raw string) (domain.Decision, error)
}

// BatchRunner runs one batch evaluation.
type BatchRunner interface {
	ProcessBatch(ctx context.Context, settingsVersion int64) (usecase.BatchResult, error)
}

// Options configures the HTTP surface.
type Options struct {
	Addr            string
	CronSecret      string
	MaxUploadBytes  int64
	SettingsVersion int64
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
}

// Server exposes the review API over gin.
type Server struct {
	opts     Options
	review   ReviewService
	batch    BatchRunner
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	engine   *gin.Engine
}

// NewServer builds the router. A nil gatherer disables /metrics.
func NewServer(opts Options, review ReviewService, batch BatchRunner, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 20 << 20
	}
	s := &Server{
		opts:     opts,
		review:   review,
		batch:    batch,
		gatherer: gatherer,
		logger:   logger.With("component", "http"),
	}
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(requestID(), requestLogger(s.logger), recovery(s.logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	r.POST("/sessions", s.createSession)
	r.GET("/sessions/:id", s.getSession)
	r.GET("/sessions/:id/articles", s.listSessionArticles)
	r.POST("/upload", bodyLimit(s.opts.MaxUploadBytes), s.upload)
	r.POST("/evaluate", s.markForEvaluation)
	r.POST("/evaluate/single", s.evaluateSingle)
	r.GET("/evaluate/batch", cronAuth(s.opts.CronSecret), s.evaluateBatch)
	r.GET("/evaluates/:id", s.getArticle)
	r.POST("/articles/:id/decision", s.recordDecision)

	return r
}

// Handler returns the underlying http.Handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.engine,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.opts.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
