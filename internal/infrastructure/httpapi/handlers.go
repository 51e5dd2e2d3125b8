package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"RevAI/internal/domain"
	"RevAI/internal/usecase"
)

type errorResponse struct {
	Error string `json:"error"`
}

type createSessionRequest struct {
	Title    string          `json:"title" binding:"required"`
	Criteria json.RawMessage `json:"criteria"`
}

type sessionResponse struct {
	ID                  int64              `json:"id"`
	Title               string             `json:"title"`
	Criteria            []domain.Criterion `json:"criteria"`
	ArticlesCount       int                `json:"articles_count"`
	FilesCount          int                `json:"files_count"`
	CreatedAt           time.Time          `json:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at"`
	LastEvaluatedAt     *time.Time         `json:"last_evaluated_at"`
	AIEvaluationRunning bool               `json:"ai_evaluation_running"`
}

type uploadResponse struct {
	FileID       int64 `json:"fileId"`
	ArticleCount int   `json:"articleCount"`
}

type markRequest struct {
	SessionID  int64   `json:"sessionId" binding:"required,gt=0"`
	ArticleIDs []int64 `json:"articleIds" binding:"required,min=1"`
}

type markResponse struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

type singleRequest struct {
	ArticleID int64           `json:"articleId" binding:"required,gt=0"`
	SessionID int64           `json:"sessionId"`
	Title     string          `json:"title"`
	Abstract  string          `json:"abstract"`
	Criteria  json.RawMessage `json:"criteria"`
}

type singleResponse struct {
	ArticleID   int64           `json:"articleId"`
	Decision    domain.Decision `json:"decision"`
	Explanation string          `json:"explanation"`
}

type batchResponse struct {
	Message   string `json:"message"`
	Claimed   int    `json:"claimed"`
	Evaluated int    `json:"evaluated"`
	Failed    int    `json:"failed"`
}

type articleResponse struct {
	ID                int64            `json:"id"`
	FileID            int64            `json:"file_id"`
	Title             string           `json:"title"`
	Abstract          string           `json:"abstract"`
	AIDecision        *domain.Decision `json:"ai_decision"`
	AIExplanation     *string          `json:"ai_explanation"`
	UserDecision      *domain.Decision `json:"user_decision"`
	NeedsReview       bool             `json:"needs_review"`
	NeedsAIEvaluation bool             `json:"needs_ai_evaluation"`
}

type decisionRequest struct {
	Decision string `json:"decision" binding:"required"`
}

type decisionResponse struct {
	ArticleID int64           `json:"articleId"`
	Decision  domain.Decision `json:"decision"`
}

func (s *Server) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	criteria, err := criteriaList(req.Criteria)
	if err != nil {
		s.fail(c, err)
		return
	}

	session, err := s.review.CreateSession(c.Request.Context(), req.Title, criteria)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, toSessionResponse(session))
}

func (s *Server) getSession(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}
	session, err := s.review.GetSession(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toSessionResponse(session))
}

func (s *Server) upload(c *gin.Context) {
	// A body cut off by bodyLimit surfaces here as *http.MaxBytesError.
	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, errorResponse{Error: "upload exceeds maximum allowed size"})
			return
		}
		c.JSON(http.StatusBadRequest, errorResponse{Error: "multipart form is required"})
		return
	}

	sessionID, err := strconv.ParseInt(strings.TrimSpace(firstValue(form.Value["sessionId"])), 10, 64)
	if err != nil || sessionID <= 0 {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "sessionId is required"})
		return
	}
	files := form.File["file"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "file is required"})
		return
	}
	header := files[0]

	f, err := header.Open()
	if err != nil {
		s.fail(c, fmt.Errorf("open upload: %w", err))
		return
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		s.fail(c, fmt.Errorf("read upload: %w", err))
		return
	}

	res, err := s.review.Upload(c.Request.Context(), sessionID, header.Filename, raw)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, uploadResponse{FileID: res.FileID, ArticleCount: res.ArticleCount})
}

func (s *Server) markForEvaluation(c *gin.Context) {
	var req markRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	count, err := s.review.MarkForEvaluation(c.Request.Context(), req.SessionID, req.ArticleIDs)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, markResponse{
		Message: fmt.Sprintf("%d articles queued for AI evaluation", count),
		Count:   count,
	})
}

func (s *Server) evaluateSingle(c *gin.Context) {
	var req singleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	criteria, err := criteriaText(req.Criteria)
	if err != nil {
		s.fail(c, err)
		return
	}
	version, ok := s.settingsVersion(c)
	if !ok {
		return
	}

	eval, err := s.review.EvaluateSingle(c.Request.Context(), usecase.SingleEvaluation{
		ArticleID: req.ArticleID,
		SessionID: req.SessionID,
		Title:     req.Title,
		Abstract:  req.Abstract,
		Criteria:  criteria,
		Version:   version,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, singleResponse{ArticleID: req.ArticleID, Decision: eval.Decision, Explanation: eval.Explanation})
}

func (s *Server) evaluateBatch(c *gin.Context) {
	version, ok := s.settingsVersion(c)
	if !ok {
		return
	}
	if version == 0 {
		version = s.opts.SettingsVersion
	}

	res, err := s.batch.ProcessBatch(c.Request.Context(), version)
	if err != nil {
		s.fail(c, err)
		return
	}

	message := "no articles pending evaluation"
	if res.Claimed > 0 {
		message = fmt.Sprintf("processed %d articles", res.Claimed)
	}
	c.JSON(http.StatusOK, batchResponse{
		Message:   message,
		Claimed:   res.Claimed,
		Evaluated: res.Evaluated,
		Failed:    res.Failed,
	})
}

func (s *Server) getArticle(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}
	a, err := s.review.GetArticle(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toArticleResponse(a))
}

func (s *Server) listSessionArticles(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}
	articles, err := s.review.ListSessionArticles(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]articleResponse, 0, len(articles))
	for _, a := range articles {
		out = append(out, toArticleResponse(a))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) recordDecision(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}
	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	decision, err := s.review.RecordUserDecision(c.Request.Context(), id, req.Decision)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, decisionResponse{ArticleID: id, Decision: decision})
}

func (s *Server) pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid id"})
		return 0, false
	}
	return id, true
}

// settingsVersion reads the optional ?settings= pin.
func (s *Server) settingsVersion(c *gin.Context) (int64, bool) {
	raw := c.Query("settings")
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid settings version"})
		return 0, false
	}
	return v, true
}

// fail maps domain errors onto status codes.
func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	message := "internal error"
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrNoArticles):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrNotFound):
		status, message = http.StatusNotFound, err.Error()
	case errors.Is(err, domain.ErrNotConfigured):
		message = "service is not configured: " + err.Error()
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"path", c.FullPath(),
			"request_id", c.GetString(requestIDKey),
			"error", err)
	}
	c.JSON(status, errorResponse{Error: message})
}

func toSessionResponse(s domain.ReviewSession) sessionResponse {
	criteria := s.Criteria
	if criteria == nil {
		criteria = []domain.Criterion{}
	}
	return sessionResponse{
		ID:                  s.ID,
		Title:               s.Title,
		Criteria:            criteria,
		ArticlesCount:       s.ArticlesCount,
		FilesCount:          s.FilesCount,
		CreatedAt:           s.CreatedAt,
		UpdatedAt:           s.UpdatedAt,
		LastEvaluatedAt:     s.LastEvaluatedAt,
		AIEvaluationRunning: s.AIEvaluationRunning,
	}
}

func toArticleResponse(a domain.Article) articleResponse {
	return articleResponse{
		ID:                a.ID,
		FileID:            a.FileID,
		Title:             a.Title,
		Abstract:          a.Abstract,
		AIDecision:        a.AIDecision,
		AIExplanation:     a.AIExplanation,
		UserDecision:      a.UserDecision,
		NeedsReview:       a.NeedsReview,
		NeedsAIEvaluation: a.NeedsAIEvaluation,
	}
}

func firstValue(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
