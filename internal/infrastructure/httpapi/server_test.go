package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"RevAI/internal/domain"
	"RevAI/internal/logging"
	"RevAI/internal/usecase"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type mockReview struct {
	mock.Mock
}

func (m *mockReview) CreateSession(ctx context.Context, title string, criteria []domain.Criterion) (domain.ReviewSession, error) {
	args := m.Called(ctx, title, criteria)
	return args.Get(0).(domain.ReviewSession), args.Error(1)
}

func (m *mockReview) GetSession(ctx context.Context, id int64) (domain.ReviewSession, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.ReviewSession), args.Error(1)
}

func (m *mockReview) Upload(ctx context.Context, sessionID int64, filename string, raw []byte) (usecase.UploadResult, error) {
	args := m.Called(ctx, sessionID, filename, raw)
	return args.Get(0).(usecase.UploadResult), args.Error(1)
}

func (m *mockReview) MarkForEvaluation(ctx context.Context, sessionID int64, ids []int64) (int, error) {
	args := m.Called(ctx, sessionID, ids)
	return args.Int(0), args.Error(1)
}

func (m *mockReview) EvaluateSingle(ctx context.Context, in usecase.SingleEvaluation) (domain.Evaluation, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(domain.Evaluation), args.Error(1)
}

func (m *mockReview) GetArticle(ctx context.Context, id int64) (domain.Article, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.Article), args.Error(1)
}

func (m *mockReview) ListSessionArticles(ctx context.Context, sessionID int64) ([]domain.Article, error) {
	args := m.Called(ctx, sessionID)
	articles, _ := args.Get(0).([]domain.Article)
	return articles, args.Error(1)
}

func (m *mockReview) RecordUserDecision(ctx context.Context, id int64, raw string) (domain.Decision, error) {
	args := m.Called(ctx, id, raw)
	return args.Get(0).(domain.Decision), args.Error(1)
}

type mockBatch struct {
	mock.Mock
}

func (m *mockBatch) ProcessBatch(ctx context.Context, version int64) (usecase.BatchResult, error) {
	args := m.Called(ctx, version)
	return args.Get(0).(usecase.BatchResult), args.Error(1)
}

func newTestServer(opts Options) (*Server, *mockReview, *mockBatch) {
	review := &mockReview{}
	batch := &mockBatch{}
	return NewServer(opts, review, batch, prometheus.NewRegistry(), logging.Discard()), review, batch
}

func doJSON(t *testing.T, s *Server, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestHealthzAndRequestID(t *testing.T) {
	s, _, _ := newTestServer(Options{})

	w := doJSON(t, s, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	w = doJSON(t, s, http.MethodGet, "/healthz", nil, requestIDHeader, "abc-123")
	assert.Equal(t, "abc-123", w.Header().Get(requestIDHeader))

	w = doJSON(t, s, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func uploadRequest(t *testing.T, sessionID, filename, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if sessionID != "" {
		require.NoError(t, mw.WriteField("sessionId", sessionID))
	}
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUpload(t *testing.T) {
	t.Run("stores the file", func(t *testing.T) {
		s, review, _ := newTestServer(Options{})
		review.On("Upload", mock.Anything, int64(3), "refs.txt", []byte("<1> x")).
			Return(usecase.UploadResult{FileID: 8, ArticleCount: 1}, nil)

		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, uploadRequest(t, "3", "refs.txt", "<1> x"))

		require.Equal(t, http.StatusOK, w.Code)
		got := decode[uploadResponse](t, w)
		assert.Equal(t, uploadResponse{FileID: 8, ArticleCount: 1}, got)
		review.AssertExpectations(t)
	})

	t.Run("no articles is a bad request", func(t *testing.T) {
		s, review, _ := newTestServer(Options{})
		review.On("Upload", mock.Anything, int64(3), "refs.txt", mock.Anything).
			Return(usecase.UploadResult{}, domain.ErrNoArticles)

		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, uploadRequest(t, "3", "refs.txt", "plain"))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, domain.ErrNoArticles.Error(), decode[errorResponse](t, w).Error)
	})

	t.Run("missing fields", func(t *testing.T) {
		s, review, _ := newTestServer(Options{})

		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, uploadRequest(t, "", "refs.txt", "x"))
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = httptest.NewRecorder()
		s.Handler().ServeHTTP(w, uploadRequest(t, "3", "", ""))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		review.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("oversized upload", func(t *testing.T) {
		s, _, _ := newTestServer(Options{MaxUploadBytes: 64})

		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, uploadRequest(t, "3", "refs.txt", strings.Repeat("a", 1024)))
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})

	t.Run("oversized chunked upload", func(t *testing.T) {
		s, review, _ := newTestServer(Options{MaxUploadBytes: 256})

		req := uploadRequest(t, "3", "refs.txt", strings.Repeat("a", 4096))
		req.ContentLength = -1
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)

		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		review.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestMarkForEvaluation(t *testing.T) {
	s, review, _ := newTestServer(Options{})
	review.On("MarkForEvaluation", mock.Anything, int64(1), []int64{4, 5}).Return(2, nil)

	w := doJSON(t, s, http.MethodPost, "/evaluate", map[string]any{"sessionId": 1, "articleIds": []int64{4, 5}})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, decode[markResponse](t, w).Count)

	w = doJSON(t, s, http.MethodPost, "/evaluate", map[string]any{"sessionId": 1, "articleIds": []int64{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEvaluateSingle(t *testing.T) {
	tests := []struct {
		name     string
		criteria any
		want     string
	}{
		{"string", "Must be human study", "Must be human study"},
		{"list", []string{"Human", "RCT"}, "Human\nRCT"},
		{"objects", []map[string]string{{"id": "a", "text": "Human"}, {"id": "b", "text": "RCT"}}, "Human\nRCT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, review, _ := newTestServer(Options{})
			review.On("EvaluateSingle", mock.Anything, usecase.SingleEvaluation{
				ArticleID: 7, Title: "T", Abstract: "A", Criteria: tt.want, Version: 2,
			}).Return(domain.Evaluation{Decision: domain.DecisionExclude, Explanation: "mice"}, nil)

			w := doJSON(t, s, http.MethodPost, "/evaluate/single?settings=2", map[string]any{
				"articleId": 7, "title": "T", "abstract": "A", "criteria": tt.criteria,
			})

			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			assert.Equal(t, singleResponse{ArticleID: 7, Decision: domain.DecisionExclude, Explanation: "mice"}, decode[singleResponse](t, w))
		})
	}

	t.Run("malformed criteria", func(t *testing.T) {
		s, review, _ := newTestServer(Options{})
		w := doJSON(t, s, http.MethodPost, "/evaluate/single", map[string]any{"articleId": 7, "criteria": 42})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		review.AssertNotCalled(t, "EvaluateSingle", mock.Anything, mock.Anything)
	})

	t.Run("not configured", func(t *testing.T) {
		s, review, _ := newTestServer(Options{})
		review.On("EvaluateSingle", mock.Anything, mock.Anything).
			Return(domain.Evaluation{}, fmt.Errorf("%w: evaluator", domain.ErrNotConfigured))

		w := doJSON(t, s, http.MethodPost, "/evaluate/single", map[string]any{"articleId": 7, "criteria": "x"})
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Contains(t, decode[errorResponse](t, w).Error, "not configured")
	})
}

func TestEvaluateBatch(t *testing.T) {
	t.Run("open without secret", func(t *testing.T) {
		s, _, batch := newTestServer(Options{SettingsVersion: 4})
		batch.On("ProcessBatch", mock.Anything, int64(4)).Return(usecase.BatchResult{Claimed: 3, Evaluated: 2, Failed: 1}, nil)

		w := doJSON(t, s, http.MethodGet, "/evaluate/batch", nil)

		require.Equal(t, http.StatusOK, w.Code)
		got := decode[batchResponse](t, w)
		assert.Equal(t, "processed 3 articles", got.Message)
		assert.Equal(t, 1, got.Failed)
	})

	t.Run("requires bearer secret", func(t *testing.T) {
		s, _, batch := newTestServer(Options{CronSecret: "s3cret"})
		batch.On("ProcessBatch", mock.Anything, int64(0)).Return(usecase.BatchResult{}, nil)

		w := doJSON(t, s, http.MethodGet, "/evaluate/batch", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)

		w = doJSON(t, s, http.MethodGet, "/evaluate/batch", nil, "Authorization", "Bearer wrong")
		assert.Equal(t, http.StatusUnauthorized, w.Code)

		w = doJSON(t, s, http.MethodGet, "/evaluate/batch", nil, "Authorization", "Bearer s3cret")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "no articles pending evaluation", decode[batchResponse](t, w).Message)
		batch.AssertNumberOfCalls(t, "ProcessBatch", 1)
	})

	t.Run("store failure", func(t *testing.T) {
		s, _, batch := newTestServer(Options{})
		batch.On("ProcessBatch", mock.Anything, int64(0)).Return(usecase.BatchResult{}, errors.New("db down"))

		w := doJSON(t, s, http.MethodGet, "/evaluate/batch", nil)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "internal error", decode[errorResponse](t, w).Error)
	})
}

func TestGetArticle(t *testing.T) {
	s, review, _ := newTestServer(Options{})
	include := domain.DecisionInclude
	note := "fits"
	review.On("GetArticle", mock.Anything, int64(5)).
		Return(domain.Article{ID: 5, Title: "T", AIDecision: &include, AIExplanation: &note, NeedsReview: true}, nil)
	review.On("GetArticle", mock.Anything, int64(6)).
		Return(domain.Article{}, fmt.Errorf("article 6: %w", domain.ErrNotFound))

	w := doJSON(t, s, http.MethodGet, "/evaluates/5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Include", body["ai_decision"])
	assert.Equal(t, "fits", body["ai_explanation"])
	assert.Nil(t, body["user_decision"])

	w = doJSON(t, s, http.MethodGet, "/evaluates/6", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, s, http.MethodGet, "/evaluates/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListSessionArticles(t *testing.T) {
	s, review, _ := newTestServer(Options{})
	review.On("ListSessionArticles", mock.Anything, int64(3)).
		Return([]domain.Article{{ID: 1, FileID: 7, Title: "Foo"}, {ID: 2, FileID: 7, Title: "Baz"}}, nil)
	review.On("ListSessionArticles", mock.Anything, int64(4)).
		Return(nil, fmt.Errorf("session 4: %w", domain.ErrNotFound))

	w := doJSON(t, s, http.MethodGet, "/sessions/3/articles", nil)
	require.Equal(t, http.StatusOK, w.Code)
	articles := decode[[]articleResponse](t, w)
	require.Len(t, articles, 2)
	assert.Equal(t, int64(7), articles[0].FileID)
	assert.Equal(t, "Baz", articles[1].Title)

	w = doJSON(t, s, http.MethodGet, "/sessions/4/articles", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionsAndDecisions(t *testing.T) {
	s, review, _ := newTestServer(Options{})
	review.On("CreateSession", mock.Anything, "Sleep", []domain.Criterion{{ID: "1", Text: "Human"}, {ID: "2", Text: "RCT"}}).
		Return(domain.ReviewSession{ID: 1, Title: "Sleep"}, nil)
	review.On("GetSession", mock.Anything, int64(1)).
		Return(domain.ReviewSession{ID: 1, Title: "Sleep", FilesCount: 2}, nil)
	review.On("RecordUserDecision", mock.Anything, int64(9), "include").
		Return(domain.DecisionInclude, nil)

	w := doJSON(t, s, http.MethodPost, "/sessions", map[string]any{"title": "Sleep", "criteria": "Human\n\nRCT\n"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(t, s, http.MethodGet, "/sessions/1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, decode[sessionResponse](t, w).FilesCount)

	w = doJSON(t, s, http.MethodPost, "/articles/9/decision", map[string]any{"decision": "include"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.DecisionInclude, decode[decisionResponse](t, w).Decision)

	w = doJSON(t, s, http.MethodPost, "/sessions", map[string]any{"criteria": []string{"x"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	review.AssertExpectations(t)
}
