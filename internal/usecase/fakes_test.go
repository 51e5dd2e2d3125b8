package usecase

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"RevAI/internal/domain"
	"RevAI/internal/ports"
)

// memStore is an in-memory ports.Store for use case tests.
type memStore struct {
	mu sync.Mutex

	nextID   int64
	sessions map[int64]*domain.ReviewSession
	files    map[int64]*domain.File
	articles map[int64]*domain.Article
	leases   map[int64]string
	settings []domain.AISettings

	// insertLimit stores at most this many records before failing; negative disables it.
	insertLimit int
	updateErr   map[int64]error
	deleted     []int64
}

var _ ports.Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		sessions:    map[int64]*domain.ReviewSession{},
		files:       map[int64]*domain.File{},
		articles:    map[int64]*domain.Article{},
		leases:      map[int64]string{},
		updateErr:   map[int64]error{},
		insertLimit: -1,
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) CreateSession(_ context.Context, title string, criteria []domain.Criterion) (domain.ReviewSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := domain.ReviewSession{ID: m.id(), Title: title, Criteria: criteria, CreatedAt: time.Now()}
	m.sessions[s.ID] = &s
	return s, nil
}

func (m *memStore) GetSession(_ context.Context, id int64) (domain.ReviewSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return domain.ReviewSession{}, fmt.Errorf("session %d: %w", id, domain.ErrNotFound)
	}
	return *s, nil
}

func (m *memStore) MarkSessionEvaluationRunning(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return domain.ErrNotFound
	}
	s.AIEvaluationRunning = true
	return nil
}

func (m *memStore) MarkSessionEvaluationAwaiting(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return domain.ErrNotFound
	}
	s.AIEvaluationRunning = false
	s.LastEvaluatedAt = &at
	return nil
}

func (m *memStore) RefreshSessionCounts(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return domain.ErrNotFound
	}
	s.FilesCount, s.ArticlesCount = 0, 0
	for _, f := range m.files {
		if f.SessionID != id {
			continue
		}
		s.FilesCount++
		for _, a := range m.articles {
			if a.FileID == f.ID {
				s.ArticlesCount++
			}
		}
	}
	return nil
}

func (m *memStore) CreateFile(_ context.Context, sessionID int64, filename string, count int) (domain.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return domain.File{}, domain.ErrNotFound
	}
	f := domain.File{ID: m.id(), SessionID: sessionID, Filename: filename, ArticlesCount: count}
	m.files[f.ID] = &f
	return f, nil
}

func (m *memStore) DeleteFile(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, id)
	for aid, a := range m.articles {
		if a.FileID == id {
			delete(m.articles, aid)
		}
	}
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *memStore) RecountFile(_ context.Context, id int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok {
		return 0, domain.ErrNotFound
	}
	f.ArticlesCount = 0
	for _, a := range m.articles {
		if a.FileID == id {
			f.ArticlesCount++
		}
	}
	return f.ArticlesCount, nil
}

func (m *memStore) ListFileIDs(_ context.Context, sessionID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0)
	for _, f := range m.files {
		if f.SessionID == sessionID {
			ids = append(ids, f.ID)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (m *memStore) InsertArticles(_ context.Context, fileID int64, records []domain.ArticleRecord) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, rec := range records {
		if m.insertLimit >= 0 && i >= m.insertLimit {
			return i, errors.New("insert failed")
		}
		a := domain.Article{
			ID:                m.id(),
			FileID:            fileID,
			Number:            rec.Number,
			Title:             rec.Title,
			Abstract:          rec.Abstract,
			FullText:          rec.FullText,
			NeedsReview:       true,
			NeedsAIEvaluation: true,
		}
		m.articles[a.ID] = &a
	}
	return len(records), nil
}

func (m *memStore) GetArticles(_ context.Context, fileIDs []int64) ([]domain.Article, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Article, 0)
	for _, a := range m.articles {
		if slices.Contains(fileIDs, a.FileID) {
			out = append(out, *a)
		}
	}
	slices.SortFunc(out, func(a, b domain.Article) int { return int(a.ID - b.ID) })
	return out, nil
}

func (m *memStore) GetArticle(_ context.Context, id int64) (domain.Article, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.articles[id]
	if !ok {
		return domain.Article{}, fmt.Errorf("article %d: %w", id, domain.ErrNotFound)
	}
	return *a, nil
}

func (m *memStore) sessionOf(a *domain.Article) int64 {
	if f, ok := m.files[a.FileID]; ok {
		return f.SessionID
	}
	return 0
}

func (m *memStore) MarkArticlesForEvaluation(_ context.Context, sessionID int64, ids []int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, id := range ids {
		a, ok := m.articles[id]
		if !ok || m.sessionOf(a) != sessionID {
			continue
		}
		a.NeedsAIEvaluation = true
		delete(m.leases, id)
		n++
	}
	return n, nil
}

func (m *memStore) ClaimPendingArticles(_ context.Context, limit int, _ time.Duration, owner string) ([]domain.PendingArticle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0)
	for id, a := range m.articles {
		if _, leased := m.leases[id]; a.NeedsAIEvaluation && !leased {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]domain.PendingArticle, 0, len(ids))
	for _, id := range ids {
		m.leases[id] = owner
		a := m.articles[id]
		out = append(out, domain.PendingArticle{Article: *a, SessionID: m.sessionOf(a)})
	}
	return out, nil
}

func (m *memStore) UpdateArticleEvaluation(_ context.Context, id int64, settingsID int64, owner string, eval domain.Evaluation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.updateErr[id]; err != nil {
		return err
	}
	if owner != "" && m.leases[id] != owner {
		return fmt.Errorf("article %d: %w", id, domain.ErrLeaseLost)
	}
	a, ok := m.articles[id]
	if !ok {
		return fmt.Errorf("article %d: %w", id, domain.ErrNotFound)
	}
	decision, explanation, sid := eval.Decision, eval.Explanation, settingsID
	now := time.Now()
	a.AIDecision = &decision
	a.AIExplanation = &explanation
	a.AISettingsID = &sid
	a.EvaluatedAt = &now
	a.NeedsAIEvaluation = false
	delete(m.leases, id)
	return nil
}

func (m *memStore) RecordUserDecision(_ context.Context, id int64, decision domain.Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.articles[id]
	if !ok {
		return fmt.Errorf("article %d: %w", id, domain.ErrNotFound)
	}
	a.UserDecision = &decision
	a.NeedsReview = false
	return nil
}

func (m *memStore) CountPendingArticles(_ context.Context, sessionID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.articles {
		if a.NeedsAIEvaluation && m.sessionOf(a) == sessionID {
			n++
		}
	}
	return n, nil
}

func (m *memStore) GetAISettings(_ context.Context, version int64) (domain.AISettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.settings) == 0 {
		return domain.AISettings{}, domain.ErrNotConfigured
	}
	if version == 0 {
		return m.settings[len(m.settings)-1], nil
	}
	for _, s := range m.settings {
		if s.ID == version {
			return s, nil
		}
	}
	return domain.AISettings{}, domain.ErrNotFound
}

// stubEvaluator returns scripted outcomes keyed by title.
type stubEvaluator struct {
	calls       []string
	criteria    []string
	fail        map[string]error
	panicOn     string
	validateErr error
	// onEvaluate runs before each scripted outcome, e.g. to mutate the store mid-run.
	onEvaluate func(key string)
}

func (s *stubEvaluator) Validate(domain.AISettings) error {
	return s.validateErr
}

func (s *stubEvaluator) Evaluate(_ context.Context, title, abstract, criteria string, _ domain.AISettings) (domain.Evaluation, error) {
	key := title
	if key == "" {
		key = abstract
	}
	s.calls = append(s.calls, key)
	s.criteria = append(s.criteria, criteria)
	if s.onEvaluate != nil {
		s.onEvaluate(key)
	}
	if key == s.panicOn {
		panic("evaluator blew up")
	}
	if err := s.fail[key]; err != nil {
		return domain.Evaluation{}, err
	}
	return domain.Evaluation{Decision: domain.DecisionInclude, Explanation: "fits " + key, Attempts: 1}, nil
}

type countingRecorder struct {
	uploads     []int
	evaluations int
	batches     int
}

func (c *countingRecorder) ObserveUpload(n int) { c.uploads = append(c.uploads, n) }
func (c *countingRecorder) ObserveEvaluation(domain.Evaluation) { c.evaluations++ }
func (c *countingRecorder) ObserveBatch(int, int, time.Duration) { c.batches++ }
